package store_test

import (
	"testing"

	"github.com/reliefgrid/coordinator/core/store"
	"github.com/reliefgrid/coordinator/core/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return store.NewMemoryStore() })
}
