package plugins

import (
	"fmt"
	"sort"

	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/store"
)

// StoreFactory opens a store backend.
type StoreFactory func(cfg config.StoreConfig) (store.Store, error)

var Stores = map[string]StoreFactory{}

func RegisterStore(name string, f StoreFactory) { Stores[name] = f }

// OpenStore opens the backend selected by cfg.Backend.
func OpenStore(cfg config.StoreConfig) (store.Store, error) {
	cfg.SetDefaults()
	f, ok := Stores[cfg.Backend]
	if !ok {
		names := make([]string, 0, len(Stores))
		for n := range Stores {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown store backend %q (known: %v)", cfg.Backend, names)
	}
	return f(cfg)
}
