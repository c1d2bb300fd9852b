package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
	"github.com/reliefgrid/coordinator/core/store/storetest"
)

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(filepath.Join(t.TempDir(), "coord.db"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coord.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	if _, err := s.NextSeq(ctx); err != nil {
		t.Fatalf("seq: %v", err)
	}
	if _, err := s.CreateResource(ctx, model.Resource{ID: "oxygen-1", Type: "oxygen", Total: 4}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()
	seq, err := s.NextSeq(ctx)
	if err != nil || seq != 2 {
		t.Fatalf("sequence must survive restarts: %d %v", seq, err)
	}
	r, err := s.GetResource(ctx, "oxygen-1")
	if err != nil || r.Total != 4 || r.Version != 1 {
		t.Fatalf("resource not persisted: %+v %v", r, err)
	}
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if _, err := s.CreateResource(context.Background(), model.Resource{ID: "w", Type: "water", Total: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.GetResource(context.Background(), "w"); err != nil {
		t.Fatalf("get: %v", err)
	}
}
