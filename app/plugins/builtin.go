package plugins

import (
	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/store"
	"github.com/reliefgrid/coordinator/infra/sqlstore"
)

func init() {
	RegisterStore("memory", func(config.StoreConfig) (store.Store, error) {
		return store.NewMemoryStore(), nil
	})
	RegisterStore("sqlite", func(cfg config.StoreConfig) (store.Store, error) {
		st, err := sqlstore.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
}
