// Package simulator emulates a fleet of field responders. Each responder
// mirrors itself into the coordinator's directory over MQTT, listens for
// the assignments the coordinator announces and works its tasks through
// the REST API.
package simulator

import (
	"context"
	"sync"

	"github.com/reliefgrid/coordinator/infra/logger"
)

// Run generates the fleet described by cfg and runs it until ctx is done.
func Run(ctx context.Context, cfg Config, log logger.Logger) error {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	taskAPI, err := NewHTTPTaskAPI(cfg.APIURL, cfg.Auth)
	if err != nil {
		return err
	}
	strat := RandomWork{Duration: cfg.WorkTime, DropRate: cfg.DropRate}
	fleet := GenerateFleet(cfg)
	log.Infof("simulating %d responders against %s", len(fleet), cfg.Broker)

	var wg sync.WaitGroup
	for _, r := range fleet {
		r.Strategy = strat
		r.API = taskAPI
		r.Log = log
		wg.Add(1)
		go func(r *Responder) {
			defer wg.Done()
			if err := r.Run(ctx, cfg.Broker); err != nil {
				log.Errorf("%s: %v", r.ID, err)
			}
		}(r)
	}
	wg.Wait()
	return nil
}
