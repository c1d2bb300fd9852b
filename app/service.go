package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reliefgrid/coordinator/api"
	"github.com/reliefgrid/coordinator/app/plugins"
	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/audit"
	"github.com/reliefgrid/coordinator/core/engine"
	"github.com/reliefgrid/coordinator/core/events"
	coremetrics "github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/core/metrics/usage"
	coremon "github.com/reliefgrid/coordinator/core/monitoring"
	coremqtt "github.com/reliefgrid/coordinator/core/mqtt"
	"github.com/reliefgrid/coordinator/core/store"
	"github.com/reliefgrid/coordinator/infra/feeds"
	"github.com/reliefgrid/coordinator/infra/logger"
	"github.com/reliefgrid/coordinator/infra/metrics"
	"github.com/reliefgrid/coordinator/infra/monitoring"
	"github.com/reliefgrid/coordinator/infra/mqtt"
	"github.com/reliefgrid/coordinator/internal/eventbus"
)

// Service wires the engine to its store, metrics, audit log, MQTT feeds and
// HTTP API.
type Service struct {
	Engine *engine.Engine

	cfg     *config.Config
	store   store.Store
	emitter *events.Emitter
	sink    coremetrics.MetricsSink
	audit   audit.LogStore
	usage   usage.Store
	client  coremqtt.Client
	log     logger.Logger
}

// Option customizes New.
type Option func(*options)

type options struct {
	feeds bool
}

// WithoutFeeds skips the MQTT connection. One-shot commands use it to work on
// the configured store without joining the broker.
func WithoutFeeds() Option {
	return func(o *options) { o.feeds = false }
}

// New creates a Service from the configuration. The MQTT connection is only
// opened when a feed is enabled.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	o := options{feeds: true}
	for _, opt := range opts {
		opt(&o)
	}
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	svc := &Service{cfg: cfg, log: logg}
	ok := false
	defer func() {
		if !ok {
			_ = svc.Close()
		}
	}()

	if svc.store, err = plugins.OpenStore(cfg.Store); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	if svc.audit, err = audit.Open(cfg.Audit); err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	if svc.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sinks: %w", err)
	}
	svc.usage = metrics.UsageStoreOf(svc.sink)
	bus := eventbus.NewTypedBuffered[events.Envelope](cfg.Notifier.Buffer)
	bus.OnDrop(func(env events.Envelope) {
		logg.Warnf("event %s seq %d of %s dropped by a slow subscriber (%d dropped so far)", env.Kind, env.Seq, env.Entity, bus.Dropped())
	})
	svc.emitter = events.NewEmitter(bus)

	svc.Engine, err = engine.New(cfg.EngineConfig(), engine.Deps{
		Store:  svc.store,
		Events: svc.emitter,
		Sink:   svc.sink,
		Audit:  svc.audit,
		Logger: logger.New("engine"),
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if o.feeds && (cfg.Notifier.Enabled || cfg.Directory.Enabled || cfg.Intake.Enabled) {
		cli, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		svc.client = cli
	}
	ok = true
	return svc, nil
}

// Run starts the feeds, the sweep loop and the API, and blocks until the
// context is cancelled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	if s.client == nil && (s.cfg.Notifier.Enabled || s.cfg.Directory.Enabled || s.cfg.Intake.Enabled) {
		return errors.New("service created without feeds cannot run them")
	}
	g, ctx := errgroup.WithContext(ctx)
	bus := s.emitter.Bus()
	metrics.StartEventCollector(ctx, bus, s.sink)

	if s.cfg.Notifier.Enabled {
		n := feeds.NewNotifier(s.cfg.Notifier, s.client, logger.New("notifier"))
		g.Go(func() error {
			n.Run(ctx, bus)
			return nil
		})
	}
	if s.cfg.Directory.Enabled {
		d := feeds.NewDirectory(s.cfg.Directory, s.client, s.Engine, logger.New("directory"))
		g.Go(func() error { return d.Start(ctx) })
	}
	if s.cfg.Intake.Enabled {
		in := feeds.NewIntake(s.cfg.Intake, s.client, s.Engine, logger.New("intake"))
		g.Go(func() error { return in.Start(ctx) })
	}
	g.Go(func() error { return s.Engine.Run(ctx) })
	if s.cfg.API.Address != "" {
		g.Go(func() error { return s.serveAPI(ctx) })
	}
	s.log.Infof("coordinator running (store=%s, api=%q)", s.cfg.Store.Backend, s.cfg.API.Address)
	return g.Wait()
}

func (s *Service) serveAPI(ctx context.Context) error {
	srv := &http.Server{
		Addr: s.cfg.API.Address,
		Handler: api.NewRouter(s.Engine, api.Options{
			Token:          s.cfg.API.Token,
			AllowedOrigins: s.cfg.API.AllowedOrigins,
			Usage:          s.usage,
			Logger:         logger.New("api"),
		}),
		ReadTimeout:  time.Duration(s.cfg.API.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(s.cfg.API.WriteTimeoutSeconds) * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}

// Usage returns the daily usage store of the configured usage sink, or nil.
func (s *Service) Usage() usage.Store { return s.usage }

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	if s.client != nil {
		s.client.Disconnect()
	}
	if s.emitter != nil {
		s.emitter.Close()
	}
	if s.sink != nil {
		errs = append(errs, metrics.CloseSinks(s.sink))
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	coremon.Flush(2 * time.Second)
	return errors.Join(errs...)
}
