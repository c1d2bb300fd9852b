// Package feeds connects the engine to MQTT: engine events go out through
// the Notifier, responder status and new requests come in through the
// Directory and Intake feeds.
package feeds

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/events"
	"github.com/reliefgrid/coordinator/core/logger"
	coremqtt "github.com/reliefgrid/coordinator/core/mqtt"
	"github.com/reliefgrid/coordinator/internal/eventbus"
)

// Notifier publishes engine events to <prefix>/<kind>/<entity>. Events of
// one entity are published in sequence order.
type Notifier struct {
	cfg config.NotifierConfig
	pub coremqtt.Publisher
	log logger.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(cfg config.NotifierConfig, pub coremqtt.Publisher, log logger.Logger) *Notifier {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Notifier{cfg: cfg, pub: pub, log: log}
}

// Topic returns the topic an envelope is published to.
func (n *Notifier) Topic(env events.Envelope) string {
	return strings.TrimSuffix(n.cfg.TopicPrefix, "/") + "/" + string(env.Kind) + "/" + env.Entity
}

// Run forwards bus events until ctx is done or the bus is closed.
func (n *Notifier) Run(ctx context.Context, bus *eventbus.TypedBus[events.Envelope]) {
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub:
			if !ok {
				return
			}
			_ = n.Publish(ctx, env)
		}
	}
}

// Publish sends one envelope. Failures are logged and counted; the engine
// state is already durable.
func (n *Notifier) Publish(ctx context.Context, env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		publishedTotal.WithLabelValues(string(env.Kind), "error").Inc()
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := n.pub.Publish(pctx, n.Topic(env), n.cfg.QoS, n.cfg.Retained, payload); err != nil {
		publishedTotal.WithLabelValues(string(env.Kind), "error").Inc()
		n.log.Errorf("publish %s seq %d for %s: %v", env.Kind, env.Seq, env.Entity, err)
		return err
	}
	publishedTotal.WithLabelValues(string(env.Kind), "ok").Inc()
	return nil
}
