package feeds

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/logger"
	"github.com/reliefgrid/coordinator/core/model"
	coremqtt "github.com/reliefgrid/coordinator/core/mqtt"
)

// DirectoryUpdater applies responder snapshots.
type DirectoryUpdater interface {
	UpsertResponder(ctx context.Context, entry model.DirectoryEntry) (model.Responder, error)
}

// Directory mirrors responder status messages into the engine. Messages are
// pushed by the directory on <state_topic_prefix>/<responder id>; a sync
// request can ask it to republish everything.
type Directory struct {
	cfg config.DirectoryConfig
	cli coremqtt.Client
	upd DirectoryUpdater
	log logger.Logger
}

// NewDirectory creates the directory feed.
func NewDirectory(cfg config.DirectoryConfig, cli coremqtt.Client, upd DirectoryUpdater, log logger.Logger) *Directory {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Directory{cfg: cfg, cli: cli, upd: upd, log: log}
}

// Start subscribes to the status topics and runs the sync loop until ctx is
// done.
func (d *Directory) Start(ctx context.Context) error {
	topic := strings.TrimSuffix(d.cfg.StatePrefix, "/") + "/+"
	if err := d.cli.Subscribe(topic, d.cfg.QoS, func(topic string, payload []byte) {
		if err := d.Process(ctx, topic, payload); err != nil {
			d.log.Warnf("directory update on %s rejected: %v", topic, err)
		}
	}); err != nil {
		return err
	}
	if d.cfg.SyncTopic == "" {
		<-ctx.Done()
		return nil
	}
	d.requestSync(ctx)
	if d.cfg.SyncIntervalSeconds <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(time.Duration(d.cfg.SyncIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.requestSync(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *Directory) requestSync(ctx context.Context) {
	if err := d.cli.Publish(ctx, d.cfg.SyncTopic, d.cfg.QoS, false, []byte("sync")); err != nil {
		d.log.Errorf("directory sync request: %v", err)
	}
}

// Process applies one status message.
func (d *Directory) Process(ctx context.Context, topic string, payload []byte) error {
	start := time.Now()
	defer func() { handleLatency.WithLabelValues("directory").Observe(time.Since(start).Seconds()) }()

	var entry model.DirectoryEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		messagesTotal.WithLabelValues("directory", "invalid").Inc()
		return model.Errorf(model.ErrInvalidInput, "directory", "decode: %v", err)
	}
	if entry.ID == "" {
		entry.ID = extractID(topic)
	}
	if entry.SuccessRate != nil {
		sr := *entry.SuccessRate
		if sr < 0 {
			sr = 0
		} else if sr > 1 {
			sr = 1
		}
		entry.SuccessRate = &sr
	}
	hctx, cancel := context.WithTimeout(ctx, time.Duration(d.cfg.Timeout())*time.Second)
	defer cancel()
	r, err := d.upd.UpsertResponder(hctx, entry)
	if err != nil {
		messagesTotal.WithLabelValues("directory", model.KindName(err)).Inc()
		return err
	}
	messagesTotal.WithLabelValues("directory", "ok").Inc()
	lastDirectory.SetToCurrentTime()
	d.log.Debugw("responder mirrored", map[string]any{"responder_id": r.ID, "available": r.Available, "skills": r.Skills})
	return nil
}

func extractID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) > 0 {
		return parts[len(parts)-1]
	}
	return ""
}
