package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/reliefgrid/coordinator/config"
	"github.com/reliefgrid/coordinator/core/engine"
	"github.com/reliefgrid/coordinator/core/logger"
	"github.com/reliefgrid/coordinator/core/model"
	coremqtt "github.com/reliefgrid/coordinator/core/mqtt"
)

// Submitter accepts normalized requests.
type Submitter interface {
	SubmitRequest(ctx context.Context, n model.NormalizedRequest) (engine.Submission, error)
}

// intakeMessage is a normalized request with an optional message id used to
// drop redeliveries.
type intakeMessage struct {
	MessageID string `json:"message_id"`
	model.NormalizedRequest
}

// Reply reports the outcome of an intake message.
type Reply struct {
	MessageID string     `json:"message_id,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Tier      model.Tier `json:"priority_tier,omitempty"`
	Score     float64    `json:"priority_score,omitempty"`
	Tasks     int        `json:"tasks"`
	Error     string     `json:"error,omitempty"`
	ErrorKind string     `json:"error_kind,omitempty"`
}

// Intake submits requests received on the intake topic.
type Intake struct {
	cfg config.IntakeConfig
	cli coremqtt.Client
	sub Submitter
	log logger.Logger

	mu   sync.Mutex
	seen map[string]struct{}
	ring []string
	next int
}

// NewIntake creates the intake feed.
func NewIntake(cfg config.IntakeConfig, cli coremqtt.Client, sub Submitter, log logger.Logger) *Intake {
	cfg.SetDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	return &Intake{
		cfg:  cfg,
		cli:  cli,
		sub:  sub,
		log:  log,
		seen: make(map[string]struct{}, cfg.DedupWindow),
		ring: make([]string, cfg.DedupWindow),
	}
}

// Start subscribes to the intake topic and blocks until ctx is done.
func (in *Intake) Start(ctx context.Context) error {
	if err := in.cli.Subscribe(in.cfg.Topic, in.cfg.QoS, func(_ string, payload []byte) {
		in.Process(ctx, payload)
	}); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Process submits one message and publishes the reply when configured.
func (in *Intake) Process(ctx context.Context, payload []byte) Reply {
	start := time.Now()
	defer func() { handleLatency.WithLabelValues("intake").Observe(time.Since(start).Seconds()) }()

	var msg intakeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		err = model.Errorf(model.ErrInvalidInput, "intake", "decode: %v", err)
		return in.reply(ctx, Reply{}, err)
	}
	if msg.MessageID != "" && !in.remember(msg.MessageID) {
		messagesTotal.WithLabelValues("intake", "duplicate").Inc()
		in.log.Debugf("intake message %s already handled", msg.MessageID)
		return Reply{MessageID: msg.MessageID}
	}
	sctx, cancel := context.WithTimeout(ctx, time.Duration(in.cfg.Timeout())*time.Second)
	defer cancel()
	sub, err := in.sub.SubmitRequest(sctx, msg.NormalizedRequest)
	if err != nil {
		if msg.MessageID != "" && errors.Is(err, model.ErrTimeout) {
			in.forget(msg.MessageID)
		}
		return in.reply(ctx, Reply{MessageID: msg.MessageID}, err)
	}
	in.log.Infof("request %s submitted from intake, tier %s", sub.Request.ID, sub.Request.Tier)
	return in.reply(ctx, Reply{
		MessageID: msg.MessageID,
		RequestID: sub.Request.ID,
		Tier:      sub.Request.Tier,
		Score:     sub.Request.Score,
		Tasks:     len(sub.Tasks),
	}, nil)
}

func (in *Intake) reply(ctx context.Context, r Reply, err error) Reply {
	result := model.KindName(err)
	messagesTotal.WithLabelValues("intake", result).Inc()
	if err != nil {
		r.Error = err.Error()
		r.ErrorKind = result
		in.log.Warnf("intake message rejected: %v", err)
	}
	if in.cfg.ReplyTopic == "" {
		return r
	}
	b, merr := json.Marshal(r)
	if merr != nil {
		return r
	}
	if perr := in.cli.Publish(ctx, in.cfg.ReplyTopic, in.cfg.QoS, false, b); perr != nil {
		in.log.Errorf("intake reply: %v", perr)
	}
	return r
}

// remember records id and reports whether it was new.
func (in *Intake) remember(id string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.seen[id]; ok {
		return false
	}
	if old := in.ring[in.next]; old != "" {
		delete(in.seen, old)
	}
	in.ring[in.next] = id
	in.next = (in.next + 1) % len(in.ring)
	in.seen[id] = struct{}{}
	return true
}

func (in *Intake) forget(id string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.seen, id)
}
