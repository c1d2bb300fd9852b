package simulator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/reliefgrid/coordinator/core/events"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/infra/logger"
)

var mqttClientFactory = realMQTTClient

func realMQTTClient(broker, clientID string) (paho.Client, error) {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.AutoReconnect = true
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return cli, nil
}

// Responder publishes its directory state and works the tasks assigned to
// it.
type Responder struct {
	ID           string
	Skills       []string
	Availability [24]float64
	StatePrefix  string
	EventPrefix  string
	Interval     time.Duration
	Strategy     WorkStrategy
	API          TaskAPI
	Log          logger.Logger

	mu     sync.Mutex
	client paho.Client
	active int
	work   chan string
	now    func() time.Time
}

// Run connects to broker and publishes state until ctx is done.
func (r *Responder) Run(ctx context.Context, broker string) error {
	if r.Log == nil {
		r.Log = logger.NopLogger{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	cli, err := mqttClientFactory(broker, "sim-"+r.ID)
	if err != nil {
		return err
	}
	r.client = cli
	r.work = make(chan string, 16)
	defer cli.Disconnect(250)

	topic := r.EventPrefix + "/" + string(events.KindTaskAssigned) + "/#"
	if token := cli.Subscribe(topic, 1, r.onAssigned); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	go r.worker(ctx)

	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		r.publishState(r.onShift())
		select {
		case <-ctx.Done():
			r.publishState(false)
			return nil
		case <-t.C:
		}
	}
}

func (r *Responder) onShift() bool {
	return chance() < r.Availability[r.now().Hour()]
}

func (r *Responder) publishState(available bool) {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	payload, err := json.Marshal(model.DirectoryEntry{ID: r.ID, Skills: r.Skills, Available: &available, TaskCount: &active})
	if err != nil {
		r.Log.Errorf("%s: marshal state: %v", r.ID, err)
		return
	}
	token := r.client.Publish(r.StatePrefix+"/"+r.ID, 1, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		r.Log.Warnf("%s: state publish timeout", r.ID)
		return
	}
	if err := token.Error(); err != nil {
		r.Log.Errorf("%s: publish state: %v", r.ID, err)
	}
}

type assignedEnvelope struct {
	Kind  events.Kind         `json:"kind"`
	Event events.TaskAssigned `json:"event"`
}

func (r *Responder) onAssigned(_ paho.Client, msg paho.Message) {
	var env assignedEnvelope
	if err := json.Unmarshal(msg.Payload(), &env); err != nil {
		r.Log.Warnf("%s: decode event: %v", r.ID, err)
		return
	}
	if env.Kind != events.KindTaskAssigned || env.Event.ResponderID != r.ID {
		return
	}
	select {
	case r.work <- env.Event.TaskID:
	default:
		r.Log.Warnf("%s: work queue full, dropping task %s", r.ID, env.Event.TaskID)
	}
}

func (r *Responder) worker(ctx context.Context) {
	for {
		select {
		case id := <-r.work:
			r.setActive(1)
			if err := r.Strategy.Work(ctx, r.API, id); err != nil && ctx.Err() == nil {
				r.Log.Errorf("%s: task %s: %v", r.ID, id, err)
			}
			r.setActive(-1)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Responder) setActive(delta int) {
	r.mu.Lock()
	r.active += delta
	r.mu.Unlock()
}
