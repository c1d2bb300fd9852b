package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reliefgrid/coordinator/internal/eventbus"
)

// Envelope wraps an event with its delivery metadata. Seq increases
// monotonically per entity.
type Envelope struct {
	ID     string    `json:"id"`
	Kind   Kind      `json:"kind"`
	Entity string    `json:"entity"`
	Seq    uint64    `json:"seq"`
	Time   time.Time `json:"time"`
	Event  Event     `json:"event"`
}

// Publisher accepts engine events.
type Publisher interface {
	Emit(ev Event) Envelope
}

// Emitter stamps events and fans them out on a bus.
type Emitter struct {
	mu  sync.Mutex
	seq map[string]uint64
	bus *eventbus.TypedBus[Envelope]
	now func() time.Time
}

// NewEmitter returns an Emitter publishing on bus. A nil bus creates one.
func NewEmitter(bus *eventbus.TypedBus[Envelope]) *Emitter {
	if bus == nil {
		bus = eventbus.NewTyped[Envelope]()
	}
	return &Emitter{seq: map[string]uint64{}, bus: bus, now: time.Now}
}

// Emit assigns the next sequence number for the event's entity and
// publishes it. Stamping and publishing happen under one lock so
// subscribers observe each entity's events in sequence order.
func (e *Emitter) Emit(ev Event) Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := ev.Entity()
	e.seq[key]++
	env := Envelope{
		ID:     uuid.NewString(),
		Kind:   ev.Kind(),
		Entity: key,
		Seq:    e.seq[key],
		Time:   e.now(),
		Event:  ev,
	}
	e.bus.Publish(env)
	return env
}

// Bus returns the underlying bus for subscribers.
func (e *Emitter) Bus() *eventbus.TypedBus[Envelope] { return e.bus }

// Close closes the bus.
func (e *Emitter) Close() { e.bus.Close() }

// Recorder is a Publisher that keeps every envelope in memory. It is used by
// tests and by the CLI to print what a command emitted.
type Recorder struct {
	mu     sync.Mutex
	seq    map[string]uint64
	events []Envelope
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{seq: map[string]uint64{}} }

func (r *Recorder) Emit(ev Event) Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ev.Entity()
	r.seq[key]++
	env := Envelope{ID: uuid.NewString(), Kind: ev.Kind(), Entity: key, Seq: r.seq[key], Time: time.Now(), Event: ev}
	r.events = append(r.events, env)
	return env
}

// Events returns a copy of the recorded envelopes.
func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

// OfKind returns the recorded envelopes of kind k.
func (r *Recorder) OfKind(k Kind) []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Envelope
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans an event out to several publishers. The first publisher's
// envelope is returned.
type Multi []Publisher

func (m Multi) Emit(ev Event) Envelope {
	var first Envelope
	for i, p := range m {
		env := p.Emit(ev)
		if i == 0 {
			first = env
		}
	}
	return first
}

type discard struct{}

func (discard) Emit(ev Event) Envelope {
	return Envelope{Kind: ev.Kind(), Entity: ev.Entity(), Event: ev}
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}
