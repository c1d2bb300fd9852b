package metrics

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/reliefgrid/coordinator/core/events"
	coremetrics "github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/core/model"
)

type collectSink struct {
	coremetrics.NopSink
	mu          sync.Mutex
	transitions []coremetrics.TransitionEvent
	low         []coremetrics.StockEvent
	consumed    []coremetrics.ConsumptionEvent
}

func (c *collectSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions = append(c.transitions, ev)
	return nil
}

func (c *collectSink) RecordLowStock(ev coremetrics.StockEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.low = append(c.low, ev)
	return nil
}

func (c *collectSink) RecordConsumption(ev coremetrics.ConsumptionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumed = append(c.consumed, ev)
	return nil
}

func (c *collectSink) counts() (int, int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.transitions), len(c.low), len(c.consumed)
}

func TestEventCollector(t *testing.T) {
	em := events.NewEmitter(nil)
	defer em.Close()
	sink := &collectSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartEventCollector(ctx, em.Bus(), sink)

	em.Emit(events.TaskStatusChanged{TaskID: "t1", From: model.TaskPending, To: model.TaskAssigned})
	em.Emit(events.LowStock{ResourceID: "r1", Available: 1, Threshold: 5})
	em.Emit(events.ResourceConsumed{ResourceID: "r1", Quantity: 4, TaskID: "t1"})
	em.Emit(events.TaskAssigned{TaskID: "t1", ResponderID: "x"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tr, low, con := sink.counts()
		if tr == 1 && low == 1 && con == 1 {
			sink.mu.Lock()
			defer sink.mu.Unlock()
			if sink.consumed[0].Quantity != 4 || sink.low[0].Threshold != 5 || sink.transitions[0].To != model.TaskAssigned {
				t.Fatalf("unexpected events %+v %+v %+v", sink.transitions, sink.low, sink.consumed)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("events not collected")
}
