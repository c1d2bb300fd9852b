package metrics

import (
	"context"

	"github.com/reliefgrid/coordinator/core/events"
	coremetrics "github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records metrics for
// the events the engine does not report to the sink itself. It stops when
// the context is canceled.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.Envelope], sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-sub:
				if !ok {
					return
				}
				collect(env, sink)
			}
		}
	}()
}

func collect(env events.Envelope, sink coremetrics.MetricsSink) {
	switch e := env.Event.(type) {
	case events.TaskStatusChanged:
		if r, ok := sink.(coremetrics.TransitionRecorder); ok {
			_ = r.RecordTransition(coremetrics.TransitionEvent{TaskID: e.TaskID, From: e.From, To: e.To, Time: env.Time})
		}
	case events.LowStock:
		if r, ok := sink.(coremetrics.StockRecorder); ok {
			_ = r.RecordLowStock(coremetrics.StockEvent{
				ResourceID: e.ResourceID,
				Available:  e.Available,
				Threshold:  e.Threshold,
				Time:       env.Time,
			})
		}
	case events.ResourceConsumed:
		if r, ok := sink.(coremetrics.ConsumptionRecorder); ok {
			_ = r.RecordConsumption(coremetrics.ConsumptionEvent{
				ResourceID: e.ResourceID,
				TaskID:     e.TaskID,
				Quantity:   e.Quantity,
				Time:       env.Time,
			})
		}
	}
}
