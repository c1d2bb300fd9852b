package metrics

import (
	"errors"

	"github.com/reliefgrid/coordinator/core/model"
)

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAssignment forwards the event to every sink. All sinks are called
// even when one fails.
func (m *MultiSink) RecordAssignment(ev AssignmentEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordAssignment(ev))
	}
	return errors.Join(errs...)
}

// RecordPriority forwards priority events.
func (m *MultiSink) RecordPriority(ev PriorityEvent) error {
	return m.each(func(s MetricsSink) error {
		if r, ok := s.(PriorityRecorder); ok {
			return r.RecordPriority(ev)
		}
		return nil
	})
}

// RecordTransition forwards task transitions.
func (m *MultiSink) RecordTransition(ev TransitionEvent) error {
	return m.each(func(s MetricsSink) error {
		if r, ok := s.(TransitionRecorder); ok {
			return r.RecordTransition(ev)
		}
		return nil
	})
}

// RecordLowStock forwards low stock alerts.
func (m *MultiSink) RecordLowStock(ev StockEvent) error {
	return m.each(func(s MetricsSink) error {
		if r, ok := s.(StockRecorder); ok {
			return r.RecordLowStock(ev)
		}
		return nil
	})
}

// RecordConsumption forwards consumption events.
func (m *MultiSink) RecordConsumption(ev ConsumptionEvent) error {
	return m.each(func(s MetricsSink) error {
		if r, ok := s.(ConsumptionRecorder); ok {
			return r.RecordConsumption(ev)
		}
		return nil
	})
}

// RecordQueueDepth forwards queue depth snapshots.
func (m *MultiSink) RecordQueueDepth(depth map[model.Tier]int) error {
	return m.each(func(s MetricsSink) error {
		if r, ok := s.(QueueRecorder); ok {
			return r.RecordQueueDepth(depth)
		}
		return nil
	})
}

func (m *MultiSink) each(fn func(MetricsSink) error) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, fn(s))
	}
	return errors.Join(errs...)
}
