package metrics

import (
	"time"

	"github.com/reliefgrid/coordinator/core/model"
)

// Assignment outcomes.
const (
	OutcomeAssigned            = "assigned"
	OutcomeNoCandidate         = "no_candidate"
	OutcomeResourceUnavailable = "resource_unavailable"
	OutcomeError               = "error"
)

// AssignmentEvent describes one matching attempt for a task.
type AssignmentEvent struct {
	TaskID      string
	RequestID   string
	TaskType    string
	ResponderID string
	Score       float64
	Candidates  int
	Manual      bool
	Outcome     string
	Latency     time.Duration
	Time        time.Time
}

// MetricsSink records assignment attempts. Sinks may implement the optional
// recorder interfaces below to receive more event types.
type MetricsSink interface {
	RecordAssignment(ev AssignmentEvent) error
}

// PriorityEvent is emitted when a request is scored.
type PriorityEvent struct {
	RequestID string
	Tier      model.Tier
	Score     float64
	Time      time.Time
}

// PriorityRecorder records request scores.
type PriorityRecorder interface {
	RecordPriority(ev PriorityEvent) error
}

// TransitionEvent captures a task status change.
type TransitionEvent struct {
	TaskID string
	From   model.TaskStatus
	To     model.TaskStatus
	Time   time.Time
}

// TransitionRecorder records task transitions.
type TransitionRecorder interface {
	RecordTransition(ev TransitionEvent) error
}

// StockEvent is a low stock alert.
type StockEvent struct {
	ResourceID string
	Available  int
	Threshold  int
	Time       time.Time
}

// StockRecorder records low stock alerts.
type StockRecorder interface {
	RecordLowStock(ev StockEvent) error
}

// ConsumptionEvent is a committed resource consumption.
type ConsumptionEvent struct {
	ResourceID string
	TaskID     string
	Quantity   int
	Time       time.Time
}

// ConsumptionRecorder records consumed quantities.
type ConsumptionRecorder interface {
	RecordConsumption(ev ConsumptionEvent) error
}

// QueueRecorder records the number of open requests per tier.
type QueueRecorder interface {
	RecordQueueDepth(depth map[model.Tier]int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordAssignment(AssignmentEvent) error     { return nil }
func (NopSink) RecordPriority(PriorityEvent) error         { return nil }
func (NopSink) RecordTransition(TransitionEvent) error     { return nil }
func (NopSink) RecordLowStock(StockEvent) error            { return nil }
func (NopSink) RecordConsumption(ConsumptionEvent) error   { return nil }
func (NopSink) RecordQueueDepth(map[model.Tier]int) error { return nil }
