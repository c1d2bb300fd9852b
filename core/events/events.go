package events

import "github.com/reliefgrid/coordinator/core/model"

// Kind names an event type. It is also used as the MQTT topic segment.
type Kind string

const (
	KindRequestPrioritized Kind = "request_prioritized"
	KindTaskAssigned       Kind = "task_assigned"
	KindTaskStatusChanged  Kind = "task_status_changed"
	KindLowStock           Kind = "low_stock"
	KindResourceConsumed   Kind = "resource_consumed"
)

// Event is implemented by every engine notification.
type Event interface {
	Kind() Kind
	// Entity returns the key of the entity the event is ordered on.
	Entity() string
}

// RequestPrioritized is emitted when a request receives a new score.
type RequestPrioritized struct {
	RequestID string     `json:"request_id"`
	Tier      model.Tier `json:"tier"`
	Score     float64    `json:"score"`
}

func (RequestPrioritized) Kind() Kind       { return KindRequestPrioritized }
func (e RequestPrioritized) Entity() string { return "request/" + e.RequestID }

// TaskAssigned is emitted once a task is committed to a responder.
type TaskAssigned struct {
	TaskID      string `json:"task_id"`
	ResponderID string `json:"responder_id"`
}

func (TaskAssigned) Kind() Kind       { return KindTaskAssigned }
func (e TaskAssigned) Entity() string { return "task/" + e.TaskID }

// TaskStatusChanged is emitted on every task transition.
type TaskStatusChanged struct {
	TaskID string           `json:"task_id"`
	From   model.TaskStatus `json:"from"`
	To     model.TaskStatus `json:"to"`
}

func (TaskStatusChanged) Kind() Kind       { return KindTaskStatusChanged }
func (e TaskStatusChanged) Entity() string { return "task/" + e.TaskID }

// LowStock is emitted when a resource's available quantity drops to or below
// its threshold.
type LowStock struct {
	ResourceID string `json:"resource_id"`
	Available  int    `json:"available"`
	Threshold  int    `json:"threshold"`
}

func (LowStock) Kind() Kind       { return KindLowStock }
func (e LowStock) Entity() string { return "resource/" + e.ResourceID }

// ResourceConsumed is emitted for every consumption record.
type ResourceConsumed struct {
	ResourceID string `json:"resource_id"`
	Quantity   int    `json:"qty"`
	TaskID     string `json:"task_id"`
}

func (ResourceConsumed) Kind() Kind       { return KindResourceConsumed }
func (e ResourceConsumed) Entity() string { return "resource/" + e.ResourceID }
