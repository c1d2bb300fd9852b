package model

import (
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

// Active reports whether the task occupies a responder slot.
func (s TaskStatus) Active() bool {
	return s == TaskAssigned || s == TaskInProgress || s == TaskReview
}

// AllowedTransition reports whether from -> to is part of the task state
// machine.
func AllowedTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskAssigned || to == TaskCancelled
	case TaskAssigned:
		return to == TaskInProgress || to == TaskCancelled
	case TaskInProgress:
		return to == TaskReview || to == TaskCompleted || to == TaskCancelled
	case TaskReview:
		return to == TaskCompleted || to == TaskCancelled
	default:
		return false
	}
}

// maxAppliedEvents bounds the per-task replay window.
const maxAppliedEvents = 32

// Task is a unit of work derived from a request.
type Task struct {
	ID                string     `json:"id"`
	RequestID         string     `json:"request_id"`
	Seq               uint64     `json:"seq"`
	Type              string     `json:"task_type"`
	RequiredSkills    []string   `json:"required_skills"`
	RequiredResources Lines      `json:"required_resources"`
	Status            TaskStatus `json:"status"`
	ResponderID       string     `json:"assigned_responder,omitempty"`
	Deadline          time.Time  `json:"deadline,omitempty"`
	Progress          int        `json:"progress"`
	Notes             string     `json:"notes,omitempty"`
	CancelReason      string     `json:"cancel_reason,omitempty"`
	StartedAt         time.Time  `json:"started_at,omitempty"`
	CompletedAt       time.Time  `json:"completed_at,omitempty"`
	// Reservations are the ledger tokens held while the task is active.
	Reservations []ReservationToken `json:"reservations,omitempty"`
	// LastEventID is the watermark of the last applied lifecycle event;
	// AppliedEvents keeps a bounded window of earlier ids for replay checks.
	LastEventID   string    `json:"last_event_id,omitempty"`
	AppliedEvents []string  `json:"applied_events,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Version       int64     `json:"version"`
}

// NewTask validates spec and builds a pending task for request r.
func NewTask(id string, seq uint64, r Request, spec TaskSpec, now time.Time) (Task, error) {
	const op = "new task"
	types, err := NormalizeTags([]string{spec.TaskType})
	if err != nil {
		return Task{}, err
	}
	if len(types) == 0 {
		return Task{}, Errorf(ErrInvalidInput, op, "task_type is required")
	}
	skills, err := NormalizeTags(spec.RequiredSkills)
	if err != nil {
		return Task{}, err
	}
	lines, err := ParseLines(spec.RequiredResources)
	if err != nil {
		return Task{}, err
	}
	if spec.DeadlineMinutes < 0 {
		return Task{}, Errorf(ErrInvalidInput, op, "deadline_minutes must not be negative")
	}
	t := Task{
		ID:                id,
		RequestID:         r.ID,
		Seq:               seq,
		Type:              types[0],
		RequiredSkills:    skills,
		RequiredResources: lines,
		Status:            TaskPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if spec.DeadlineMinutes > 0 {
		t.Deadline = now.Add(time.Duration(spec.DeadlineMinutes) * time.Minute)
	}
	return t, nil
}

// Transition moves the task from its current status to to.
func (t *Task) Transition(to TaskStatus, now time.Time) error {
	if !AllowedTransition(t.Status, to) {
		return Errorf(ErrInvalidTransition, "task transition", "task %s: %s -> %s", t.ID, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	switch to {
	case TaskInProgress:
		if t.StartedAt.IsZero() {
			t.StartedAt = now
		}
	case TaskCompleted:
		t.CompletedAt = now
		t.ResponderID = ""
		t.Reservations = nil
	case TaskCancelled:
		t.ResponderID = ""
		t.Reservations = nil
	}
	return nil
}

// Applied reports whether the event id was already applied to the task.
func (t Task) Applied(eventID string) bool {
	if eventID == "" {
		return false
	}
	if t.LastEventID == eventID {
		return true
	}
	for _, id := range t.AppliedEvents {
		if id == eventID {
			return true
		}
	}
	return false
}

// MarkApplied advances the watermark to eventID.
func (t *Task) MarkApplied(eventID string) {
	if eventID == "" {
		return
	}
	if t.LastEventID != "" {
		t.AppliedEvents = append(t.AppliedEvents, t.LastEventID)
		if n := len(t.AppliedEvents); n > maxAppliedEvents {
			t.AppliedEvents = append([]string(nil), t.AppliedEvents[n-maxAppliedEvents:]...)
		}
	}
	t.LastEventID = eventID
}

// Clone returns a deep copy.
func (t Task) Clone() Task {
	cp := t
	cp.RequiredSkills = append([]string(nil), t.RequiredSkills...)
	cp.Reservations = append([]ReservationToken(nil), t.Reservations...)
	cp.AppliedEvents = append([]string(nil), t.AppliedEvents...)
	if t.RequiredResources != nil {
		cp.RequiredResources = make(Lines, len(t.RequiredResources))
		for k, v := range t.RequiredResources {
			cp.RequiredResources[k] = v
		}
	}
	return cp
}

// Assignment is the committed result of matching a task to a responder.
type Assignment struct {
	TaskID      string             `json:"task_id"`
	ResponderID string             `json:"responder_id"`
	Score       float64            `json:"score"`
	Manual      bool               `json:"manual"`
	Tokens      []ReservationToken `json:"tokens"`
}

// Consumption reports the quantity of a resource type actually used.
type Consumption struct {
	Type     ResourceType `json:"type"`
	Quantity int          `json:"quantity"`
}
