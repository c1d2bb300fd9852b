package model

import (
	"fmt"
	"strings"
	"time"
)

// Urgency is the raw urgency hint supplied by the intake step.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// ParseUrgency normalizes s into an Urgency. Empty input defaults to medium.
func ParseUrgency(s string) (Urgency, error) {
	switch u := Urgency(strings.ToLower(strings.TrimSpace(s))); u {
	case UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow:
		return u, nil
	case "":
		return UrgencyMedium, nil
	default:
		return "", Errorf(ErrInvalidInput, "parse urgency", "unknown urgency %q", s)
	}
}

// Tier is the priority class derived from a score.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// Rank orders tiers, critical being the highest.
func (t Tier) Rank() int {
	switch t {
	case TierCritical:
		return 3
	case TierHigh:
		return 2
	case TierMedium:
		return 1
	default:
		return 0
	}
}

// RequestStatus is the lifecycle state of a request.
type RequestStatus string

const (
	RequestNew         RequestStatus = "new"
	RequestProcessing  RequestStatus = "processing"
	RequestPrioritized RequestStatus = "prioritized"
	RequestAssigned    RequestStatus = "assigned"
	RequestInProgress  RequestStatus = "in_progress"
	RequestCompleted   RequestStatus = "completed"
	RequestCancelled   RequestStatus = "cancelled"
)

var requestOrder = map[RequestStatus]int{
	RequestNew:         0,
	RequestProcessing:  1,
	RequestPrioritized: 2,
	RequestAssigned:    3,
	RequestInProgress:  4,
	RequestCompleted:   5,
}

// Terminal reports whether no further transitions are possible.
func (s RequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

// NormalizedRequest is the structured record produced by the intake
// collaborator. The engine never parses free text.
type NormalizedRequest struct {
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	Location    string     `json:"location" yaml:"location"`
	PeopleCount int        `json:"people_count" yaml:"people_count"`
	Needs       []string   `json:"needs" yaml:"needs"`
	Urgency     string     `json:"urgency_hint" yaml:"urgency_hint"`
	Contact     string     `json:"contact" yaml:"contact"`
	Tasks       []TaskSpec `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

// TaskSpec describes a task explicitly requested by the intake step. When a
// request carries no specs the engine derives tasks from its needs.
type TaskSpec struct {
	TaskType          string         `json:"task_type" yaml:"task_type"`
	RequiredSkills    []string       `json:"required_skills" yaml:"required_skills"`
	RequiredResources map[string]int `json:"required_resources" yaml:"required_resources"`
	DeadlineMinutes   int            `json:"deadline_minutes,omitempty" yaml:"deadline_minutes,omitempty"`
}

// Request is a call for help tracked by the engine.
type Request struct {
	ID          string        `json:"id"`
	Seq         uint64        `json:"seq"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Location    string        `json:"location"`
	Needs       []string      `json:"needs"`
	PeopleCount int           `json:"people_count"`
	Urgency     Urgency       `json:"urgency_hint"`
	Contact     string        `json:"contact,omitempty"`
	Score       float64       `json:"priority_score"`
	Tier        Tier          `json:"priority_tier"`
	Status      RequestStatus `json:"status"`
	// AwaitingManual is set when automatic matching failed and an operator
	// has to assign the pending tasks.
	AwaitingManual bool      `json:"awaiting_manual_assignment"`
	CreatedAt      time.Time `json:"created_at"`
	ProcessedAt    time.Time `json:"processed_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
	Version        int64     `json:"version"`
}

// NewRequest validates n and builds a request in status new.
func NewRequest(id string, seq uint64, n NormalizedRequest, now time.Time) (Request, error) {
	const op = "new request"
	if strings.TrimSpace(n.Title) == "" && strings.TrimSpace(n.Description) == "" {
		return Request{}, Errorf(ErrInvalidInput, op, "title or description is required")
	}
	if n.PeopleCount < 1 {
		return Request{}, Errorf(ErrInvalidInput, op, "people_count must be at least 1, got %d", n.PeopleCount)
	}
	urg, err := ParseUrgency(n.Urgency)
	if err != nil {
		return Request{}, err
	}
	needs, err := NormalizeTags(n.Needs)
	if err != nil {
		return Request{}, fmt.Errorf("%s: %w", op, err)
	}
	return Request{
		ID:          id,
		Seq:         seq,
		Title:       strings.TrimSpace(n.Title),
		Description: strings.TrimSpace(n.Description),
		Location:    strings.TrimSpace(n.Location),
		Needs:       needs,
		PeopleCount: n.PeopleCount,
		Urgency:     urg,
		Contact:     n.Contact,
		Tier:        TierLow,
		Status:      RequestNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Advance moves the request forward to s. Moving backwards or to the same
// state is a no-op returning false. Cancellation is handled by Cancel.
func (r *Request) Advance(s RequestStatus, now time.Time) bool {
	if r.Status.Terminal() || s == RequestCancelled {
		return false
	}
	if requestOrder[s] <= requestOrder[r.Status] {
		return false
	}
	r.Status = s
	r.UpdatedAt = now
	return true
}

// Cancel moves a non-terminal request to cancelled.
func (r *Request) Cancel(now time.Time) error {
	if r.Status.Terminal() {
		return Errorf(ErrInvalidTransition, "cancel request", "request %s is %s", r.ID, r.Status)
	}
	r.Status = RequestCancelled
	r.UpdatedAt = now
	return nil
}

// HasNeed reports whether the request declared the given need tag.
func (r Request) HasNeed(tag string) bool {
	for _, n := range r.Needs {
		if n == tag {
			return true
		}
	}
	return false
}

// Less orders requests by descending score, earlier submission first on ties.
func Less(a, b Request) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Seq < b.Seq
}
