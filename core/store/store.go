package store

import (
	"context"

	"github.com/reliefgrid/coordinator/core/model"
)

// RequestFilter selects requests.
type RequestFilter struct {
	// ActiveOnly skips completed and cancelled requests.
	ActiveOnly bool
	Status     model.RequestStatus
}

// TaskFilter selects tasks.
type TaskFilter struct {
	RequestID   string
	ResponderID string
	Statuses    []model.TaskStatus
}

// ConsumptionFilter selects consumption records.
type ConsumptionFilter struct {
	ResourceID string
	TaskID     string
	TokenID    string
}

// ResponderMutator computes the next responder state. known is false when
// the responder does not exist yet.
type ResponderMutator func(cur model.Responder, known bool) (model.Responder, error)

// Store persists requests, tasks, responders, resources and consumption
// records. Updates are version fenced: they succeed only when the version of
// the passed entity matches the stored one and return the entity with its
// version bumped. A lost race yields model.ErrConflict.
type Store interface {
	// NextSeq returns the next value of the global submission counter.
	NextSeq(ctx context.Context) (uint64, error)

	// CreateRequest stores a new request and its tasks atomically.
	CreateRequest(ctx context.Context, r model.Request, tasks []model.Task) (model.Request, []model.Task, error)
	GetRequest(ctx context.Context, id string) (model.Request, error)
	UpdateRequest(ctx context.Context, r model.Request) (model.Request, error)
	ListRequests(ctx context.Context, f RequestFilter) ([]model.Request, error)

	GetTask(ctx context.Context, id string) (model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) (model.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]model.Task, error)

	UpsertResponder(ctx context.Context, id string, fn ResponderMutator) (model.Responder, error)
	GetResponder(ctx context.Context, id string) (model.Responder, error)
	ListResponders(ctx context.Context) ([]model.Responder, error)
	// AdjustWorkload atomically adds delta to the responder's active task
	// count. Positive deltas fail with model.ErrCapacity when the responder
	// is unavailable or would exceed limit. Negative deltas floor at zero.
	AdjustWorkload(ctx context.Context, id string, delta, limit int) (model.Responder, error)

	CreateResource(ctx context.Context, r model.Resource) (model.Resource, error)
	GetResource(ctx context.Context, id string) (model.Resource, error)
	ListResources(ctx context.Context, typ model.ResourceType) ([]model.Resource, error)
	// CommitResources writes every resource and appends every record in one
	// atomic batch. Any version mismatch rejects the whole batch.
	CommitResources(ctx context.Context, rs []model.Resource, recs []model.ConsumptionRecord) ([]model.Resource, error)
	ListConsumption(ctx context.Context, f ConsumptionFilter) ([]model.ConsumptionRecord, error)

	Close() error
}

func matchTask(t model.Task, f TaskFilter) bool {
	if f.RequestID != "" && t.RequestID != f.RequestID {
		return false
	}
	if f.ResponderID != "" && t.ResponderID != f.ResponderID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if t.Status == s {
			return true
		}
	}
	return false
}

func matchRequest(r model.Request, f RequestFilter) bool {
	if f.ActiveOnly && r.Status.Terminal() {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

func matchConsumption(c model.ConsumptionRecord, f ConsumptionFilter) bool {
	if f.ResourceID != "" && c.ResourceID != f.ResourceID {
		return false
	}
	if f.TaskID != "" && c.TaskID != f.TaskID {
		return false
	}
	if f.TokenID != "" && c.TokenID != f.TokenID {
		return false
	}
	return true
}

// MatchTask reports whether t satisfies f. It is shared with other Store
// implementations that filter in memory.
func MatchTask(t model.Task, f TaskFilter) bool { return matchTask(t, f) }

// MatchRequest reports whether r satisfies f.
func MatchRequest(r model.Request, f RequestFilter) bool { return matchRequest(r, f) }
