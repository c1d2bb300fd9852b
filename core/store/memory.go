package store

import (
	"context"
	"sort"
	"sync"

	"github.com/reliefgrid/coordinator/core/model"
)

// MemoryStore keeps all state in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	seq         uint64
	requests    map[string]model.Request
	tasks       map[string]model.Task
	responders  map[string]model.Responder
	resources   map[string]model.Resource
	consumption []model.ConsumptionRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:   map[string]model.Request{},
		tasks:      map[string]model.Task{},
		responders: map[string]model.Responder{},
		resources:  map[string]model.Resource{},
	}
}

func (s *MemoryStore) NextSeq(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

func (s *MemoryStore) CreateRequest(ctx context.Context, r model.Request, tasks []model.Task) (model.Request, []model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return model.Request{}, nil, model.Errorf(model.ErrConflict, "create request", "request %s exists", r.ID)
	}
	for _, t := range tasks {
		if _, ok := s.tasks[t.ID]; ok {
			return model.Request{}, nil, model.Errorf(model.ErrConflict, "create request", "task %s exists", t.ID)
		}
	}
	r.Version = 1
	s.requests[r.ID] = r
	out := make([]model.Task, len(tasks))
	for i, t := range tasks {
		t.Version = 1
		s.tasks[t.ID] = t.Clone()
		out[i] = t
	}
	return r, out, nil
}

func (s *MemoryStore) GetRequest(ctx context.Context, id string) (model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return model.Request{}, model.Errorf(model.ErrNotFound, "get request", "request %s", id)
	}
	r.Needs = append([]string(nil), r.Needs...)
	return r, nil
}

func (s *MemoryStore) UpdateRequest(ctx context.Context, r model.Request) (model.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.requests[r.ID]
	if !ok {
		return model.Request{}, model.Errorf(model.ErrNotFound, "update request", "request %s", r.ID)
	}
	if cur.Version != r.Version {
		return model.Request{}, model.Errorf(model.ErrConflict, "update request", "request %s at version %d, got %d", r.ID, cur.Version, r.Version)
	}
	r.Version++
	r.Needs = append([]string(nil), r.Needs...)
	s.requests[r.ID] = r
	return r, nil
}

func (s *MemoryStore) ListRequests(ctx context.Context, f RequestFilter) ([]model.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Request
	for _, r := range s.requests {
		if matchRequest(r, f) {
			r.Needs = append([]string(nil), r.Needs...)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return model.Task{}, model.Errorf(model.ErrNotFound, "get task", "task %s", id)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, t model.Task) (model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tasks[t.ID]
	if !ok {
		return model.Task{}, model.Errorf(model.ErrNotFound, "update task", "task %s", t.ID)
	}
	if cur.Version != t.Version {
		return model.Task{}, model.Errorf(model.ErrConflict, "update task", "task %s at version %d, got %d", t.ID, cur.Version, t.Version)
	}
	t.Version++
	s.tasks[t.ID] = t.Clone()
	return t, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, f TaskFilter) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Task
	for _, t := range s.tasks {
		if matchTask(t, f) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) UpsertResponder(ctx context.Context, id string, fn ResponderMutator) (model.Responder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, known := s.responders[id]
	cur.Skills = append([]string(nil), cur.Skills...)
	next, err := fn(cur, known)
	if err != nil {
		return model.Responder{}, err
	}
	next.ID = id
	next.Version = cur.Version + 1
	s.responders[id] = next
	return next, nil
}

func (s *MemoryStore) GetResponder(ctx context.Context, id string) (model.Responder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responders[id]
	if !ok {
		return model.Responder{}, model.Errorf(model.ErrNotFound, "get responder", "responder %s", id)
	}
	r.Skills = append([]string(nil), r.Skills...)
	return r, nil
}

func (s *MemoryStore) ListResponders(ctx context.Context) ([]model.Responder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Responder, 0, len(s.responders))
	for _, r := range s.responders {
		r.Skills = append([]string(nil), r.Skills...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AdjustWorkload(ctx context.Context, id string, delta, limit int) (model.Responder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responders[id]
	if !ok {
		return model.Responder{}, model.Errorf(model.ErrNotFound, "adjust workload", "responder %s", id)
	}
	if delta > 0 && (!r.Available || r.ActiveTasks+delta > limit) {
		return model.Responder{}, model.Errorf(model.ErrCapacity, "adjust workload", "responder %s has %d active tasks", id, r.ActiveTasks)
	}
	r.ActiveTasks += delta
	if r.ActiveTasks < 0 {
		r.ActiveTasks = 0
	}
	r.Version++
	s.responders[id] = r
	r.Skills = append([]string(nil), r.Skills...)
	return r, nil
}

func (s *MemoryStore) CreateResource(ctx context.Context, r model.Resource) (model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.resources[r.ID]; ok {
		return model.Resource{}, model.Errorf(model.ErrConflict, "create resource", "resource %s exists", r.ID)
	}
	r.Version = 1
	s.resources[r.ID] = r.Clone()
	return r, nil
}

func (s *MemoryStore) GetResource(ctx context.Context, id string) (model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return model.Resource{}, model.Errorf(model.ErrNotFound, "get resource", "resource %s", id)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) ListResources(ctx context.Context, typ model.ResourceType) ([]model.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Resource
	for _, r := range s.resources {
		if typ == "" || r.Type == typ {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CommitResources(ctx context.Context, rs []model.Resource, recs []model.ConsumptionRecord) ([]model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		cur, ok := s.resources[r.ID]
		if !ok {
			return nil, model.Errorf(model.ErrNotFound, "commit resources", "resource %s", r.ID)
		}
		if cur.Version != r.Version {
			return nil, model.Errorf(model.ErrConflict, "commit resources", "resource %s at version %d, got %d", r.ID, cur.Version, r.Version)
		}
		if err := r.Check(); err != nil {
			return nil, model.Errorf(model.ErrInvalidInput, "commit resources", "%v", err)
		}
	}
	out := make([]model.Resource, len(rs))
	for i, r := range rs {
		r.Version++
		s.resources[r.ID] = r.Clone()
		out[i] = r
	}
	s.consumption = append(s.consumption, recs...)
	return out, nil
}

func (s *MemoryStore) ListConsumption(ctx context.Context, f ConsumptionFilter) ([]model.ConsumptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ConsumptionRecord
	for _, c := range s.consumption {
		if matchConsumption(c, f) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
