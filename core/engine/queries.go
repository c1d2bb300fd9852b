package engine

import (
	"context"
	"sort"

	"github.com/reliefgrid/coordinator/core/audit"
	"github.com/reliefgrid/coordinator/core/ledger"
	"github.com/reliefgrid/coordinator/core/matcher"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/priority"
	"github.com/reliefgrid/coordinator/core/store"
)

// RequestView is a request with its tasks ordered by sequence.
type RequestView struct {
	Request model.Request `json:"request"`
	Tasks   []model.Task  `json:"tasks"`
}

// GetRequest returns a request and its tasks.
func (e *Engine) GetRequest(ctx context.Context, id string) (v RequestView, err error) {
	ctx, done := e.command(ctx, "get_request")
	defer func() { done(err) }()
	return e.getRequest(ctx, id)
}

func (e *Engine) getRequest(ctx context.Context, id string) (RequestView, error) {
	r, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return RequestView{}, model.FromContext("get request", err)
	}
	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{RequestID: id})
	if err != nil {
		return RequestView{}, model.FromContext("get request", err)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	return RequestView{Request: r, Tasks: tasks}, nil
}

// Queue returns the active requests, highest priority first.
func (e *Engine) Queue(ctx context.Context) (reqs []model.Request, err error) {
	ctx, done := e.command(ctx, "queue")
	defer func() { done(err) }()
	reqs, err = e.store.ListRequests(ctx, store.RequestFilter{ActiveOnly: true})
	if err != nil {
		return nil, model.FromContext("queue", err)
	}
	priority.Rank(reqs)
	return reqs, nil
}

// GetTask returns a task.
func (e *Engine) GetTask(ctx context.Context, id string) (t model.Task, err error) {
	ctx, done := e.command(ctx, "get_task")
	defer func() { done(err) }()
	t, err = e.store.GetTask(ctx, id)
	return t, model.FromContext("get task", err)
}

// ListTasks returns the tasks matching f.
func (e *Engine) ListTasks(ctx context.Context, f store.TaskFilter) (ts []model.Task, err error) {
	ctx, done := e.command(ctx, "list_tasks")
	defer func() { done(err) }()
	ts, err = e.store.ListTasks(ctx, f)
	return ts, model.FromContext("list tasks", err)
}

// Candidates ranks the responders that could take a task, without
// committing anything.
func (e *Engine) Candidates(ctx context.Context, taskID string, radiusKm float64) (cs []matcher.Candidate, err error) {
	const op = "candidates"
	ctx, done := e.command(ctx, op)
	defer func() { done(err) }()
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, model.FromContext(op, err)
	}
	r, err := e.store.GetRequest(ctx, t.RequestID)
	if err != nil {
		return nil, model.FromContext(op, err)
	}
	return e.matcher.Candidates(ctx, t, matcher.Options{Location: r.Location, RadiusKm: radiusKm})
}

// UpsertResponder mirrors a directory entry. The engine keeps ownership of
// the active task count of known responders.
func (e *Engine) UpsertResponder(ctx context.Context, entry model.DirectoryEntry) (r model.Responder, err error) {
	ctx, done := e.command(ctx, "upsert_responder")
	defer func() { done(err) }()
	r, err = e.store.UpsertResponder(ctx, entry.ID, func(cur model.Responder, known bool) (model.Responder, error) {
		return entry.Apply(cur, known, e.now())
	})
	if err != nil {
		return model.Responder{}, model.FromContext("upsert responder", err)
	}
	e.log.Debugf("responder %s updated: available=%t skills=%v", r.ID, r.Available, r.Skills)
	return r, nil
}

// Responders lists the responder directory mirror.
func (e *Engine) Responders(ctx context.Context) (rs []model.Responder, err error) {
	ctx, done := e.command(ctx, "responders")
	defer func() { done(err) }()
	rs, err = e.store.ListResponders(ctx)
	return rs, model.FromContext("responders", err)
}

// RegisterResource starts tracking a resource.
func (e *Engine) RegisterResource(ctx context.Context, r model.Resource) (s model.Snapshot, err error) {
	ctx, done := e.command(ctx, "register_resource")
	defer func() { done(err) }()
	return e.ledger.Register(ctx, r)
}

// ReplenishResource adds qty units to a resource.
func (e *Engine) ReplenishResource(ctx context.Context, id string, qty int) (s model.Snapshot, err error) {
	ctx, done := e.command(ctx, "replenish_resource")
	defer func() { done(err) }()
	return e.ledger.Replenish(ctx, id, qty)
}

// Resources lists resources, optionally of one type or only those running
// low.
func (e *Engine) Resources(ctx context.Context, typ model.ResourceType, lowOnly bool) (ss []model.Snapshot, err error) {
	ctx, done := e.command(ctx, "resources")
	defer func() { done(err) }()
	if lowOnly {
		ss, err = e.ledger.LowStock(ctx)
		if err != nil || typ == "" {
			return ss, err
		}
		out := ss[:0]
		for _, s := range ss {
			if s.Type == typ {
				out = append(out, s)
			}
		}
		return out, nil
	}
	return e.ledger.List(ctx, typ)
}

// Resource returns the current quantities of one resource.
func (e *Engine) Resource(ctx context.Context, id string) (s model.Snapshot, err error) {
	ctx, done := e.command(ctx, "resource")
	defer func() { done(err) }()
	return e.ledger.Query(ctx, id)
}

// Consumption lists consumption records.
func (e *Engine) Consumption(ctx context.Context, f store.ConsumptionFilter) (recs []model.ConsumptionRecord, err error) {
	ctx, done := e.command(ctx, "consumption")
	defer func() { done(err) }()
	recs, err = e.store.ListConsumption(ctx, f)
	return recs, model.FromContext("consumption", err)
}

// AuditLog queries the assignment decision log. It returns nothing when no
// log is configured.
func (e *Engine) AuditLog(ctx context.Context, q audit.LogQuery) (recs []audit.LogRecord, err error) {
	ctx, done := e.command(ctx, "audit_log")
	defer func() { done(err) }()
	if e.audit == nil {
		return nil, nil
	}
	return e.audit.Query(ctx, q)
}

// ResponderStats summarizes the directory mirror.
type ResponderStats struct {
	Total       int `json:"total"`
	Available   int `json:"available"`
	AtCapacity  int `json:"at_capacity"`
	ActiveTasks int `json:"active_tasks"`
}

// Stats is the dashboard view of the engine.
type Stats struct {
	Requests       map[model.RequestStatus]int             `json:"requests"`
	Queue          map[model.Tier]int                      `json:"queue"`
	AwaitingManual int                                     `json:"awaiting_manual"`
	Tasks          map[model.TaskStatus]int                `json:"tasks"`
	Responders     ResponderStats                          `json:"responders"`
	Resources      map[model.ResourceType]ledger.TypeStats `json:"resources"`
	LowStock       int                                     `json:"low_stock"`
}

// Stats aggregates requests, tasks, responders and stock.
func (e *Engine) Stats(ctx context.Context) (st Stats, err error) {
	const op = "stats"
	ctx, done := e.command(ctx, op)
	defer func() { done(err) }()

	reqs, err := e.store.ListRequests(ctx, store.RequestFilter{})
	if err != nil {
		return Stats{}, model.FromContext(op, err)
	}
	st.Requests = map[model.RequestStatus]int{}
	st.Queue = map[model.Tier]int{}
	var active []model.Request
	for _, r := range reqs {
		st.Requests[r.Status]++
		if r.Status.Terminal() {
			continue
		}
		active = append(active, r)
		st.Queue[r.Tier]++
		if r.AwaitingManual {
			st.AwaitingManual++
		}
	}
	e.recordQueue(active)

	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		return Stats{}, model.FromContext(op, err)
	}
	st.Tasks = map[model.TaskStatus]int{}
	for _, t := range tasks {
		st.Tasks[t.Status]++
	}

	rs, err := e.store.ListResponders(ctx)
	if err != nil {
		return Stats{}, model.FromContext(op, err)
	}
	limit := e.cfg.Matcher.MaxConcurrentTasks
	for _, r := range rs {
		st.Responders.Total++
		st.Responders.ActiveTasks += r.ActiveTasks
		if !r.Available {
			continue
		}
		st.Responders.Available++
		if r.ActiveTasks >= limit {
			st.Responders.AtCapacity++
		}
	}

	if st.Resources, err = e.ledger.Stats(ctx); err != nil {
		return Stats{}, model.FromContext(op, err)
	}
	for _, s := range st.Resources {
		st.LowStock += s.Low
	}
	return st, nil
}
