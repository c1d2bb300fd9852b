// Package engine is the command surface of the coordination engine. It wires
// the priority scorer, the assignment matcher, the task lifecycle and the
// resource ledger together and applies a deadline to every command.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/reliefgrid/coordinator/core/audit"
	"github.com/reliefgrid/coordinator/core/events"
	"github.com/reliefgrid/coordinator/core/ledger"
	"github.com/reliefgrid/coordinator/core/lifecycle"
	"github.com/reliefgrid/coordinator/core/logger"
	"github.com/reliefgrid/coordinator/core/matcher"
	"github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/monitoring"
	"github.com/reliefgrid/coordinator/core/priority"
	"github.com/reliefgrid/coordinator/core/store"
)

// assessmentTask is created for requests that declare no need.
const assessmentTask = "assessment"

const requestRetries = 5

// Deps are the collaborators of an Engine. Only Store is required.
type Deps struct {
	Store    store.Store
	Events   events.Publisher
	Sink     metrics.MetricsSink
	Audit    audit.LogStore
	Distance matcher.DistanceSource
	Logger   logger.Logger
}

// Engine coordinates requests, tasks, responders and resources.
type Engine struct {
	cfg     Config
	store   store.Store
	scorer  *priority.Scorer
	matcher *matcher.Matcher
	ledger  *ledger.Ledger
	life    *lifecycle.Controller
	pub     events.Publisher
	sink    metrics.MetricsSink
	audit   audit.LogStore
	log     logger.Logger
	now     func() time.Time
	newID   func() string
	sweepMu sync.Mutex
}

// New validates cfg and builds an Engine over d.Store.
func New(cfg Config, d Deps) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if d.Store == nil {
		return nil, model.Errorf(model.ErrInvalidConfig, "new engine", "store is required")
	}
	if d.Events == nil {
		d.Events = events.Discard
	}
	if d.Sink == nil {
		d.Sink = metrics.NopSink{}
	}
	if d.Logger == nil {
		d.Logger = logger.Nop{}
	}
	scorer, err := priority.NewScorer(cfg.Priority)
	if err != nil {
		return nil, err
	}
	led := ledger.New(d.Store, d.Events, d.Logger, cfg.Ledger)
	m, err := matcher.New(cfg.Matcher, d.Store, led, d.Distance, d.Logger)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		store:   d.Store,
		scorer:  scorer,
		matcher: m,
		ledger:  led,
		life:    lifecycle.New(d.Store, led, d.Events, d.Logger),
		pub:     d.Events,
		sink:    d.Sink,
		audit:   d.Audit,
		log:     d.Logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Ledger exposes the resource ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// command bounds ctx with the operation timeout. The returned function
// records the outcome and must be called with the command's error.
func (e *Engine) command(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.timeout())
	start := time.Now()
	return ctx, func(err error) {
		cancel()
		commandLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		commandsTotal.WithLabelValues(name, model.KindName(err)).Inc()
		if err != nil {
			e.log.Debugf("%s failed: %v", name, err)
			monitoring.Report(err, map[string]string{"command": name})
		}
	}
}

// Submission is the outcome of SubmitRequest.
type Submission struct {
	Request  model.Request   `json:"request"`
	Tasks    []model.Task    `json:"tasks"`
	Priority priority.Result `json:"priority"`
}

// SubmitRequest validates n, derives its tasks, scores it and stores it.
// Unless automatic matching is disabled every task is then matched. A task
// that cannot be matched stays pending and flags the request as awaiting a
// manual assignment; that is not an error of the submission.
func (e *Engine) SubmitRequest(ctx context.Context, n model.NormalizedRequest) (sub Submission, err error) {
	const op = "submit request"
	ctx, done := e.command(ctx, "submit_request")
	defer func() { done(err) }()

	seq, err := e.store.NextSeq(ctx)
	if err != nil {
		return Submission{}, model.FromContext(op, err)
	}
	now := e.now()
	req, err := model.NewRequest(e.newID(), seq, n, now)
	if err != nil {
		return Submission{}, err
	}
	specs := n.Tasks
	if len(specs) == 0 {
		specs = e.deriveTasks(req)
	}
	tasks := make([]model.Task, 0, len(specs))
	for i, spec := range specs {
		t, err := model.NewTask(e.newID(), uint64(i+1), req, spec, now)
		if err != nil {
			return Submission{}, fmt.Errorf("%s: task %d: %w", op, i, err)
		}
		tasks = append(tasks, t)
	}

	base, err := e.baseContext(ctx)
	if err != nil {
		return Submission{}, err
	}
	sc, err := e.withAvailability(ctx, base, req.Needs)
	if err != nil {
		return Submission{}, err
	}
	res := e.scorer.Score(req, sc)
	priority.Apply(&req, res, now)
	req, tasks, err = e.store.CreateRequest(ctx, req, tasks)
	if err != nil {
		return Submission{}, model.FromContext(op, err)
	}
	e.pub.Emit(events.RequestPrioritized{RequestID: req.ID, Tier: req.Tier, Score: req.Score})
	e.recordPriority(req)
	e.log.Infof("request %s scored %.2f (%s) with %d task(s)", req.ID, req.Score, req.Tier, len(tasks))

	sub = Submission{Request: req, Tasks: tasks, Priority: res}
	if e.cfg.ManualOnly {
		return sub, nil
	}
	for _, t := range tasks {
		if _, err := e.assign(ctx, t.ID, matcher.Options{}, lifecycle.Meta{}, true); err != nil {
			e.log.Infof("task %s of request %s left pending: %v", t.ID, req.ID, err)
		}
	}
	return e.reload(ctx, req.ID, res)
}

func (e *Engine) reload(ctx context.Context, requestID string, res priority.Result) (Submission, error) {
	v, err := e.getRequest(ctx, requestID)
	if err != nil {
		return Submission{}, err
	}
	return Submission{Request: v.Request, Tasks: v.Tasks, Priority: res}, nil
}

// deriveTasks builds one task per declared need from the template table.
func (e *Engine) deriveTasks(r model.Request) []model.TaskSpec {
	if len(r.Needs) == 0 {
		return []model.TaskSpec{{TaskType: assessmentTask}}
	}
	specs := make([]model.TaskSpec, 0, len(r.Needs))
	for _, need := range r.Needs {
		specs = append(specs, e.cfg.template(need).Spec(r.PeopleCount))
	}
	return specs
}

// baseContext computes the responder side of the scoring context.
func (e *Engine) baseContext(ctx context.Context) (priority.Context, error) {
	rs, err := e.store.ListResponders(ctx)
	if err != nil {
		return priority.Context{}, model.FromContext("scoring context", err)
	}
	limit := e.cfg.Matcher.MaxConcurrentTasks
	var capacity, used, free int
	for _, r := range rs {
		if !r.Available {
			continue
		}
		capacity += limit
		used += min(r.ActiveTasks, limit)
		if r.ActiveTasks < limit {
			free++
		}
	}
	sc := priority.Context{AvailableResponders: free, Multiplier: e.cfg.ScoreMultiplier}
	if capacity > 0 {
		sc.SystemLoad = float64(used) / float64(capacity)
	}
	return sc, nil
}

// withAvailability adds the ledger availability of each need to base. A need
// is measured on the resource types its template requires, or on the
// resource type of the same name.
func (e *Engine) withAvailability(ctx context.Context, base priority.Context, needs []string) (priority.Context, error) {
	byNeed := make(map[string][]string, len(needs))
	var all []string
	for _, need := range needs {
		tpl := e.cfg.template(need)
		types := make([]string, 0, len(tpl.Resources))
		for typ := range tpl.Resources {
			types = append(types, typ)
		}
		if len(types) == 0 {
			types = append(types, need)
		}
		sort.Strings(types)
		byNeed[need] = types
		all = append(all, types...)
	}
	av, err := e.ledger.Availability(ctx, all)
	if err != nil {
		return priority.Context{}, model.FromContext("scoring context", err)
	}
	base.Availability = make(map[string]float64, len(needs))
	for need, types := range byNeed {
		var vals []float64
		for _, typ := range types {
			if v, ok := av[typ]; ok {
				vals = append(vals, v)
			}
		}
		if len(vals) > 0 {
			base.Availability[need] = floats.Sum(vals) / float64(len(vals))
		}
	}
	return base, nil
}

// AssignOptions select how AssignTask matches a task.
type AssignOptions struct {
	// ResponderID makes the assignment manual.
	ResponderID string  `json:"responder_id,omitempty"`
	RadiusKm    float64 `json:"radius_km,omitempty"`
}

// AssignTask matches a pending task automatically, or to opts.ResponderID
// when set. An already assigned task is returned unchanged.
func (e *Engine) AssignTask(ctx context.Context, taskID string, opts AssignOptions, meta lifecycle.Meta) (t model.Task, err error) {
	ctx, done := e.command(ctx, "assign_task")
	defer func() { done(err) }()
	mo := matcher.Options{ResponderID: opts.ResponderID, RadiusKm: opts.RadiusKm}
	return e.assign(ctx, taskID, mo, meta, opts.ResponderID == "")
}

// assign runs one matching attempt through the lifecycle so the task
// transition and the held slot and stock commit or roll back together.
// When flag is set a failed match marks the request as awaiting a manual
// assignment.
func (e *Engine) assign(ctx context.Context, taskID string, opts matcher.Options, meta lifecycle.Meta, flag bool) (model.Task, error) {
	const op = "assign task"
	start := time.Now()
	var (
		ran   bool
		task  model.Task
		asn   model.Assignment
		cands []matcher.Candidate
	)
	t, err := e.life.Assign(ctx, taskID, meta, func(ctx context.Context, t model.Task) (model.Assignment, error) {
		ran, task = true, t
		r, err := e.store.GetRequest(ctx, t.RequestID)
		if err != nil {
			return model.Assignment{}, model.FromContext(op, err)
		}
		if r.Status.Terminal() {
			return model.Assignment{}, model.Errorf(model.ErrInvalidTransition, op, "request %s is %s", r.ID, r.Status)
		}
		if opts.Location == "" {
			opts.Location = r.Location
		}
		asn, cands, err = e.matcher.Commit(ctx, t, opts)
		return asn, err
	})
	if !ran {
		return t, err
	}
	e.recordDecision(ctx, task, opts, asn, cands, err, time.Since(start))
	bg := context.WithoutCancel(ctx)
	switch {
	case err == nil:
		e.log.Infof("task %s assigned to %s (score %.3f, manual %t)", t.ID, t.ResponderID, asn.Score, asn.Manual)
		e.markAwaiting(bg, task.RequestID, false)
	case flag && unmatched(err):
		e.markAwaiting(bg, task.RequestID, true)
	}
	return t, err
}

func unmatched(err error) bool {
	return errors.Is(err, model.ErrNoEligibleCandidate) || errors.Is(err, model.ErrResourceUnavailable)
}

// markAwaiting sets or clears the manual assignment flag of a request. The
// flag is only cleared once no pending task is left.
func (e *Engine) markAwaiting(ctx context.Context, requestID string, awaiting bool) {
	if err := e.setAwaiting(ctx, requestID, awaiting); err != nil {
		e.log.Errorf("update manual assignment flag of request %s: %v", requestID, err)
	}
}

func (e *Engine) setAwaiting(ctx context.Context, requestID string, awaiting bool) error {
	const op = "awaiting manual"
	for attempt := 0; attempt < requestRetries; attempt++ {
		r, err := e.store.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r.AwaitingManual == awaiting || r.Status.Terminal() {
			return nil
		}
		if !awaiting {
			pending, err := e.store.ListTasks(ctx, store.TaskFilter{RequestID: requestID, Statuses: []model.TaskStatus{model.TaskPending}})
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				return nil
			}
		}
		r.AwaitingManual = awaiting
		r.UpdatedAt = e.now()
		if _, err := e.store.UpdateRequest(ctx, r); err != nil {
			if errors.Is(err, model.ErrConflict) {
				continue
			}
			return err
		}
		if awaiting {
			e.log.Warnf("request %s is awaiting manual assignment", requestID)
		}
		return nil
	}
	return model.Errorf(model.ErrContention, op, "request %s", requestID)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeAssigned
	case errors.Is(err, model.ErrNoEligibleCandidate):
		return metrics.OutcomeNoCandidate
	case errors.Is(err, model.ErrResourceUnavailable):
		return metrics.OutcomeResourceUnavailable
	default:
		return metrics.OutcomeError
	}
}

// recordDecision forwards a matching attempt to the metrics sink and the
// audit log.
func (e *Engine) recordDecision(ctx context.Context, t model.Task, opts matcher.Options, asn model.Assignment, cands []matcher.Candidate, err error, latency time.Duration) {
	now := e.now()
	manual := opts.ResponderID != "" && !opts.Planned
	outcome := outcomeOf(err)
	ev := metrics.AssignmentEvent{
		TaskID:      t.ID,
		RequestID:   t.RequestID,
		TaskType:    t.Type,
		ResponderID: asn.ResponderID,
		Score:       asn.Score,
		Candidates:  len(cands),
		Manual:      manual,
		Outcome:     outcome,
		Latency:     latency,
		Time:        now,
	}
	if serr := e.sink.RecordAssignment(ev); serr != nil {
		e.log.Warnf("record assignment metrics: %v", serr)
	}
	if e.audit == nil {
		return
	}
	rec := audit.LogRecord{
		Timestamp:   now,
		RequestID:   t.RequestID,
		TaskID:      t.ID,
		Manual:      manual,
		Planned:     opts.Planned,
		ResponderID: asn.ResponderID,
		Score:       asn.Score,
		Outcome:     outcome,
	}
	if err != nil {
		rec.ResponderID = opts.ResponderID
		rec.Error = err.Error()
	}
	for _, c := range cands {
		rec.Candidates = append(rec.Candidates, audit.Candidate{ResponderID: c.ResponderID, Score: c.Score})
	}
	if aerr := e.audit.Append(context.WithoutCancel(ctx), rec); aerr != nil {
		e.log.Errorf("append audit record for task %s: %v", t.ID, aerr)
		monitoring.Report(aerr, map[string]string{"component": "audit"})
	}
}

func (e *Engine) recordPriority(r model.Request) {
	pr, ok := e.sink.(metrics.PriorityRecorder)
	if !ok {
		return
	}
	if err := pr.RecordPriority(metrics.PriorityEvent{RequestID: r.ID, Tier: r.Tier, Score: r.Score, Time: e.now()}); err != nil {
		e.log.Warnf("record priority metrics: %v", err)
	}
}

// StartTask moves an assigned task to in_progress.
func (e *Engine) StartTask(ctx context.Context, taskID string, meta lifecycle.Meta) (t model.Task, err error) {
	ctx, done := e.command(ctx, "start_task")
	defer func() { done(err) }()
	return e.life.Start(ctx, taskID, meta)
}

// ReportProgress records progress on an active task.
func (e *Engine) ReportProgress(ctx context.Context, taskID string, pct int, notes string, meta lifecycle.Meta) (t model.Task, err error) {
	ctx, done := e.command(ctx, "report_progress")
	defer func() { done(err) }()
	return e.life.ReportProgress(ctx, taskID, pct, notes, meta)
}

// SubmitForReview moves an in-progress task to review.
func (e *Engine) SubmitForReview(ctx context.Context, taskID, notes string, meta lifecycle.Meta) (t model.Task, err error) {
	ctx, done := e.command(ctx, "submit_review")
	defer func() { done(err) }()
	return e.life.SubmitForReview(ctx, taskID, notes, meta)
}

// CompleteTask completes a task and consumes its reserved resources, or the
// reported usage when it differs from the reservation.
func (e *Engine) CompleteTask(ctx context.Context, taskID string, c lifecycle.Completion, meta lifecycle.Meta) (t model.Task, err error) {
	ctx, done := e.command(ctx, "complete_task")
	defer func() { done(err) }()
	return e.life.Complete(ctx, taskID, c, meta)
}

// CancelTask cancels a task and releases what it holds.
func (e *Engine) CancelTask(ctx context.Context, taskID, reason string, meta lifecycle.Meta) (t model.Task, err error) {
	ctx, done := e.command(ctx, "cancel_task")
	defer func() { done(err) }()
	t, err = e.life.Cancel(ctx, taskID, reason, meta)
	if err != nil {
		return t, err
	}
	e.markAwaiting(context.WithoutCancel(ctx), t.RequestID, false)
	return t, nil
}

// CancelRequest cancels a request and every task of it that is not
// terminal yet. The request is cancelled first so that the task roll-up can
// no longer complete it.
func (e *Engine) CancelRequest(ctx context.Context, requestID, reason string, meta lifecycle.Meta) (v RequestView, err error) {
	const op = "cancel request"
	ctx, done := e.command(ctx, "cancel_request")
	defer func() { done(err) }()

	cancelled := false
	for attempt := 0; attempt < requestRetries && !cancelled; attempt++ {
		r, err := e.store.GetRequest(ctx, requestID)
		if err != nil {
			return RequestView{}, model.FromContext(op, err)
		}
		if err := r.Cancel(e.now()); err != nil {
			return RequestView{}, err
		}
		r.AwaitingManual = false
		if _, err := e.store.UpdateRequest(ctx, r); err != nil {
			if errors.Is(err, model.ErrConflict) {
				continue
			}
			return RequestView{}, model.FromContext(op, err)
		}
		cancelled = true
	}
	if !cancelled {
		return RequestView{}, model.Errorf(model.ErrContention, op, "request %s", requestID)
	}

	tasks, err := e.store.ListTasks(ctx, store.TaskFilter{RequestID: requestID})
	if err != nil {
		return RequestView{}, model.FromContext(op, err)
	}
	var errs []error
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		tm := lifecycle.Meta{Actor: meta.Actor}
		if meta.EventID != "" {
			tm.EventID = meta.EventID + "/" + t.ID
		}
		if _, err := e.life.Cancel(ctx, t.ID, reason, tm); err != nil && !errors.Is(err, model.ErrInvalidTransition) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return RequestView{}, fmt.Errorf("%s %s: %w", op, requestID, err)
	}
	e.log.Infof("request %s cancelled: %s", requestID, reason)
	return e.getRequest(ctx, requestID)
}

// SweepResult summarizes a RescoreQueue run.
type SweepResult struct {
	Active   int `json:"active"`
	Rescored int `json:"rescored"`
	// Skipped counts requests whose new score lost a race with a concurrent
	// update. They keep their last score until the next sweep.
	Skipped  int `json:"skipped"`
	Assigned int `json:"assigned"`
	Pending  int `json:"pending"`
}

// RescoreQueue rescores every active request against the current load and
// stock, then matches the pending tasks in priority order. Only one sweep
// runs at a time.
func (e *Engine) RescoreQueue(ctx context.Context) (res SweepResult, err error) {
	const op = "rescore queue"
	ctx, done := e.command(ctx, "rescore_queue")
	defer func() { done(err) }()
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	reqs, err := e.store.ListRequests(ctx, store.RequestFilter{ActiveOnly: true})
	if err != nil {
		return res, model.FromContext(op, err)
	}
	res.Active = len(reqs)
	base, err := e.baseContext(ctx)
	if err != nil {
		return res, err
	}
	for i, r := range reqs {
		sc, err := e.withAvailability(ctx, base, r.Needs)
		if err != nil {
			return res, err
		}
		out := e.scorer.Score(r, sc)
		if out.Score == r.Score && out.Tier == r.Tier {
			continue
		}
		next := r
		priority.Apply(&next, out, e.now())
		saved, err := e.store.UpdateRequest(ctx, next)
		if errors.Is(err, model.ErrConflict) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, model.FromContext(op, err)
		}
		reqs[i] = saved
		res.Rescored++
		e.pub.Emit(events.RequestPrioritized{RequestID: saved.ID, Tier: saved.Tier, Score: saved.Score})
		e.recordPriority(saved)
	}
	priority.Rank(reqs)
	e.recordQueue(reqs)

	if e.cfg.ManualOnly {
		return res, nil
	}
	res.Assigned, res.Pending, err = e.assignPending(ctx, reqs)
	if res.Rescored+res.Assigned > 0 {
		e.log.Infof("sweep: %d active, %d rescored, %d assigned, %d pending", res.Active, res.Rescored, res.Assigned, res.Pending)
	}
	return res, err
}

// assignPending matches the pending tasks of reqs, which are ranked. With
// batch planning the pairs of a joint plan are committed first and the
// remaining tasks are then tried one by one.
func (e *Engine) assignPending(ctx context.Context, reqs []model.Request) (assigned, pending int, err error) {
	const op = "rescore queue"
	var items []matcher.PlanItem
	for _, r := range reqs {
		if r.Status.Terminal() {
			continue
		}
		tasks, err := e.store.ListTasks(ctx, store.TaskFilter{RequestID: r.ID, Statuses: []model.TaskStatus{model.TaskPending}})
		if err != nil {
			return assigned, pending, model.FromContext(op, err)
		}
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
		for _, t := range tasks {
			items = append(items, matcher.PlanItem{Task: t, Options: matcher.Options{Location: r.Location}, Priority: r.Score})
		}
	}
	if len(items) == 0 {
		return 0, 0, nil
	}

	planned := map[string]matcher.Pair{}
	if e.cfg.BatchPlanning {
		rs, err := e.store.ListResponders(ctx)
		if err != nil {
			return assigned, pending, model.FromContext(op, err)
		}
		for _, p := range e.matcher.Plan(items, rs) {
			planned[p.TaskID] = p
		}
	}
	order := make([]matcher.PlanItem, 0, len(items))
	var rest []matcher.PlanItem
	for _, it := range items {
		if _, ok := planned[it.Task.ID]; ok {
			order = append(order, it)
		} else {
			rest = append(rest, it)
		}
	}
	order = append(order, rest...)

	for _, it := range order {
		if err := ctx.Err(); err != nil {
			return assigned, pending, model.FromContext(op, err)
		}
		var err error
		if p, ok := planned[it.Task.ID]; ok {
			opts := it.Options
			opts.ResponderID, opts.Planned, opts.Score = p.ResponderID, true, p.Score
			_, err = e.assign(ctx, it.Task.ID, opts, lifecycle.Meta{}, false)
			if errors.Is(err, model.ErrCapacity) || errors.Is(err, model.ErrNotFound) {
				e.log.Debugf("planned responder %s for task %s is gone, matching again", p.ResponderID, it.Task.ID)
				_, err = e.assign(ctx, it.Task.ID, it.Options, lifecycle.Meta{}, true)
			}
		} else {
			_, err = e.assign(ctx, it.Task.ID, it.Options, lifecycle.Meta{}, true)
		}
		switch {
		case err == nil:
			assigned++
		case unmatched(err) || errors.Is(err, model.ErrInvalidTransition):
			pending++
		default:
			pending++
			e.log.Errorf("sweep: assign task %s: %v", it.Task.ID, err)
		}
	}
	return assigned, pending, nil
}

func (e *Engine) recordQueue(active []model.Request) {
	depth := map[model.Tier]int{model.TierCritical: 0, model.TierHigh: 0, model.TierMedium: 0, model.TierLow: 0}
	waiting := 0
	for _, r := range active {
		if r.Status.Terminal() {
			continue
		}
		depth[r.Tier]++
		if r.AwaitingManual {
			waiting++
		}
	}
	for tier, n := range depth {
		queueDepth.WithLabelValues(string(tier)).Set(float64(n))
	}
	awaitingManual.Set(float64(waiting))
	if qr, ok := e.sink.(metrics.QueueRecorder); ok {
		if err := qr.RecordQueueDepth(depth); err != nil {
			e.log.Warnf("record queue metrics: %v", err)
		}
	}
}

// Run rescores the queue every sweep interval until ctx is cancelled. With
// the sweep disabled it only waits for ctx.
func (e *Engine) Run(ctx context.Context) error {
	iv := e.cfg.sweepInterval()
	if iv <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(iv)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.RescoreQueue(ctx); err != nil {
				e.log.Errorf("sweep failed: %v", err)
			}
		}
	}
}
