// Package lifecycle drives tasks through their state machine. Every command
// for a task runs under that task's lock, so transitions of one task are
// totally ordered and its events are emitted in commit order.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reliefgrid/coordinator/core/events"
	"github.com/reliefgrid/coordinator/core/logger"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
	"github.com/reliefgrid/coordinator/internal/keylock"
)

// Ledger is the subset of the resource ledger used by the controller.
type Ledger interface {
	ReleaseAll(ctx context.Context, toks []model.ReservationToken) error
	CommitAll(ctx context.Context, taskID string, toks []model.ReservationToken, usage []model.Consumption, actor string) ([]model.ConsumptionRecord, error)
}

// Assigner commits an assignment for a pending task. It is called with the
// task lock held.
type Assigner func(ctx context.Context, t model.Task) (model.Assignment, error)

// Meta identifies a command. A non-empty EventID makes the command
// idempotent: replaying it returns the current task without changes.
type Meta struct {
	EventID string
	Actor   string
}

// Completion reports the outcome of a finished task.
type Completion struct {
	Usage []model.Consumption `json:"usage,omitempty"`
	Notes string              `json:"notes,omitempty"`
}

const requestRetries = 5

// Controller owns task transitions and the request status roll-up.
type Controller struct {
	store  store.Store
	ledger Ledger
	locks  *keylock.Locker
	pub    events.Publisher
	log    logger.Logger
	now    func() time.Time
}

// New returns a Controller. A nil publisher drops events and a nil logger
// discards output.
func New(st store.Store, led Ledger, pub events.Publisher, log logger.Logger) *Controller {
	if pub == nil {
		pub = events.Discard
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Controller{store: st, ledger: led, locks: keylock.New(), pub: pub, log: log, now: time.Now}
}

// withTask loads the task under its lock. fn returns the events to emit once
// the task has been saved. A replayed event id short-circuits fn.
func (c *Controller) withTask(ctx context.Context, op, taskID string, meta Meta, fn func(t *model.Task) ([]events.Event, error)) (model.Task, error) {
	unlock, err := c.locks.Lock(ctx, "task/"+taskID)
	if err != nil {
		return model.Task{}, model.FromContext(op, err)
	}
	defer unlock()

	t, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return model.Task{}, model.FromContext(op, err)
	}
	if t.Applied(meta.EventID) {
		c.log.Debugf("%s: event %s already applied to task %s", op, meta.EventID, taskID)
		return t, nil
	}
	evs, err := fn(&t)
	if err != nil {
		return model.Task{}, err
	}
	if evs == nil {
		return t, nil
	}
	t.MarkApplied(meta.EventID)
	saved, err := c.store.UpdateTask(ctx, t)
	if err != nil {
		return model.Task{}, model.FromContext(op, err)
	}
	for _, ev := range evs {
		c.pub.Emit(ev)
	}
	return saved, nil
}

func (c *Controller) transition(t *model.Task, to model.TaskStatus) (events.Event, error) {
	from := t.Status
	if err := t.Transition(to, c.now()); err != nil {
		return nil, err
	}
	return events.TaskStatusChanged{TaskID: t.ID, From: from, To: to}, nil
}

// Assign moves a pending task to assigned using the assignment produced by
// assign. If the task cannot be saved the assignment is rolled back. An
// already active task is returned unchanged.
func (c *Controller) Assign(ctx context.Context, taskID string, meta Meta, assign Assigner) (model.Task, error) {
	const op = "assign task"
	var asn model.Assignment
	committed := false
	t, err := c.withTask(ctx, op, taskID, meta, func(t *model.Task) ([]events.Event, error) {
		if t.Status.Active() && t.ResponderID != "" {
			return nil, nil
		}
		if t.Status != model.TaskPending {
			return nil, model.Errorf(model.ErrInvalidTransition, op, "task %s is %s", t.ID, t.Status)
		}
		var err error
		if asn, err = assign(ctx, *t); err != nil {
			return nil, err
		}
		committed = true
		ev, err := c.transition(t, model.TaskAssigned)
		if err != nil {
			return nil, err
		}
		t.ResponderID = asn.ResponderID
		t.Reservations = asn.Tokens
		return []events.Event{ev, events.TaskAssigned{TaskID: t.ID, ResponderID: asn.ResponderID}}, nil
	})
	if err != nil {
		if committed {
			c.rollback(context.WithoutCancel(ctx), asn)
		}
		return model.Task{}, err
	}
	if committed {
		c.rollup(ctx, t.RequestID)
	}
	return t, nil
}

func (c *Controller) rollback(ctx context.Context, asn model.Assignment) {
	if err := c.ledger.ReleaseAll(ctx, asn.Tokens); err != nil {
		c.log.Errorf("rollback reservations of task %s: %v", asn.TaskID, err)
	}
	c.releaseSlot(ctx, asn.ResponderID)
}

func (c *Controller) releaseSlot(ctx context.Context, responderID string) {
	if responderID == "" {
		return
	}
	if _, err := c.store.AdjustWorkload(ctx, responderID, -1, 0); err != nil {
		c.log.Errorf("release slot of %s: %v", responderID, err)
	}
}

// Start moves an assigned task to in_progress.
func (c *Controller) Start(ctx context.Context, taskID string, meta Meta) (model.Task, error) {
	t, err := c.withTask(ctx, "start task", taskID, meta, func(t *model.Task) ([]events.Event, error) {
		ev, err := c.transition(t, model.TaskInProgress)
		if err != nil {
			return nil, err
		}
		return []events.Event{ev}, nil
	})
	if err == nil {
		c.rollup(ctx, t.RequestID)
	}
	return t, err
}

// ReportProgress records the completion percentage of a task. Progress never
// decreases. Reporting on an assigned task starts it.
func (c *Controller) ReportProgress(ctx context.Context, taskID string, pct int, notes string, meta Meta) (model.Task, error) {
	const op = "report progress"
	if pct < 0 || pct > 100 {
		return model.Task{}, model.Errorf(model.ErrInvalidInput, op, "progress must be within [0,100], got %d", pct)
	}
	started := false
	t, err := c.withTask(ctx, op, taskID, meta, func(t *model.Task) ([]events.Event, error) {
		var evs []events.Event
		if t.Status == model.TaskAssigned {
			ev, err := c.transition(t, model.TaskInProgress)
			if err != nil {
				return nil, err
			}
			evs = append(evs, ev)
			started = true
		}
		if t.Status != model.TaskInProgress {
			return nil, model.Errorf(model.ErrInvalidTransition, op, "task %s is %s", t.ID, t.Status)
		}
		if pct < t.Progress {
			return nil, model.Errorf(model.ErrInvalidInput, op, "progress of task %s cannot go back from %d to %d", t.ID, t.Progress, pct)
		}
		t.Progress = pct
		t.Notes = appendNotes(t.Notes, notes)
		t.UpdatedAt = c.now()
		if evs == nil {
			evs = []events.Event{}
		}
		return evs, nil
	})
	if err == nil && started {
		c.rollup(ctx, t.RequestID)
	}
	return t, err
}

// SubmitForReview moves an in-progress task to review.
func (c *Controller) SubmitForReview(ctx context.Context, taskID, notes string, meta Meta) (model.Task, error) {
	return c.withTask(ctx, "submit for review", taskID, meta, func(t *model.Task) ([]events.Event, error) {
		ev, err := c.transition(t, model.TaskReview)
		if err != nil {
			return nil, err
		}
		t.Notes = appendNotes(t.Notes, notes)
		return []events.Event{ev}, nil
	})
}

// Complete finishes a task. The task must report full progress or the
// completion must carry its own notes; earlier progress notes do not count. Its reservations are converted into consumption using
// the reported usage and the responder's slot is freed.
func (c *Controller) Complete(ctx context.Context, taskID string, done Completion, meta Meta) (model.Task, error) {
	const op = "complete task"
	var responder string
	t, err := c.withTask(ctx, op, taskID, meta, func(t *model.Task) ([]events.Event, error) {
		if !model.AllowedTransition(t.Status, model.TaskCompleted) {
			return nil, model.Errorf(model.ErrInvalidTransition, op, "task %s is %s", t.ID, t.Status)
		}
		if t.Progress < 100 && strings.TrimSpace(done.Notes) == "" {
			return nil, model.Errorf(model.ErrInvalidInput, op, "task %s needs full progress or completion notes", t.ID)
		}
		actor := meta.Actor
		if actor == "" {
			actor = t.ResponderID
		}
		if _, err := c.ledger.CommitAll(ctx, t.ID, t.Reservations, done.Usage, actor); err != nil {
			return nil, err
		}
		responder = t.ResponderID
		t.Notes = appendNotes(t.Notes, done.Notes)
		t.Progress = 100
		ev, err := c.transition(t, model.TaskCompleted)
		if err != nil {
			return nil, err
		}
		return []events.Event{ev}, nil
	})
	if err != nil {
		return model.Task{}, err
	}
	c.releaseSlot(ctx, responder)
	c.rollup(ctx, t.RequestID)
	return t, nil
}

// Cancel stops a non-terminal task, releasing its reservations and slot.
func (c *Controller) Cancel(ctx context.Context, taskID, reason string, meta Meta) (model.Task, error) {
	const op = "cancel task"
	var responder string
	t, err := c.withTask(ctx, op, taskID, meta, func(t *model.Task) ([]events.Event, error) {
		if t.Status.Terminal() {
			return nil, model.Errorf(model.ErrInvalidTransition, op, "task %s is %s", t.ID, t.Status)
		}
		if err := c.ledger.ReleaseAll(ctx, t.Reservations); err != nil {
			return nil, err
		}
		responder = t.ResponderID
		t.CancelReason = reason
		ev, err := c.transition(t, model.TaskCancelled)
		if err != nil {
			return nil, err
		}
		return []events.Event{ev}, nil
	})
	if err != nil {
		return model.Task{}, err
	}
	c.releaseSlot(ctx, responder)
	c.rollup(ctx, t.RequestID)
	return t, nil
}

// rollup advances the parent request to reflect its tasks. Once every task
// is terminal the request is completed when at least one task completed and
// cancelled otherwise.
func (c *Controller) rollup(ctx context.Context, requestID string) {
	if requestID == "" {
		return
	}
	if err := c.Rollup(ctx, requestID); err != nil {
		c.log.Errorf("roll up request %s: %v", requestID, err)
	}
}

// Rollup recomputes the status of a request from its tasks.
func (c *Controller) Rollup(ctx context.Context, requestID string) error {
	for attempt := 0; attempt < requestRetries; attempt++ {
		r, err := c.store.GetRequest(ctx, requestID)
		if err != nil {
			return model.FromContext("rollup", err)
		}
		tasks, err := c.store.ListTasks(ctx, store.TaskFilter{RequestID: requestID})
		if err != nil {
			return model.FromContext("rollup", err)
		}
		target, ok := statusFor(tasks)
		if !ok || r.Status.Terminal() {
			return nil
		}
		if target == model.RequestCancelled {
			if err := r.Cancel(c.now()); err != nil {
				return err
			}
			r.AwaitingManual = false
		} else if !r.Advance(target, c.now()) {
			return nil
		}
		if _, err := c.store.UpdateRequest(ctx, r); err != nil {
			if errors.Is(err, model.ErrConflict) {
				continue
			}
			return model.FromContext("rollup", err)
		}
		c.log.Infof("request %s is now %s", requestID, target)
		return nil
	}
	return model.Errorf(model.ErrContention, "rollup", "request %s", requestID)
}

func statusFor(tasks []model.Task) (model.RequestStatus, bool) {
	if len(tasks) == 0 {
		return "", false
	}
	var terminal, completed, started, assigned int
	for _, t := range tasks {
		switch t.Status {
		case model.TaskCompleted:
			terminal++
			completed++
		case model.TaskCancelled:
			terminal++
		case model.TaskInProgress, model.TaskReview:
			started++
		case model.TaskAssigned:
			assigned++
		}
	}
	switch {
	case terminal == len(tasks) && completed > 0:
		return model.RequestCompleted, true
	case terminal == len(tasks):
		return model.RequestCancelled, true
	case started > 0 || completed > 0:
		return model.RequestInProgress, true
	case assigned > 0:
		return model.RequestAssigned, true
	}
	return "", false
}

func appendNotes(cur, add string) string {
	add = strings.TrimSpace(add)
	switch {
	case add == "":
		return cur
	case cur == "":
		return add
	}
	return fmt.Sprintf("%s\n%s", cur, add)
}
