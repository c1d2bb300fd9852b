// Package storetest holds the behaviour every store.Store implementation
// must share.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
)

// Run exercises the store returned by open. Each subtest gets a fresh store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("NextSeq", func(t *testing.T) { testNextSeq(t, open(t)) })
	t.Run("Requests", func(t *testing.T) { testRequests(t, open(t)) })
	t.Run("Tasks", func(t *testing.T) { testTasks(t, open(t)) })
	t.Run("ConcurrentTaskUpdate", func(t *testing.T) { testConcurrentTaskUpdate(t, open(t)) })
	t.Run("Responders", func(t *testing.T) { testResponders(t, open(t)) })
	t.Run("Resources", func(t *testing.T) { testResources(t, open(t)) })
}

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func request(id string, seq uint64, status model.RequestStatus) model.Request {
	return model.Request{
		ID:        id,
		Seq:       seq,
		Title:     "flooded basement " + id,
		Location:  "45.0,5.0",
		Needs:     []string{"rescue"},
		Urgency:   model.UrgencyHigh,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func task(id, requestID string, seq uint64) model.Task {
	return model.Task{
		ID:                id,
		RequestID:         requestID,
		Seq:               seq,
		Type:              "rescue",
		RequiredSkills:    []string{"rescue"},
		RequiredResources: model.Lines{"boat": 1},
		Status:            model.TaskPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func testNextSeq(t *testing.T, s store.Store) {
	ctx := context.Background()
	a, err := s.NextSeq(ctx)
	require.NoError(t, err)
	b, err := s.NextSeq(ctx)
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func testRequests(t *testing.T, s store.Store) {
	ctx := context.Background()
	r, tasks, err := s.CreateRequest(ctx, request("r2", 2, model.RequestPrioritized), []model.Task{task("t1", "r2", 1)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.Version)
	require.Len(t, tasks, 1)
	assert.EqualValues(t, 1, tasks[0].Version)

	_, _, err = s.CreateRequest(ctx, request("r2", 9, model.RequestNew), nil)
	assert.ErrorIs(t, err, model.ErrConflict)

	_, _, err = s.CreateRequest(ctx, request("r1", 1, model.RequestCompleted), nil)
	require.NoError(t, err)

	got, err := s.GetRequest(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, []string{"rescue"}, got.Needs)
	assert.True(t, got.CreatedAt.Equal(now))

	got.Status = model.RequestAssigned
	updated, err := s.UpdateRequest(ctx, got)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Version)

	_, err = s.UpdateRequest(ctx, got)
	assert.ErrorIs(t, err, model.ErrConflict, "stale version must be rejected")

	missing := request("nope", 5, model.RequestNew)
	_, err = s.UpdateRequest(ctx, missing)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetRequest(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)

	all, err := s.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "r1", all[0].ID, "requests are listed by submission order")

	active, err := s.ListRequests(ctx, store.RequestFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "r2", active[0].ID)

	done, err := s.ListRequests(ctx, store.RequestFilter{Status: model.RequestCompleted})
	require.NoError(t, err)
	require.Len(t, done, 1)
}

func testTasks(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, _, err := s.CreateRequest(ctx, request("r1", 1, model.RequestPrioritized),
		[]model.Task{task("t2", "r1", 2), task("t1", "r1", 1)})
	require.NoError(t, err)
	_, _, err = s.CreateRequest(ctx, request("r2", 2, model.RequestPrioritized), []model.Task{task("t1", "r2", 1)})
	assert.ErrorIs(t, err, model.ErrConflict, "task ids are unique")
	_, err = s.GetRequest(ctx, "r2")
	assert.ErrorIs(t, err, model.ErrNotFound, "a failed create leaves nothing behind")

	tk, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.Lines{"boat": 1}, tk.RequiredResources)

	tk.Status = model.TaskAssigned
	tk.ResponderID = "resp1"
	tk.Reservations = []model.ReservationToken{{ID: "tok1", ResourceID: "boat-1", Type: "boat", TaskID: "t1", Quantity: 1}}
	tk, err = s.UpdateTask(ctx, tk)
	require.NoError(t, err)
	assert.EqualValues(t, 2, tk.Version)

	list, err := s.ListTasks(ctx, store.TaskFilter{RequestID: "r1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].ID)

	byResponder, err := s.ListTasks(ctx, store.TaskFilter{ResponderID: "resp1"})
	require.NoError(t, err)
	require.Len(t, byResponder, 1)
	assert.Len(t, byResponder[0].Reservations, 1)

	pending, err := s.ListTasks(ctx, store.TaskFilter{Statuses: []model.TaskStatus{model.TaskPending}})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t2", pending[0].ID)

	_, err = s.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testConcurrentTaskUpdate(t *testing.T, s store.Store) {
	ctx := context.Background()
	_, _, err := s.CreateRequest(ctx, request("r1", 1, model.RequestPrioritized), []model.Task{task("t1", "r1", 1)})
	require.NoError(t, err)
	base, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk := base.Clone()
			tk.Status = model.TaskAssigned
			tk.ResponderID = string(rune('a' + i))
			_, err := s.UpdateTask(ctx, tk)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, model.ErrConflict):
				conflicts++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}

func testResponders(t *testing.T, s store.Store) {
	ctx := context.Background()
	r, err := s.UpsertResponder(ctx, "resp1", func(cur model.Responder, known bool) (model.Responder, error) {
		assert.False(t, known)
		cur.Skills = []string{"medical"}
		cur.Available = true
		return cur, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "resp1", r.ID)
	assert.EqualValues(t, 1, r.Version)

	_, err = s.UpsertResponder(ctx, "resp1", func(cur model.Responder, known bool) (model.Responder, error) {
		assert.True(t, known)
		assert.Equal(t, []string{"medical"}, cur.Skills)
		return cur, model.Errorf(model.ErrInvalidInput, "test", "rejected")
	})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	r, err = s.AdjustWorkload(ctx, "resp1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, r.ActiveTasks)
	_, err = s.AdjustWorkload(ctx, "resp1", 1, 2)
	require.NoError(t, err)
	_, err = s.AdjustWorkload(ctx, "resp1", 1, 2)
	assert.ErrorIs(t, err, model.ErrCapacity)

	r, err = s.AdjustWorkload(ctx, "resp1", -5, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, r.ActiveTasks, "workload floors at zero")

	_, err = s.UpsertResponder(ctx, "resp1", func(cur model.Responder, known bool) (model.Responder, error) {
		cur.Available = false
		return cur, nil
	})
	require.NoError(t, err)
	_, err = s.AdjustWorkload(ctx, "resp1", 1, 2)
	assert.ErrorIs(t, err, model.ErrCapacity, "unavailable responders take no work")

	_, err = s.AdjustWorkload(ctx, "ghost", 1, 2)
	assert.ErrorIs(t, err, model.ErrNotFound)

	got, err := s.GetResponder(ctx, "resp1")
	require.NoError(t, err)
	assert.False(t, got.Available)

	list, err := s.ListResponders(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testResources(t *testing.T, s store.Store) {
	ctx := context.Background()
	res := model.Resource{ID: "bandages-a", Name: "Bandages", Type: "bandages", Total: 100, Threshold: 20, UpdatedAt: now}
	created, err := s.CreateResource(ctx, res)
	require.NoError(t, err)
	assert.EqualValues(t, 1, created.Version)
	_, err = s.CreateResource(ctx, res)
	assert.ErrorIs(t, err, model.ErrConflict)
	_, err = s.CreateResource(ctx, model.Resource{ID: "water-a", Type: "water", Total: 10})
	require.NoError(t, err)

	water, err := s.ListResources(ctx, "water")
	require.NoError(t, err)
	require.Len(t, water, 1)
	all, err := s.ListResources(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	held := created.Clone()
	held.Reserved = 10
	held.Holds = map[string]model.Hold{"tok1": {TaskID: "t1", Quantity: 10, Created: now}}
	out, err := s.CommitResources(ctx, []model.Resource{held}, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.EqualValues(t, 2, out[0].Version)

	// A stale entry rejects the whole batch, records included.
	consumed := out[0].Clone()
	consumed.Reserved = 0
	consumed.Consumed = 10
	consumed.Holds = nil
	stale := water[0]
	stale.Version = 99
	rec := model.ConsumptionRecord{ID: "c1", ResourceID: "bandages-a", TaskID: "t1", TokenID: "tok1", Quantity: 10, Actor: "resp1", Timestamp: now}
	_, err = s.CommitResources(ctx, []model.Resource{consumed, stale}, []model.ConsumptionRecord{rec})
	assert.ErrorIs(t, err, model.ErrConflict)
	recs, err := s.ListConsumption(ctx, store.ConsumptionFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
	cur, err := s.GetResource(ctx, "bandages-a")
	require.NoError(t, err)
	assert.Equal(t, 10, cur.Reserved)

	// Broken invariants are refused.
	broken := cur.Clone()
	broken.Consumed = 200
	_, err = s.CommitResources(ctx, []model.Resource{broken}, nil)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = s.CommitResources(ctx, []model.Resource{consumed}, []model.ConsumptionRecord{rec})
	require.NoError(t, err)
	recs, err = s.ListConsumption(ctx, store.ConsumptionFilter{TokenID: "tok1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 10, recs[0].Quantity)
	none, err := s.ListConsumption(ctx, store.ConsumptionFilter{TaskID: "other"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.CommitResources(ctx, []model.Resource{{ID: "ghost", Version: 1}}, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = s.GetResource(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
