package matcher

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefgrid/coordinator/core/ledger"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
)

type fixture struct {
	st  *store.MemoryStore
	led *ledger.Ledger
	m   *Matcher
}

func newFixture(t *testing.T, dist DistanceSource) fixture {
	t.Helper()
	ledger.ResetMetrics(nil)
	st := store.NewMemoryStore()
	led := ledger.New(st, nil, nil, ledger.Config{})
	m, err := New(DefaultConfig(), st, led, dist, nil)
	require.NoError(t, err)
	return fixture{st: st, led: led, m: m}
}

func (f fixture) responder(t *testing.T, r model.Responder) {
	t.Helper()
	_, err := f.st.UpsertResponder(context.Background(), r.ID, func(model.Responder, bool) (model.Responder, error) {
		return r, nil
	})
	require.NoError(t, err)
}

func pendingTask(id string, skills ...string) model.Task {
	return model.Task{ID: id, Type: "medical", RequiredSkills: skills, Status: model.TaskPending}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.Skill = 0.9
	if err := cfg.Validate(); !errors.Is(err, model.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	cfg = DefaultConfig()
	cfg.MaxConcurrentTasks = 0
	if err := cfg.Validate(); !errors.Is(err, model.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for capacity, got %v", err)
	}
}

func TestRankFiltersAndOrders(t *testing.T) {
	f := newFixture(t, nil)
	responders := []model.Responder{
		{ID: "busy", Skills: []string{"first_aid", "medical"}, Available: true, ActiveTasks: 3},
		{ID: "off", Skills: []string{"first_aid", "medical"}, Available: false},
		{ID: "unskilled", Skills: []string{"driving"}, Available: true},
		{ID: "b", Skills: []string{"first_aid"}, Available: true, ActiveTasks: 1},
		{ID: "a", Skills: []string{"first_aid"}, Available: true, ActiveTasks: 1},
		{ID: "best", Skills: []string{"first_aid", "medical"}, Available: true, SuccessRate: 0.9},
	}
	got := f.m.Rank(pendingTask("t1", "first_aid"), Options{}, responders)
	require.Len(t, got, 3)
	assert.Equal(t, "best", got[0].ResponderID)
	assert.Equal(t, "a", got[1].ResponderID, "ties break on responder id")
	assert.Equal(t, "b", got[2].ResponderID)
	assert.Equal(t, 1.0, got[0].Components.Skill)
	assert.Equal(t, 0.5, got[1].Components.Skill)
}

func TestRankRadius(t *testing.T) {
	dist := DistanceFunc(func(r model.Responder, _ string) (float64, bool) {
		switch r.ID {
		case "near":
			return 2, true
		case "far":
			return 30, true
		}
		return 0, false
	})
	f := newFixture(t, dist)
	responders := []model.Responder{
		{ID: "far", Available: true},
		{ID: "near", Available: true},
		{ID: "unknown", Available: true},
	}
	got := f.m.Rank(pendingTask("t1"), Options{RadiusKm: 10}, responders)
	require.Len(t, got, 1)
	assert.Equal(t, "near", got[0].ResponderID)
	require.NotNil(t, got[0].DistanceKm)

	all := f.m.Rank(pendingTask("t1"), Options{}, responders)
	require.Len(t, all, 3)
	assert.Equal(t, "near", all[0].ResponderID)
}

func TestCommitReservesResourcesAndSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.responder(t, model.Responder{ID: "r1", Skills: []string{"first_aid"}, Available: true})
	_, err := f.led.Register(ctx, model.Resource{ID: "kits", Type: "medical_kit", Total: 5})
	require.NoError(t, err)

	task := pendingTask("t1", "first_aid")
	task.RequiredResources = model.Lines{"medical_kit": 2}
	asn, cands, err := f.m.Commit(ctx, task, Options{})
	require.NoError(t, err)
	assert.Equal(t, "r1", asn.ResponderID)
	assert.Len(t, cands, 1)
	require.Len(t, asn.Tokens, 1)

	r, err := f.st.GetResponder(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, r.ActiveTasks)
	snap, _ := f.led.Query(ctx, "kits")
	assert.Equal(t, 2, snap.Reserved)
}

func TestCommitResourceUnavailableLeavesNothingHeld(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.responder(t, model.Responder{ID: "r1", Available: true})
	f.responder(t, model.Responder{ID: "r2", Available: true})
	_, err := f.led.Register(ctx, model.Resource{ID: "o2", Type: "oxygen_tank", Total: 1})
	require.NoError(t, err)

	task := pendingTask("t1")
	task.RequiredResources = model.Lines{"oxygen_tank": 2}
	_, _, err = f.m.Commit(ctx, task, Options{})
	require.ErrorIs(t, err, model.ErrResourceUnavailable)

	for _, id := range []string{"r1", "r2"} {
		r, err := f.st.GetResponder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 0, r.ActiveTasks, id)
	}
	snap, _ := f.led.Query(ctx, "o2")
	assert.Equal(t, 0, snap.Reserved)
}

func TestCommitNoEligibleCandidate(t *testing.T) {
	f := newFixture(t, nil)
	f.responder(t, model.Responder{ID: "r1", Skills: []string{"driving"}, Available: true})
	_, _, err := f.m.Commit(context.Background(), pendingTask("t1", "first_aid"), Options{})
	require.ErrorIs(t, err, model.ErrNoEligibleCandidate)
}

func TestCommitIsIdempotentForAssignedTask(t *testing.T) {
	f := newFixture(t, nil)
	task := pendingTask("t1")
	task.Status = model.TaskAssigned
	task.ResponderID = "r9"
	asn, _, err := f.m.Commit(context.Background(), task, Options{})
	require.NoError(t, err)
	assert.Equal(t, "r9", asn.ResponderID)

	task.Status = model.TaskCompleted
	task.ResponderID = ""
	_, _, err = f.m.Commit(context.Background(), task, Options{})
	require.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestManualCommitRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.responder(t, model.Responder{ID: "r1", Available: true, ActiveTasks: 3})
	_, _, err := f.m.Commit(ctx, pendingTask("t1", "rope_access"), Options{ResponderID: "r1"})
	require.ErrorIs(t, err, model.ErrNoEligibleCandidate)

	f.responder(t, model.Responder{ID: "r2", Available: true})
	asn, _, err := f.m.Commit(ctx, pendingTask("t2", "rope_access"), Options{ResponderID: "r2"})
	require.NoError(t, err, "an operator may assign a responder without the skill")
	assert.True(t, asn.Manual)

	f.responder(t, model.Responder{ID: "r3", Available: false, Skills: []string{"rope_access"}})
	_, _, err = f.m.Commit(ctx, pendingTask("t3", "rope_access"), Options{ResponderID: "r3"})
	require.ErrorIs(t, err, model.ErrNoEligibleCandidate, "an off-duty responder is never assigned")
}

func TestConcurrentCommitsRespectMaxConcurrentTasks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.responder(t, model.Responder{ID: "solo", Available: true})

	var wg sync.WaitGroup
	var mu sync.Mutex
	assigned := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := pendingTask(string(rune('a' + i)))
			if _, _, err := f.m.Commit(ctx, task, Options{}); err == nil {
				mu.Lock()
				assigned++
				mu.Unlock()
			} else if !errors.Is(err, model.ErrNoEligibleCandidate) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, assigned)
	r, err := f.st.GetResponder(ctx, "solo")
	require.NoError(t, err)
	assert.Equal(t, 3, r.ActiveTasks)
}

func TestPlannedCommitBehavesLikeAutomatic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.responder(t, model.Responder{ID: "r1", Available: true, ActiveTasks: 3})
	_, _, err := f.m.Commit(ctx, pendingTask("t1"), Options{ResponderID: "r1", Planned: true})
	require.ErrorIs(t, err, model.ErrCapacity, "a planned responder that filled up is retried by the caller")

	f.responder(t, model.Responder{ID: "r2", Available: true})
	asn, _, err := f.m.Commit(ctx, pendingTask("t2"), Options{ResponderID: "r2", Planned: true, Score: 0.7})
	require.NoError(t, err)
	assert.False(t, asn.Manual)
	assert.Equal(t, 0.7, asn.Score)
}
