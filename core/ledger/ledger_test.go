package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefgrid/coordinator/core/events"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
)

func newTestLedger(t *testing.T, st store.Store) (*Ledger, *events.Recorder) {
	t.Helper()
	ResetMetrics(nil)
	rec := events.NewRecorder()
	return New(st, rec, nil, Config{}), rec
}

func register(t *testing.T, l *Ledger, id, typ string, total, threshold int) {
	t.Helper()
	_, err := l.Register(context.Background(), model.Resource{ID: id, Type: model.ResourceType(typ), Total: total, Threshold: threshold})
	require.NoError(t, err)
}

func TestBandagesLowStockAndCompletion(t *testing.T) {
	ctx := context.Background()
	l, rec := newTestLedger(t, store.NewMemoryStore())
	register(t, l, "bandages", "bandages", 100, 20)

	tok, err := l.Reserve(ctx, "bandages", 85, "task-1")
	require.NoError(t, err)
	require.Len(t, rec.OfKind(events.KindLowStock), 1)

	snap, err := l.Query(ctx, "bandages")
	require.NoError(t, err)
	assert.Equal(t, 15, snap.Available)
	assert.Equal(t, 85, snap.Reserved)
	// Querying at the same level must not fire again.
	_, err = l.Query(ctx, "bandages")
	require.NoError(t, err)
	assert.Len(t, rec.OfKind(events.KindLowStock), 1)

	recd, err := l.CommitConsume(ctx, tok, "responder-1")
	require.NoError(t, err)
	assert.Equal(t, 85, recd.Quantity)

	snap, err = l.Query(ctx, "bandages")
	require.NoError(t, err)
	assert.Equal(t, 85, snap.Consumed)
	assert.Equal(t, 0, snap.Reserved)
	assert.Equal(t, 15, snap.Available)
	assert.Len(t, rec.OfKind(events.KindLowStock), 1)
	assert.Len(t, rec.OfKind(events.KindResourceConsumed), 1)
}

func TestLowStockRearmsAfterReplenish(t *testing.T) {
	ctx := context.Background()
	l, rec := newTestLedger(t, store.NewMemoryStore())
	register(t, l, "water", "water", 50, 10)

	tok, err := l.Reserve(ctx, "water", 45, "t1")
	require.NoError(t, err)
	require.Len(t, rec.OfKind(events.KindLowStock), 1)

	require.NoError(t, l.Release(ctx, tok))
	_, err = l.Reserve(ctx, "water", 45, "t2")
	require.NoError(t, err)
	assert.Len(t, rec.OfKind(events.KindLowStock), 2)

	_, err = l.Replenish(ctx, "water", 100)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "water", 1, "t3")
	require.NoError(t, err)
	assert.Len(t, rec.OfKind(events.KindLowStock), 2)
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, store.NewMemoryStore())
	register(t, l, "blankets", "blankets", 40, 5)
	before, err := l.Query(ctx, "blankets")
	require.NoError(t, err)

	tok, err := l.Reserve(ctx, "blankets", 12, "t1")
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, tok))

	after, err := l.Query(ctx, "blankets")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.ErrorIs(t, l.Release(ctx, tok), model.ErrUnknownReservation)
}

func TestLastUnitSingleWinner(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, store.NewMemoryStore())
	register(t, l, "oxygen_tank", "oxygen_tank", 1, 0)

	var wins, insufficient atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := l.Reserve(ctx, "oxygen_tank", 1, "task")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, model.ErrInsufficientStock):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), insufficient.Load())
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l, _ := newTestLedger(t, st)
	register(t, l, "food", "food", 100, 10)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			qty := i%5 + 1
			tok, err := l.Reserve(ctx, "food", qty, "t")
			if err != nil {
				if !errors.Is(err, model.ErrInsufficientStock) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			granted.Add(int64(qty))
			if i%3 == 0 {
				if _, err := l.CommitConsume(ctx, tok, "a"); err != nil {
					t.Errorf("commit: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	r, err := st.GetResource(ctx, "food")
	require.NoError(t, err)
	require.NoError(t, r.Check())
	assert.LessOrEqual(t, granted.Load(), int64(100))
	assert.Equal(t, int(granted.Load()), r.Reserved+r.Consumed)
}

func TestReserveLinesAllOrNothing(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	l, _ := newTestLedger(t, st)
	register(t, l, "med-1", "medical_kit", 10, 1)
	register(t, l, "water-1", "water", 5, 1)

	_, err := l.ReserveLines(ctx, "t1", model.Lines{"medical_kit": 2, "water": 6})
	require.ErrorIs(t, err, model.ErrInsufficientStock)

	med, err := l.Query(ctx, "med-1")
	require.NoError(t, err)
	assert.Equal(t, 0, med.Reserved)

	toks, err := l.ReserveLines(ctx, "t1", model.Lines{"medical_kit": 2, "water": 5})
	require.NoError(t, err)
	assert.Len(t, toks, 2)
}

func TestReserveLinesPicksFirstResourceWithStock(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, store.NewMemoryStore())
	register(t, l, "a-depot", "food", 2, 0)
	register(t, l, "b-depot", "food", 20, 0)

	toks, err := l.ReserveLines(ctx, "t1", model.Lines{"food": 5})
	require.NoError(t, err)
	require.Len(t, toks, 1)
	assert.Equal(t, "b-depot", toks[0].ResourceID)
}

func TestCommitAllReplayDoesNotDoubleConsume(t *testing.T) {
	ctx := context.Background()
	l, rec := newTestLedger(t, store.NewMemoryStore())
	register(t, l, "kits", "kits", 10, 0)
	toks, err := l.ReserveLines(ctx, "t1", model.Lines{"kits": 4})
	require.NoError(t, err)

	first, err := l.CommitAll(ctx, "t1", toks, nil, "r1")
	require.NoError(t, err)
	second, err := l.CommitAll(ctx, "t1", toks, nil, "r1")
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)

	snap, err := l.Query(ctx, "kits")
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Consumed)
	assert.Len(t, rec.OfKind(events.KindResourceConsumed), 1)
}

func TestCommitAllPartialAndOverage(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, store.NewMemoryStore())
	register(t, l, "kits", "kits", 10, 0)

	toks, err := l.ReserveLines(ctx, "t1", model.Lines{"kits": 4})
	require.NoError(t, err)
	_, err = l.CommitAll(ctx, "t1", toks, []model.Consumption{{Type: "kits", Quantity: 3}}, "r1")
	require.NoError(t, err)
	snap, _ := l.Query(ctx, "kits")
	assert.Equal(t, 3, snap.Consumed)
	assert.Equal(t, 0, snap.Reserved)

	toks, err = l.ReserveLines(ctx, "t2", model.Lines{"kits": 2})
	require.NoError(t, err)
	_, err = l.CommitAll(ctx, "t2", toks, []model.Consumption{{Type: "kits", Quantity: 9}}, "r1")
	require.ErrorIs(t, err, model.ErrInsufficientStock)
	snap, _ = l.Query(ctx, "kits")
	assert.Equal(t, 2, snap.Reserved, "failed commit must leave the hold untouched")

	_, err = l.CommitAll(ctx, "t2", toks, []model.Consumption{{Type: "kits", Quantity: 4}}, "r1")
	require.NoError(t, err)
	snap, _ = l.Query(ctx, "kits")
	assert.Equal(t, 7, snap.Consumed)
	assert.Equal(t, 3, snap.Available)
}

type conflictStore struct {
	store.Store
}

func (conflictStore) CommitResources(context.Context, []model.Resource, []model.ConsumptionRecord) ([]model.Resource, error) {
	return nil, model.Errorf(model.ErrConflict, "commit", "always")
}

func TestContentionAfterRetries(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	l, _ := newTestLedger(t, mem)
	register(t, l, "fuel", "fuel", 10, 0)
	l.store = conflictStore{Store: mem}
	l.cfg.RetryBackoffMS = 1

	_, err := l.Reserve(ctx, "fuel", 1, "t")
	require.ErrorIs(t, err, model.ErrContention)
	snap, _ := l.Query(ctx, "fuel")
	assert.Equal(t, 0, snap.Reserved)
}

func TestReserveHonoursDeadline(t *testing.T) {
	l, _ := newTestLedger(t, store.NewMemoryStore())
	register(t, l, "fuel", "fuel", 10, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Reserve(ctx, "fuel", 1, "t")
	require.ErrorIs(t, err, model.ErrTimeout)
}

func TestStatsAndAvailability(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t, store.NewMemoryStore())
	register(t, l, "w1", "water", 10, 2)
	register(t, l, "w2", "water", 10, 2)
	_, err := l.Reserve(ctx, "w1", 9, "t")
	require.NoError(t, err)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, TypeStats{Resources: 2, Total: 20, Reserved: 9, Available: 11, Low: 1}, stats["water"])

	av, err := l.Availability(ctx, []string{"water", "shelter"})
	require.NoError(t, err)
	assert.InDelta(t, 0.55, av["water"], 1e-9)
	_, ok := av["shelter"]
	assert.False(t, ok)

	low, err := l.LowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "w1", low[0].ResourceID)
}
