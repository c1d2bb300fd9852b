package simulator

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func chance() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// WorkStrategy defines how a responder carries out an assigned task.
type WorkStrategy interface {
	Work(ctx context.Context, api TaskAPI, taskID string) error
}

// AutoWork starts every task at once and completes it after Duration.
type AutoWork struct {
	Duration time.Duration
}

// Work implements WorkStrategy.
func (a AutoWork) Work(ctx context.Context, api TaskAPI, taskID string) error {
	if err := api.Start(ctx, taskID); err != nil {
		return err
	}
	if !sleep(ctx, a.Duration) {
		return ctx.Err()
	}
	return api.Complete(ctx, taskID)
}

// RandomWork ignores assignments with the configured probability and works
// between half and the full Duration on the others.
type RandomWork struct {
	Duration time.Duration
	DropRate float64
}

// Work implements WorkStrategy.
func (r RandomWork) Work(ctx context.Context, api TaskAPI, taskID string) error {
	if r.DropRate > 0 && chance() < r.DropRate {
		return nil
	}
	d := r.Duration/2 + time.Duration(chance()*float64(r.Duration/2))
	return AutoWork{Duration: d}.Work(ctx, api, taskID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
