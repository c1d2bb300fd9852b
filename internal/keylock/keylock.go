// Package keylock serializes work per entity key. Locks are acquired in a
// canonical order so callers holding several keys cannot deadlock, and every
// acquisition honours the caller's context.
package keylock

import (
	"context"
	"sort"
	"sync"
)

type entry struct {
	ch   chan struct{}
	refs int
}

// Locker hands out exclusive per-key locks.
type Locker struct {
	mu sync.Mutex
	m  map[string]*entry
}

// New returns an empty Locker.
func New() *Locker { return &Locker{m: map[string]*entry{}} }

// Lock acquires every key or none. The returned func releases them and is
// safe to call more than once.
func (l *Locker) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = canonical(keys)
	held := make([]string, 0, len(keys))
	for _, k := range keys {
		e := l.ref(k)
		select {
		case e.ch <- struct{}{}:
			held = append(held, k)
		case <-ctx.Done():
			l.unref(k)
			l.release(held)
			return nil, ctx.Err()
		}
	}
	var once sync.Once
	return func() { once.Do(func() { l.release(held) }) }, nil
}

// Len reports how many keys are currently referenced.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func (l *Locker) ref(k string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.m[k]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.m[k] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(k string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.m[k]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.m, k)
	}
}

func (l *Locker) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		e := l.m[keys[i]]
		l.mu.Unlock()
		if e != nil {
			<-e.ch
		}
		l.unref(keys[i])
	}
}

func canonical(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	j := 0
	for i, k := range out {
		if i > 0 && k == out[j-1] {
			continue
		}
		out[j] = k
		j++
	}
	return out[:j]
}
