package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reliefgrid/coordinator/core/events"
	"github.com/reliefgrid/coordinator/core/logger"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
	"github.com/reliefgrid/coordinator/internal/keylock"
)

// Config tunes the ledger's optimistic write loop.
type Config struct {
	// MaxRetries bounds how many times a batch is recomputed after losing a
	// version race before Contention is returned.
	MaxRetries int `json:"max_retries"`
	// RetryBackoffMS is the base delay between retries.
	RetryBackoffMS int `json:"retry_backoff_ms"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryBackoffMS <= 0 {
		c.RetryBackoffMS = 5
	}
}

// Ledger owns the quantities of every tracked resource. All mutations of a
// resource are serialized on a per-resource lock and committed through a
// version-fenced store batch.
type Ledger struct {
	store store.Store
	locks *keylock.Locker
	pub   events.Publisher
	log   logger.Logger
	cfg   Config
	now   func() time.Time
	newID func() string
}

// New creates a Ledger. A nil publisher drops events and a nil logger
// discards output.
func New(st store.Store, pub events.Publisher, log logger.Logger, cfg Config) *Ledger {
	cfg.SetDefaults()
	if pub == nil {
		pub = events.Discard
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Ledger{
		store: st,
		locks: keylock.New(),
		pub:   pub,
		log:   log,
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Line is one resource quantity to reserve.
type Line struct {
	ResourceID string
	Quantity   int
}

type mutation struct {
	changed map[string]model.Resource
	records []model.ConsumptionRecord
	events  []events.Event
}

func newMutation() *mutation { return &mutation{changed: map[string]model.Resource{}} }

func (m *mutation) put(r model.Resource) {
	m.changed[r.ID] = r
}

// settle re-evaluates the low-stock edge for every changed resource.
func (m *mutation) settle() {
	for id, r := range m.changed {
		if r.IsLow() {
			if !r.LowSignaled {
				r.LowSignaled = true
				m.events = append(m.events, events.LowStock{ResourceID: r.ID, Available: r.Available(), Threshold: r.Threshold})
			}
		} else {
			r.LowSignaled = false
		}
		m.changed[id] = r
	}
}

func lockKey(id string) string { return "resource/" + id }

// apply locks ids, loads them and lets fn compute a mutation which is then
// committed atomically. Lost version races are retried up to MaxRetries.
func (l *Ledger) apply(ctx context.Context, op string, ids []string, fn func(rs map[string]model.Resource, m *mutation) error) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = lockKey(id)
	}
	unlock, err := l.locks.Lock(ctx, keys...)
	if err != nil {
		opsTotal.WithLabelValues(op, "timeout").Inc()
		return model.FromContext(op, err)
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			opsTotal.WithLabelValues(op, "timeout").Inc()
			return model.FromContext(op, err)
		}
		rs := make(map[string]model.Resource, len(ids))
		for _, id := range ids {
			r, err := l.store.GetResource(ctx, id)
			if err != nil {
				opsTotal.WithLabelValues(op, "error").Inc()
				return model.FromContext(op, err)
			}
			rs[id] = r
		}
		m := newMutation()
		if err := fn(rs, m); err != nil {
			opsTotal.WithLabelValues(op, resultLabel(err)).Inc()
			return err
		}
		if len(m.changed) == 0 && len(m.records) == 0 {
			opsTotal.WithLabelValues(op, "noop").Inc()
			return nil
		}
		m.settle()
		batch := make([]model.Resource, 0, len(m.changed))
		for _, id := range sortedKeys(m.changed) {
			r := m.changed[id]
			r.UpdatedAt = l.now()
			batch = append(batch, r)
		}
		_, err := l.store.CommitResources(ctx, batch, m.records)
		if err == nil {
			for _, ev := range m.events {
				l.pub.Emit(ev)
				if ls, ok := ev.(events.LowStock); ok {
					lowStockTotal.Inc()
					l.log.Warnf("resource %s low: available %d threshold %d", ls.ResourceID, ls.Available, ls.Threshold)
				}
			}
			opsTotal.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if !errors.Is(err, model.ErrConflict) {
			opsTotal.WithLabelValues(op, "error").Inc()
			return model.FromContext(op, err)
		}
		if attempt >= l.cfg.MaxRetries {
			contentionTotal.Inc()
			opsTotal.WithLabelValues(op, "contention").Inc()
			return model.Errorf(model.ErrContention, op, "gave up after %d attempts: %v", attempt+1, err)
		}
		l.log.Debugf("%s: version conflict, retrying (attempt %d)", op, attempt+1)
		select {
		case <-ctx.Done():
			opsTotal.WithLabelValues(op, "timeout").Inc()
			return model.FromContext(op, ctx.Err())
		case <-time.After(time.Duration(l.cfg.RetryBackoffMS*(attempt+1)) * time.Millisecond):
		}
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrInsufficientStock):
		return "insufficient"
	case errors.Is(err, model.ErrUnknownReservation):
		return "unknown_token"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}

// Register adds a new resource with the given total and threshold.
func (l *Ledger) Register(ctx context.Context, r model.Resource) (model.Snapshot, error) {
	const op = "register resource"
	if strings.TrimSpace(r.ID) == "" {
		return model.Snapshot{}, model.Errorf(model.ErrInvalidInput, op, "id is required")
	}
	types, err := model.NormalizeTags([]string{string(r.Type)})
	if err != nil || len(types) == 0 {
		return model.Snapshot{}, model.Errorf(model.ErrInvalidInput, op, "invalid type %q", r.Type)
	}
	if r.Total < 0 || r.Threshold < 0 {
		return model.Snapshot{}, model.Errorf(model.ErrInvalidInput, op, "total and threshold must not be negative")
	}
	r.Type = model.ResourceType(types[0])
	r.Reserved, r.Consumed, r.Holds = 0, 0, nil
	r.LowSignaled = r.IsLow()
	r.UpdatedAt = l.now()
	created, err := l.store.CreateResource(ctx, r)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	if created.LowSignaled {
		l.pub.Emit(events.LowStock{ResourceID: created.ID, Available: created.Available(), Threshold: created.Threshold})
		lowStockTotal.Inc()
	}
	l.log.Infof("registered resource %s (%s) total=%d threshold=%d", created.ID, created.Type, created.Total, created.Threshold)
	return model.SnapshotOf(created), nil
}

// Query returns the current quantities of a resource. It never emits events.
func (l *Ledger) Query(ctx context.Context, resourceID string) (model.Snapshot, error) {
	r, err := l.store.GetResource(ctx, resourceID)
	if err != nil {
		return model.Snapshot{}, err
	}
	return model.SnapshotOf(r), nil
}

// Reserve holds qty units of a resource for a task.
func (l *Ledger) Reserve(ctx context.Context, resourceID string, qty int, taskID string) (model.ReservationToken, error) {
	toks, err := l.ReserveAll(ctx, taskID, []Line{{ResourceID: resourceID, Quantity: qty}})
	if err != nil {
		return model.ReservationToken{}, err
	}
	return toks[0], nil
}

// ReserveAll holds every line or none of them.
func (l *Ledger) ReserveAll(ctx context.Context, taskID string, lines []Line) ([]model.ReservationToken, error) {
	const op = "reserve"
	ids := make([]string, 0, len(lines))
	for _, ln := range lines {
		if ln.Quantity <= 0 {
			return nil, model.Errorf(model.ErrInvalidInput, op, "quantity for %s must be positive, got %d", ln.ResourceID, ln.Quantity)
		}
		ids = append(ids, ln.ResourceID)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var tokens []model.ReservationToken
	err := l.apply(ctx, op, ids, func(rs map[string]model.Resource, m *mutation) error {
		tokens = tokens[:0]
		for _, ln := range lines {
			r, ok := m.changed[ln.ResourceID]
			if !ok {
				r = rs[ln.ResourceID].Clone()
			}
			if r.Available() < ln.Quantity {
				return model.Errorf(model.ErrInsufficientStock, op, "resource %s has %d available, need %d", r.ID, r.Available(), ln.Quantity)
			}
			tok := l.hold(&r, taskID, ln.Quantity)
			m.put(r)
			tokens = append(tokens, tok)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append([]model.ReservationToken(nil), tokens...), nil
}

// ReserveLines resolves every resource type to a concrete resource and holds
// the requested quantities atomically. For each type the first resource by id
// with enough available stock is used.
func (l *Ledger) ReserveLines(ctx context.Context, taskID string, lines model.Lines) ([]model.ReservationToken, error) {
	const op = "reserve lines"
	if len(lines) == 0 {
		return nil, nil
	}
	byType := map[model.ResourceType][]string{}
	var ids []string
	for _, typ := range lines.Types() {
		if lines[typ] <= 0 {
			return nil, model.Errorf(model.ErrInvalidInput, op, "quantity for %s must be positive", typ)
		}
		rs, err := l.store.ListResources(ctx, typ)
		if err != nil {
			return nil, model.FromContext(op, err)
		}
		if len(rs) == 0 {
			return nil, model.Errorf(model.ErrInsufficientStock, op, "no %s resources tracked", typ)
		}
		for _, r := range rs {
			byType[typ] = append(byType[typ], r.ID)
			ids = append(ids, r.ID)
		}
	}
	var tokens []model.ReservationToken
	err := l.apply(ctx, op, ids, func(rs map[string]model.Resource, m *mutation) error {
		tokens = tokens[:0]
		for _, typ := range lines.Types() {
			qty := lines[typ]
			picked := false
			for _, id := range byType[typ] {
				r, ok := m.changed[id]
				if !ok {
					r = rs[id].Clone()
				}
				if r.Available() < qty {
					continue
				}
				tokens = append(tokens, l.hold(&r, taskID, qty))
				m.put(r)
				picked = true
				break
			}
			if !picked {
				return model.Errorf(model.ErrInsufficientStock, op, "no %s resource has %d available", typ, qty)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append([]model.ReservationToken(nil), tokens...), nil
}

func (l *Ledger) hold(r *model.Resource, taskID string, qty int) model.ReservationToken {
	tok := model.ReservationToken{ID: l.newID(), ResourceID: r.ID, Type: r.Type, TaskID: taskID, Quantity: qty}
	if r.Holds == nil {
		r.Holds = map[string]model.Hold{}
	}
	r.Holds[tok.ID] = model.Hold{TaskID: taskID, Quantity: qty, Created: l.now()}
	r.Reserved += qty
	return tok
}

// Release returns a held quantity to available stock.
func (l *Ledger) Release(ctx context.Context, tok model.ReservationToken) error {
	const op = "release"
	return l.apply(ctx, op, []string{tok.ResourceID}, func(rs map[string]model.Resource, m *mutation) error {
		r := rs[tok.ResourceID].Clone()
		h, ok := r.Holds[tok.ID]
		if !ok {
			return model.Errorf(model.ErrUnknownReservation, op, "token %s on %s", tok.ID, tok.ResourceID)
		}
		delete(r.Holds, tok.ID)
		r.Reserved -= h.Quantity
		m.put(r)
		return nil
	})
}

// ReleaseAll releases every token. Tokens that are no longer held are
// skipped so the call can be replayed.
func (l *Ledger) ReleaseAll(ctx context.Context, toks []model.ReservationToken) error {
	const op = "release all"
	if len(toks) == 0 {
		return nil
	}
	return l.apply(ctx, op, tokenResources(toks), func(rs map[string]model.Resource, m *mutation) error {
		for _, tok := range toks {
			r, ok := m.changed[tok.ResourceID]
			if !ok {
				r = rs[tok.ResourceID].Clone()
			}
			h, held := r.Holds[tok.ID]
			if !held {
				continue
			}
			delete(r.Holds, tok.ID)
			r.Reserved -= h.Quantity
			m.put(r)
		}
		return nil
	})
}

// CommitConsume converts a held quantity into consumed stock.
func (l *Ledger) CommitConsume(ctx context.Context, tok model.ReservationToken, actor string) (model.ConsumptionRecord, error) {
	recs, err := l.CommitAll(ctx, tok.TaskID, []model.ReservationToken{tok}, nil, actor)
	if err != nil {
		return model.ConsumptionRecord{}, err
	}
	if len(recs) == 0 {
		return model.ConsumptionRecord{}, nil
	}
	return recs[0], nil
}

// CommitAll consumes every token atomically. usage optionally reports the
// quantity actually used per resource type: surplus holds are returned to
// stock and overage is drawn from available stock of the same resource.
// Tokens already committed are skipped and their existing records returned,
// which makes the call safe to replay.
func (l *Ledger) CommitAll(ctx context.Context, taskID string, toks []model.ReservationToken, usage []model.Consumption, actor string) ([]model.ConsumptionRecord, error) {
	const op = "commit consume"
	if len(toks) == 0 {
		if len(usage) > 0 {
			return nil, model.Errorf(model.ErrInvalidInput, op, "task %s holds no reservations", taskID)
		}
		return nil, nil
	}
	used, err := usageByType(toks, usage)
	if err != nil {
		return nil, err
	}
	var out []model.ConsumptionRecord
	err = l.apply(ctx, op, tokenResources(toks), func(rs map[string]model.Resource, m *mutation) error {
		out = out[:0]
		remaining := map[model.ResourceType]int{}
		for k, v := range used {
			remaining[k] = v
		}
		for i, tok := range toks {
			r, ok := m.changed[tok.ResourceID]
			if !ok {
				r = rs[tok.ResourceID].Clone()
			}
			h, held := r.Holds[tok.ID]
			if !held {
				prev, err := l.store.ListConsumption(ctx, store.ConsumptionFilter{TokenID: tok.ID})
				if err != nil {
					return err
				}
				if len(prev) == 0 {
					return model.Errorf(model.ErrUnknownReservation, op, "token %s on %s", tok.ID, tok.ResourceID)
				}
				if _, ok := remaining[tok.Type]; ok {
					for _, p := range prev {
						remaining[tok.Type] -= p.Quantity
					}
				}
				out = append(out, prev...)
				continue
			}
			qty := h.Quantity
			if rem, ok := remaining[tok.Type]; ok {
				qty = rem
				if !lastOfType(toks, i) && qty > h.Quantity {
					qty = h.Quantity
				}
				if qty < 0 {
					qty = 0
				}
				remaining[tok.Type] = rem - qty
			}
			delete(r.Holds, tok.ID)
			r.Reserved -= h.Quantity
			if qty > r.Available() {
				return model.Errorf(model.ErrInsufficientStock, op, "resource %s can cover %d, need %d", r.ID, r.Available(), qty)
			}
			r.Consumed += qty
			m.put(r)
			if qty == 0 {
				continue
			}
			rec := model.ConsumptionRecord{
				ID:         l.newID(),
				ResourceID: r.ID,
				TaskID:     taskID,
				TokenID:    tok.ID,
				Quantity:   qty,
				Actor:      actor,
				Timestamp:  l.now(),
			}
			m.records = append(m.records, rec)
			m.events = append(m.events, events.ResourceConsumed{ResourceID: r.ID, Quantity: qty, TaskID: taskID})
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append([]model.ConsumptionRecord(nil), out...), nil
}

func usageByType(toks []model.ReservationToken, usage []model.Consumption) (map[model.ResourceType]int, error) {
	if len(usage) == 0 {
		return nil, nil
	}
	held := map[model.ResourceType]bool{}
	for _, t := range toks {
		held[t.Type] = true
	}
	out := map[model.ResourceType]int{}
	for _, u := range usage {
		if u.Quantity < 0 {
			return nil, model.Errorf(model.ErrInvalidInput, "commit consume", "negative consumption for %s", u.Type)
		}
		if !held[u.Type] {
			return nil, model.Errorf(model.ErrInvalidInput, "commit consume", "no reservation for %s", u.Type)
		}
		out[u.Type] += u.Quantity
	}
	return out, nil
}

func lastOfType(toks []model.ReservationToken, i int) bool {
	for _, t := range toks[i+1:] {
		if t.Type == toks[i].Type {
			return false
		}
	}
	return true
}

// Replenish adds qty units to a resource's total stock.
func (l *Ledger) Replenish(ctx context.Context, resourceID string, qty int) (model.Snapshot, error) {
	const op = "replenish"
	if qty <= 0 {
		return model.Snapshot{}, model.Errorf(model.ErrInvalidInput, op, "quantity must be positive, got %d", qty)
	}
	err := l.apply(ctx, op, []string{resourceID}, func(rs map[string]model.Resource, m *mutation) error {
		r := rs[resourceID].Clone()
		r.Total += qty
		m.put(r)
		return nil
	})
	if err != nil {
		return model.Snapshot{}, err
	}
	l.log.Infof("replenished %s by %d", resourceID, qty)
	return l.Query(ctx, resourceID)
}

// LowStock lists resources whose available quantity is at or below the
// threshold.
func (l *Ledger) LowStock(ctx context.Context) ([]model.Snapshot, error) {
	rs, err := l.store.ListResources(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []model.Snapshot
	for _, r := range rs {
		if r.IsLow() {
			out = append(out, model.SnapshotOf(r))
		}
	}
	return out, nil
}

// List returns every resource, optionally filtered by type.
func (l *Ledger) List(ctx context.Context, typ model.ResourceType) ([]model.Snapshot, error) {
	rs, err := l.store.ListResources(ctx, typ)
	if err != nil {
		return nil, err
	}
	out := make([]model.Snapshot, len(rs))
	for i, r := range rs {
		out[i] = model.SnapshotOf(r)
	}
	return out, nil
}

// TypeStats aggregates quantities for one resource type.
type TypeStats struct {
	Resources int `json:"resources"`
	Total     int `json:"total"`
	Reserved  int `json:"reserved"`
	Consumed  int `json:"consumed"`
	Available int `json:"available"`
	Low       int `json:"low"`
}

// Stats aggregates the ledger per resource type.
func (l *Ledger) Stats(ctx context.Context) (map[model.ResourceType]TypeStats, error) {
	rs, err := l.store.ListResources(ctx, "")
	if err != nil {
		return nil, err
	}
	out := map[model.ResourceType]TypeStats{}
	for _, r := range rs {
		s := out[r.Type]
		s.Resources++
		s.Total += r.Total
		s.Reserved += r.Reserved
		s.Consumed += r.Consumed
		s.Available += r.Available()
		if r.IsLow() {
			s.Low++
		}
		out[r.Type] = s
	}
	return out, nil
}

// Availability returns, for each tag that names a tracked resource type, the
// fraction of total stock still available. Untracked tags are omitted.
func (l *Ledger) Availability(ctx context.Context, tags []string) (map[string]float64, error) {
	stats, err := l.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(tags))
	for _, tag := range tags {
		s, ok := stats[model.ResourceType(tag)]
		if !ok {
			continue
		}
		if s.Total == 0 {
			out[tag] = 0
			continue
		}
		out[tag] = float64(s.Available) / float64(s.Total)
	}
	return out, nil
}

func tokenResources(toks []model.ReservationToken) []string {
	ids := make([]string, 0, len(toks))
	for _, t := range toks {
		ids = append(ids, t.ResourceID)
	}
	return ids
}

func sortedKeys(m map[string]model.Resource) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
