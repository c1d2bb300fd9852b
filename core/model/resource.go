package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// NormalizeTags lowercases, trims, de-duplicates and sorts tags. Tags must
// contain only letters, digits, '_' or '-'.
func NormalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !validTag(t) {
			return nil, Errorf(ErrInvalidInput, "tag", "invalid tag %q", t)
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func validTag(t string) bool {
	for _, r := range t {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// ResourceType is the tag identifying a kind of physical item, e.g.
// "bandages" or "oxygen_tank".
type ResourceType string

// Lines maps a resource type to a strictly positive quantity.
type Lines map[ResourceType]int

// ParseLines validates a raw quantity map at the boundary.
func ParseLines(raw map[string]int) (Lines, error) {
	out := make(Lines, len(raw))
	for k, qty := range raw {
		tags, err := NormalizeTags([]string{k})
		if err != nil {
			return nil, err
		}
		if len(tags) == 0 {
			return nil, Errorf(ErrInvalidInput, "resource lines", "empty resource type")
		}
		if qty <= 0 {
			return nil, Errorf(ErrInvalidInput, "resource lines", "quantity for %s must be positive, got %d", k, qty)
		}
		out[ResourceType(tags[0])] += qty
	}
	return out, nil
}

// Types returns the line types in canonical order.
func (l Lines) Types() []ResourceType {
	out := make([]ResourceType, 0, len(l))
	for t := range l {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Hold is a quantity tentatively held by a reservation token.
type Hold struct {
	TaskID   string    `json:"task_id"`
	Quantity int       `json:"quantity"`
	Created  time.Time `json:"created"`
}

// Resource is a stock of one kind of physical item. It is mutated only by
// the ledger.
type Resource struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Type      ResourceType `json:"type"`
	Unit      string       `json:"unit,omitempty"`
	Location  string       `json:"location,omitempty"`
	Total     int          `json:"total"`
	Reserved  int          `json:"reserved"`
	Consumed  int          `json:"consumed"`
	Threshold int          `json:"threshold"`
	// Holds maps reservation token ids to held quantities. Their sum equals
	// Reserved.
	Holds map[string]Hold `json:"holds,omitempty"`
	// LowSignaled is true while available stays at or below the threshold
	// after a LowStock event was emitted.
	LowSignaled bool      `json:"low_signaled"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int64     `json:"version"`
}

// Available returns the quantity that can still be reserved.
func (r Resource) Available() int { return r.Total - r.Reserved - r.Consumed }

// IsLow reports whether available stock is at or below the threshold.
func (r Resource) IsLow() bool { return r.Available() <= r.Threshold }

// Check verifies the ledger invariants.
func (r Resource) Check() error {
	if r.Total < 0 || r.Reserved < 0 || r.Consumed < 0 {
		return fmt.Errorf("resource %s: negative quantity", r.ID)
	}
	if r.Reserved+r.Consumed > r.Total {
		return fmt.Errorf("resource %s: reserved %d + consumed %d exceeds total %d", r.ID, r.Reserved, r.Consumed, r.Total)
	}
	held := 0
	for _, h := range r.Holds {
		held += h.Quantity
	}
	if held != r.Reserved {
		return fmt.Errorf("resource %s: holds sum %d differs from reserved %d", r.ID, held, r.Reserved)
	}
	return nil
}

// Clone returns a deep copy.
func (r Resource) Clone() Resource {
	cp := r
	if r.Holds != nil {
		cp.Holds = make(map[string]Hold, len(r.Holds))
		for k, v := range r.Holds {
			cp.Holds[k] = v
		}
	}
	return cp
}

// Snapshot is the read view of a resource returned by ledger queries.
type Snapshot struct {
	ResourceID string       `json:"resource_id"`
	Type       ResourceType `json:"type"`
	Total      int          `json:"total"`
	Reserved   int          `json:"reserved"`
	Consumed   int          `json:"consumed"`
	Available  int          `json:"available"`
	Threshold  int          `json:"threshold"`
	Low        bool         `json:"low"`
}

// SnapshotOf builds the read view of r.
func SnapshotOf(r Resource) Snapshot {
	return Snapshot{
		ResourceID: r.ID,
		Type:       r.Type,
		Total:      r.Total,
		Reserved:   r.Reserved,
		Consumed:   r.Consumed,
		Available:  r.Available(),
		Threshold:  r.Threshold,
		Low:        r.IsLow(),
	}
}

// ReservationToken identifies a quantity held on one resource for one task.
type ReservationToken struct {
	ID         string       `json:"id"`
	ResourceID string       `json:"resource_id"`
	Type       ResourceType `json:"type"`
	TaskID     string       `json:"task_id"`
	Quantity   int          `json:"quantity"`
}

// ConsumptionRecord is an append-only trace of stock used by a task.
type ConsumptionRecord struct {
	ID         string    `json:"id"`
	ResourceID string    `json:"resource_id"`
	TaskID     string    `json:"task_id"`
	TokenID    string    `json:"token_id"`
	Quantity   int       `json:"quantity"`
	Actor      string    `json:"actor"`
	Timestamp  time.Time `json:"timestamp"`
}
