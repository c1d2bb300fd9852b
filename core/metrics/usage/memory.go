package usage

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore stores records in memory for testing or lightweight usage.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[time.Time]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]map[time.Time]*Record{}}
}

// Add folds r into the day and resource it belongs to.
func (s *MemoryStore) Add(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[r.ResourceID] == nil {
		s.data[r.ResourceID] = map[time.Time]*Record{}
	}
	d := Day(r.Date)
	rec := s.data[r.ResourceID][d]
	if rec == nil {
		rec = &Record{ResourceID: r.ResourceID, Date: d}
		s.data[r.ResourceID][d] = rec
	}
	rec.Consumed += r.Consumed
	rec.Records += r.Records
	return nil
}

// Query returns records between start and end inclusive.
func (s *MemoryStore) Query(resourceID string, start, end time.Time) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start = Day(start)
	end = Day(end)
	var res []Record
	for d, r := range s.data[resourceID] {
		if d.Before(start) || d.After(end) {
			continue
		}
		res = append(res, *r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date.Before(res[j].Date) })
	return res, nil
}
