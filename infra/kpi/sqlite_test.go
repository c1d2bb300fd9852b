package kpi

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/reliefgrid/coordinator/core/metrics/usage"
)

func TestSQLiteStore_Accumulates(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	day := usage.Day(time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC))
	for _, q := range []int{20, 5} {
		if err := s.Add(usage.Record{ResourceID: "water-1", Date: day.Add(time.Hour), Consumed: q, Records: 1}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := s.Add(usage.Record{ResourceID: "water-1", Date: day.AddDate(0, 0, 1), Consumed: 7, Records: 1}); err != nil {
		t.Fatalf("add next day: %v", err)
	}
	recs, err := s.Query("water-1", day, day)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 || recs[0].Consumed != 25 || recs[0].Records != 2 || !recs[0].Date.Equal(day) {
		t.Fatalf("unexpected records %+v", recs)
	}
	all, err := s.Query("water-1", day, day.AddDate(0, 0, 1))
	if err != nil || len(all) != 2 {
		t.Fatalf("range query: %v %+v", err, all)
	}
}
