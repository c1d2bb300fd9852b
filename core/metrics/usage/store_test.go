package usage

import (
	"testing"
	"time"
)

func TestMemoryStore_Aggregation(t *testing.T) {
	s := NewMemoryStore()
	d := Day(time.Now())
	if err := s.Add(Record{ResourceID: "bandages-a", Date: d, Consumed: 20, Records: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(Record{ResourceID: "bandages-a", Date: d.Add(2 * time.Hour), Consumed: 10, Records: 1}); err != nil {
		t.Fatalf("add2: %v", err)
	}
	if err := s.Add(Record{ResourceID: "bandages-a", Date: d.AddDate(0, 0, -3), Consumed: 5, Records: 1}); err != nil {
		t.Fatalf("add3: %v", err)
	}
	recs, err := s.Query("bandages-a", d, d)
	if err != nil || len(recs) != 1 {
		t.Fatalf("query: %v len=%d", err, len(recs))
	}
	if recs[0].Consumed != 30 || recs[0].Records != 2 {
		t.Fatalf("unexpected aggregate %+v", recs[0])
	}
	all, _ := s.Query("bandages-a", d.AddDate(0, 0, -7), d)
	if len(all) != 2 || !all[0].Date.Before(all[1].Date) {
		t.Fatalf("expected two days oldest first, got %+v", all)
	}
}

func TestRecordPerRecord(t *testing.T) {
	if (Record{}).PerRecord() != 0 {
		t.Fatalf("empty record")
	}
	if (Record{Consumed: 30, Records: 2}).PerRecord() != 15 {
		t.Fatalf("per record")
	}
}
