package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/core/metrics/usage"
)

func TestUsageSink_RecordConsumption(t *testing.T) {
	store := usage.NewMemoryStore()
	s, err := NewUsageSink(store, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, q := range []int{10, 15} {
		if err := s.RecordConsumption(coremetrics.ConsumptionEvent{ResourceID: "food-1", Quantity: q, Time: now}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	recs, _ := store.Query("food-1", now, now)
	if len(recs) != 1 || recs[0].Consumed != 25 || recs[0].Records != 2 {
		t.Fatalf("unexpected records %+v", recs)
	}
	if v := testutil.ToFloat64(s.consumed.WithLabelValues("food-1", "2026-05-01")); v != 25 {
		t.Fatalf("gauge = %v", v)
	}
	if v := testutil.ToFloat64(s.records.WithLabelValues("food-1", "2026-05-01")); v != 2 {
		t.Fatalf("records gauge = %v", v)
	}
}

func TestUsageStoreOfFindsNestedSink(t *testing.T) {
	store := usage.NewMemoryStore()
	sink, err := NewUsageSink(store, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	multi := coremetrics.NewMultiSink(coremetrics.NopSink{}, sink)
	if got := UsageStoreOf(multi); got != store {
		t.Fatalf("expected nested usage store, got %v", got)
	}
	if UsageStoreOf(coremetrics.NopSink{}) != nil {
		t.Fatal("nop sink has no usage store")
	}
	if err := CloseSinks(multi); err != nil {
		t.Fatalf("close: %v", err)
	}
}
