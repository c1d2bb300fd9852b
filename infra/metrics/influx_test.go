package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/core/model"
)

func newCapture(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, strings.TrimSpace(string(b)))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), bodies...)
	}
}

func lineOf(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordAssignment(t *testing.T) {
	srv, bodies := newCapture(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	ev := coremetrics.AssignmentEvent{
		TaskID:      "t1",
		RequestID:   "r1",
		TaskType:    "medical_response",
		ResponderID: "resp1",
		Score:       0.8123,
		Candidates:  3,
		Outcome:     coremetrics.OutcomeAssigned,
		Latency:     1500 * time.Microsecond,
		Time:        now,
	}
	if err := sink.RecordAssignment(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("assignment").
		AddTag("task_type", "medical_response").
		AddTag("outcome", "assigned").
		AddTag("manual", "false").
		AddTag("task_id", "t1").
		AddTag("request_id", "r1").
		AddTag("responder_id", "resp1").
		AddField("score", 0.812).
		AddField("candidates", 3).
		AddField("latency_ms", 1.5).
		SetTime(now)
	got := bodies()
	if len(got) != 1 || got[0] != lineOf(p) {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestInfluxSink_RecordAssignmentWithoutResponder(t *testing.T) {
	srv, bodies := newCapture(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	ev := coremetrics.AssignmentEvent{TaskID: "t1", RequestID: "r1", TaskType: "rescue", Outcome: coremetrics.OutcomeNoCandidate, Time: now}
	if err := sink.RecordAssignment(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	got := bodies()
	if len(got) != 1 || strings.Contains(got[0], "responder_id") {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestInfluxSink_RecordLowStockAndConsumption(t *testing.T) {
	srv, bodies := newCapture(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	if err := sink.RecordLowStock(coremetrics.StockEvent{ResourceID: "bandages-a", Available: 15, Threshold: 20, Time: now}); err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if err := sink.RecordConsumption(coremetrics.ConsumptionEvent{ResourceID: "bandages-a", TaskID: "t1", Quantity: 85, Time: now}); err != nil {
		t.Fatalf("consumption: %v", err)
	}
	exp1 := lineOf(write.NewPointWithMeasurement("low_stock").
		AddTag("resource_id", "bandages-a").
		AddField("available", 15).
		AddField("threshold", 20).
		SetTime(now))
	exp2 := lineOf(write.NewPointWithMeasurement("resource_consumption").
		AddTag("resource_id", "bandages-a").
		AddTag("task_id", "t1").
		AddField("quantity", 85).
		SetTime(now))
	got := bodies()
	if len(got) != 2 || got[0] != exp1 || got[1] != exp2 {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestInfluxSink_RecordQueueDepth(t *testing.T) {
	srv, bodies := newCapture(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()
	sink.now = func() time.Time { return now }
	if err := sink.RecordQueueDepth(map[model.Tier]int{model.TierLow: 4, model.TierCritical: 1}); err != nil {
		t.Fatalf("queue depth: %v", err)
	}
	exp1 := lineOf(write.NewPointWithMeasurement("queue_depth").AddTag("tier", "critical").AddField("requests", 1).SetTime(now))
	exp2 := lineOf(write.NewPointWithMeasurement("queue_depth").AddTag("tier", "low").AddField("requests", 4).SetTime(now))
	got := bodies()
	if len(got) != 2 || got[0] != exp1 || got[1] != exp2 {
		t.Errorf("unexpected bodies: %#v", got)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
