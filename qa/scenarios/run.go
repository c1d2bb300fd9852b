package scenarios

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/reliefgrid/coordinator/core/engine"
	"github.com/reliefgrid/coordinator/core/events"
	"github.com/reliefgrid/coordinator/core/lifecycle"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
	"github.com/reliefgrid/coordinator/infra/logger"
	"github.com/reliefgrid/coordinator/infra/metrics"
)

func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}
	rec := events.NewRecorder()

	var cfg engine.Config
	cfg.Matcher.MaxConcurrentTasks = sc.MaxConcurrentTasks
	eng, err := engine.New(cfg, engine.Deps{Store: store.NewMemoryStore(), Events: rec, Sink: sink, Logger: logger.NopLogger{}})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	for _, r := range sc.Responders {
		if _, err := eng.UpsertResponder(ctx, r.ToEntry()); err != nil {
			t.Fatalf("responder %s: %v", r.ID, err)
		}
	}
	for _, r := range sc.Resources {
		if _, err := eng.RegisterResource(ctx, r.ToModel()); err != nil {
			t.Fatalf("resource %s: %v", r.ID, err)
		}
	}
	for i, n := range sc.Requests {
		if _, err := eng.SubmitRequest(ctx, n); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if sc.CompleteAssigned {
		assigned, err := eng.ListTasks(ctx, store.TaskFilter{Statuses: []model.TaskStatus{model.TaskAssigned}})
		if err != nil {
			t.Fatalf("list tasks: %v", err)
		}
		for _, task := range assigned {
			if _, err := eng.StartTask(ctx, task.ID, lifecycle.Meta{Actor: "qa"}); err != nil {
				t.Fatalf("start %s: %v", task.ID, err)
			}
			if _, err := eng.CompleteTask(ctx, task.ID, lifecycle.Completion{}, lifecycle.Meta{Actor: "qa"}); err != nil {
				t.Fatalf("complete %s: %v", task.ID, err)
			}
		}
	}
	if sc.Sweep {
		if _, err := eng.RescoreQueue(ctx); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}

	tasks, err := eng.ListTasks(ctx, store.TaskFilter{})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	got := map[model.TaskStatus]int{}
	for _, task := range tasks {
		got[task.Status]++
	}
	for status, want := range sc.Expected.Tasks {
		if got[status] != want {
			t.Errorf("scenario %s: expected %d %s tasks, got %d", sc.Name, want, status, got[status])
		}
	}

	queue, err := eng.Queue(ctx)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	awaiting := 0
	for _, r := range queue {
		if r.AwaitingManual {
			awaiting++
		}
	}
	if awaiting != sc.Expected.AwaitingManual {
		t.Errorf("scenario %s: expected %d requests awaiting manual assignment, got %d", sc.Name, sc.Expected.AwaitingManual, awaiting)
	}
	if n := len(rec.OfKind(events.KindLowStock)); n != sc.Expected.LowStock {
		t.Errorf("scenario %s: expected %d low stock alerts, got %d", sc.Name, sc.Expected.LowStock, n)
	}
	for id, want := range sc.Expected.Consumed {
		snap, err := eng.Resource(ctx, id)
		if err != nil {
			t.Fatalf("resource %s: %v", id, err)
		}
		if snap.Consumed != want {
			t.Errorf("scenario %s: expected %d units of %s consumed, got %d", sc.Name, want, id, snap.Consumed)
		}
		if snap.Reserved+snap.Consumed > snap.Total {
			t.Errorf("scenario %s: %s over-committed: %+v", sc.Name, id, snap)
		}
	}
	n, err := testutil.GatherAndCount(reg, "assignment_attempts_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n == 0 {
		t.Errorf("scenario %s: no assignment attempt recorded", sc.Name)
	}
}
