package metrics_test

import (
	"testing"

	"github.com/reliefgrid/coordinator/core/factory"
	metrics "github.com/reliefgrid/coordinator/core/metrics"
	_ "github.com/reliefgrid/coordinator/infra/metrics"
)

// TestMetricsFactory_Builtins verifies the sinks registered by
// infra/metrics/factory.go.
func TestMetricsFactory_Builtins(t *testing.T) {
	for _, typ := range []string{"influx", "nop", "prometheus", "usage"} {
		found := false
		for _, got := range metrics.SinkTypes() {
			found = found || got == typ
		}
		if !found {
			t.Errorf("sink type %s not registered (have %v)", typ, metrics.SinkTypes())
		}
	}

	s, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}})
	if err != nil {
		t.Fatalf("create nop: %v", err)
	}
	if s == nil {
		t.Fatal("expected sink instance")
	}
	if _, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "missing"}}); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

/*
TestNewMetricsSink_Multi validates NewMetricsSink behavior with zero, one, and multiple configs.
Cases:
  - no config -> NopSink
  - two configs -> MultiSink with two sub-sinks
*/
func TestNewMetricsSink_Multi(t *testing.T) {
	// No config defaults to NopSink
	s, err := metrics.NewMetricsSink(nil)
	if err != nil {
		t.Fatalf("create nop default: %v", err)
	}
	if _, ok := s.(metrics.NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}

	// Multiple configs returns MultiSink
	cfgs := []factory.ModuleConfig{{Type: "nop"}, {Type: "nop"}}
	s, err = metrics.NewMetricsSink(cfgs)
	if err != nil {
		t.Fatalf("create multi: %v", err)
	}
	m, ok := s.(*metrics.MultiSink)
	if !ok {
		t.Fatalf("expected MultiSink, got %T", s)
	}
	if len(m.Sinks) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(m.Sinks))
	}
}
