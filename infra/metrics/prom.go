package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/reliefgrid/coordinator/core/metrics"
)

// PromSink records coordination events in Prometheus metrics.
type PromSink struct {
	assignments *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	candidates  prometheus.Histogram
	scores      *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	lowStock    *prometheus.CounterVec
	consumed    *prometheus.CounterVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The endpoint itself is served by the API.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by an earlier sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assignment_attempts_total",
			Help: "Matching attempts by task type and outcome",
		}, []string{"task_type", "outcome", "manual"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assignment_latency_seconds",
			Help:    "Time spent selecting and committing a responder",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_type"}),
		candidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "assignment_candidates",
			Help:    "Eligible responders per matching attempt",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
		}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "request_priority_score",
			Help:    "Priority scores by tier",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"tier"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "task_transitions_total",
			Help: "Task status changes",
		}, []string{"from", "to"}),
		lowStock: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_low_stock_alerts_total",
			Help: "Low stock alerts per resource",
		}, []string{"resource_id"}),
		consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resource_consumed_units_total",
			Help: "Units consumed per resource",
		}, []string{"resource_id"}),
	}
	var err error
	if s.assignments, err = register(reg, s.assignments); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, s.latency); err != nil {
		return nil, err
	}
	if s.candidates, err = register(reg, s.candidates); err != nil {
		return nil, err
	}
	if s.scores, err = register(reg, s.scores); err != nil {
		return nil, err
	}
	if s.transitions, err = register(reg, s.transitions); err != nil {
		return nil, err
	}
	if s.lowStock, err = register(reg, s.lowStock); err != nil {
		return nil, err
	}
	if s.consumed, err = register(reg, s.consumed); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordAssignment counts the attempt and observes its latency.
func (s *PromSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	s.assignments.WithLabelValues(ev.TaskType, ev.Outcome, strconv.FormatBool(ev.Manual)).Inc()
	s.latency.WithLabelValues(ev.TaskType).Observe(ev.Latency.Seconds())
	if !ev.Manual {
		s.candidates.Observe(float64(ev.Candidates))
	}
	return nil
}

// RecordPriority observes a request score.
func (s *PromSink) RecordPriority(ev coremetrics.PriorityEvent) error {
	s.scores.WithLabelValues(string(ev.Tier)).Observe(ev.Score)
	return nil
}

// RecordTransition counts a task status change.
func (s *PromSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	s.transitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
	return nil
}

// RecordLowStock counts a low stock alert.
func (s *PromSink) RecordLowStock(ev coremetrics.StockEvent) error {
	s.lowStock.WithLabelValues(ev.ResourceID).Inc()
	return nil
}

// RecordConsumption adds the consumed units.
func (s *PromSink) RecordConsumption(ev coremetrics.ConsumptionEvent) error {
	s.consumed.WithLabelValues(ev.ResourceID).Add(float64(ev.Quantity))
	return nil
}
