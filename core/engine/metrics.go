package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	commandLatency *prometheus.HistogramVec
	commandsTotal  *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	awaitingManual prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.HistogramVec, *prometheus.CounterVec, *prometheus.GaugeVec, prometheus.Gauge) {
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_command_duration_seconds",
			Help:    "Duration of engine commands",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	total := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_commands_total",
			Help: "Engine commands by result",
		},
		[]string{"command", "result"},
	)
	depth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_queue_depth",
			Help: "Active requests per priority tier",
		},
		[]string{"tier"},
	)
	manual := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_requests_awaiting_manual",
			Help: "Active requests waiting for a manual assignment",
		},
	)
	return lat, total, depth, manual
}

func init() {
	commandLatency, commandsTotal, queueDepth, awaitingManual = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers engine metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(commandLatency, commandsTotal, queueDepth, awaitingManual)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	commandLatency, commandsTotal, queueDepth, awaitingManual = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
