package ledger

import "github.com/prometheus/client_golang/prometheus"

var (
	opsTotal        *prometheus.CounterVec
	contentionTotal prometheus.Counter
	lowStockTotal   prometheus.Counter
)

func newCollectors() (*prometheus.CounterVec, prometheus.Counter, prometheus.Counter) {
	ops := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by kind and result",
		},
		[]string{"op", "result"},
	)
	cont := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_contention_total",
			Help: "Ledger batches abandoned after exhausting version retries",
		},
	)
	low := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_low_stock_events_total",
			Help: "Number of LowStock events emitted",
		},
	)
	return ops, cont, low
}

func init() {
	opsTotal, contentionTotal, lowStockTotal = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers ledger metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(opsTotal, contentionTotal, lowStockTotal)
}

// ResetMetrics reinitializes the collectors for tests and registers them on
// reg if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	opsTotal, contentionTotal, lowStockTotal = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
