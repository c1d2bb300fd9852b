package feeds

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesTotal  *prometheus.CounterVec
	publishedTotal *prometheus.CounterVec
	lastDirectory  prometheus.Gauge
	handleLatency  *prometheus.HistogramVec
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, prometheus.Gauge, *prometheus.HistogramVec) {
	msgs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_messages_total",
		Help: "Inbound MQTT messages by feed and result",
	}, []string{"feed", "result"})
	pub := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifier_events_total",
		Help: "Outbound events by kind and result",
	}, []string{"kind", "result"})
	last := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "directory_last_update_timestamp_seconds",
		Help: "Unix timestamp of the last applied directory update",
	})
	lat := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "feed_handle_duration_seconds",
		Help:    "Time spent handling one inbound message",
		Buckets: prometheus.DefBuckets,
	}, []string{"feed"})
	return msgs, pub, last, lat
}

func init() {
	messagesTotal, publishedTotal, lastDirectory, handleLatency = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers feed metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(messagesTotal, publishedTotal, lastDirectory, handleLatency)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	messagesTotal, publishedTotal, lastDirectory, handleLatency = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
