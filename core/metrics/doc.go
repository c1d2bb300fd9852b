// Package metrics defines the sink interfaces used to observe the
// coordination engine. Sinks like PromSink and InfluxSink record events such
// as assignments, priority changes and stock alerts and can be combined with
// NewMultiSink. The factory helpers return a MultiSink automatically when
// multiple sinks are configured.
package metrics
