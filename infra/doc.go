// Package infra holds the adapters behind the core interfaces: the SQLite
// store, MQTT feeds, metrics sinks, usage KPI storage, Sentry and logging.
// Nothing in core imports these packages.
package infra
