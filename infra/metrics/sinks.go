package metrics

import (
	"errors"

	coremetrics "github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/core/metrics/usage"
)

// UsageStoreOf returns the usage store of the first UsageSink found in s,
// looking inside MultiSinks. It returns nil when no usage sink is configured.
func UsageStoreOf(s coremetrics.MetricsSink) usage.Store {
	switch v := s.(type) {
	case *UsageSink:
		return v.Store()
	case *coremetrics.MultiSink:
		for _, inner := range v.Sinks {
			if st := UsageStoreOf(inner); st != nil {
				return st
			}
		}
	}
	return nil
}

// CloseSinks releases the clients and files held by s and its children.
func CloseSinks(s coremetrics.MetricsSink) error {
	switch v := s.(type) {
	case *coremetrics.MultiSink:
		var errs []error
		for _, inner := range v.Sinks {
			errs = append(errs, CloseSinks(inner))
		}
		return errors.Join(errs...)
	case *InfluxSink:
		v.Close()
	case *UsageSink:
		return v.Close()
	}
	return nil
}
