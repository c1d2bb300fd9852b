package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/reliefgrid/coordinator/core/metrics"
	"github.com/reliefgrid/coordinator/core/metrics/usage"
)

// UsageSink folds consumption events into daily usage KPIs.
type UsageSink struct {
	store    usage.Store
	consumed *prometheus.GaugeVec
	records  *prometheus.GaugeVec
}

// NewUsageSink creates a sink with Prometheus gauges registered on reg.
func NewUsageSink(store usage.Store, reg prometheus.Registerer) (*UsageSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	consumed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resource_daily_consumed_units",
		Help: "Units consumed per resource and day",
	}, []string{"resource_id", "day"})
	records := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resource_daily_consumption_records",
		Help: "Consumption records per resource and day",
	}, []string{"resource_id", "day"})
	var err error
	if consumed, err = register(reg, consumed); err != nil {
		return nil, err
	}
	if records, err = register(reg, records); err != nil {
		return nil, err
	}
	return &UsageSink{store: store, consumed: consumed, records: records}, nil
}

// RecordAssignment is ignored; usage only tracks consumption.
func (s *UsageSink) RecordAssignment(coremetrics.AssignmentEvent) error { return nil }

// RecordConsumption adds the event to its day and refreshes the gauges.
func (s *UsageSink) RecordConsumption(ev coremetrics.ConsumptionEvent) error {
	rec := usage.Record{ResourceID: ev.ResourceID, Date: ev.Time, Consumed: ev.Quantity, Records: 1}
	if err := s.store.Add(rec); err != nil {
		return err
	}
	recs, err := s.store.Query(ev.ResourceID, ev.Time, ev.Time)
	if err != nil || len(recs) == 0 {
		return err
	}
	day := usage.Day(ev.Time).Format("2006-01-02")
	s.consumed.WithLabelValues(ev.ResourceID, day).Set(float64(recs[0].Consumed))
	s.records.WithLabelValues(ev.ResourceID, day).Set(float64(recs[0].Records))
	return nil
}

// Close closes the backing store when it holds a database.
func (s *UsageSink) Close() error {
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Store returns the backing usage store.
func (s *UsageSink) Store() usage.Store { return s.store }
