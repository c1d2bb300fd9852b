// Package usagekpi rebuilds daily usage KPIs from the consumption history.
package usagekpi

import (
	"time"

	"github.com/reliefgrid/coordinator/core/metrics/usage"
	"github.com/reliefgrid/coordinator/core/model"
)

// Backfill folds the consumption records timestamped in [since, until) into
// store and returns how many were added. A zero until means no upper bound.
// Records already seen by a live usage sink would be counted twice, so the
// window should end where the sink started.
func Backfill(store usage.Store, recs []model.ConsumptionRecord, since, until time.Time) (int, error) {
	n := 0
	for _, r := range recs {
		if r.Timestamp.Before(since) || (!until.IsZero() && !r.Timestamp.Before(until)) {
			continue
		}
		rec := usage.Record{ResourceID: r.ResourceID, Date: usage.Day(r.Timestamp), Consumed: r.Quantity, Records: 1}
		if err := store.Add(rec); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
