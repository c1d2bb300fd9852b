// Package export writes ledger views as JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/reliefgrid/coordinator/core/model"
)

// WriteJSON writes v to w as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSnapshotsCSV writes resource snapshots to w with a header row.
func WriteSnapshotsCSV(w io.Writer, snaps []model.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"resource_id", "type", "total", "reserved", "consumed", "available", "threshold", "low"}); err != nil {
		return err
	}
	for _, s := range snaps {
		rec := []string{
			s.ResourceID,
			string(s.Type),
			strconv.Itoa(s.Total),
			strconv.Itoa(s.Reserved),
			strconv.Itoa(s.Consumed),
			strconv.Itoa(s.Available),
			strconv.Itoa(s.Threshold),
			strconv.FormatBool(s.Low),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteConsumptionCSV writes consumption records to w with a header row.
func WriteConsumptionCSV(w io.Writer, recs []model.ConsumptionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "resource_id", "task_id", "token_id", "quantity", "actor", "timestamp"}); err != nil {
		return err
	}
	for _, r := range recs {
		rec := []string{
			r.ID,
			r.ResourceID,
			r.TaskID,
			r.TokenID,
			strconv.Itoa(r.Quantity),
			r.Actor,
			r.Timestamp.Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
