package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/reliefgrid/coordinator/core/model"
)

func TestWriteSnapshotsCSV(t *testing.T) {
	snaps := []model.Snapshot{
		{ResourceID: "water-a", Type: "water", Total: 50, Reserved: 10, Consumed: 5, Available: 35, Threshold: 40, Low: true},
	}
	var buf bytes.Buffer
	if err := WriteSnapshotsCSV(&buf, snaps); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d", len(rows))
	}
	want := []string{"water-a", "water", "50", "10", "5", "35", "40", "true"}
	for i, v := range want {
		if rows[1][i] != v {
			t.Fatalf("column %s: got %q want %q", rows[0][i], rows[1][i], v)
		}
	}
}

func TestWriteConsumptionCSV(t *testing.T) {
	ts := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	recs := []model.ConsumptionRecord{{ID: "c1", ResourceID: "kits", TaskID: "t1", TokenID: "k1", Quantity: 2, Actor: "medic-1", Timestamp: ts}}
	var buf bytes.Buffer
	if err := WriteConsumptionCSV(&buf, recs); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if rows[1][4] != "2" || rows[1][6] != "2026-10-01T12:00:00Z" {
		t.Fatalf("unexpected row %v", rows[1])
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, []model.Snapshot{{ResourceID: "r1", Available: 3}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out []model.Snapshot
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].Available != 3 {
		t.Fatalf("unexpected %+v", out)
	}
}
