// Package kpi persists daily resource usage.
package kpi

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/reliefgrid/coordinator/core/metrics/usage"
)

// SQLiteStore persists usage records in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS usage_daily (
        resource_id TEXT,
        day INTEGER,
        consumed INTEGER,
        records INTEGER,
        PRIMARY KEY(resource_id, day)
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Add inserts or accumulates the day's record.
func (s *SQLiteStore) Add(r usage.Record) error {
	d := usage.Day(r.Date)
	_, err := s.db.Exec(`INSERT INTO usage_daily (resource_id, day, consumed, records)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(resource_id, day) DO UPDATE SET
            consumed = consumed + excluded.consumed,
            records = records + excluded.records`,
		r.ResourceID, d.Unix(), r.Consumed, r.Records)
	return err
}

// Query returns records in the range [start,end].
func (s *SQLiteStore) Query(resourceID string, start, end time.Time) ([]usage.Record, error) {
	start = usage.Day(start)
	end = usage.Day(end)
	rows, err := s.db.Query(`SELECT resource_id, day, consumed, records
        FROM usage_daily WHERE resource_id = ? AND day >= ? AND day <= ? ORDER BY day`,
		resourceID, start.Unix(), end.Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []usage.Record
	for rows.Next() {
		var r usage.Record
		var ts int64
		if err := rows.Scan(&r.ResourceID, &ts, &r.Consumed, &r.Records); err != nil {
			return nil, err
		}
		r.Date = time.Unix(ts, 0).UTC()
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }
