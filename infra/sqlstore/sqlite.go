// Package sqlstore implements the coordination store on SQLite.
//
// Each entity is stored as a JSON document next to the columns used for
// filtering and the version used to fence concurrent writers.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS counters (
    name TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS requests (
    id TEXT PRIMARY KEY,
    seq INTEGER NOT NULL,
    status TEXT NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    responder_id TEXT NOT NULL,
    status TEXT NOT NULL,
    seq INTEGER NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_request ON tasks(request_id);
CREATE INDEX IF NOT EXISTS tasks_responder ON tasks(responder_id);
CREATE TABLE IF NOT EXISTS responders (
    id TEXT PRIMARY KEY,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS resources (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS consumption_records (
    n INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    task_id TEXT NOT NULL,
    token_id TEXT NOT NULL,
    data TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS consumption_resource ON consumption_records(resource_id);
`

// Store is a store.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and ensures the schema. A path
// of ":memory:" keeps everything in memory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers anyway. One connection keeps in-memory
	// databases shared and avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) NextSeq(ctx context.Context) (uint64, error) {
	var seq uint64
	err := s.tx(ctx, "next seq", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO counters (name, value) VALUES ('requests', 1)
            ON CONFLICT(name) DO UPDATE SET value = value + 1`)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = 'requests'`).Scan(&seq)
	})
	return seq, err
}

func (s *Store) CreateRequest(ctx context.Context, r model.Request, tasks []model.Task) (model.Request, []model.Task, error) {
	const op = "create request"
	r.Version = 1
	out := make([]model.Task, len(tasks))
	err := s.tx(ctx, op, func(tx *sql.Tx) error {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO requests (id, seq, status, version, data) VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.Seq, string(r.Status), r.Version, string(data)); err != nil {
			if isConstraint(err) {
				return model.Errorf(model.ErrConflict, op, "request %s exists", r.ID)
			}
			return err
		}
		for i, t := range tasks {
			t.Version = 1
			data, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (id, request_id, responder_id, status, seq, version, data) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				t.ID, t.RequestID, t.ResponderID, string(t.Status), t.Seq, t.Version, string(data)); err != nil {
				if isConstraint(err) {
					return model.Errorf(model.ErrConflict, op, "task %s exists", t.ID)
				}
				return err
			}
			out[i] = t.Clone()
		}
		return nil
	})
	if err != nil {
		return model.Request{}, nil, err
	}
	return r, out, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (model.Request, error) {
	var r model.Request
	err := s.get(ctx, `SELECT data FROM requests WHERE id = ?`, id, &r)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Request{}, model.Errorf(model.ErrNotFound, "get request", "request %s", id)
	}
	return r, wrap("get request", err)
}

func (s *Store) UpdateRequest(ctx context.Context, r model.Request) (model.Request, error) {
	const op = "update request"
	prev := r.Version
	r.Version++
	data, err := json.Marshal(r)
	if err != nil {
		return model.Request{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE requests SET status = ?, version = ?, data = ? WHERE id = ? AND version = ?`,
		string(r.Status), r.Version, string(data), r.ID, prev)
	if err := s.fenced(ctx, op, "requests", r.ID, prev, res, err); err != nil {
		return model.Request{}, err
	}
	return r, nil
}

func (s *Store) ListRequests(ctx context.Context, f store.RequestFilter) ([]model.Request, error) {
	query := `SELECT data FROM requests`
	var args []any
	if f.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY seq`
	var out []model.Request
	err := s.list(ctx, query, args, func(data []byte) error {
		var r model.Request
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		if store.MatchRequest(r, f) {
			out = append(out, r)
		}
		return nil
	})
	return out, wrap("list requests", err)
}

func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	var t model.Task
	err := s.get(ctx, `SELECT data FROM tasks WHERE id = ?`, id, &t)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, model.Errorf(model.ErrNotFound, "get task", "task %s", id)
	}
	return t, wrap("get task", err)
}

func (s *Store) UpdateTask(ctx context.Context, t model.Task) (model.Task, error) {
	const op = "update task"
	prev := t.Version
	t.Version++
	data, err := json.Marshal(t)
	if err != nil {
		return model.Task{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET responder_id = ?, status = ?, version = ?, data = ? WHERE id = ? AND version = ?`,
		t.ResponderID, string(t.Status), t.Version, string(data), t.ID, prev)
	if err := s.fenced(ctx, op, "tasks", t.ID, prev, res, err); err != nil {
		return model.Task{}, err
	}
	return t.Clone(), nil
}

func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]model.Task, error) {
	query := `SELECT data FROM tasks WHERE 1=1`
	var args []any
	if f.RequestID != "" {
		query += ` AND request_id = ?`
		args = append(args, f.RequestID)
	}
	if f.ResponderID != "" {
		query += ` AND responder_id = ?`
		args = append(args, f.ResponderID)
	}
	query += ` ORDER BY seq, id`
	var out []model.Task
	err := s.list(ctx, query, args, func(data []byte) error {
		var t model.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		if store.MatchTask(t, f) {
			out = append(out, t)
		}
		return nil
	})
	return out, wrap("list tasks", err)
}

func (s *Store) UpsertResponder(ctx context.Context, id string, fn store.ResponderMutator) (model.Responder, error) {
	var next model.Responder
	err := s.tx(ctx, "upsert responder", func(tx *sql.Tx) error {
		var cur model.Responder
		known := true
		var data string
		err := tx.QueryRowContext(ctx, `SELECT data FROM responders WHERE id = ?`, id).Scan(&data)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			known = false
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(data), &cur); err != nil {
				return err
			}
		}
		next, err = fn(cur, known)
		if err != nil {
			return err
		}
		next.ID = id
		next.Version = cur.Version + 1
		return putResponder(ctx, tx, next)
	})
	if err != nil {
		return model.Responder{}, err
	}
	return next, nil
}

func putResponder(ctx context.Context, tx *sql.Tx, r model.Responder) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO responders (id, version, data) VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET version = excluded.version, data = excluded.data`,
		r.ID, r.Version, string(b))
	return err
}

func (s *Store) GetResponder(ctx context.Context, id string) (model.Responder, error) {
	var r model.Responder
	err := s.get(ctx, `SELECT data FROM responders WHERE id = ?`, id, &r)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Responder{}, model.Errorf(model.ErrNotFound, "get responder", "responder %s", id)
	}
	return r, wrap("get responder", err)
}

func (s *Store) ListResponders(ctx context.Context) ([]model.Responder, error) {
	var out []model.Responder
	err := s.list(ctx, `SELECT data FROM responders ORDER BY id`, nil, func(data []byte) error {
		var r model.Responder
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	if out == nil {
		out = []model.Responder{}
	}
	return out, wrap("list responders", err)
}

func (s *Store) AdjustWorkload(ctx context.Context, id string, delta, limit int) (model.Responder, error) {
	const op = "adjust workload"
	var r model.Responder
	err := s.tx(ctx, op, func(tx *sql.Tx) error {
		var data string
		err := tx.QueryRowContext(ctx, `SELECT data FROM responders WHERE id = ?`, id).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return model.Errorf(model.ErrNotFound, op, "responder %s", id)
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return err
		}
		if delta > 0 && (!r.Available || r.ActiveTasks+delta > limit) {
			return model.Errorf(model.ErrCapacity, op, "responder %s has %d active tasks", id, r.ActiveTasks)
		}
		r.ActiveTasks += delta
		if r.ActiveTasks < 0 {
			r.ActiveTasks = 0
		}
		r.Version++
		return putResponder(ctx, tx, r)
	})
	if err != nil {
		return model.Responder{}, err
	}
	return r, nil
}

func (s *Store) CreateResource(ctx context.Context, r model.Resource) (model.Resource, error) {
	const op = "create resource"
	r.Version = 1
	data, err := json.Marshal(r)
	if err != nil {
		return model.Resource{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO resources (id, type, version, data) VALUES (?, ?, ?, ?)`,
		r.ID, string(r.Type), r.Version, string(data))
	if isConstraint(err) {
		return model.Resource{}, model.Errorf(model.ErrConflict, op, "resource %s exists", r.ID)
	}
	if err != nil {
		return model.Resource{}, wrap(op, err)
	}
	return r.Clone(), nil
}

func (s *Store) GetResource(ctx context.Context, id string) (model.Resource, error) {
	var r model.Resource
	err := s.get(ctx, `SELECT data FROM resources WHERE id = ?`, id, &r)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Resource{}, model.Errorf(model.ErrNotFound, "get resource", "resource %s", id)
	}
	return r, wrap("get resource", err)
}

func (s *Store) ListResources(ctx context.Context, typ model.ResourceType) ([]model.Resource, error) {
	query := `SELECT data FROM resources`
	var args []any
	if typ != "" {
		query += ` WHERE type = ?`
		args = append(args, string(typ))
	}
	query += ` ORDER BY id`
	var out []model.Resource
	err := s.list(ctx, query, args, func(data []byte) error {
		var r model.Resource
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, wrap("list resources", err)
}

func (s *Store) CommitResources(ctx context.Context, rs []model.Resource, recs []model.ConsumptionRecord) ([]model.Resource, error) {
	const op = "commit resources"
	out := make([]model.Resource, len(rs))
	err := s.tx(ctx, op, func(tx *sql.Tx) error {
		for i, r := range rs {
			if err := r.Check(); err != nil {
				return model.Errorf(model.ErrInvalidInput, op, "%v", err)
			}
			prev := r.Version
			r.Version++
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `UPDATE resources SET version = ?, data = ? WHERE id = ? AND version = ?`,
				r.Version, string(data), r.ID, prev)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return missingOrStale(ctx, tx, op, "resources", r.ID, prev)
			}
			out[i] = r.Clone()
		}
		for _, c := range recs {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO consumption_records (id, resource_id, task_id, token_id, data) VALUES (?, ?, ?, ?, ?)`,
				c.ID, c.ResourceID, c.TaskID, c.TokenID, string(data)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListConsumption(ctx context.Context, f store.ConsumptionFilter) ([]model.ConsumptionRecord, error) {
	query := `SELECT data FROM consumption_records WHERE 1=1`
	var args []any
	if f.ResourceID != "" {
		query += ` AND resource_id = ?`
		args = append(args, f.ResourceID)
	}
	if f.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, f.TaskID)
	}
	if f.TokenID != "" {
		query += ` AND token_id = ?`
		args = append(args, f.TokenID)
	}
	query += ` ORDER BY n`
	var out []model.ConsumptionRecord
	err := s.list(ctx, query, args, func(data []byte) error {
		var c model.ConsumptionRecord
		if err := json.Unmarshal(data, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	return out, wrap("list consumption", err)
}

// tx runs fn in a transaction. Errors already carrying a kind are returned
// as is.
func (s *Store) tx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return wrap(op, err)
	}
	return wrap(op, tx.Commit())
}

func (s *Store) get(ctx context.Context, query, id string, v any) error {
	var data string
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&data); err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), v)
}

func (s *Store) list(ctx context.Context, query string, args []any, fn func([]byte) error) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return err
		}
		if err := fn([]byte(data)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// fenced interprets the result of a version-guarded update.
func (s *Store) fenced(ctx context.Context, op, table, id string, prev int64, res sql.Result, err error) error {
	if err != nil {
		return wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n > 0 {
		return nil
	}
	return missingOrStale(ctx, s.db, op, table, id, prev)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func missingOrStale(ctx context.Context, q queryer, op, table, id string, prev int64) error {
	var cur int64
	err := q.QueryRowContext(ctx, `SELECT version FROM `+table+` WHERE id = ?`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Errorf(model.ErrNotFound, op, "%s %s", table, id)
	}
	if err != nil {
		return wrap(op, err)
	}
	return model.Errorf(model.ErrConflict, op, "%s %s at version %d, got %d", table, id, cur, prev)
}

// wrap keeps kinded and context errors recognizable and prefixes driver
// errors with the operation.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var kinded *model.Error
	if errors.As(err, &kinded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.FromContext(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConstraint(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		// SQLITE_CONSTRAINT and its extended codes share the low byte.
		return coder.Code()&0xff == 19
	}
	return false
}
