// Package audit persists assignment decisions so operators can see why a
// task went to a responder, or why it could not be matched.
package audit

import (
	"context"
	"time"
)

// Candidate is a ranked responder as seen by the matcher.
type Candidate struct {
	ResponderID string  `json:"responder_id"`
	Score       float64 `json:"score"`
}

// LogRecord is one assignment decision.
type LogRecord struct {
	Timestamp   time.Time   `json:"timestamp"`
	RequestID   string      `json:"request_id"`
	TaskID      string      `json:"task_id"`
	Manual      bool        `json:"manual"`
	Planned     bool        `json:"planned,omitempty"`
	Candidates  []Candidate `json:"candidates,omitempty"`
	ResponderID string      `json:"responder_id,omitempty"`
	Score       float64     `json:"score,omitempty"`
	Outcome     string      `json:"outcome"`
	Error       string      `json:"error,omitempty"`
}

// LogQuery filters records. Zero fields match everything.
type LogQuery struct {
	Start       time.Time
	End         time.Time
	RequestID   string
	TaskID      string
	ResponderID string
	Outcome     string
	// Limit keeps only the most recent records when positive.
	Limit int
}

// LogStore appends and queries decision records.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}

func (q LogQuery) match(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.RequestID != "" && r.RequestID != q.RequestID {
		return false
	}
	if q.TaskID != "" && r.TaskID != q.TaskID {
		return false
	}
	if q.Outcome != "" && r.Outcome != q.Outcome {
		return false
	}
	if q.ResponderID != "" && r.ResponderID != q.ResponderID {
		for _, c := range r.Candidates {
			if c.ResponderID == q.ResponderID {
				return true
			}
		}
		return false
	}
	return true
}

func (q LogQuery) limit(res []LogRecord) []LogRecord {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}
