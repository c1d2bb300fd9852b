package api

import (
	"net/http"
	"strconv"

	"github.com/reliefgrid/coordinator/core/audit"
	"github.com/reliefgrid/coordinator/core/model"
)

// auditLog exposes assignment decisions via GET /api/audit.
func (s *server) auditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lq := audit.LogQuery{
		RequestID:   q.Get("request_id"),
		TaskID:      q.Get("task_id"),
		ResponderID: q.Get("responder_id"),
		Outcome:     q.Get("outcome"),
	}
	var err error
	if lq.Start, err = queryTime(r, "start"); err != nil {
		s.fail(w, r, err)
		return
	}
	if lq.End, err = queryTime(r, "end"); err != nil {
		s.fail(w, r, err)
		return
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.fail(w, r, model.Errorf(model.ErrInvalidInput, "query", "limit must be a non-negative integer"))
			return
		}
		lq.Limit = n
	}
	recs, err := s.eng.AuditLog(r.Context(), lq)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []audit.LogRecord{}
	}
	s.ok(w, http.StatusOK, recs)
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.eng.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, st)
}
