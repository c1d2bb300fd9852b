package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/reliefgrid/coordinator/core/engine"
	"github.com/reliefgrid/coordinator/core/lifecycle"
	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
)

type progressBody struct {
	Percent int    `json:"percent"`
	Notes   string `json:"notes"`
}

type notesBody struct {
	Notes string `json:"notes"`
}

func (s *server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.TaskFilter{RequestID: q.Get("request_id"), ResponderID: q.Get("responder_id")}
	if st := q.Get("status"); st != "" {
		for _, v := range strings.Split(st, ",") {
			f.Statuses = append(f.Statuses, model.TaskStatus(strings.TrimSpace(v)))
		}
	}
	ts, err := s.eng.ListTasks(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ts == nil {
		ts = []model.Task{}
	}
	s.ok(w, http.StatusOK, ts)
}

func (s *server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.eng.GetTask(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, t)
}

func (s *server) candidates(w http.ResponseWriter, r *http.Request) {
	radius, err := queryFloat(r, "radius_km")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cs, err := s.eng.Candidates(r.Context(), mux.Vars(r)["id"], radius)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, cs)
}

func (s *server) assignTask(w http.ResponseWriter, r *http.Request) {
	var opts engine.AssignOptions
	if err := decode(r, &opts); err != nil {
		s.fail(w, r, err)
		return
	}
	s.taskResult(w, r)(s.eng.AssignTask(r.Context(), mux.Vars(r)["id"], opts, meta(r)))
}

func (s *server) startTask(w http.ResponseWriter, r *http.Request) {
	s.taskResult(w, r)(s.eng.StartTask(r.Context(), mux.Vars(r)["id"], meta(r)))
}

func (s *server) reportProgress(w http.ResponseWriter, r *http.Request) {
	var body progressBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	s.taskResult(w, r)(s.eng.ReportProgress(r.Context(), mux.Vars(r)["id"], body.Percent, body.Notes, meta(r)))
}

func (s *server) submitForReview(w http.ResponseWriter, r *http.Request) {
	var body notesBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	s.taskResult(w, r)(s.eng.SubmitForReview(r.Context(), mux.Vars(r)["id"], body.Notes, meta(r)))
}

func (s *server) completeTask(w http.ResponseWriter, r *http.Request) {
	var c lifecycle.Completion
	if err := decode(r, &c); err != nil {
		s.fail(w, r, err)
		return
	}
	s.taskResult(w, r)(s.eng.CompleteTask(r.Context(), mux.Vars(r)["id"], c, meta(r)))
}

func (s *server) cancelTask(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	s.taskResult(w, r)(s.eng.CancelTask(r.Context(), mux.Vars(r)["id"], body.Reason, meta(r)))
}

// taskResult writes the outcome of a task command.
func (s *server) taskResult(w http.ResponseWriter, r *http.Request) func(model.Task, error) {
	return func(t model.Task, err error) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.ok(w, http.StatusOK, t)
	}
}
