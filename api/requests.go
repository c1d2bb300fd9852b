package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/reliefgrid/coordinator/core/model"
)

type reasonBody struct {
	Reason string `json:"reason"`
}

func (s *server) submitRequest(w http.ResponseWriter, r *http.Request) {
	var n model.NormalizedRequest
	if err := decode(r, &n); err != nil {
		s.fail(w, r, err)
		return
	}
	sub, err := s.eng.SubmitRequest(r.Context(), n)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, sub)
}

func (s *server) getRequest(w http.ResponseWriter, r *http.Request) {
	v, err := s.eng.GetRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, v)
}

func (s *server) cancelRequest(w http.ResponseWriter, r *http.Request) {
	var body reasonBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.eng.CancelRequest(r.Context(), mux.Vars(r)["id"], body.Reason, meta(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, v)
}

func (s *server) queue(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.eng.Queue(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []model.Request{}
	}
	s.ok(w, http.StatusOK, reqs)
}

func (s *server) rescore(w http.ResponseWriter, r *http.Request) {
	res, err := s.eng.RescoreQueue(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, res)
}
