package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/reliefgrid/coordinator/core/model"
	"github.com/reliefgrid/coordinator/core/store"
)

type replenishBody struct {
	Quantity int `json:"quantity"`
}

// usageDay is one day of the usage KPI.
type usageDay struct {
	Date      string  `json:"date"`
	Consumed  int     `json:"consumed"`
	Records   int     `json:"records"`
	PerRecord float64 `json:"per_record"`
}

func (s *server) resources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	low := q.Get("low") == "true" || q.Get("low") == "1"
	ss, err := s.eng.Resources(r.Context(), model.ResourceType(q.Get("type")), low)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ss == nil {
		ss = []model.Snapshot{}
	}
	s.ok(w, http.StatusOK, ss)
}

func (s *server) registerResource(w http.ResponseWriter, r *http.Request) {
	var res model.Resource
	if err := decode(r, &res); err != nil {
		s.fail(w, r, err)
		return
	}
	snap, err := s.eng.RegisterResource(r.Context(), res)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusCreated, snap)
}

func (s *server) resource(w http.ResponseWriter, r *http.Request) {
	snap, err := s.eng.Resource(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, snap)
}

func (s *server) replenish(w http.ResponseWriter, r *http.Request) {
	var body replenishBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	snap, err := s.eng.ReplenishResource(r.Context(), mux.Vars(r)["id"], body.Quantity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, snap)
}

func (s *server) consumption(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recs, err := s.eng.Consumption(r.Context(), store.ConsumptionFilter{
		ResourceID: q.Get("resource_id"),
		TaskID:     q.Get("task_id"),
		TokenID:    q.Get("token_id"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.ConsumptionRecord{}
	}
	s.ok(w, http.StatusOK, recs)
}

// resourceUsage serves the daily usage KPI of one resource, by default
// over the last 30 days.
func (s *server) resourceUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeJSON(w, http.StatusNotFound, Response{Message: "usage metrics are not enabled"})
		return
	}
	start, err := queryTime(r, "start")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	end, err := queryTime(r, "end")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}
	recs, err := s.usage.Query(mux.Vars(r)["id"], start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]usageDay, len(recs))
	for i, rec := range recs {
		out[i] = usageDay{
			Date:      rec.Date.Format("2006-01-02"),
			Consumed:  rec.Consumed,
			Records:   rec.Records,
			PerRecord: rec.PerRecord(),
		}
	}
	s.ok(w, http.StatusOK, out)
}
