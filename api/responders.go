package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/reliefgrid/coordinator/core/model"
)

func (s *server) responders(w http.ResponseWriter, r *http.Request) {
	rs, err := s.eng.Responders(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rs == nil {
		rs = []model.Responder{}
	}
	s.ok(w, http.StatusOK, rs)
}

// upsertResponder mirrors a directory entry. The path id wins over the
// body.
func (s *server) upsertResponder(w http.ResponseWriter, r *http.Request) {
	var entry model.DirectoryEntry
	if err := decode(r, &entry); err != nil {
		s.fail(w, r, err)
		return
	}
	entry.ID = mux.Vars(r)["id"]
	resp, err := s.eng.UpsertResponder(r.Context(), entry)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, http.StatusOK, resp)
}
