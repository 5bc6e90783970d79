package httpadapter

import (
	"net/http"

	"redflag/internal/ports"
)

type bulkRequest struct {
	Operation ports.BulkOperation `json:"operation"`
	FlagIDs   []string            `json:"flag_ids"`
	ports.BulkParams
}

func (s *Server) applyBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.bulk.Apply(r.Context(), req.Operation, req.FlagIDs, req.BulkParams, actor(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
