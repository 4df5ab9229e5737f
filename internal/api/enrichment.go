package api

import "net/http"

func (s *Server) handleEnrichmentSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Collector.Collect(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
