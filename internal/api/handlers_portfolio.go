package api

import (
	"net/http"
)

// handleGetSummary handles GET /api/portfolio/summary
func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.portfolio.Summary(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, summary)
}
