package api

import (
	"net/http"

	"github.com/crypto-dashboard/internal/types"
)

type modeResponse struct {
	Mode types.Mode `json:"mode"`
}

// handleGetMode handles GET /api/settings/mode
func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	mode, err := s.settings.Mode(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, modeResponse{Mode: mode})
}

// handleSetMode handles PUT /api/settings/mode
func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	mode, err := types.ParseMode(req.Mode)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), map[string]interface{}{
			"allowed": []types.Mode{types.ModeSimulated, types.ModeRemote},
		})
		return
	}

	if err := s.settings.SetMode(r.Context(), mode); err != nil {
		respondServiceError(w, r, err)
		return
	}
	s.modeChanged()

	respondJSON(w, http.StatusOK, modeResponse{Mode: mode})
}

// handleToggleMode handles POST /api/settings/mode/toggle
func (s *Server) handleToggleMode(w http.ResponseWriter, r *http.Request) {
	mode, err := s.settings.ToggleMode(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	s.modeChanged()

	respondJSON(w, http.StatusOK, modeResponse{Mode: mode})
}

// modeChanged drops series and errors produced by the previous source. Prices
// stay cached until the next refresh replaces them; records from a different
// source are never kept on timestamp grounds.
func (s *Server) modeChanged() {
	s.market.ClearHistorical()
	s.market.ClearError()
}

// handleGetBanner handles GET /api/settings/banner
func (s *Server) handleGetBanner(w http.ResponseWriter, r *http.Request) {
	visible, err := s.settings.BannerVisible(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"visible": visible})
}

// handleDismissBanner handles POST /api/settings/banner/dismiss
func (s *Server) handleDismissBanner(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.DismissBanner(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"visible": false})
}

// handleResetBanner handles POST /api/settings/banner/reset
func (s *Server) handleResetBanner(w http.ResponseWriter, r *http.Request) {
	if err := s.settings.ResetBanner(r.Context()); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"visible": true})
}
