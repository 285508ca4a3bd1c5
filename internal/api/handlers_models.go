// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"
)

// handleListModels serves GET /api/v1/models: the catalog ordered by tier
// then cost, plus the style-to-model defaults so frontends can preview the
// auto-selection.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":         s.models.List(),
		"style_defaults": s.models.StyleDefaults(),
		"fallback":       s.models.Fallback().ID,
	})
}

// handleModelEstimate serves GET /api/v1/models/estimate?model=&duration=.
// The model id rides a query parameter because catalog ids contain slashes.
func (s *Server) handleModelEstimate(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("model")
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "model query parameter is required")
		return
	}
	m, ok := s.models.Describe(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown model "+id)
		return
	}

	duration := 5
	if raw := r.URL.Query().Get("duration"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "duration must be a positive integer")
			return
		}
		duration = n
	}

	cost, billedSec := m.Estimate(duration)
	writeJSON(w, http.StatusOK, map[string]any{
		"model":        m.ID,
		"duration_sec": billedSec,
		"credits":      cost,
		"tier":         m.Tier,
	})
}
