// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/version"
)

// handleStats serves GET /api/v1/stats: dispatcher counters, queue depth,
// and uptime.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dispatch.Stats(r.Context()))
}

// handleVersion serves GET /api/v1/version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": version.Version,
		"commit":  version.Commit,
		"date":    version.Date,
	})
}

// handleReload serves POST /api/v1/reload: a manual trigger for the config
// hot-reload path. Deployments without a config file get a 503.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeError(w, http.StatusServiceUnavailable, "reload_unavailable", "no config file to reload")
		return
	}
	if err := s.reload(r.Context()); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str("event", "config.manual_reload_failed").
			Msg("manual config reload failed")
		writeError(w, http.StatusInternalServerError, "reload_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
