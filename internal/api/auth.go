// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/genscene/genscene/internal/log"
)

// requireAuth enforces X-API-Key authentication with a constant-time
// compare. An empty configured token disables auth entirely, which is the
// documented single-machine default.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.settings().APIToken
		if expected == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := r.Header.Get("X-API-Key")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			logger := log.WithComponentFromContext(r.Context(), "api")
			logger.Warn().
				Str("event", "auth.denied").
				Str("path", r.URL.Path).
				Msg("invalid or missing api key")
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
			return
		}

		next.ServeHTTP(w, r)
	})
}
