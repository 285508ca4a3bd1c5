// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/genscene/genscene/internal/log"
)

// AccessLog returns a middleware that writes one structured log line per
// request after the handler finishes, carrying the correlation id from the
// request context.
func AccessLog() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sw, r)

			logger := log.WithComponentFromContext(r.Context(), "http")
			evt := logger.Info()
			if sw.statusCode >= 500 {
				evt = logger.Error()
			} else if sw.statusCode >= 400 {
				evt = logger.Warn()
			}
			evt.
				Str("event", "http.request").
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.statusCode).
				Int("bytes", sw.bytesWritten).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Msg("request completed")
		})
	}
}
