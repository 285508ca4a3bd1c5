// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/genscene/genscene/internal/log"
)

// maxInboundRequestIDLen bounds ids accepted from clients so a hostile
// header cannot bloat every downstream log line.
const maxInboundRequestIDLen = 64

// RequestID assigns every request a correlation id. An inbound X-Request-ID
// header is kept when it looks sane; otherwise a fresh UUID is minted. The
// id travels in the request context for loggers and is echoed on the
// response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > maxInboundRequestIDLen {
			id = uuid.NewString()
		}
		ctx := log.ContextWithRequestID(r.Context(), id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recoverer converts handler panics into 500 responses and a structured log
// entry instead of tearing down the connection. http.ErrAbortHandler is
// re-raised because net/http uses it as a control signal.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger := log.WithComponentFromContext(r.Context(), "api")
				logger.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Msg("handler panic")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
