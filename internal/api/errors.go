// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/genscene/genscene/internal/credits"
	"github.com/genscene/genscene/internal/dispatch"
	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/queue"
)

// errorResponse is the JSON error envelope used by every endpoint.
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope with a machine-readable code and an
// optional human-readable detail.
func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorResponse{Error: code, Detail: detail})
}

// respondError maps domain sentinel errors onto HTTP statuses. Unknown
// errors become a 500 with a generic detail so internal traces never leak.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dispatch.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, credits.ErrInsufficient):
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	case errors.Is(err, dispatch.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, dispatch.ErrNotCancellable):
		writeError(w, http.StatusConflict, "not_cancellable", err.Error())
	case errors.Is(err, queue.ErrFull):
		writeError(w, http.StatusServiceUnavailable, "queue_full", "job queue is at capacity, retry later")
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error")
	}
}

// decodeBody decodes a bounded JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return false
	}
	return true
}

// maxBodyBytes bounds request bodies; compose specs are the largest
// expected payloads and stay far below this.
const maxBodyBytes = 1 << 20
