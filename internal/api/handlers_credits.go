// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/genscene/genscene/internal/credits"
	"github.com/genscene/genscene/internal/log"
)

// handleCreditBalance serves GET /api/v1/credits/{user}. Unknown users read
// as zero balance rather than 404, matching ledger semantics.
func (s *Server) handleCreditBalance(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	balance, err := s.ledger.Balance(r.Context(), user)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user,
		"balance": balance,
	})
}

// handleCreditHistory serves GET /api/v1/credits/{user}/history?limit=,
// newest first.
func (s *Server) handleCreditHistory(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	txs, err := s.ledger.History(r.Context(), user, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      user,
		"transactions": txs,
	})
}

type topupRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

// handleCreditTopup serves POST /api/v1/credits/{user}/topup. The account is
// created on first touch.
func (s *Server) handleCreditTopup(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	var req topupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "amount must be positive")
		return
	}
	desc := req.Description
	if desc == "" {
		desc = "Manual topup"
	}

	if err := s.ledger.Credit(r.Context(), user, req.Amount, credits.TxTopup, "", desc); err != nil {
		respondError(w, r, err)
		return
	}

	balance, err := s.ledger.Balance(r.Context(), user)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	logger.Info().
		Str("event", "credits.topup").
		Str("user_id", user).
		Int64("amount", req.Amount).
		Int64("balance", balance).
		Msg("credits topped up")

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user,
		"balance": balance,
	})
}
