// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreditBalanceUnknownUserIsZero(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v1/credits/nobody", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "nobody", body["user_id"])
	assert.EqualValues(t, 0, body["balance"])
}

func TestCreditTopupAndHistory(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodPost, "/api/v1/credits/u1/topup", map[string]any{
		"amount":      250,
		"description": "promo",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 250, decodeMap(t, rec)["balance"])

	rec = env.request(http.MethodPost, "/api/v1/credits/u1/topup", map[string]any{"amount": 100})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 350, decodeMap(t, rec)["balance"])

	rec = env.request(http.MethodGet, "/api/v1/credits/u1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "u1", body["user_id"])
	txs, _ := body["transactions"].([]any)
	require.Len(t, txs, 2)

	// Newest first; the second topup used the default description.
	newest, _ := txs[0].(map[string]any)
	assert.EqualValues(t, 100, newest["delta"])
	assert.Equal(t, "topup", newest["type"])
	assert.Equal(t, "Manual topup", newest["description"])
	oldest, _ := txs[1].(map[string]any)
	assert.EqualValues(t, 250, oldest["delta"])
	assert.Equal(t, "promo", oldest["description"])

	rec = env.request(http.MethodGet, "/api/v1/credits/u1/history?limit=1", nil)
	txs, _ = decodeMap(t, rec)["transactions"].([]any)
	assert.Len(t, txs, 1)
}

func TestCreditTopupValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, amount := range []int{0, -50} {
		rec := env.request(http.MethodPost, "/api/v1/credits/u1/topup", map[string]any{"amount": amount})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "amount must be positive", decodeMap(t, rec)["detail"])
	}

	rec := env.request(http.MethodGet, "/api/v1/credits/u1/history?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
