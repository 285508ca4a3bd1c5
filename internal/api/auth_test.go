// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genscene/genscene/internal/config"
)

func TestAuthDisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthEnforcedWithToken(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.APIToken = "secret"
	})

	rec := env.request(http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeMap(t, rec)
	assert.Equal(t, "unauthorized", body["error"])
	assert.Equal(t, "invalid api key", body["detail"])

	rec = env.request(http.MethodGet, "/api/v1/stats", nil, http.Header{"X-Api-Key": {"wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(http.MethodGet, "/api/v1/stats", nil, http.Header{"X-Api-Key": {"secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthCoversMutatingRoutes(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.APIToken = "secret"
	})

	rec := env.request(http.MethodPost, "/api/v1/tts", map[string]any{"text": "locked out"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// File serving stays open: media players cannot send custom headers.
	rec = env.request(http.MethodGet, "/files/job/missing.mp4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
