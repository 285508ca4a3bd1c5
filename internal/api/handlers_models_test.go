// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genscene/genscene/internal/models"
)

func TestListModels(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v1/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeMap(t, rec)

	list, _ := body["models"].([]any)
	require.NotEmpty(t, list)
	first, _ := list[0].(map[string]any)
	assert.NotEmpty(t, first["id"])
	assert.NotEmpty(t, first["tier"])

	assert.Equal(t, models.DefaultFallbackModel, body["fallback"])
	styles, _ := body["style_defaults"].(map[string]any)
	assert.NotEmpty(t, styles)
}

func TestModelEstimate(t *testing.T) {
	env := newTestEnv(t)
	m := env.models.Fallback()

	// Model ids contain slashes, so they must ride the query string.
	target := "/api/v1/models/estimate?duration=12&model=" + url.QueryEscape(m.ID)
	rec := env.request(http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	wantCost, wantBilled := m.Estimate(12)
	body := decodeMap(t, rec)
	assert.Equal(t, m.ID, body["model"])
	assert.EqualValues(t, wantBilled, body["duration_sec"])
	assert.EqualValues(t, wantCost, body["credits"])
	assert.Equal(t, string(m.Tier), body["tier"])
}

func TestModelEstimateValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v1/models/estimate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(http.MethodGet, "/api/v1/models/estimate?model=no-such-model", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "unknown model no-such-model", decodeMap(t, rec)["detail"])

	id := url.QueryEscape(env.models.Fallback().ID)
	for _, bad := range []string{"0", "-2", "abc"} {
		rec = env.request(http.MethodGet, "/api/v1/models/estimate?model="+id+"&duration="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}
