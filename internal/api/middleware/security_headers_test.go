// SPDX-License-Identifier: MIT

package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func securityProbe(t *testing.T, csp string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	h := SecurityHeaders(csp)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSecurityHeadersDefaults(t *testing.T) {
	rec := securityProbe(t, "", nil)

	assert.Equal(t, DefaultCSP, rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"), "no HSTS on plain HTTP")
}

func TestSecurityHeadersCustomCSP(t *testing.T) {
	rec := securityProbe(t, "default-src 'none'", nil)
	assert.Equal(t, "default-src 'none'", rec.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeadersHSTSOverTLS(t *testing.T) {
	rec := securityProbe(t, "", func(r *http.Request) {
		r.TLS = &tls.ConnectionState{}
	})
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=")
}

func TestSecurityHeadersHSTSBehindProxy(t *testing.T) {
	rec := securityProbe(t, "", func(r *http.Request) {
		r.Header.Set("X-Forwarded-Proto", "HTTPS")
	})
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "includeSubDomains")
}
