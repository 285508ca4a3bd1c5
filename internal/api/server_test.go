// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genscene/genscene/internal/config"
	"github.com/genscene/genscene/internal/credits"
	"github.com/genscene/genscene/internal/dispatch"
	"github.com/genscene/genscene/internal/health"
	"github.com/genscene/genscene/internal/job"
	"github.com/genscene/genscene/internal/models"
	"github.com/genscene/genscene/internal/pipeline"
	"github.com/genscene/genscene/internal/queue"
	"github.com/genscene/genscene/internal/registry"
	"github.com/genscene/genscene/internal/store"
)

// testEnv wires a server against real collaborators: sqlite store and
// ledger, an in-memory queue, and a dispatcher whose handlers do nothing.
// Workers are never started, so submitted jobs stay queued.
type testEnv struct {
	t       *testing.T
	cfg     config.Config
	server  *Server
	handler http.Handler
	store   *store.Store
	ledger  *credits.Ledger
	reg     *registry.Registry
	models  *models.Registry
	queue   *queue.Memory
	manager *dispatch.Manager
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ledger, err := credits.Open(filepath.Join(dir, "credits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	reg := registry.New(registry.WithoutJanitor())
	catalog, err := models.NewRegistry(models.Config{})
	require.NoError(t, err)

	q := queue.NewMemory(64)
	t.Cleanup(func() { _ = q.Close() })

	noop := func(context.Context, job.Job) error { return nil }
	manager, err := dispatch.New(dispatch.Config{Workers: 1}, dispatch.Deps{
		Store:    st,
		Registry: reg,
		Ledger:   ledger,
		Queue:    q,
		Models:   catalog,
		Handlers: map[job.Type]pipeline.Handler{
			job.TypeQuickCreate:  noop,
			job.TypeFullUniverse: noop,
			job.TypeCompose:      noop,
			job.TypeTTS:          noop,
		},
	})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.APIToken = ""
	cfg.RateLimit.Enabled = false
	cfg.MediaDir = filepath.Join(dir, "media")
	require.NoError(t, os.MkdirAll(cfg.MediaDir, 0o750))
	for _, m := range mutate {
		m(&cfg)
	}

	env := &testEnv{
		t:       t,
		cfg:     cfg,
		store:   st,
		ledger:  ledger,
		reg:     reg,
		models:  catalog,
		queue:   q,
		manager: manager,
	}

	srv, err := New(Deps{
		Settings: func() config.Config { return env.cfg },
		Dispatch: manager,
		Store:    st,
		Registry: reg,
		Ledger:   ledger,
		Models:   catalog,
		Health:   health.NewManager("test"),
	})
	require.NoError(t, err)
	env.server = srv
	env.handler = srv.Handler()
	return env
}

// newServer builds a second server over the same collaborators, used by
// tests that need a non-default Reload hook.
func (e *testEnv) newServer(reload func(context.Context) error) *Server {
	e.t.Helper()
	srv, err := New(Deps{
		Settings: func() config.Config { return e.cfg },
		Dispatch: e.manager,
		Store:    e.store,
		Registry: e.reg,
		Ledger:   e.ledger,
		Models:   e.models,
		Health:   health.NewManager("test"),
		Reload:   reload,
	})
	require.NoError(e.t, err)
	return srv
}

func (e *testEnv) request(method, target string, body any, header ...http.Header) *httptest.ResponseRecorder {
	e.t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range header {
		for k, vs := range h {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m), "body: %s", rec.Body.String())
	return m
}

func TestNewRequiresDeps(t *testing.T) {
	env := newTestEnv(t)

	full := func() Deps {
		return Deps{
			Settings: func() config.Config { return env.cfg },
			Dispatch: env.manager,
			Store:    env.store,
			Registry: env.reg,
			Ledger:   env.ledger,
			Models:   env.models,
			Health:   health.NewManager("test"),
		}
	}

	if _, err := New(full()); err != nil {
		t.Fatalf("complete deps rejected: %v", err)
	}

	cases := []struct {
		name  string
		strip func(*Deps)
	}{
		{"settings", func(d *Deps) { d.Settings = nil }},
		{"dispatch", func(d *Deps) { d.Dispatch = nil }},
		{"store", func(d *Deps) { d.Store = nil }},
		{"registry", func(d *Deps) { d.Registry = nil }},
		{"ledger", func(d *Deps) { d.Ledger = nil }},
		{"models", func(d *Deps) { d.Models = nil }},
		{"health", func(d *Deps) { d.Health = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := full()
			tc.strip(&d)
			_, err := New(d)
			require.Error(t, err)
		})
	}
}

func TestHealthRoutesAreOpen(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) {
		cfg.APIToken = "secret"
	})

	// No X-API-Key on either probe.
	assert.Equal(t, http.StatusOK, env.request(http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, env.request(http.MethodGet, "/readyz", nil).Code)
}

func TestUnknownRouteReturns404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.request(http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
