// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/genscene/genscene/internal/config"
	"github.com/genscene/genscene/internal/job"
	"github.com/genscene/genscene/internal/kie"
	"github.com/genscene/genscene/internal/models"
	"github.com/genscene/genscene/internal/registry"
	"github.com/genscene/genscene/internal/store"
)

// testEnv wires a full handler dependency set against temp dirs, a temp
// sqlite store, and a fake encoder.
type testEnv struct {
	deps    Deps
	store   *store.Store
	reg     *registry.Registry
	encoder *fakeEncoder
	cfg     config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "genscene.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := registry.New(registry.WithoutJanitor())

	mdl, err := models.NewRegistry(models.Config{})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Outbound.AllowInsecureLoopback = true
	// Keep tests offline: no built-in soundtrack URLs. Tests that exercise
	// the soundtrack phase point these at a local server.
	cfg.Soundtracks = config.Soundtracks{}

	env := &testEnv{
		store:   st,
		reg:     reg,
		encoder: &fakeEncoder{},
		cfg:     cfg,
	}
	env.deps = Deps{
		Registry:  reg,
		Store:     st,
		Models:    mdl,
		Encoder:   env.encoder,
		Settings:  func() config.Config { return env.cfg },
		MediaDir:  t.TempDir(),
		AssetsDir: t.TempDir(),
	}
	return env
}

// install registers a fresh processing job the way the dispatcher would
// before invoking a handler.
func (e *testEnv) install(t *testing.T, typ job.Type, payload job.Payload) job.Job {
	t.Helper()
	id := job.NewID(typ)
	e.reg.Install(id, typ, job.StateProcessing, 0)
	return job.Job{ID: id, Type: typ, Payload: payload}
}

func (e *testEnv) record(t *testing.T, id string) registry.Record {
	t.Helper()
	rec, ok := e.reg.Get(id)
	require.True(t, ok, "registry record for %s", id)
	return rec
}

func (e *testEnv) renderStatus(t *testing.T, jobID, item string) store.RenderStatus {
	t.Helper()
	renders, err := e.store.ListRenders(context.Background(), jobID)
	require.NoError(t, err)
	for _, r := range renders {
		if r.ItemID == item {
			return r.Status
		}
	}
	t.Fatalf("no %q render for %s", item, jobID)
	return ""
}

// artifactServer serves fixed bodies by path for download tests.
func artifactServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

// fakeEncoder implements Encoder by writing marker files.
type fakeEncoder struct {
	mu    sync.Mutex
	calls []string

	failSolid bool
	failCrop  bool
	failLoop  bool
	failMux   bool
}

func (f *fakeEncoder) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeEncoder) called(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == name {
			return true
		}
	}
	return false
}

func (f *fakeEncoder) SolidColorImage(_ context.Context, _ string, _, _ int, out string) error {
	f.record("solid")
	if f.failSolid {
		return errors.New("solid color failed")
	}
	return os.WriteFile(out, []byte("placeholder-image"), 0o644)
}

func (f *fakeEncoder) CropCover(_ context.Context, path string, _, _ int) error {
	f.record("crop")
	if f.failCrop {
		return errors.New("crop failed")
	}
	return os.WriteFile(path, []byte("cropped-image"), 0o644)
}

func (f *fakeEncoder) LoopImageToVideo(_ context.Context, _, out string, _, _, _ int) error {
	f.record("loop")
	if f.failLoop {
		return errors.New("loop failed")
	}
	return os.WriteFile(out, []byte("loop-video"), 0o644)
}

func (f *fakeEncoder) MuxAudio(_ context.Context, video, _ string) error {
	f.record("mux")
	if f.failMux {
		return errors.New("mux failed")
	}
	return os.WriteFile(video, []byte("muxed-video"), 0o644)
}

// imageFunc and videoFunc adapt closures to the generator interfaces.
type imageFunc func(ctx context.Context, prompt string) (string, error)

func (f imageFunc) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type videoFunc func(ctx context.Context, req kie.VideoRequest) (string, error)

func (f videoFunc) GenerateVideo(ctx context.Context, req kie.VideoRequest) (string, error) {
	return f(ctx, req)
}
