// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthAlways200(t *testing.T) {
	m := NewManager("v1.2.3")
	m.RegisterChecker(NewPingChecker("store", func(context.Context) error {
		return errors.New("db gone")
	}))

	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("liveness must be 200, got %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Version != "v1.2.3" {
		t.Errorf("version = %q", resp.Version)
	}
	// Non-verbose liveness ignores component state.
	if resp.Status != StatusHealthy {
		t.Errorf("status = %q, want healthy", resp.Status)
	}
}

func TestReady503OnFailingChecker(t *testing.T) {
	m := NewManager("dev")
	m.RegisterChecker(NewPingChecker("store", func(context.Context) error { return nil }))
	m.RegisterChecker(NewQueueChecker("queue", func(context.Context) (int, error) {
		return 0, errors.New("queue closed")
	}))

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var resp ReadinessResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Ready {
		t.Error("ready must be false")
	}
	if resp.Checks["queue"].Status != StatusUnhealthy {
		t.Errorf("queue check = %+v", resp.Checks["queue"])
	}
	if resp.Checks["store"].Status != StatusHealthy {
		t.Errorf("store check = %+v", resp.Checks["store"])
	}
}

func TestReadyOKWhenAllPass(t *testing.T) {
	m := NewManager("dev")
	m.RegisterChecker(NewDirChecker("media_dir", t.TempDir()))
	m.RegisterChecker(NewQueueChecker("queue", func(context.Context) (int, error) { return 7, nil }))

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDirChecker(t *testing.T) {
	if got := NewDirChecker("media_dir", t.TempDir()).Check(context.Background()); got.Status != StatusHealthy {
		t.Errorf("existing dir: %+v", got)
	}
	if got := NewDirChecker("media_dir", "/no/such/dir").Check(context.Background()); got.Status != StatusUnhealthy {
		t.Errorf("missing dir: %+v", got)
	}
	if got := NewDirChecker("media_dir", "").Check(context.Background()); got.Status != StatusUnhealthy {
		t.Errorf("empty path: %+v", got)
	}
}
