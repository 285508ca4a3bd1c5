// SPDX-License-Identifier: MIT

// Package pipeline implements the job handlers: each drives one job type
// through its named phases, publishing progress to the registry, mirroring
// it to the store, and producing artifacts under the job's media directory.
// Provider adapters are failure-tolerant; every phase that depends on one
// has a local fallback, so handlers return errors only for faults that make
// the job itself worthless.
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/genscene/genscene/internal/config"
	"github.com/genscene/genscene/internal/job"
	"github.com/genscene/genscene/internal/kie"
	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/models"
	"github.com/genscene/genscene/internal/registry"
	"github.com/genscene/genscene/internal/store"
)

// Handler processes one job to completion. A returned error marks the job
// failed and triggers the refund path; cancellation arrives through ctx.
type Handler func(ctx context.Context, j job.Job) error

// ImageGenerator produces a still image for a prompt and returns its URL.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// VideoGenerator produces a video clip and returns its URL.
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, req kie.VideoRequest) (string, error)
}

// Encoder is the local media toolbox the handlers drive.
type Encoder interface {
	SolidColorImage(ctx context.Context, color string, width, height int, out string) error
	CropCover(ctx context.Context, path string, width, height int) error
	LoopImageToVideo(ctx context.Context, img, out string, seconds, width, height int) error
	MuxAudio(ctx context.Context, video, audio string) error
}

// Deps carries the adapters and stores the handlers need. Images and Videos
// may be nil (no API key configured); a nil adapter behaves like an
// unavailable provider and the handler takes its fallback path.
type Deps struct {
	Registry *registry.Registry
	Store    *store.Store
	Models   *models.Registry
	Images   ImageGenerator
	Videos   VideoGenerator
	Encoder  Encoder

	// Settings returns the current configuration; wired to the holder so
	// soundtrack map, public base URL, outbound policy, and cache limits
	// follow hot reloads.
	Settings func() config.Config

	// MediaDir is the root of per-job artifact directories; AssetsDir holds
	// cached download blobs keyed by hash.
	MediaDir  string
	AssetsDir string

	// Downloader fetches provider artifacts and soundtracks. Nil selects a
	// shared hardened client with a generous timeout for large media.
	Downloader *http.Client

	// ScaffoldUnit scales the simulated work pauses in the scaffold
	// pipelines. Zero disables pausing; production wiring uses time.Second.
	ScaffoldUnit time.Duration
}

// Handlers returns the dispatch table keyed by job type.
func Handlers(d Deps) map[job.Type]Handler {
	return map[job.Type]Handler{
		job.TypeQuickCreate:  d.QuickCreate,
		job.TypeFullUniverse: d.FullUniverse,
		job.TypeCompose:      d.Compose,
		job.TypeTTS:          d.TTS,
	}
}

// publish advances progress in the registry and mirrors it to the store.
// Mirror failures are logged, not fatal: while the process lives the
// registry is authoritative, and the next phase retries the write anyway.
func (d Deps) publish(ctx context.Context, j job.Job, progress int, phase string) {
	d.Registry.SetProgress(j.ID, progress, phase)
	if err := d.Store.UpsertJob(ctx, j.ID, job.StateProcessing, progress, j.Type, j.Payload); err != nil {
		logger := log.WithComponentFromContext(ctx, "pipeline")
		logger.Warn().
			Err(err).
			Str("job_id", j.ID).
			Int("progress", progress).
			Msg("progress mirror failed")
	}
}

// jobDir creates and returns the job's artifact directory.
func (d Deps) jobDir(id string) (string, error) {
	dir := filepath.Join(d.MediaDir, id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	return dir, nil
}

// publicFileURL builds the externally served URL for a job artifact.
func (d Deps) publicFileURL(jobID, name string) string {
	base := strings.TrimRight(d.Settings().PublicBaseURL, "/")
	return base + "/files/" + jobID + "/" + name
}

// fileURL is the API-relative form used in job metadata.
func fileURL(jobID, name string) string {
	return "/files/" + jobID + "/" + name
}

// pause sleeps n scaffold units, honoring ctx. No-op when ScaffoldUnit is
// zero.
func (d Deps) pause(ctx context.Context, n float64) error {
	if d.ScaffoldUnit <= 0 || n <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(n * float64(d.ScaffoldUnit)))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
