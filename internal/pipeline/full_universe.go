// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/genscene/genscene/internal/job"
	"github.com/genscene/genscene/internal/kie"
	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/metrics"
	"github.com/genscene/genscene/internal/models"
	"github.com/genscene/genscene/internal/store"
)

const (
	conceptFile = "concept.jpg"
	universeOut = "universe_complete.mp4"
	audioFile   = "soundtrack.mp3"

	// placeholderColor fills the concept frame when image generation fails.
	placeholderColor = "blue"

	// universeClipSec is the clip length requested from providers. Billing
	// runs in 5-second blocks, so the shortest block keeps cost minimal.
	universeClipSec = 5

	// fallbackLoopSec is the length of the image-loop video when no
	// provider clip could be produced.
	fallbackLoopSec = 30
)

// universeRequest is the typed view of a full-universe submission. Sibling
// ids are minted at submission and ride in the payload; absent ids (legacy
// rows) are generated here.
type universeRequest struct {
	IdeaText      string `json:"idea_text"`
	StyleKey      string `json:"style_key"`
	VideoModel    string `json:"video_model"`
	VideoDuration int    `json:"video_duration"`
	VideoQuality  string `json:"video_quality"`
	AspectRatio   string `json:"aspect_ratio"`
	EpisodeID     string `json:"episode_id"`
	SeriesID      string `json:"series_id"`
	CharacterID   string `json:"character_id"`
}

func (r *universeRequest) applyDefaults() {
	if r.VideoDuration <= 0 {
		r.VideoDuration = universeClipSec
	}
	if r.VideoQuality == "" {
		r.VideoQuality = "720p"
	}
	if r.AspectRatio == "" {
		r.AspectRatio = "9:16"
	}
	if r.EpisodeID == "" {
		r.EpisodeID = job.SiblingID("ep")
	}
	if r.SeriesID == "" {
		r.SeriesID = job.SiblingID("sr")
	}
	if r.CharacterID == "" {
		r.CharacterID = job.SiblingID("ch")
	}
}

// dimensions maps an aspect ratio to output pixel dimensions.
func dimensions(aspect string) (width, height int) {
	switch aspect {
	case "16:9":
		return 1280, 720
	case "1:1":
		return 720, 720
	default: // 9:16 vertical
		return 720, 1280
	}
}

// FullUniverse runs the flagship pipeline: concept image, aspect
// normalization, video generation, soundtrack mix, finalize. Provider
// failures degrade phase by phase; only local encoder faults fail the job.
func (d Deps) FullUniverse(ctx context.Context, j job.Job) error {
	logger := log.WithComponentFromContext(ctx, "pipeline")

	var req universeRequest
	if err := j.Payload.Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	req.applyDefaults()

	width, height := dimensions(req.AspectRatio)
	model := d.Models.Resolve(req.StyleKey, req.VideoModel)

	dir, err := d.jobDir(j.ID)
	if err != nil {
		return err
	}

	d.Registry.MergeMeta(j.ID, map[string]any{
		"video_model": model.ID,
		"video_model_info": map[string]any{
			"name": model.Name,
			"tier": string(model.Tier),
		},
		"style_key":    req.StyleKey,
		"aspect_ratio": req.AspectRatio,
		"dimensions":   fmt.Sprintf("%dx%d", width, height),
	})

	// Phase 1: concept image.
	d.publish(ctx, j, 10, "dreaming concept")
	conceptPath := filepath.Join(dir, conceptFile)
	imageURL, err := d.conceptImage(ctx, j, req.IdeaText, width, height, conceptPath)
	if err != nil {
		return err
	}

	// Phase 1.5: vertical output needs an exactly 720x1280 source frame.
	// After a successful crop the local file is authoritative, so the
	// provider-facing URL switches to our served copy.
	if req.AspectRatio == "9:16" && fileExists(conceptPath) {
		if err := d.Encoder.CropCover(ctx, conceptPath, width, height); err != nil {
			logger.Warn().Err(err).Str("job_id", j.ID).Msg("aspect crop failed, keeping source image")
		} else {
			imageURL = d.publicFileURL(j.ID, conceptFile)
		}
	}
	d.completeRender(ctx, j.ID, "concept", conceptPath, "")

	// Phase 2: video generation.
	d.publish(ctx, j, 50, "generating video")
	videoPath := filepath.Join(dir, universeOut)
	if err := d.universeVideo(ctx, j, req, model, imageURL, conceptPath, videoPath, width, height); err != nil {
		return err
	}

	// Phase 3: soundtrack. Failures here never fail the job.
	d.publish(ctx, j, 80, "adding soundtrack")
	d.addSoundtrack(ctx, j, req.StyleKey, filepath.Join(dir, audioFile), videoPath)

	// Phase 4: finalize.
	d.Registry.MergeMeta(j.ID, map[string]any{
		"character_id":  req.CharacterID,
		"episode_id":    req.EpisodeID,
		"series_id":     req.SeriesID,
		"output_url":    fileURL(j.ID, universeOut),
		"character_url": fileURL(j.ID, "character.json"),
		"episode_url":   fileURL(j.ID, "episode.json"),
		"series_url":    fileURL(j.ID, "series.json"),
	})
	d.publish(ctx, j, 100, "")
	return nil
}

// conceptImage produces the concept still at dest and returns the URL the
// video phase should reference, which is the provider URL when generation
// succeeded and empty for a synthesized placeholder. A placeholder that
// cannot be rendered is fatal.
func (d Deps) conceptImage(ctx context.Context, j job.Job, idea string, width, height int, dest string) (string, error) {
	logger := log.WithComponentFromContext(ctx, "pipeline")
	d.pendingRender(ctx, j.ID, "concept")

	if d.Images != nil {
		prompt := "Cinematic shot, masterpiece: " + idea
		imageURL, err := d.Images.GenerateImage(ctx, prompt)
		if err == nil {
			if _, _, err = d.fetch(ctx, imageURL, dest); err == nil {
				return imageURL, nil
			}
		}
		logger.Warn().Err(err).Str("job_id", j.ID).Msg("concept generation failed, using placeholder")
	}

	metrics.IncPipelineFallback("concept")
	if err := d.Encoder.SolidColorImage(ctx, placeholderColor, width, height, dest); err != nil {
		d.errorRender(ctx, j.ID, "concept")
		return "", fmt.Errorf("placeholder image: %w", err)
	}
	return "", nil
}

// universeVideo fills videoPath with either a provider clip or the
// image-loop fallback and records which source won in the job metadata.
func (d Deps) universeVideo(ctx context.Context, j job.Job, req universeRequest, model models.Model, imageURL, conceptPath, videoPath string, width, height int) error {
	logger := log.WithComponentFromContext(ctx, "pipeline")
	d.pendingRender(ctx, j.ID, "video")

	if d.Videos != nil && imageURL != "" {
		vreq := kie.VideoRequest{
			Model:       model.ID,
			Prompt:      "Cinematic motion, slow camera movement: " + req.IdeaText,
			DurationSec: universeClipSec,
			AspectRatio: req.AspectRatio,
			Quality:     req.VideoQuality,
		}
		if model.ImageToVideo {
			vreq.ImageURL = imageURL
		}

		videoURL, err := d.Videos.GenerateVideo(ctx, vreq)
		if err == nil {
			if _, _, err = d.fetch(ctx, videoURL, videoPath); err == nil {
				d.Registry.SetMeta(j.ID, "video_source", "ai_generated")
				d.completeRender(ctx, j.ID, "video", videoPath, req.VideoQuality)
				return nil
			}
		}
		logger.Warn().Err(err).
			Str("job_id", j.ID).
			Str("model", model.ID).
			Msg("video generation failed, using image loop")
	}

	metrics.IncPipelineFallback("video")
	d.Registry.SetMeta(j.ID, "video_source", "image_loop_fallback")
	if err := d.Encoder.LoopImageToVideo(ctx, conceptPath, videoPath, fallbackLoopSec, width, height); err != nil {
		d.errorRender(ctx, j.ID, "video")
		return fmt.Errorf("image loop fallback: %w", err)
	}
	d.completeRender(ctx, j.ID, "video", videoPath, req.VideoQuality)
	return nil
}

// addSoundtrack downloads the style's soundtrack and muxes it under the
// video. Every failure is swallowed: a silent video is still a success.
func (d Deps) addSoundtrack(ctx context.Context, j job.Job, styleKey, audioPath, videoPath string) {
	logger := log.WithComponentFromContext(ctx, "pipeline")
	d.pendingRender(ctx, j.ID, "soundtrack")

	audioURL := d.Settings().SoundtrackFor(styleKey)
	if err := d.cachedFetch(ctx, audioURL, audioPath); err != nil {
		logger.Warn().Err(err).Str("job_id", j.ID).Str("style", styleKey).Msg("soundtrack download failed, keeping silent video")
		metrics.IncPipelineFallback("soundtrack")
		d.errorRender(ctx, j.ID, "soundtrack")
		return
	}

	if !fileExists(videoPath) {
		metrics.IncPipelineFallback("soundtrack")
		d.errorRender(ctx, j.ID, "soundtrack")
		return
	}

	if err := d.Encoder.MuxAudio(ctx, videoPath, audioPath); err != nil {
		logger.Warn().Err(err).Str("job_id", j.ID).Msg("audio mux failed, keeping silent video")
		metrics.IncPipelineFallback("soundtrack")
		d.errorRender(ctx, j.ID, "soundtrack")
		return
	}
	d.completeRender(ctx, j.ID, "soundtrack", audioPath, "")
}

// Render row helpers. Row writes are best-effort bookkeeping; a failing
// write is logged by the store caller and never interrupts a phase.

func (d Deps) pendingRender(ctx context.Context, jobID, item string) {
	_ = d.Store.UpsertRender(ctx, store.Render{JobID: jobID, ItemID: item, Status: store.RenderPending})
}

func (d Deps) completeRender(ctx context.Context, jobID, item, path, quality string) {
	hash, err := fileSHA256(path)
	if err != nil {
		hash = ""
	}
	_ = d.Store.UpsertRender(ctx, store.Render{
		JobID:   jobID,
		ItemID:  item,
		Hash:    hash,
		Quality: quality,
		URL:     fileURL(jobID, filepath.Base(path)),
		Status:  store.RenderCompleted,
	})
}

func (d Deps) errorRender(ctx context.Context, jobID, item string) {
	_ = d.Store.UpsertRender(ctx, store.Render{JobID: jobID, ItemID: item, Status: store.RenderError})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
