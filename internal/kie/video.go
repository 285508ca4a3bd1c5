// SPDX-License-Identifier: MIT

package kie

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/genscene/genscene/internal/log"
)

// Endpoint families. The dedicated runway and veo APIs predate the market
// gateway; every other model is provisioned through jobs/createTask.
type family int

const (
	familyRunway family = iota
	familyVeo
	familyMarket
)

const (
	runwayGeneratePath = "/api/v1/runway/generate"
	runwayDetailPath   = "/api/v1/runway/record-detail"
	runwayExtendPath   = "/api/v1/runway/extend"
	veoGeneratePath    = "/api/v1/veo/generate"
	veoDetailPath      = "/api/v1/veo/record-info"
	marketCreatePath   = "/api/v1/jobs/createTask"
	marketDetailPath   = "/api/v1/jobs/recordInfo"
)

// Model ids with dedicated endpoints or custom payload shapes.
const (
	modelRunway    = "runway-gen3"
	modelVeo       = "veo3"
	modelSora      = "sora-2-pro-text-to-video"
	modelKling     = "kling/v2-1-pro"
	modelHailuo    = "hailuo/2-3-image-to-video-pro"
	modelBytedance = "bytedance/v1-pro-text-to-video"
	modelWanTurbo  = "wan/2-2-a14b-text-to-video-turbo"
	modelWan       = "wan/2-6-text-to-video"
)

// VideoRequest describes one generation task. Model takes a catalog id;
// unknown ids ride the runway endpoints. Quality carries the resolution hint
// ("720p", "1080p") or a size band for models that use one.
type VideoRequest struct {
	Model          string
	Prompt         string
	DurationSec    int
	AspectRatio    string
	Quality        string
	ImageURL       string
	NegativePrompt string
	Seed           int64
}

func (r VideoRequest) withDefaults() VideoRequest {
	if r.DurationSec <= 0 {
		r.DurationSec = 5
	}
	if r.AspectRatio == "" {
		r.AspectRatio = "16:9"
	}
	if r.Quality == "" {
		r.Quality = "720p"
	}
	return r
}

// GenerateVideo creates a video task and polls it to completion, returning
// the provider-hosted result URL. Task creation runs behind the circuit
// breaker; while the breaker is open it returns resilience.ErrCircuitOpen.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (videoURL string, err error) {
	start := time.Now()
	defer func() { observeProvider(providerVideo, start, err) }()

	req = req.withDefaults()
	createPath, detailPath, fam := routeFor(req.Model)
	logger := log.WithContext(ctx, c.logger)

	var taskID string
	err = c.breaker.Execute(func() error {
		var cerr error
		taskID, cerr = c.createTask(ctx, createPath, buildPayload(req))
		return cerr
	})
	if err != nil {
		return "", err
	}

	logger.Info().
		Str("event", "kie.video.created").
		Str("model", req.Model).
		Str("task_id", taskID).
		Int("duration_sec", req.DurationSec).
		Msg("video task created")

	return c.pollVideo(ctx, logger, fam, detailPath, taskID)
}

// ExtendVideo continues a finished runway task with a fresh prompt and polls
// the extension to completion. Only the runway backend supports extension.
func (c *Client) ExtendVideo(ctx context.Context, taskID, prompt, quality string) (videoURL string, err error) {
	start := time.Now()
	defer func() { observeProvider(providerVideo, start, err) }()

	if quality == "" {
		quality = "720p"
	}
	payload := map[string]any{
		"taskId":  taskID,
		"prompt":  prompt,
		"quality": quality,
	}

	logger := log.WithContext(ctx, c.logger)

	var newID string
	err = c.breaker.Execute(func() error {
		var cerr error
		newID, cerr = c.createTask(ctx, runwayExtendPath, payload)
		return cerr
	})
	if err != nil {
		return "", err
	}

	logger.Info().
		Str("event", "kie.video.extended").
		Str("task_id", taskID).
		Str("extension_task_id", newID).
		Msg("video extension task created")

	return c.pollVideo(ctx, logger, familyRunway, runwayDetailPath, newID)
}

// pollVideo sleeps one interval then reads the task record, repeating until
// the task reaches a terminal state or the attempt budget runs out. Poll
// transport errors are tolerated and count against the budget.
func (c *Client) pollVideo(ctx context.Context, logger zerolog.Logger, fam family, detailPath, taskID string) (string, error) {
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := c.waitPoll(ctx); err != nil {
			return "", err
		}

		data, err := c.doGET(ctx, detailPath+"?taskId="+url.QueryEscape(taskID))
		if err != nil {
			logger.Debug().Err(err).
				Str("event", "kie.video.poll").
				Int("attempt", attempt).
				Msg("poll attempt failed")
			continue
		}

		resultURL, state := extractResult(fam, data)
		switch state {
		case taskDone:
			logger.Info().
				Str("event", "kie.video.done").
				Str("task_id", taskID).
				Int("attempts", attempt).
				Msg("video ready")
			return resultURL, nil
		case taskFailed:
			return "", fmt.Errorf("video task %s: %w", taskID, ErrTaskFailed)
		}
	}

	return "", fmt.Errorf("video task %s: %w", taskID, ErrPollExhausted)
}

// routeFor maps a model id to its create/detail endpoints. Unknown ids fall
// back to the runway endpoints.
func routeFor(model string) (createPath, detailPath string, fam family) {
	switch model {
	case modelVeo:
		return veoGeneratePath, veoDetailPath, familyVeo
	case modelSora, modelKling, modelHailuo, modelBytedance, modelWanTurbo, modelWan:
		return marketCreatePath, marketDetailPath, familyMarket
	default:
		return runwayGeneratePath, runwayDetailPath, familyRunway
	}
}

// buildPayload translates a request into the body the model's endpoint
// expects. The dedicated APIs take flat camelCase bodies; market models wrap
// a snake_case input object. Durations are clamped to each model's ceiling.
func buildPayload(req VideoRequest) map[string]any {
	switch req.Model {
	case modelVeo:
		p := map[string]any{
			"prompt":      req.Prompt,
			"model":       "veo3",
			"aspectRatio": req.AspectRatio,
		}
		if req.ImageURL != "" {
			p["imageUrls"] = []string{req.ImageURL}
		}
		return p

	case modelSora:
		input := map[string]any{
			"prompt":           req.Prompt,
			"aspect_ratio":     soraAspect(req.AspectRatio),
			"n_frames":         clampStr(req.DurationSec*2, 20),
			"size":             soraSize(req.Quality),
			"remove_watermark": true,
		}
		return marketTask(req.Model, input)

	case modelKling:
		input := map[string]any{
			"prompt":    req.Prompt,
			"duration":  clampStr(req.DurationSec, 10),
			"cfg_scale": 0.5,
		}
		if req.NegativePrompt != "" {
			input["negative_prompt"] = req.NegativePrompt
		}
		if req.ImageURL != "" {
			input["image_url"] = req.ImageURL
		}
		return marketTask(req.Model, input)

	case modelHailuo:
		input := map[string]any{
			"prompt":     req.Prompt,
			"duration":   clampStr(req.DurationSec, 6),
			"resolution": "768P",
		}
		if req.ImageURL != "" {
			input["image_url"] = req.ImageURL
		}
		return marketTask(req.Model, input)

	case modelBytedance:
		input := map[string]any{
			"prompt":       req.Prompt,
			"duration":     clampStr(req.DurationSec, 5),
			"resolution":   req.Quality,
			"aspect_ratio": req.AspectRatio,
			"camera_fixed": false,
		}
		if req.Seed != 0 {
			input["seed"] = req.Seed
		}
		return marketTask(req.Model, input)

	case modelWanTurbo:
		// Turbo runs a fixed clip length; the API rejects duration.
		input := map[string]any{
			"prompt":                  req.Prompt,
			"resolution":              req.Quality,
			"aspect_ratio":            req.AspectRatio,
			"enable_prompt_expansion": false,
		}
		if req.Seed != 0 {
			input["seed"] = req.Seed
		}
		return marketTask(req.Model, input)

	case modelWan:
		input := map[string]any{
			"prompt":       req.Prompt,
			"duration":     clampStr(req.DurationSec, 10),
			"resolution":   req.Quality,
			"aspect_ratio": req.AspectRatio,
		}
		if req.ImageURL != "" {
			input["image_url"] = req.ImageURL
		}
		if req.Seed != 0 {
			input["seed"] = req.Seed
		}
		return marketTask(req.Model, input)

	default: // runway and anything unrecognized
		p := map[string]any{
			"prompt":      req.Prompt,
			"duration":    min(req.DurationSec, 10),
			"quality":     req.Quality,
			"aspectRatio": req.AspectRatio,
			"waterMark":   "",
		}
		if req.ImageURL != "" {
			p["imageUrl"] = req.ImageURL
		}
		return p
	}
}

func marketTask(model string, input map[string]any) map[string]any {
	return map[string]any{"model": model, "input": input}
}

// clampStr caps v at limit and renders it as the decimal string the market
// API expects.
func clampStr(v, limit int) string {
	return strconv.Itoa(min(v, limit))
}

func soraAspect(ratio string) string {
	switch ratio {
	case "16:9":
		return "landscape"
	case "9:16":
		return "portrait"
	case "1:1":
		return "square"
	default:
		return "landscape"
	}
}

func soraSize(quality string) string {
	if quality == "1080p" || quality == "high" {
		return "high"
	}
	return "medium"
}

type taskState int

const (
	taskPending taskState = iota
	taskDone
	taskFailed
)

// extractResult reads a task record and classifies it. Unknown states and
// success records without a URL yet count as pending, so polling continues.
func extractResult(fam family, data json.RawMessage) (string, taskState) {
	switch fam {
	case familyRunway:
		var p struct {
			State     string `json:"state"`
			VideoInfo struct {
				VideoURL string `json:"videoUrl"`
			} `json:"videoInfo"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return "", taskPending
		}
		switch p.State {
		case "success":
			if p.VideoInfo.VideoURL != "" {
				return p.VideoInfo.VideoURL, taskDone
			}
		case "fail":
			return "", taskFailed
		}
		return "", taskPending

	case familyVeo:
		var p struct {
			Status   string `json:"status"`
			Response struct {
				VideoURL string `json:"videoUrl"`
			} `json:"response"`
		}
		if err := json.Unmarshal(data, &p); err != nil {
			return "", taskPending
		}
		switch p.Status {
		case "SUCCESS":
			if p.Response.VideoURL != "" {
				return p.Response.VideoURL, taskDone
			}
		case "FAILED":
			return "", taskFailed
		}
		return "", taskPending

	default:
		return extractMarketResult(data)
	}
}

func extractMarketResult(data json.RawMessage) (string, taskState) {
	var p struct {
		State      string          `json:"state"`
		ResultJSON string          `json:"resultJson"`
		Output     json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return "", taskPending
	}
	switch p.State {
	case "success":
		if u := marketResultURL(p.ResultJSON, p.Output); u != "" {
			return u, taskDone
		}
		return "", taskPending
	case "failed", "fail":
		return "", taskFailed
	}
	return "", taskPending
}

// marketResultURL digs the video URL out of a finished market record.
// resultJson is a JSON document embedded as a string; older records carry a
// plain output object instead.
func marketResultURL(resultJSON string, output json.RawMessage) string {
	if resultJSON != "" {
		var parsed struct {
			ResultURLs []string `json:"resultUrls"`
		}
		if err := json.Unmarshal([]byte(resultJSON), &parsed); err == nil && len(parsed.ResultURLs) > 0 {
			return parsed.ResultURLs[0]
		}
	}

	if len(output) == 0 {
		return ""
	}
	var out struct {
		VideoURL      string `json:"video_url"`
		VideoURLCamel string `json:"videoUrl"`
		Videos        []struct {
			URL string `json:"url"`
		} `json:"videos"`
	}
	if err := json.Unmarshal(output, &out); err != nil {
		return ""
	}
	switch {
	case out.VideoURL != "":
		return out.VideoURL
	case out.VideoURLCamel != "":
		return out.VideoURLCamel
	case len(out.Videos) > 0:
		return out.Videos[0].URL
	}
	return ""
}
