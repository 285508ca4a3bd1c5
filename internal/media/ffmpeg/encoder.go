// SPDX-License-Identifier: MIT

// Package ffmpeg wraps the ffmpeg binary for the pipeline's local media
// primitives: placeholder frames, portrait crops, image-loop videos, and
// soundtrack muxing. Every run is synchronous and bounded by the caller's
// context; cancellation kills the process.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/genscene/genscene/internal/log"
)

// Encoder runs ffmpeg with per-primitive argument builders.
type Encoder struct {
	binPath string
	logger  zerolog.Logger
}

// New creates an encoder using the given ffmpeg binary path.
func New(binPath string) *Encoder {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &Encoder{
		binPath: binPath,
		logger:  log.WithComponent("ffmpeg"),
	}
}

// run executes ffmpeg with the given args. Stderr is captured and folded
// into the returned error because ffmpeg reports everything there.
func (e *Encoder) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, e.binPath, args...) // #nosec G204 -- binPath comes from config, args are built internally

	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	e.logger.Debug().
		Str("event", "ffmpeg.run").
		Strs("args", args).
		Msg("running ffmpeg")

	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > 512 {
			tail = tail[len(tail)-512:]
		}
		return fmt.Errorf("ffmpeg %v: %w: %s", args[:min(len(args), 4)], err, tail)
	}
	return nil
}

// SolidColorImage renders a single solid-color frame, used as the concept
// placeholder when image generation is unavailable.
func (e *Encoder) SolidColorImage(ctx context.Context, color string, width, height int, out string) error {
	return e.run(ctx, solidColorArgs(color, width, height, out))
}

// CropCover rescales then center-crops the image at path to width x height,
// replacing the original atomically. Matches the portrait treatment for
// 9:16 outputs: scale to target height, crop to target width.
func (e *Encoder) CropCover(ctx context.Context, path string, width, height int) error {
	tmp := tempSibling(path, ".crop")
	if err := e.run(ctx, cropArgs(path, width, height, tmp)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swap cropped image: %w", err)
	}
	return nil
}

// LoopImageToVideo turns a still image into an H.264 video of the given
// duration. The render fallback when the upstream video provider fails.
func (e *Encoder) LoopImageToVideo(ctx context.Context, img, out string, seconds, width, height int) error {
	return e.run(ctx, loopArgs(img, out, seconds, width, height))
}

// MuxAudio muxes the audio file onto the video (video stream copied, audio
// re-encoded to AAC, output trimmed to the shorter stream) and replaces the
// video atomically.
func (e *Encoder) MuxAudio(ctx context.Context, video, audio string) error {
	tmp := tempSibling(video, ".mux")
	if err := e.run(ctx, muxArgs(video, audio, tmp)); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, video); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("swap muxed video: %w", err)
	}
	return nil
}

func solidColorArgs(color string, width, height int, out string) []string {
	return []string{
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d:d=0.1", color, width, height),
		"-frames:v", "1",
		"-y", out,
	}
}

func cropArgs(in string, width, height int, out string) []string {
	return []string{
		"-i", in,
		"-vf", fmt.Sprintf("scale=-1:%d,crop=%d:%d", height, width, height),
		"-y", out,
	}
}

func loopArgs(img, out string, seconds, width, height int) []string {
	return []string{
		"-loop", "1",
		"-i", img,
		"-c:v", "libx264",
		"-t", strconv.Itoa(seconds),
		"-pix_fmt", "yuv420p",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-y", out,
	}
}

func muxArgs(video, audio, out string) []string {
	return []string{
		"-i", video,
		"-i", audio,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-y", out,
	}
}

// tempSibling returns a temp path in the same directory as path so the final
// rename stays on one filesystem.
func tempSibling(path, tag string) string {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := filepath.Base(path)
	return filepath.Join(dir, base[:len(base)-len(ext)]+tag+".tmp"+ext)
}
