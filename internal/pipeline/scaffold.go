// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"

	"github.com/genscene/genscene/internal/job"
	"github.com/genscene/genscene/internal/store"
)

// The scaffold pipelines walk fixed phase tables without external calls.
// Pauses simulate work so progress is observable; ScaffoldUnit scales them.

type phaseStep struct {
	progress int
	label    string
	weight   float64
}

func (d Deps) runPhases(ctx context.Context, j job.Job, steps []phaseStep) error {
	for _, s := range steps {
		d.publish(ctx, j, s.progress, s.label)
		if err := d.pause(ctx, s.weight); err != nil {
			return err
		}
	}
	return nil
}

// QuickCreate is the baseline single-video pipeline.
func (d Deps) QuickCreate(ctx context.Context, j job.Job) error {
	d.pendingRender(ctx, j.ID, "output")

	steps := []phaseStep{
		{10, "script", 2},
		{30, "scenes", 3},
		{60, "render", 5},
		{90, "audio", 2},
		{100, "finalize", 1},
	}
	if err := d.runPhases(ctx, j, steps); err != nil {
		return err
	}

	outputURL := fileURL(j.ID, "output.mp4")
	d.Registry.SetMeta(j.ID, "output_url", outputURL)
	_ = d.Store.UpsertRender(ctx, store.Render{
		JobID:  j.ID,
		ItemID: "output",
		URL:    outputURL,
		Status: store.RenderCompleted,
	})
	return nil
}

// Compose assembles previously generated clips into one video.
func (d Deps) Compose(ctx context.Context, j job.Job) error {
	steps := []phaseStep{
		{20, "assets", 2},
		{40, "transitions", 3},
		{60, "audio", 3},
		{80, "grading", 2},
		{100, "finalize", 2},
	}
	if err := d.runPhases(ctx, j, steps); err != nil {
		return err
	}

	d.Registry.SetMeta(j.ID, "output_url", fileURL(j.ID, "composed.mp4"))
	return nil
}

// TTS converts payload text to speech. The estimated duration scales with
// text length at roughly 150 characters per second of audio.
func (d Deps) TTS(ctx context.Context, j job.Job) error {
	text := j.Payload.Text()
	estimated := float64(len(text)) / 150.0
	if estimated < 1 {
		estimated = 1
	}

	d.publish(ctx, j, 30, "converting")
	if err := d.pause(ctx, estimated/2); err != nil {
		return err
	}

	d.publish(ctx, j, 80, "optimizing")
	if err := d.pause(ctx, estimated/2); err != nil {
		return err
	}

	d.Registry.MergeMeta(j.ID, map[string]any{
		"audio_url": fileURL(j.ID, "speech.wav"),
		"duration":  estimated,
	})
	d.publish(ctx, j, 100, "")
	return nil
}
