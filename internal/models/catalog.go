// SPDX-License-Identifier: MIT

// Package models holds the static catalog of video-generation models and the
// style-to-model selection policy. The catalog is loaded once at startup and
// never mutated; ids and costs are part of the public API surface.
package models

// Tier groups models by price band.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierHigh     Tier = "high"
	TierEconomic Tier = "economic"
)

// rank orders tiers for listings: premium first, then high, then economic.
func (t Tier) rank() int {
	switch t {
	case TierPremium:
		return 1
	case TierHigh:
		return 2
	case TierEconomic:
		return 3
	}
	return 4
}

// Model describes one external video-generation backend.
type Model struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	Tier           Tier     `json:"tier" yaml:"tier"`
	CreditsPer5s   int64    `json:"credits_per_5s" yaml:"credits_per_5s"`
	MaxDurationSec int      `json:"max_duration" yaml:"max_duration"`
	Resolutions    []string `json:"resolutions" yaml:"resolutions"`
	AspectRatios   []string `json:"aspect_ratios" yaml:"aspect_ratios"`
	TextToVideo    bool     `json:"supports_text_to_video" yaml:"text_to_video"`
	ImageToVideo   bool     `json:"supports_image_to_video" yaml:"image_to_video"`
	Extendable     bool     `json:"supports_video_extension" yaml:"extendable"`
	Turbo          bool     `json:"turbo" yaml:"turbo"`
	NegativePrompt bool     `json:"supports_negative_prompt" yaml:"negative_prompt"`
}

// Estimate returns the credit cost for generating duration seconds with m,
// along with the duration actually billed (clamped to the model maximum).
// Cost accrues in 5-second blocks, rounded up.
func (m Model) Estimate(durationSec int) (credits int64, billedSec int) {
	if durationSec < 1 {
		durationSec = 1
	}
	if durationSec > m.MaxDurationSec {
		durationSec = m.MaxDurationSec
	}
	segments := int64((durationSec + 4) / 5)
	return m.CreditsPer5s * segments, durationSec
}

// DefaultFallbackModel is the cheapest catalog entry; unknown styles land
// here so submission never fails on a style key.
const DefaultFallbackModel = "wan/2-6-text-to-video"

// DefaultCatalog returns the built-in model table.
func DefaultCatalog() []Model {
	return []Model{
		{
			ID:             "runway-gen3",
			Name:           "Runway Gen-3",
			Tier:           TierHigh,
			CreditsPer5s:   200,
			MaxDurationSec: 10,
			Resolutions:    []string{"720p", "1080p"},
			AspectRatios:   []string{"16:9", "9:16", "1:1", "4:3", "3:4"},
			TextToVideo:    true,
			ImageToVideo:   true,
			Extendable:     true,
		},
		{
			ID:             "veo3",
			Name:           "Google Veo 3.1",
			Tier:           TierPremium,
			CreditsPer5s:   350,
			MaxDurationSec: 8,
			Resolutions:    []string{"720p", "1080p"},
			AspectRatios:   []string{"16:9", "9:16", "1:1"},
			TextToVideo:    true,
			ImageToVideo:   true,
		},
		{
			ID:             "sora-2-pro-text-to-video",
			Name:           "OpenAI Sora 2 Pro",
			Tier:           TierPremium,
			CreditsPer5s:   400,
			MaxDurationSec: 20,
			Resolutions:    []string{"low", "medium", "high"},
			AspectRatios:   []string{"landscape", "portrait", "square"},
			TextToVideo:    true,
		},
		{
			ID:             "kling/v2-1-pro",
			Name:           "Kling v2.1 Pro",
			Tier:           TierHigh,
			CreditsPer5s:   250,
			MaxDurationSec: 10,
			Resolutions:    []string{"720p", "1080p"},
			AspectRatios:   []string{"16:9", "9:16", "1:1"},
			TextToVideo:    true,
			ImageToVideo:   true,
			NegativePrompt: true,
		},
		{
			ID:             "hailuo/2-3-image-to-video-pro",
			Name:           "Hailuo Image-to-Video",
			Tier:           TierEconomic,
			CreditsPer5s:   180,
			MaxDurationSec: 6,
			Resolutions:    []string{"768P"},
			AspectRatios:   []string{"16:9", "9:16"},
			ImageToVideo:   true,
		},
		{
			ID:             "bytedance/v1-pro-text-to-video",
			Name:           "Bytedance v1",
			Tier:           TierEconomic,
			CreditsPer5s:   150,
			MaxDurationSec: 5,
			Resolutions:    []string{"720p"},
			AspectRatios:   []string{"16:9", "9:16"},
			TextToVideo:    true,
		},
		{
			ID:             "wan/2-2-a14b-text-to-video-turbo",
			Name:           "Wan Turbo",
			Tier:           TierEconomic,
			CreditsPer5s:   120,
			MaxDurationSec: 5,
			Resolutions:    []string{"720p"},
			AspectRatios:   []string{"16:9", "9:16"},
			TextToVideo:    true,
			Turbo:          true,
		},
		{
			ID:             "wan/2-6-text-to-video",
			Name:           "Wan 2.6",
			Tier:           TierEconomic,
			CreditsPer5s:   60,
			MaxDurationSec: 10,
			Resolutions:    []string{"720p", "1080p"},
			AspectRatios:   []string{"16:9", "9:16", "1:1"},
			TextToVideo:    true,
			ImageToVideo:   true,
		},
	}
}

// DefaultStyleMap returns the built-in style-to-model defaults. Premium
// rendering is reserved for the handful of styles that need it; everything
// else rides the cheapest model.
func DefaultStyleMap() map[string]string {
	return map[string]string{
		"photorealistic": "runway-gen3",
		"realistic":      "runway-gen3",
		"fantasy_epic":   "runway-gen3",
		"epic":           "runway-gen3",

		"anime_style":       DefaultFallbackModel,
		"anime":             DefaultFallbackModel,
		"stylized":          DefaultFallbackModel,
		"cinematic_realism": DefaultFallbackModel,
		"cinematic":         DefaultFallbackModel,
		"documentary":       DefaultFallbackModel,
		"artistic":          DefaultFallbackModel,
		"fantasy":           DefaultFallbackModel,
		"dramatic":          DefaultFallbackModel,
		"minimalist":        DefaultFallbackModel,
		"simple":            DefaultFallbackModel,
		"fast":              DefaultFallbackModel,
		"social_media":      DefaultFallbackModel,
		"tiktok":            DefaultFallbackModel,
		"reels":             DefaultFallbackModel,
		"shorts":            DefaultFallbackModel,
		"vintage":           DefaultFallbackModel,
		"retro":             DefaultFallbackModel,
		"default":           DefaultFallbackModel,
	}
}
