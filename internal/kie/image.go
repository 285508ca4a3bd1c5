// SPDX-License-Identifier: MIT

package kie

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/genscene/genscene/internal/log"
)

const (
	imageGeneratePath = "/api/v1/gpt4o-image/generate"
	imageResultPath   = "/api/v1/gpt4o-image/result/"
)

// GenerateImage submits a gpt4o-image task for prompt and polls until the
// provider publishes a result URL. The returned URL points at provider
// storage; callers download it through the outbound URL policy.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (imageURL string, err error) {
	start := time.Now()
	defer func() { observeProvider(providerImage, start, err) }()

	taskID, err := c.createTask(ctx, imageGeneratePath, map[string]string{"prompt": prompt})
	if err != nil {
		return "", err
	}

	logger := log.WithContext(ctx, c.logger)
	logger.Debug().
		Str("event", "kie.image.created").
		Str("task_id", taskID).
		Msg("image task created")

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if err := c.waitPoll(ctx); err != nil {
			return "", err
		}

		data, err := c.doGET(ctx, imageResultPath+url.PathEscape(taskID))
		if err != nil {
			logger.Debug().Err(err).
				Str("event", "kie.image.poll").
				Int("attempt", attempt).
				Msg("poll attempt failed")
			continue
		}

		var res struct {
			ImageURL string `json:"imageUrl"`
		}
		if err := json.Unmarshal(data, &res); err != nil {
			continue
		}
		if res.ImageURL != "" {
			logger.Info().
				Str("event", "kie.image.done").
				Str("task_id", taskID).
				Msg("image ready")
			return res.ImageURL, nil
		}
	}

	return "", fmt.Errorf("image task %s: %w", taskID, ErrPollExhausted)
}
