// SPDX-License-Identifier: MIT

// Package kie implements the client for the KIE generation API. One client
// covers both surfaces: the gpt4o-image endpoints for concept stills and the
// video endpoints, which split into dedicated runway/veo APIs and the market
// gateway (jobs/createTask) for everything else. All calls are paced by a
// shared rate limiter; video task creation additionally runs behind a
// circuit breaker so a dead upstream fails jobs fast instead of burning the
// full polling budget on every attempt.
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/genscene/genscene/internal/log"
	"github.com/genscene/genscene/internal/metrics"
	"github.com/genscene/genscene/internal/platform/httpx"
	"github.com/genscene/genscene/internal/resilience"
)

// Provider labels for metrics.
const (
	providerImage = "kie-image"
	providerVideo = "kie-video"
)

// DefaultBaseURL is the production API host.
const DefaultBaseURL = "https://api.kie.ai"

const (
	defaultPollInterval = 10 * time.Second
	defaultPollAttempts = 60
	defaultRate         = 5 // requests per second across all workers

	// maxResponseBytes bounds how much of a provider response we buffer.
	maxResponseBytes = 1 << 20
)

var (
	// ErrTaskFailed reports that the provider marked a task as failed.
	ErrTaskFailed = errors.New("kie: generation task failed")

	// ErrPollExhausted reports that a task never reached a terminal state
	// within the polling budget.
	ErrPollExhausted = errors.New("kie: polling budget exhausted")
)

// APIError carries the provider's HTTP status and response envelope code for
// non-OK answers.
type APIError struct {
	Operation string
	Status    int
	Code      int
	Msg       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("kie: %s: HTTP %d", e.Operation, e.Status)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Msg)
	}
	return msg
}

// Config holds client settings. Zero values fall back to production
// defaults; tests shrink the poll interval to keep runs fast.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	PollInterval      time.Duration
	PollAttempts      int
	RequestsPerSecond float64
}

// Client talks to the KIE API. Safe for concurrent use.
type Client struct {
	base     string
	key      string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *resilience.CircuitBreaker
	poll     time.Duration
	attempts int
	logger   zerolog.Logger
}

// New builds a client from cfg.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	attempts := cfg.PollAttempts
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRate
	}

	hc := httpx.NewClient(cfg.Timeout)
	hc.Transport = otelhttp.NewTransport(hc.Transport)

	return &Client{
		base:     base,
		key:      cfg.APIKey,
		http:     hc,
		limiter:  rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		breaker:  resilience.NewCircuitBreaker("kie-video", 3, 30*time.Second),
		poll:     poll,
		attempts: attempts,
		logger:   log.WithComponent("kie"),
	}
}

// apiResponse is the envelope every endpoint answers with.
type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) doPOST(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("kie: encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body))
}

func (c *Client) doGET(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// do issues one paced request and unwraps the response envelope. Non-200
// HTTP answers and non-success envelope codes both surface as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("kie: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.key)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kie: %s %s: %w", method, path, err)
	}
	defer res.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("kie: read response: %w", err)
	}

	op := method + " " + trimQuery(path)
	if res.StatusCode != http.StatusOK {
		return nil, &APIError{Operation: op, Status: res.StatusCode, Msg: snippet(raw)}
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("kie: decode response: %w", err)
	}
	if envelope.Code != 0 && envelope.Code != http.StatusOK {
		return nil, &APIError{Operation: op, Status: res.StatusCode, Code: envelope.Code, Msg: envelope.Msg}
	}
	return envelope.Data, nil
}

// createTask POSTs a task request and returns the provider task id.
func (c *Client) createTask(ctx context.Context, path string, payload any) (string, error) {
	data, err := c.doPOST(ctx, path, payload)
	if err != nil {
		return "", err
	}
	var out struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("kie: decode task id: %w", err)
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("kie: create %s: response carried no task id", path)
	}
	return out.TaskID, nil
}

// waitPoll sleeps one poll interval, honoring ctx. The provider needs a
// moment before the first status read, so polling always sleeps first.
func (c *Client) waitPoll(ctx context.Context) error {
	t := time.NewTimer(c.poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// observeProvider records one logical provider operation (create plus all
// polls) under the given label.
func observeProvider(provider string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.IncProviderRequest(provider, outcome)
	metrics.ObserveProviderDuration(provider, time.Since(start))
}

// trimQuery strips query parameters so task ids stay out of error strings.
func trimQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

// snippet returns the leading part of a response body for error context.
func snippet(raw []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > limit {
		return s[:limit]
	}
	return s
}
