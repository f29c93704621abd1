// Package summary asks an external language-model endpoint for a narrative
// summary of aggregated weather data.
//
// The endpoint accepts
//
//	{"data": {"variables": {"DATA": "<json document as a string>"}}}
//
// with bearer authentication and answers {"output_data": {"content": "..."}}.
// Calls go through a circuit breaker and are retried with exponential backoff
// on 429 and 5xx responses.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"climate-explorer/pkg/logging"
)

// Summarizer produces a narrative for a JSON payload.
type Summarizer interface {
	Summarize(ctx context.Context, payload json.RawMessage) (string, error)
}

var (
	// ErrEmptyContent is returned when the endpoint answers without content.
	ErrEmptyContent = errors.New("summary: response content is empty")
	// ErrUnavailable wraps breaker rejections and exhausted retries.
	ErrUnavailable = errors.New("summary: endpoint unavailable")
)

// Error describes a failed summary call.
type Error struct {
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("summary: endpoint returned %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("summary: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether retrying later may succeed.
func (e *Error) IsTransient() bool {
	return errors.Is(e.Err, ErrUnavailable) || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Config describes the endpoint and resilience settings.
type Config struct {
	Endpoint         string
	APIKey           string
	Timeout          time.Duration
	MaxRetries       int
	MinWait          time.Duration
	MaxWait          time.Duration
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// Client is the HTTP Summarizer.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	logger  *logging.StructuredLogger
	sleepFn func(time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithSleepFunc overrides the sleep between retries. Intended for tests.
func WithSleepFunc(fn func(time.Duration)) Option {
	return func(c *Client) { c.sleepFn = fn }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a Client. Zero resilience settings get defaults.
func NewClient(cfg Config, logger *logging.StructuredLogger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinWait <= 0 {
		cfg.MinWait = 500 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 10 * time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	threshold := cfg.BreakerThreshold
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "summary",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     cfg.BreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn(context.Background(), "[SUMMARY_BREAKER] Circuit breaker state changed", logging.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
			},
		}),
		sleepFn: time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type requestBody struct {
	Data struct {
		Variables struct {
			Data string `json:"DATA"`
		} `json:"variables"`
	} `json:"data"`
}

type responseBody struct {
	OutputData struct {
		Content string `json:"content"`
	} `json:"output_data"`
}

// Summarize posts payload and returns the narrative.
func (c *Client) Summarize(ctx context.Context, payload json.RawMessage) (string, error) {
	var body requestBody
	body.Data.Variables.Data = string(payload)
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("summary: failed to encode request: %w", err)
	}

	resp, err := c.do(ctx, raw)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &Error{Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	}

	var out responseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	content := strings.TrimSpace(out.OutputData.Content)
	if content == "" {
		return "", ErrEmptyContent
	}
	return content, nil
}

// do sends the request through the breaker, retrying 429 and 5xx.
func (c *Client) do(ctx context.Context, raw []byte) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	attempts := 1 + c.cfg.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("summary: failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		if id := logging.RequestID(ctx); id != "" {
			req.Header.Set("X-Request-ID", id)
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.http.Do(req)
			if err != nil {
				return nil, err
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if lastResp != nil {
			lastResp.Body.Close()
		}
		lastResp = resp

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		if attempt < attempts-1 {
			wait := c.backoff(attempt, resp)
			c.logger.Warn(ctx, "[SUMMARY_RETRY] Retrying summary request", logging.Fields{
				"attempt": attempt + 1,
				"wait_ms": wait.Milliseconds(),
			})
			c.sleepFn(wait)
		}
	}

	status := 0
	if lastResp != nil {
		status = lastResp.StatusCode
		lastResp.Body.Close()
	}
	if ctx.Err() != nil {
		return nil, &Error{Status: status, Err: ctx.Err()}
	}
	return nil, &Error{Status: status, Err: fmt.Errorf("%w: %v", ErrUnavailable, lastErr)}
}

// backoff honours a numeric Retry-After, otherwise uses exponential backoff
// with jitter clamped to [MinWait, MaxWait].
func (c *Client) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
			return min(time.Duration(s)*time.Second, c.cfg.MaxWait)
		}
	}

	base := min(float64(c.cfg.MinWait)*math.Pow(2, float64(attempt)), float64(c.cfg.MaxWait))
	lo := float64(c.cfg.MinWait)
	if base <= lo {
		return c.cfg.MinWait
	}
	return time.Duration(lo + rand.Float64()*(base-lo))
}
