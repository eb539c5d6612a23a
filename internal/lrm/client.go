// Package lrm is a client for the upstream licensing API that owns the
// authoritative license records (users) of a project.
package lrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"obsidian/internal/config"
	"obsidian/internal/infrastructure"
)

// defaultRPS keeps bulk sync pages and redemptions under the provider's quota
const defaultRPS = 5

// Error is a non-2xx answer from the licensing API
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("licensing api: %d %s", e.StatusCode, e.Message)
}

// Client talks to one project of the licensing API
type Client struct {
	baseURL    string
	projectID  string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *infrastructure.BusinessMetrics
	logger     *slog.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the outbound request rate; rps <= 0 disables pacing
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMetrics records call latency per operation
func WithMetrics(m *infrastructure.BusinessMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a licensing API client
func NewClient(cfg config.LicensingConfig, logger *slog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultHTTPTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:    cfg.BaseURL,
		projectID:  cfg.ProjectID,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(defaultRPS, defaultRPS),
		logger:     infrastructure.WithComponent(logger, "lrm"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) usersURL(path string, query url.Values) string {
	u := fmt.Sprintf("%s/projects/%s/users%s", c.baseURL, url.PathEscape(c.projectID), path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// envelope is the common response shape; Message is set on failures
type envelope struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
}

// do sends a request and decodes a successful JSON body into result
func (c *Client) do(ctx context.Context, operation, method, endpoint string, body, result interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		infrastructure.RecordUpstreamCall(ctx, c.metrics, operation, 0, time.Since(start))
		return fmt.Errorf("licensing api request failed: %w", err)
	}
	defer resp.Body.Close()
	infrastructure.RecordUpstreamCall(ctx, c.metrics, operation, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.DebugContext(ctx, "licensing api call",
		slog.String("operation", operation),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env envelope
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &env) == nil && env.Message != "" {
			msg = env.Message
		}
		return &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	if len(raw) == 0 {
		return nil
	}

	var env envelope
	if json.Unmarshal(raw, &env) == nil && env.Success != nil && !*env.Success {
		return &Error{StatusCode: resp.StatusCode, Message: env.Message}
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
