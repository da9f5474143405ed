// Package httpclient provides a shared HTTP client with retry logic for upstream API calls.
//
// Failures are classified onto the entity sentinels: transport errors, 429 and
// 5xx wrap entity.ErrTransient and are retried; 404 wraps entity.ErrNotFound;
// other 4xx wrap entity.ErrFatal; undecodable bodies wrap entity.ErrSchemaMismatch.
package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/pkg/retry"
)

// maxErrorBody caps how much of an error response ends up in the error message.
const maxErrorBody = 256

// Config holds the configuration for the HTTP client.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffFactor   float64
	RateLimitPerMin int
	UserAgent       string
}

// DefaultConfig returns sensible defaults for the HTTP client.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      10 * time.Second,
		BackoffFactor:   2.0,
		RateLimitPerMin: 300,
		UserAgent:       "tpsync/1.0",
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.BackoffFactor == 0 {
		cfg.BackoffFactor = defaults.BackoffFactor
	}
	if cfg.RateLimitPerMin == 0 {
		cfg.RateLimitPerMin = defaults.RateLimitPerMin
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
}

// Response carries the parts of a successful response callers inspect beyond the body.
type Response struct {
	StatusCode int
	Header     http.Header
}

// Client wraps an HTTP client with retry logic and rate limiting.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	retryConfig retry.Config
	userAgent   string
	logger      *slog.Logger
}

// NewClient creates a new HTTP client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	applyDefaults(&cfg)
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	rps := float64(cfg.RateLimitPerMin) / 60.0

	return &Client{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		retryConfig: retry.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
			BackoffFactor:  cfg.BackoffFactor,
			Jitter:         true,
		},
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Get performs an HTTP GET with retry and rate limiting and decodes the JSON body into result.
func (c *Client) Get(ctx context.Context, url string, result any) (*Response, error) {
	onRetry := func(attempt int, err error, backoff time.Duration) {
		c.logger.Warn("request failed, retrying",
			"url", url,
			"attempt", attempt,
			"maxRetries", c.retryConfig.MaxRetries,
			"backoff", backoff,
			"error", err,
		)
	}

	return retry.Do(ctx, c.retryConfig, entity.IsRetryable, onRetry, func() (*Response, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		return c.doSingleRequest(ctx, url, result)
	})
}

func (c *Client) doSingleRequest(ctx context.Context, url string, result any) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", entity.ErrFatal, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: HTTP request failed: %v", entity.ErrTransient, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: rate limited (HTTP 429)", entity.ErrTransient)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: server error (HTTP %d)", entity.ErrTransient, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", entity.ErrTransient, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", entity.ErrNotFound, url)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: client error (HTTP %d): %s", entity.ErrFatal, resp.StatusCode, truncate(body))
	}

	if err := json.Unmarshal(body, result); err != nil {
		return nil, fmt.Errorf("%w: parsing response: %v", entity.ErrSchemaMismatch, err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header}, nil
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
