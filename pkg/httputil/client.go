package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tiltlab/tilt/pkg/config"
	"github.com/tiltlab/tilt/pkg/logger"
	"github.com/tiltlab/tilt/pkg/redis"
)

// Client is an HTTP client wrapper with retry, rate limiting, and circuit
// breaking. All outbound provider requests go through this client.
type Client struct {
	httpClient   *http.Client
	logger       *logger.Logger
	retryConfig  RetryConfig
	rateLimiter  *redis.RateLimiter
	rateLimitCfg *redis.RateLimitConfig
	localLimiter *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
}

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Enabled      bool
}

// New creates a new HTTP client from config.
func New(cfg *config.Config, log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // Default timeout
		},
		logger: log,
		retryConfig: RetryConfig{
			MaxRetries:   3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     10 * time.Second,
			Enabled:      true,
		},
	}
}

// NewWithTimeout creates a client with a custom timeout.
func NewWithTimeout(cfg *config.Config, log *logger.Logger, timeout time.Duration) *Client {
	client := New(cfg, log)
	client.httpClient.Timeout = timeout
	return client
}

// WithRetry configures retry behavior.
func (c *Client) WithRetry(maxRetries int, initialDelay time.Duration) *Client {
	c.retryConfig.MaxRetries = maxRetries
	c.retryConfig.InitialDelay = initialDelay
	c.retryConfig.Enabled = true
	return c
}

// DisableRetry disables automatic retry.
func (c *Client) DisableRetry() *Client {
	c.retryConfig.Enabled = false
	return c
}

// WithRateLimiter sets a distributed rate limiter for this client.
func (c *Client) WithRateLimiter(limiter *redis.RateLimiter, cfg redis.RateLimitConfig) *Client {
	c.rateLimiter = limiter
	c.rateLimitCfg = &cfg
	return c
}

// WithLocalRateLimit sets an in-process token bucket. Use this for vendors
// that throttle per source address rather than per API key.
func (c *Client) WithLocalRateLimit(requestsPerSec float64, burst int) *Client {
	if requestsPerSec <= 0 {
		c.localLimiter = nil
		return c
	}
	if burst < 1 {
		burst = 1
	}
	c.localLimiter = rate.NewLimiter(rate.Limit(requestsPerSec), burst)
	return c
}

// WithBreaker wraps requests in a named circuit breaker. The breaker opens
// after five consecutive transport failures and probes again after 30s.
func (c *Client) WithBreaker(name string) *Client {
	log := c.logger
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}
	c.breaker = gobreaker.NewCircuitBreaker(settings)
	return c
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}

	return c.Do(req)
}

// GetWithHeaders performs a GET request with additional headers.
func (c *Client) GetWithHeaders(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return c.Do(req)
}

// Post performs a POST request with body.
func (c *Client) Post(ctx context.Context, url string, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create POST request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)
	return c.Do(req)
}

// PostJSON performs a POST request with JSON body.
func (c *Client) PostJSON(ctx context.Context, url string, data interface{}) (*http.Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return c.Post(ctx, url, "application/json", bytes.NewReader(jsonData))
}

// PostForm performs a POST request with form data.
func (c *Client) PostForm(ctx context.Context, targetURL string, formData url.Values) (*http.Response, error) {
	return c.Post(ctx, targetURL, "application/x-www-form-urlencoded", strings.NewReader(formData.Encode()))
}

// Do executes the request with rate limiting, circuit breaking, retry, and
// logging.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	startTime := time.Now()
	url := req.URL.String()
	method := req.Method

	if c.localLimiter != nil {
		if err := c.localLimiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	if c.rateLimiter != nil && c.rateLimitCfg != nil {
		if err := c.rateLimiter.Wait(req.Context(), *c.rateLimitCfg); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    url,
	}).Debug("HTTP request started")

	resp, err := c.execute(req)

	duration := time.Since(startTime)

	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"method":   method,
			"url":      url,
			"duration": duration,
			"error":    err.Error(),
		}).Error("HTTP request failed")
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": resp.StatusCode,
		"duration":    duration,
	}).Debug("HTTP request completed")

	return resp, nil
}

// execute runs the request through the breaker when one is configured.
func (c *Client) execute(req *http.Request) (*http.Response, error) {
	run := func() (*http.Response, error) {
		if c.retryConfig.Enabled {
			return c.doWithRetry(req)
		}
		return c.httpClient.Do(req)
	}

	if c.breaker == nil {
		return run()
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return run()
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// doWithRetry executes the request with exponential backoff retry.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	delay := c.retryConfig.InitialDelay

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		resp, err = c.httpClient.Do(req)

		// Success
		if err == nil && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		// Last attempt
		if attempt == c.retryConfig.MaxRetries {
			break
		}

		if err == nil {
			// Drain so the connection can be reused.
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		c.logger.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   delay,
			"url":     req.URL.String(),
		}).Warn("Retrying HTTP request")

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > c.retryConfig.MaxDelay {
			delay = c.retryConfig.MaxDelay
		}
	}

	return resp, err
}

// IsRetryableError checks if a status code should be retried.
func IsRetryableError(statusCode int) bool {
	// Retry on 5xx server errors and 429 Too Many Requests
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}
