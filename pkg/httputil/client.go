package httputil

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wonny/findex/pkg/logger"
)

// Client is an HTTP client wrapper with retry, pacing, and logging.
// All outbound requests to the market data source go through it.
type Client struct {
	httpClient  *http.Client
	logger      *logger.Logger
	retryConfig RetryConfig

	limiter *rate.Limiter

	// Adaptive slowdown: while slowUntil is in the future every request
	// waits slowDelay instead of the limiter's normal pace.
	mu        sync.Mutex
	slowUntil time.Time
	slowDelay time.Duration
	lastCall  time.Time
}

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// New creates a new HTTP client. minInterval is the normal inter-request
// delay; slowDelay is used while the source is pushing back (429/5xx).
func New(log *logger.Logger, timeout, minInterval, slowDelay time.Duration, retry RetryConfig) *Client {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		logger:      log,
		retryConfig: retry,
		limiter:     rate.NewLimiter(limit, 1),
		slowDelay:   slowDelay,
	}
}

// Get performs a GET request with pacing and retry.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}
	return c.do(req)
}

// MarkSlowdown forces the slow pace for the given duration. Called when
// the source starts returning 429s outside of this client's view.
func (c *Client) MarkSlowdown(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(c.slowUntil) {
		c.slowUntil = until
	}
}

// pace blocks until the next request is allowed. While a slowdown is in
// effect the inter-request gap is slowDelay; otherwise the limiter's rate.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	slow := time.Now().Before(c.slowUntil)
	since := time.Since(c.lastCall)
	c.mu.Unlock()

	if slow && since < c.slowDelay {
		select {
		case <-time.After(c.slowDelay - since):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastCall = time.Now()
	c.mu.Unlock()
	return nil
}

// do executes the request with pacing, retry, and logging.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	start := time.Now()

	if err := c.pace(req.Context()); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	resp, err := c.doWithRetry(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"url":      url,
			"duration": duration,
			"error":    err.Error(),
		}).Error("HTTP request failed")
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"url":         url,
		"status_code": resp.StatusCode,
		"duration":    duration,
	}).Debug("HTTP request completed")

	return resp, nil
}

// doWithRetry executes the request with exponential backoff.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	delay := c.retryConfig.InitialDelay

	for attempt := 0; attempt <= c.retryConfig.MaxRetries; attempt++ {
		resp, err = c.httpClient.Do(req)

		if err == nil && !IsRetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		if err == nil {
			// The source is pushing back; slow all subsequent requests.
			if resp.StatusCode == http.StatusTooManyRequests {
				c.MarkSlowdown(3 * time.Minute)
			}
			resp.Body.Close()
		}

		if attempt == c.retryConfig.MaxRetries {
			break
		}

		c.logger.WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   delay,
			"url":     req.URL.String(),
		}).Warn("Retrying HTTP request")

		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}

		delay *= 2
		if delay > c.retryConfig.MaxDelay {
			delay = c.retryConfig.MaxDelay
		}
	}

	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("request exhausted retries with status %d", resp.StatusCode)
}

// IsRetryableStatus checks if a status code should be retried.
func IsRetryableStatus(statusCode int) bool {
	return statusCode >= 500 || statusCode == http.StatusTooManyRequests
}
