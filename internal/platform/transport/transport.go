// Package transport is the shared HTTP plumbing for platform API clients:
// rate limiting, a circuit breaker, bounded retries, and JSON decoding.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config configures a Client.
type Config struct {
	// Name labels the circuit breaker and log lines (e.g. "airbyte").
	Name string

	// BaseURL is prefixed to every request path.
	BaseURL string

	// HTTPClient performs requests. It normally carries an oauth2 transport.
	HTTPClient *http.Client

	// Timeout bounds a single attempt (default 30s).
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt (default 3).
	MaxRetries int

	// RetryDelay is the base delay, doubled per attempt (default 1s).
	RetryDelay time.Duration

	// RequestsPerSecond caps request rate; 0 means 10.
	RequestsPerSecond float64
}

// StatusError is returned for non-retryable HTTP failures.
type StatusError struct {
	StatusCode int
	Path       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// Client issues JSON requests against one platform API.
type Client struct {
	name       string
	base       *url.URL
	http       *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required for %s client", cfg.Name)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Client errors are the caller's fault, not the platform's.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || errors.As(err, &se)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Client{
		name:       cfg.Name,
		base:       base,
		http:       httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		breaker:    breaker,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}, nil
}

// GetJSON issues a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
// out may be nil when the response body is not needed.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Do performs a request with retries on 429, 5xx, and transport errors.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	target, err := c.base.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return fmt.Errorf("failed to build request URL: %w", err)
	}
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Warn("retrying request",
				zap.String("path", path), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		data, err := c.breaker.Execute(func() (interface{}, error) {
			return c.once(ctx, method, target.String(), path, payload)
		})
		if err == nil {
			if out == nil {
				return nil
			}
			raw, _ := data.([]byte)
			if len(raw) == 0 {
				return nil
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", path, err)
			}
			return nil
		}

		if !retryable(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("request to %s failed after %d retries: %w", path, c.maxRetries, lastErr)
}

// retryableError marks throttling, server errors, and network failures.
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var re retryableError
	return errors.As(err, &re)
}

func (c *Client) once(ctx context.Context, method, target, path string, payload []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, retryableError{fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryableError{fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retryableError{fmt.Errorf("rate limited by %s API", c.name)}
	case resp.StatusCode >= 500:
		return nil, retryableError{fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(string(data), 200))}
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, &StatusError{StatusCode: resp.StatusCode, Path: path, Message: "unauthorized: invalid credentials or token expired"}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &StatusError{StatusCode: resp.StatusCode, Path: path, Message: "forbidden: insufficient permissions"}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &StatusError{StatusCode: resp.StatusCode, Path: path, Message: "resource not found: " + path}
	case resp.StatusCode >= 400:
		return nil, &StatusError{StatusCode: resp.StatusCode, Path: path, Message: "client error: " + errorMessage(data)}
	}

	return data, nil
}

// errorMessage extracts a "message" field from an error body when present.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if s, ok := body.Error.(string); ok && s != "" {
			return s
		}
	}
	return truncate(string(data), 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
