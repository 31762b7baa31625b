package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ClientConfig configures the HTTP client behavior.
type ClientConfig struct {
	BaseURL string
	Auth    Auth
	// Timeout for individual requests (default: 30s).
	Timeout time.Duration
	// MaxRetries for throttled or failed requests (default: 3).
	MaxRetries int
	// RateLimit in requests per second (default: 10).
	RateLimit float64
	RateBurst int
	Headers   map[string]string
	UserAgent string
	// Transport allows injecting a custom round tripper in tests.
	Transport http.RoundTripper
	// Backoff is the base delay between retries (default: 100ms).
	Backoff time.Duration
}

// Client is a rate-limited, retry-capable HTTP client.
type Client struct {
	config      *ClientConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewClient fills defaults and builds the client.
func NewClient(config *ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.RateBurst == 0 {
		config.RateBurst = 5
	}
	if config.UserAgent == "" {
		config.UserAgent = "ucl-sync/1.0"
	}
	if config.Backoff == 0 {
		config.Backoff = 100 * time.Millisecond
	}
	if config.Auth == nil {
		config.Auth = NoAuth{}
	}
	return &Client{
		config:      config,
		httpClient:  &http.Client{Timeout: config.Timeout, Transport: config.Transport},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}
}

// Request is a GET against a path relative to the base URL.
type Request struct {
	Path  string
	Query url.Values
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Get fetches a page, waiting on the rate limiter before every attempt.
// 429 and 5xx responses are retried with exponential backoff, honoring
// Retry-After when the server sends one.
func (c *Client) Get(ctx context.Context, req *Request) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		resp, err := c.doOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		if attempt == c.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff(attempt, resp)):
		}
	}
	return nil, &Error{Code: CodeRetriesExhausted, Retryable: true, Err: fmt.Errorf("max retries exceeded: %w", lastErr)}
}

func (c *Client) backoff(attempt int, resp *Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Headers.Get("Retry-After")); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Duration(1<<uint(attempt)) * c.config.Backoff
}

func (c *Client) url(req *Request) string {
	full := c.config.BaseURL
	if req.Path != "" {
		full = strings.TrimSuffix(full, "/") + "/" + strings.TrimPrefix(req.Path, "/")
	}
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(full, "?") {
			sep = "&"
		}
		full += sep + req.Query.Encode()
	}
	return full
}

func (c *Client) doOnce(ctx context.Context, req *Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(req), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	c.config.Auth.Apply(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Code: CodeUnreachable, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	out := &Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}
	if resp.StatusCode >= 400 {
		return out, &HTTPError{StatusCode: resp.StatusCode, Message: truncate(string(body), 256)}
	}
	return out, nil
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }
func (e *HTTPError) IsServerError() bool { return e.StatusCode >= 500 }

func (e *HTTPError) CodeValue() string {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return CodeAuthInvalid
	case e.StatusCode == http.StatusForbidden:
		return CodePermissionDenied
	case e.StatusCode == http.StatusNotFound:
		return CodeNotFound
	case e.IsRateLimited():
		return CodeRateLimited
	}
	return CodeHTTP
}

func (e *HTTPError) RetryableStatus() bool { return e.IsRateLimited() || e.IsServerError() }

func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryableStatus()
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Retryable
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
