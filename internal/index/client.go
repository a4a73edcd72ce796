package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// defaultMaxAttempts bounds how often a single index request is retried.
	defaultMaxAttempts = 10

	// defaultBaseDelay is the starting delay for exponential backoff.
	defaultBaseDelay = 200 * time.Millisecond

	// defaultMaxDelay caps the backoff between attempts.
	defaultMaxDelay = 30 * time.Second
)

// Client retrieves the remote package index and probes whether package
// source repositories are still reachable. All requests are retried on
// transient failures with exponential backoff.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The retry transport
// is not installed on custom clients; callers own their transport choices.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient returns a Client with a retrying transport and sane timeouts.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &retryTransport{
				base:        http.DefaultTransport,
				maxAttempts: defaultMaxAttempts,
				baseDelay:   defaultBaseDelay,
				maxDelay:    defaultMaxDelay,
			},
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch retrieves the raw index payload from url. The caller parses it with
// Parse and decides whether to persist a copy. Returns ErrIndexUnavailable
// if the index cannot be retrieved.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	c.logger.Info("fetching package index", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %s", ErrIndexUnavailable, url, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}

	return data, nil
}

// Available reports whether a package source URL still answers. A mirror
// run probes before any network git operation so that packages deleted
// upstream are skipped instead of failing a clone or fetch.
func (c *Client) Available(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("availability probe failed", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		c.logger.Warn("package source unavailable", "url", url, "status", resp.StatusCode)
		return false
	}

	return true
}

// retryTransport retries requests that fail with a transport error or a
// transient HTTP status. Requests carrying a body are never retried; index
// traffic is GET and HEAD only.
type retryTransport struct {
	base        http.RoundTripper
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// RoundTrip implements http.RoundTripper.
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		resp *http.Response
		err  error
	)

	delay := t.baseDelay
	for attempt := 1; ; attempt++ {
		resp, err = t.base.RoundTrip(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		if attempt >= t.maxAttempts || req.Body != nil {
			break
		}

		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > t.maxDelay {
			delay = t.maxDelay
		}
	}

	return resp, err
}

// retryableStatus reports whether a response status indicates a transient
// condition worth retrying.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
