package api

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// retryPolicy bounds transient-failure retries and owns the backoff
// schedule.
type retryPolicy struct {
	max  int
	base time.Duration
}

// delay returns the pause before the given attempt (1-based): the base
// doubles per attempt and is jittered to 0.5x-1.5x so clients recovering
// from the same outage do not retry in lockstep.
func (p retryPolicy) delay(attempt int) time.Duration {
	backoff := p.base << (attempt - 1)
	return backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
}

// Client talks to the sync backend REST API: cursor catchup, stream
// snapshots, identity, and heartbeats. All methods go through one request
// path so status-to-error mapping stays in a single place.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger
	retry      retryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a REST client against baseURL. tokens may be nil for
// unauthenticated use; each request reads it fresh, so a login or logout
// takes effect without rebuilding the client.
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		retry:      retryPolicy{max: 3, base: time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry budget and base backoff for transient server
// errors.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.retry = retryPolicy{max: max, base: backoff}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient swaps the underlying HTTP client, e.g. for a shared
// transport or a test server.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
