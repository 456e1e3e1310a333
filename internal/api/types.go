package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

var (
	// ErrCursorGone means the server no longer retains history at the
	// requested cursor. The stream's local log must be cleared and
	// rehydrated from a snapshot; treating this as an empty delta would
	// silently lose events.
	ErrCursorGone = errors.New("cursor no longer covered by server history")

	// ErrUnauthorized means the session token was rejected. Never retried;
	// callers escalate to the session authority.
	ErrUnauthorized = errors.New("session rejected by server")
)

// RateLimitError is returned on a 429. The client never retries it; callers
// hand it to the traffic controller and wait for the gate.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// APIError represents any other error status from the backend.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// TokenSource supplies the bearer token for authenticated calls. An empty
// return means anonymous; the header is omitted.
type TokenSource func() string

type catchupRequest struct {
	Stream    string `json:"stream"`
	AfterTime int64  `json:"after_time"`
	AfterID   string `json:"after_id"`
}

type catchupResponse struct {
	Events []model.Event `json:"events"`
}

type snapshotResponse struct {
	Events []model.Event `json:"events"`
}

type identityResponse struct {
	AnonymousID string `json:"anonymous_id"`
	UserID      string `json:"user_id"`
	Token       string `json:"token"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresAt   int64  `json:"expires_at"`
}

type heartbeatRequest struct {
	ClientID string `json:"client_id"`
}
