package api

import (
	"context"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

// ResolveIdentity asks the backend for the client's identity: an anonymous
// ID at minimum, plus user credentials when a server-side session exists.
// Bootstrap callers wrap this in a hard timeout and fall back to a locally
// generated identity rather than blocking startup on it.
func (c *Client) ResolveIdentity(ctx context.Context) (model.Session, error) {
	var resp identityResponse
	if err := c.postJSON(ctx, "/identity/resolve", nil, &resp); err != nil {
		return model.Session{}, err
	}
	return sessionFromIdentity(resp), nil
}

// VerifyIdentity revalidates a held token after a suspension. Returns the
// refreshed session on success; ErrUnauthorized means the session is gone
// and the caller must escalate.
func (c *Client) VerifyIdentity(ctx context.Context, token string) (model.Session, error) {
	req := struct {
		Token string `json:"token"`
	}{Token: token}

	var resp identityResponse
	if err := c.postJSON(ctx, "/identity/verify", req, &resp); err != nil {
		return model.Session{}, err
	}
	return sessionFromIdentity(resp), nil
}

// Heartbeat pings the backend with the client instance ID.
func (c *Client) Heartbeat(ctx context.Context, clientID string) error {
	return c.postJSON(ctx, "/heartbeat", heartbeatRequest{ClientID: clientID}, nil)
}

func sessionFromIdentity(resp identityResponse) model.Session {
	return model.Session{
		AnonymousID: resp.AnonymousID,
		UserID:      resp.UserID,
		Token:       resp.Token,
		IssuedAt:    resp.IssuedAt,
		ExpiresAt:   resp.ExpiresAt,
	}
}
