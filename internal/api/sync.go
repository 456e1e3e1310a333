package api

import (
	"context"
	"net/url"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

// Catchup fetches every event on the stream after the cursor position. The
// delta comes back in server order; callers sort before applying.
//
// Returns ErrCursorGone when the server's retained history no longer covers
// the cursor, ErrUnauthorized on a rejected session, and *RateLimitError on
// push-back. None of those are retried here.
func (c *Client) Catchup(ctx context.Context, cursor model.Cursor) ([]model.Event, error) {
	req := catchupRequest{
		Stream:    cursor.Stream,
		AfterTime: cursor.AfterTime,
		AfterID:   cursor.AfterID,
	}

	var resp catchupResponse
	if err := c.postJSON(ctx, "/sync/catchup", req, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("catchup delta received",
		"stream", cursor.Stream,
		"events", len(resp.Events),
	)
	return resp.Events, nil
}

// Snapshot fetches the canonical full state of a stream for rehydration
// after a gone cursor or a forced refetch.
func (c *Client) Snapshot(ctx context.Context, stream string) ([]model.Event, error) {
	q := url.Values{}
	q.Set("stream", stream)

	var resp snapshotResponse
	if err := c.getJSON(ctx, "/sync/snapshot?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("snapshot received",
		"stream", stream,
		"events", len(resp.Events),
	)
	return resp.Events, nil
}
