// Package api provides the REST client for the sync backend: cursor-based
// catchup, canonical snapshot reads, identity resolution, and the liveness
// heartbeat.
//
// The client retries transient server errors with jittered exponential
// backoff, but three statuses are surfaced as typed results and never
// retried internally: 410 (the cursor fell off the server's retained
// window), 401 (the session is gone), and 429 (the caller must route the
// push-back through the traffic controller).
package api
