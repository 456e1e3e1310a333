package syncer

import (
	"context"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

// StreamState is a stream's position in the recovery machine.
type StreamState int

const (
	// StateSynced means live events are flowing and the cursor is current.
	StateSynced StreamState = iota
	// StateResyncing means a cursor-based catchup is in progress.
	StateResyncing
	// StateFullResync means the cursor was lost and the stream is
	// rehydrating from a canonical snapshot.
	StateFullResync
)

var streamStateNames = map[StreamState]string{
	StateSynced:     "SYNCED",
	StateResyncing:  "RESYNCING",
	StateFullResync: "FULL_RESYNC",
}

func (s StreamState) String() string {
	if name, ok := streamStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Applier receives applied events. Cache-patching policy lives behind this
// interface; the syncer only guarantees each event is delivered once, in
// total order within a delta.
type Applier interface {
	// Apply integrates one event. An error leaves the event unmarked so a
	// later delivery retries it.
	Apply(ev model.Event) error

	// Invalidate discards all derived state for a stream ahead of a full
	// rehydration.
	Invalidate(stream string)
}

// Backend is the catchup/snapshot surface of the REST client.
type Backend interface {
	Catchup(ctx context.Context, cursor model.Cursor) ([]model.Event, error)
	Snapshot(ctx context.Context, stream string) ([]model.Event, error)
}

// Streams is the push-channel surface of the connection pool.
type Streams interface {
	Subscribe(url string, eventType model.EventType, fn func(model.Event)) (func(), error)
	OnReconnect(url string, fn func()) func()
}

// Gate is the traffic controller surface the syncer needs.
type Gate interface {
	WaitUntilAllowed(ctx context.Context) error
	ReportRateLimit()
	NotifySuccess()
}

// SessionGuard escalates rejected credentials.
type SessionGuard interface {
	HandleUnauthorized()
}

// StreamConfig declares one subscribed stream.
type StreamConfig struct {
	// Name is the logical stream name used in cursors and log keys.
	Name string
	// URL is the push-channel endpoint.
	URL string
	// EventTypes lists the types this stream carries.
	EventTypes []model.EventType
}
