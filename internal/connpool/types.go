package connpool

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no heartbeat)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrPoolClosed      = errors.New("pool closed")
)

// TransportKind selects the physical push transport.
type TransportKind string

const (
	TransportSSE       TransportKind = "sse"
	TransportWebSocket TransportKind = "websocket"
)

// Transport is a single physical push connection. Implementations decode
// wire frames into model.Event and surface transport failures on Errors;
// they never retry on their own; reconnection belongs to the pool.
type Transport interface {
	// Connect establishes the connection and starts delivering events.
	Connect(ctx context.Context) error

	// Close tears down the connection. Idempotent.
	Close() error

	// Events returns the channel of decoded push events.
	Events() <-chan model.Event

	// Errors returns the channel of transport failures.
	Errors() <-chan error

	// Done is closed when Close runs. Consumers select on it so an
	// externally closed transport (pool sleep, teardown) never strands
	// them waiting for events.
	Done() <-chan struct{}

	// IsConnected reports the current connection state.
	IsConnected() bool
}

// TransportConfig configures a single transport instance.
type TransportConfig struct {
	URL          string
	Kind         TransportKind
	StaleTimeout time.Duration        // max quiet time before the link counts as dead
	WriteTimeout time.Duration        // write deadline (websocket only)
	BufferSize   int                  // event channel buffer
	TokenSource  func() string        // bearer token per dial, empty = anonymous
	HTTPClient   *http.Client         // SSE only; nil = default streaming client
}

// Config configures the Pool.
type Config struct {
	Kind               TransportKind
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	StaleTimeout       time.Duration
	WriteTimeout       time.Duration
	BufferSize         int
	TokenSource        func() string
	HTTPClient         *http.Client

	// NewTransport overrides transport construction; nil uses Kind.
	NewTransport func(TransportConfig) Transport
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Kind:               TransportSSE,
		ReconnectBaseDelay: 1 * time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		StaleTimeout:       90 * time.Second,
		WriteTimeout:       5 * time.Second,
		BufferSize:         1024,
	}
}
