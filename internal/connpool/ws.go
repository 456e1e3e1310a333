package connpool

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

// wsTransport delivers push events over a WebSocket. Staleness is tracked
// through ping/pong traffic instead of heartbeat comments.
type wsTransport struct {
	cfg    TransportConfig
	logger *slog.Logger

	conn *websocket.Conn

	events chan model.Event
	errors chan error
	done   chan struct{}

	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastSeenAt time.Time
}

// NewWSTransport creates a WebSocket transport. It does not dial until
// Connect.
func NewWSTransport(cfg TransportConfig, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsTransport{
		cfg:    cfg,
		logger: logger,
		events: make(chan model.Event, cfg.BufferSize),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (t *wsTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if t.cfg.TokenSource != nil {
		if tok := t.cfg.TokenSource(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.lastSeenAt = time.Now()
	t.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		t.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		t.touch()
		return nil
	})

	go t.readLoop()
	go t.heartbeatLoop()

	t.logger.Debug("websocket connected", "url", t.cfg.URL)
	return nil
}

// Close gracefully closes the connection. Idempotent.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mu.Unlock()

	close(t.done)

	if t.conn != nil {
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return t.conn.Close()
	}
	return nil
}

func (t *wsTransport) Events() <-chan model.Event { return t.events }
func (t *wsTransport) Errors() <-chan error       { return t.errors }
func (t *wsTransport) Done() <-chan struct{}      { return t.done }

func (t *wsTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *wsTransport) readLoop() {
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	for {
		select {
		case <-t.done:
			return
		default:
		}

		_, data, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				select {
				case t.errors <- err:
				default:
				}
			}
			return
		}
		t.touch()

		var ev model.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.logger.Warn("malformed event frame, skipping", "error", err)
			continue
		}
		ev.ReceivedAt = time.Now()

		// Block when the buffer is full; dropping would let the consumer's
		// cursor advance past a frame it never saw. Teardown unblocks via
		// done.
		select {
		case t.events <- ev:
		case <-t.done:
			return
		}
	}
}

// heartbeatLoop sends keep-alive pings and flags stale links.
func (t *wsTransport) heartbeatLoop() {
	interval := t.cfg.StaleTimeout / 3
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.RLock()
			conn := t.conn
			last := t.lastSeenAt
			t.mu.RUnlock()

			if conn != nil {
				deadline := time.Now().Add(t.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					t.logger.Debug("failed to send ping", "error", err)
				}
			}

			if t.cfg.StaleTimeout > 0 && time.Since(last) > t.cfg.StaleTimeout {
				t.logger.Warn("no ping traffic, connection stale",
					"last_seen", last,
					"timeout", t.cfg.StaleTimeout,
				)
				select {
				case t.errors <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}

func (t *wsTransport) touch() {
	t.mu.Lock()
	t.lastSeenAt = time.Now()
	t.mu.Unlock()
}
