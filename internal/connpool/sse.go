package connpool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

// sseTransport is the default push transport: a long-lived HTTP response
// carrying text/event-stream frames. Heartbeat comments from the server
// reset the staleness clock.
type sseTransport struct {
	cfg    TransportConfig
	logger *slog.Logger

	httpClient *http.Client

	events chan model.Event
	errors chan error
	done   chan struct{}

	mu         sync.RWMutex
	body       io.ReadCloser
	connected  bool
	closed     bool
	lastSeenAt time.Time
}

// NewSSETransport creates an SSE transport. It does not dial until Connect.
func NewSSETransport(cfg TransportConfig, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		// No overall timeout: the response body is a stream. Staleness is
		// detected via the heartbeat clock instead.
		hc = &http.Client{}
	}

	return &sseTransport{
		cfg:        cfg,
		logger:     logger,
		httpClient: hc,
		events:     make(chan model.Event, cfg.BufferSize),
		errors:     make(chan error, 1),
		done:       make(chan struct{}),
	}
}

// Connect opens the event stream.
func (t *sseTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if t.cfg.TokenSource != nil {
		if tok := t.cfg.TokenSource(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	t.mu.Lock()
	t.body = resp.Body
	t.connected = true
	t.lastSeenAt = time.Now()
	t.mu.Unlock()

	go t.readLoop(resp.Body)
	go t.staleLoop()

	t.logger.Debug("sse stream connected", "url", t.cfg.URL)
	return nil
}

// Close tears down the stream. Idempotent.
func (t *sseTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	body := t.body
	t.mu.Unlock()

	close(t.done)
	if body != nil {
		return body.Close()
	}
	return nil
}

func (t *sseTransport) Events() <-chan model.Event { return t.events }
func (t *sseTransport) Errors() <-chan error       { return t.errors }
func (t *sseTransport) Done() <-chan struct{}      { return t.done }

func (t *sseTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// readLoop parses text/event-stream frames off the response body.
func (t *sseTransport) readLoop(body io.ReadCloser) {
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var frameID, frameType string
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		t.touch()

		switch {
		case line == "":
			// Blank line terminates a frame.
			if data.Len() > 0 {
				t.dispatch(frameID, frameType, data.String())
			}
			frameID, frameType = "", ""
			data.Reset()

		case strings.HasPrefix(line, ":"):
			// Comment: the server's keep-alive heartbeat. touch() above
			// already reset the staleness clock.

		case strings.HasPrefix(line, "id:"):
			frameID = strings.TrimSpace(line[len("id:"):])

		case strings.HasPrefix(line, "event:"):
			frameType = strings.TrimSpace(line[len("event:"):])

		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(line[len("data:"):]))
		}
	}

	// Scanner stops on stream error or server close. Ignore it if Close()
	// already ran.
	select {
	case <-t.done:
	default:
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		select {
		case t.errors <- err:
		default:
		}
	}
}

// dispatch decodes one frame into a model.Event and delivers it.
func (t *sseTransport) dispatch(frameID, frameType, data string) {
	var ev model.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.logger.Warn("malformed stream frame, skipping", "error", err, "frame_id", frameID)
		return
	}
	if ev.ID == "" {
		ev.ID = frameID
	}
	if ev.Type == "" {
		ev.Type = model.EventType(frameType)
	}
	ev.ReceivedAt = time.Now()

	// Block when the buffer is full: a dropped frame here would be
	// invisible to the consumer, whose cursor then advances past it and
	// makes the loss permanent. Backpressure stalls the read loop instead,
	// and teardown unblocks via done.
	select {
	case t.events <- ev:
	case <-t.done:
	}
}

// staleLoop flags the connection dead when the server goes quiet for longer
// than the stale timeout.
func (t *sseTransport) staleLoop() {
	interval := t.cfg.StaleTimeout / 3
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.mu.RLock()
			last := t.lastSeenAt
			t.mu.RUnlock()

			if t.cfg.StaleTimeout > 0 && time.Since(last) > t.cfg.StaleTimeout {
				t.logger.Warn("no stream activity, connection stale",
					"last_seen", last,
					"timeout", t.cfg.StaleTimeout,
				)
				select {
				case t.errors <- ErrStaleConnection:
				default:
				}
				t.mu.RLock()
				body := t.body
				t.mu.RUnlock()
				if body != nil {
					body.Close()
				}
				return
			}
		}
	}
}

func (t *sseTransport) touch() {
	t.mu.Lock()
	t.lastSeenAt = time.Now()
	t.mu.Unlock()
}
