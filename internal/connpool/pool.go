package connpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

// Pool owns every physical push connection in the process. Subscribers
// never touch a transport directly: they attach listeners by endpoint URL,
// and the pool ref-counts, dials, redials, and tears down underneath them.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	newTransport func(TransportConfig) Transport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	conns    map[string]*conn
	nextID   int
	sleeping bool
	closed   bool
}

// PoolStats is a point-in-time snapshot for health reporting.
type PoolStats struct {
	Connections int
	Healthy     int
	Subscribers int
}

type listenerEntry struct {
	eventType model.EventType // empty matches all types
	fn        func(model.Event)
}

// conn is one ref-counted physical connection. Invariant: a conn exists in
// the pool iff refs > 0 or a reconnect hook arrived before the first
// subscriber; the transport is live only while refs > 0.
type conn struct {
	url       string
	refs      int
	listeners map[int]listenerEntry
	hooks     map[int]func()

	transport     Transport
	everConnected bool
	running       bool
	cancel        context.CancelFunc
	wake          chan struct{}
}

// New creates a Pool. Connections are dialed lazily on first subscription.
func New(cfg Config, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Kind == "" {
		cfg.Kind = def.Kind
	}
	if cfg.ReconnectBaseDelay == 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay == 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.StaleTimeout == 0 {
		cfg.StaleTimeout = def.StaleTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = def.BufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*conn),
	}

	p.newTransport = cfg.NewTransport
	if p.newTransport == nil {
		switch cfg.Kind {
		case TransportWebSocket:
			p.newTransport = func(tc TransportConfig) Transport {
				return NewWSTransport(tc, logger.With("transport", "ws"))
			}
		default:
			p.newTransport = func(tc TransportConfig) Transport {
				return NewSSETransport(tc, logger.With("transport", "sse"))
			}
		}
	}

	return p
}

// Subscribe attaches a listener for one event type on an endpoint URL. The
// first subscriber to a URL opens the connection; later subscribers share
// it. The returned cancel func detaches the listener; when the last one
// leaves, the transport is torn down immediately.
//
// An empty eventType matches every event on the stream.
func (p *Pool) Subscribe(url string, eventType model.EventType, fn func(model.Event)) (func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	c := p.getOrCreateLocked(url)
	id := p.nextID
	p.nextID++
	c.listeners[id] = listenerEntry{eventType: eventType, fn: fn}
	c.refs++

	if !c.running {
		c.running = true
		connCtx, connCancel := context.WithCancel(p.ctx)
		c.cancel = connCancel
		p.wg.Add(1)
		go p.runConn(c, connCtx)
	}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.unsubscribe(url, id) })
	}, nil
}

// OnReconnect registers a callback that fires after a connection to url is
// re-established following an error or close. It never fires on the initial
// open: a fresh connection has no gap to recover.
func (p *Pool) OnReconnect(url string, fn func()) func() {
	p.mu.Lock()
	c := p.getOrCreateLocked(url)
	id := p.nextID
	p.nextID++
	c.hooks[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			if c, ok := p.conns[url]; ok {
				delete(c.hooks, id)
			}
			p.mu.Unlock()
		})
	}
}

// Healthy reports whether the connection for url is currently open.
func (p *Pool) Healthy(url string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[url]
	return ok && c.transport != nil && c.transport.IsConnected()
}

// HealthyAll reports whether every pooled connection is currently open.
func (p *Pool) HealthyAll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		if c.refs == 0 {
			continue
		}
		if c.transport == nil || !c.transport.IsConnected() {
			return false
		}
	}
	return true
}

// Sleep closes every transport without dropping subscriptions. Connections
// stay down until Wake.
func (p *Pool) Sleep() {
	p.mu.Lock()
	p.sleeping = true
	transports := make([]Transport, 0, len(p.conns))
	for _, c := range p.conns {
		if c.transport != nil {
			transports = append(transports, c.transport)
		}
	}
	p.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	p.logger.Info("connection pool sleeping")
}

// Wake forces a fresh connection attempt on every pooled URL. The re-open
// counts as a reconnect, so registered hooks fire and consumers run gap
// recovery.
func (p *Pool) Wake() {
	p.mu.Lock()
	p.sleeping = false
	for _, c := range p.conns {
		select {
		case c.wake <- struct{}{}:
		default:
		}
	}
	p.mu.Unlock()
	p.logger.Info("connection pool waking")
}

// Stats returns a snapshot of pool state.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PoolStats{Connections: len(p.conns)}
	for _, c := range p.conns {
		s.Subscribers += c.refs
		if c.transport != nil && c.transport.IsConnected() {
			s.Healthy++
		}
	}
	return s
}

// Close tears down every connection and stops the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	transports := make([]Transport, 0, len(p.conns))
	for _, c := range p.conns {
		if c.transport != nil {
			transports = append(transports, c.transport)
		}
	}
	p.mu.Unlock()

	p.cancel()
	for _, t := range transports {
		t.Close()
	}
	p.wg.Wait()
}

func (p *Pool) getOrCreateLocked(url string) *conn {
	c, ok := p.conns[url]
	if !ok {
		c = &conn{
			url:       url,
			listeners: make(map[int]listenerEntry),
			hooks:     make(map[int]func()),
			wake:      make(chan struct{}, 1),
		}
		p.conns[url] = c
	}
	return c
}

func (p *Pool) unsubscribe(url string, id int) {
	p.mu.Lock()
	c, ok := p.conns[url]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(c.listeners, id)
	c.refs--

	var transport Transport
	if c.refs <= 0 {
		// Last subscriber gone: tear down now, no grace period.
		transport = c.transport
		if c.cancel != nil {
			c.cancel()
		}
		delete(p.conns, url)
	}
	p.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
}

// runConn is the per-connection lifecycle goroutine: dial, deliver, redial
// with exponential backoff, and park while the pool sleeps.
func (p *Pool) runConn(c *conn, ctx context.Context) {
	defer p.wg.Done()

	delay := p.cfg.ReconnectBaseDelay

	for {
		// Park while sleeping.
		for {
			p.mu.Lock()
			sleeping := p.sleeping
			p.mu.Unlock()
			if !sleeping {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-c.wake:
			}
		}

		t := p.newTransport(TransportConfig{
			URL:          c.url,
			Kind:         p.cfg.Kind,
			StaleTimeout: p.cfg.StaleTimeout,
			WriteTimeout: p.cfg.WriteTimeout,
			BufferSize:   p.cfg.BufferSize,
			TokenSource:  p.cfg.TokenSource,
			HTTPClient:   p.cfg.HTTPClient,
		})

		if err := t.Connect(ctx); err != nil {
			p.logger.Warn("connection attempt failed",
				"url", c.url,
				"error", err,
				"retry_in", delay,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > p.cfg.ReconnectMaxDelay {
				delay = p.cfg.ReconnectMaxDelay
			}
			continue
		}

		p.mu.Lock()
		c.transport = t
		reopen := c.everConnected
		c.everConnected = true
		hooks := make([]func(), 0, len(c.hooks))
		for _, h := range c.hooks {
			hooks = append(hooks, h)
		}
		p.mu.Unlock()

		delay = p.cfg.ReconnectBaseDelay

		if reopen {
			p.logger.Info("reconnected", "url", c.url)
			for _, h := range hooks {
				h()
			}
		}

		p.consume(c, ctx, t)

		t.Close()
		p.mu.Lock()
		c.transport = nil
		done := p.closed
		p.mu.Unlock()
		if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consume delivers events to listeners until the transport fails or the
// connection is cancelled.
func (p *Pool) consume(c *conn, ctx context.Context, t Transport) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-t.Done():
			return

		case err := <-t.Errors():
			p.logger.Warn("connection error", "url", c.url, "error", err)
			return

		case ev, ok := <-t.Events():
			if !ok {
				return
			}
			p.dispatch(c, ev)
		}
	}
}

func (p *Pool) dispatch(c *conn, ev model.Event) {
	p.mu.Lock()
	fns := make([]func(model.Event), 0, len(c.listeners))
	for _, l := range c.listeners {
		if l.eventType == "" || l.eventType == ev.Type {
			fns = append(fns, l.fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
