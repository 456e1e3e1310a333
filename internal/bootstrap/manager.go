// Package bootstrap owns the application lifecycle: time-boxed identity
// resolution at startup, suspension while the client is hidden, and the
// recovery sequence that brings a woken client back to a consistent view.
//
// Exactly one manager exists per process and only it calls the connection
// pool's Sleep/Wake or triggers a full refetch; every other component reacts
// to the states it publishes.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tuwebai/safespot-sync/internal/api"
	"github.com/Tuwebai/safespot-sync/internal/bus"
	"github.com/Tuwebai/safespot-sync/internal/model"
	"github.com/Tuwebai/safespot-sync/internal/session"
)

// Identity is the identity surface of the REST client.
type Identity interface {
	ResolveIdentity(ctx context.Context) (model.Session, error)
	VerifyIdentity(ctx context.Context, token string) (model.Session, error)
}

// Channel is the suspend/wake surface of the connection pool.
type Channel interface {
	Sleep()
	Wake()
}

// Orchestrator is the sync surface the lifecycle drives.
type Orchestrator interface {
	Refetch(ctx context.Context) error
	CancelInFlight()
	Pause()
	Resume()
}

// Config holds bootstrap configuration.
type Config struct {
	BootTimeout    time.Duration // Identity resolution deadline (default: 10s)
	RecoverTimeout time.Duration // Recovery sequence deadline (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BootTimeout:    10 * time.Second,
		RecoverTimeout: 30 * time.Second,
	}
}

// Manager drives the lifecycle state machine.
type Manager struct {
	cfg      Config
	logger   *slog.Logger
	bus      *bus.Bus
	identity Identity
	session  *session.Authority
	channel  Channel
	orch     Orchestrator

	mu            sync.Mutex
	state         State
	subs          map[int]func(State)
	nextID        int
	recovering    bool
	cancelRecover context.CancelFunc
	runCtx        context.Context
	unsubs        []func()
}

// New creates a Manager in IDLE.
func New(cfg Config, identity Identity, auth *session.Authority, channel Channel, orch Orchestrator, b *bus.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BootTimeout <= 0 {
		cfg.BootTimeout = DefaultConfig().BootTimeout
	}
	if cfg.RecoverTimeout <= 0 {
		cfg.RecoverTimeout = DefaultConfig().RecoverTimeout
	}
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		bus:      b,
		identity: identity,
		session:  auth,
		channel:  channel,
		orch:     orch,
		state:    Idle,
		subs:     make(map[int]func(State)),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a transition listener and returns an unsubscribe func.
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

// Start registers the bus listeners and runs the boot sequence. ctx bounds
// the manager's whole lifetime; bus-triggered recoveries derive from it.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	if m.bus != nil {
		m.listen()
	}
	return m.Initialize(ctx)
}

// Initialize resolves identity with a hard deadline and moves to RUNNING.
// A slow or failing identity backend falls back to a locally generated
// anonymous identity; startup never blocks on the network.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.transition(Booting); err != nil {
		return err
	}
	if err := m.session.Boot(); err != nil {
		return fmt.Errorf("session boot: %w", err)
	}

	bctx, cancel := context.WithTimeout(ctx, m.cfg.BootTimeout)
	defer cancel()

	sess, err := m.identity.ResolveIdentity(bctx)
	if err != nil {
		sess = m.fallbackSession(err)
	}

	if err := m.session.SetSession(sess); err != nil {
		m.transition(Failed)
		m.session.Fail()
		return fmt.Errorf("install session: %w", err)
	}

	if err := m.transition(Running); err != nil {
		return err
	}
	m.logger.Info("bootstrap complete",
		"anonymous_id", sess.AnonymousID,
		"authenticated", sess.Authenticated(),
	)
	return nil
}

// fallbackSession picks an identity when resolution fails: the persisted
// snapshot keeps the anonymous identity stable across restarts, and only
// when no usable snapshot exists is a fresh one minted. Stored credentials
// past their expiry are stripped so the client comes up read-ready instead
// of trusting a dead token.
func (m *Manager) fallbackSession(cause error) model.Session {
	stored, err := m.session.StoredSession()
	if err == nil && stored.AnonymousID != "" {
		if stored.Expired(time.Now()) {
			stored.UserID = ""
			stored.Token = ""
		}
		m.logger.Warn("identity resolution failed, resuming stored session",
			"anonymous_id", stored.AnonymousID,
			"authenticated", stored.Authenticated(),
			"err", cause,
		)
		return stored
	}

	sess := model.Session{AnonymousID: "anon_" + uuid.NewString()}
	m.logger.Warn("identity resolution failed, using local anonymous identity",
		"anonymous_id", sess.AnonymousID,
		"err", cause,
	)
	return sess
}

// Suspend parks the client: the push channel sleeps and any in-flight
// recovery is cancelled. Suspending twice is a no-op.
func (m *Manager) Suspend() {
	m.mu.Lock()
	if m.state == Suspended {
		m.mu.Unlock()
		return
	}
	if !canTransition(m.state, Suspended) {
		m.mu.Unlock()
		return
	}
	cancel := m.cancelRecover
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.orch.CancelInFlight()
	m.channel.Sleep()
	m.transition(Suspended)
	m.logger.Info("client suspended")
}

// Recover brings a suspended or stale client back: identity is re-verified
// without blocking, the push channel wakes, and every stream refetches.
// Partial failure still lands in RUNNING; the client is never stuck in
// RECOVERING.
func (m *Manager) Recover(ctx context.Context) error {
	m.mu.Lock()
	if m.recovering || !canTransition(m.state, Recovering) {
		m.mu.Unlock()
		return nil
	}
	m.recovering = true
	rctx, cancel := context.WithTimeout(ctx, m.cfg.RecoverTimeout)
	m.cancelRecover = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.recovering = false
		m.cancelRecover = nil
		m.mu.Unlock()
	}()

	if err := m.transition(Recovering); err != nil {
		return err
	}

	m.verifyIdentity(rctx)

	m.channel.Wake()

	if err := m.orch.Refetch(rctx); err != nil {
		m.logger.Warn("recovery refetch incomplete", "err", err)
	}

	// Hidden again mid-recovery wins over RUNNING.
	m.mu.Lock()
	target := Running
	if m.state == Suspended {
		target = Suspended
	}
	m.mu.Unlock()
	if target == Running {
		m.transition(Running)
		m.logger.Info("recovery complete")
	}
	return nil
}

// verifyIdentity revalidates a held token. Failures degrade the session
// rather than blocking recovery; a definitive rejection escalates.
func (m *Manager) verifyIdentity(ctx context.Context) {
	token := m.session.Token()
	if token == "" {
		return
	}

	_, err := m.identity.VerifyIdentity(ctx, token)
	switch {
	case err == nil:
		if m.session.State() == session.Degraded {
			m.session.Recovered()
		}
	case errors.Is(err, api.ErrUnauthorized):
		m.session.HandleUnauthorized()
	default:
		m.logger.Warn("identity verification failed, degrading", "err", err)
		m.session.Degrade()
	}
}

// Close removes the bus listeners.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()
	for _, off := range unsubs {
		off()
	}
}

func (m *Manager) listen() {
	add := func(off func()) {
		m.mu.Lock()
		m.unsubs = append(m.unsubs, off)
		m.mu.Unlock()
	}

	add(m.bus.Subscribe(bus.TopicVisibility, func(msg bus.Message) {
		visible, ok := msg.Payload.(bool)
		if !ok {
			return
		}
		if !visible {
			m.Suspend()
			return
		}
		if m.State() == Suspended {
			go m.Recover(m.runContext())
		}
	}))

	add(m.bus.Subscribe(bus.TopicNetwork, func(msg bus.Message) {
		online, ok := msg.Payload.(bool)
		if ok && online {
			go m.Recover(m.runContext())
		}
	}))

	add(m.bus.Subscribe(bus.TopicUpdatePending, func(bus.Message) {
		m.orch.Pause()
	}))

	add(m.bus.Subscribe(bus.TopicUpdated, func(bus.Message) {
		m.orch.Resume()
		go m.Recover(m.runContext())
	}))

	add(m.bus.Subscribe(bus.TopicSyncAuth, func(bus.Message) {
		// The host lost track of the session state; re-announce it.
		m.session.Announce()
	}))

	add(m.bus.Subscribe(bus.TopicInvalidPayload, func(bus.Message) {
		m.logger.Warn("invalid payload reported, refetching all streams")
		go func() {
			if err := m.orch.Refetch(m.runContext()); err != nil {
				m.logger.Warn("refetch after invalid payload failed", "err", err)
			}
		}()
	}))
}

func (m *Manager) runContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runCtx != nil {
		return m.runCtx
	}
	return context.Background()
}

func (m *Manager) transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !canTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("illegal lifecycle transition %s -> %s", from, to)
	}
	m.state = to
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	m.logger.Debug("lifecycle state", "from", from, "to", to)

	for _, fn := range subs {
		fn(to)
	}
	if m.bus != nil {
		m.bus.Publish(bus.TopicBootstrapState, to)
	}
	return nil
}
