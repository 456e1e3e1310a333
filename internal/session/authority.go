package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Tuwebai/safespot-sync/internal/bus"
	"github.com/Tuwebai/safespot-sync/internal/model"
)

// NotReadyError is returned by RequireWritable while the session cannot
// gate mutations. Callers distinguish it from network and validation errors
// with errors.As; a gated write never started, so there is nothing to roll
// back.
type NotReadyError struct {
	State State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("session not ready for writes (state %s)", e.State)
}

// Resetter clears traffic-controller state on logout.
type Resetter interface {
	Reset()
}

// Authority is the session state machine. Exactly one instance lives per
// process; it is constructed at the application root and injected, never
// reached through a package global.
type Authority struct {
	logger  *slog.Logger
	bus     *bus.Bus
	store   *Store
	traffic Resetter

	mu             sync.Mutex
	state          State
	session        model.Session
	subs           map[int]func(State)
	nextID         int
	loggingOut     bool
	cancelInFlight func()
}

// NewAuthority creates an authority in UNINITIALIZED. store and traffic may
// be nil in tests.
func NewAuthority(store *Store, traffic Resetter, b *bus.Bus, logger *slog.Logger) *Authority {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authority{
		logger:  logger,
		bus:     b,
		store:   store,
		traffic: traffic,
		state:   Uninitialized,
		subs:    make(map[int]func(State)),
	}
}

// SetCancelInFlight wires the callback that aborts in-flight fetches on
// forced logout. Wired late because the query layer is constructed after
// the authority.
func (a *Authority) SetCancelInFlight(fn func()) {
	a.mu.Lock()
	a.cancelInFlight = fn
	a.mu.Unlock()
}

// State returns the current state.
func (a *Authority) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscribe registers a transition listener and returns an unsubscribe
// function. Listeners run synchronously on the transitioning goroutine.
func (a *Authority) Subscribe(fn func(State)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
		})
	}
}

// Boot moves UNINITIALIZED (or a torn-down state) into BOOTSTRAPPING.
func (a *Authority) Boot() error {
	return a.transition(Bootstrapping)
}

// Fail marks an unrecoverable bootstrap failure.
func (a *Authority) Fail() error {
	return a.transition(Failed)
}

// SetSession installs the resolved session and moves to READY, or straight
// to AUTHENTICATED when the session carries verified credentials. The
// session snapshot is persisted so a restart can resume the same identity.
func (a *Authority) SetSession(s model.Session) error {
	target := Ready
	if s.Authenticated() {
		target = Authenticated
	}

	a.mu.Lock()
	if !canTransition(a.state, target) {
		from := a.state
		a.mu.Unlock()
		return fmt.Errorf("illegal session transition %s -> %s", from, target)
	}
	a.session = s
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.Save(s); err != nil {
			// Memory stays authoritative; a stale snapshot only costs a
			// re-bootstrap after restart.
			a.logger.Warn("failed to persist session", "error", err)
		}
	}

	return a.transition(target)
}

// Degrade records a transient identity failure. Reads continue, writes are
// gated until Recovered.
func (a *Authority) Degrade() error {
	return a.transition(Degraded)
}

// Recovered moves DEGRADED back to READY after a successful revalidation.
func (a *Authority) Recovered() error {
	return a.transition(Ready)
}

// RequireWritable fails fast with a typed NotReadyError unless the state
// admits mutations.
func (a *Authority) RequireWritable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.Writable() {
		return &NotReadyError{State: a.state}
	}
	return nil
}

// Announce re-broadcasts the current state on the bus. The host asks for
// this when it has missed transitions, e.g. after reloading its own view.
func (a *Authority) Announce() {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()

	if a.bus != nil {
		a.bus.Publish(bus.TopicSessionState, state)
	}
}

// StoredSession loads the persisted session snapshot, if any. ErrNoSession
// when nothing was saved or no store is attached.
func (a *Authority) StoredSession() (model.Session, error) {
	if a.store == nil {
		return model.Session{}, ErrNoSession
	}
	return a.store.Load()
}

// Session returns a copy of the current session snapshot.
func (a *Authority) Session() model.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// AnonymousID returns the stable anonymous identity, empty before boot.
func (a *Authority) AnonymousID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.AnonymousID
}

// Token returns the current signed token material, empty when anonymous.
func (a *Authority) Token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.Token
}

// HandleUnauthorized escalates a 401 from any authenticated call. Never
// retried: the session is gone, so the only correct move is teardown.
func (a *Authority) HandleUnauthorized() {
	a.Logout(model.LogoutSessionExpired)
}

// Logout tears the session down. Idempotent and reentrant-safe: concurrent
// 401s collapse into one teardown and one broadcast. Effects run in a fixed
// order: in-memory session, durable snapshot, traffic backoff state,
// in-flight fetches, then the logout broadcast consumed by routing layers.
func (a *Authority) Logout(reason model.LogoutReason) {
	a.mu.Lock()
	if a.loggingOut {
		a.mu.Unlock()
		return
	}
	target := Uninitialized
	if reason == model.LogoutSessionExpired {
		target = Expired
	}
	if a.state == target {
		a.mu.Unlock()
		return
	}
	a.loggingOut = true
	a.session = model.Session{}
	cancel := a.cancelInFlight
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.Clear(); err != nil {
			a.logger.Warn("failed to clear session store", "error", err)
		}
	}
	if a.traffic != nil {
		a.traffic.Reset()
	}
	if cancel != nil {
		cancel()
	}

	if err := a.transition(target); err != nil {
		a.logger.Warn("logout transition rejected", "error", err)
	}

	if a.bus != nil {
		a.bus.Publish(bus.TopicLogout, reason)
	}

	a.mu.Lock()
	a.loggingOut = false
	a.mu.Unlock()

	a.logger.Info("session torn down", "reason", reason)
}

// transition applies a legal edge and notifies subscribers; illegal edges
// are rejected with the state unchanged.
func (a *Authority) transition(to State) error {
	a.mu.Lock()
	from := a.state
	if !canTransition(from, to) {
		a.mu.Unlock()
		return fmt.Errorf("illegal session transition %s -> %s", from, to)
	}
	a.state = to
	subs := make([]func(State), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()

	a.logger.Debug("session state", "from", from, "to", to)

	for _, fn := range subs {
		fn(to)
	}
	if a.bus != nil {
		a.bus.Publish(bus.TopicSessionState, to)
	}
	return nil
}
