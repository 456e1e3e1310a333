package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Tuwebai/safespot-sync/internal/api"
	"github.com/Tuwebai/safespot-sync/internal/eventlog"
	"github.com/Tuwebai/safespot-sync/internal/model"
)

// Config holds syncer configuration.
type Config struct {
	// InstanceID is this client's identity for echo suppression. Events
	// originated here advance the cursor but are never re-applied.
	InstanceID string
	// Streams lists the push channels to subscribe.
	Streams []StreamConfig
}

// Syncer drives the per-stream recovery machines. One instance per process.
type Syncer struct {
	cfg     Config
	logger  *slog.Logger
	backend Backend
	log     *eventlog.Log
	streams Streams
	gate    Gate
	guard   SessionGuard
	applier Applier

	// applyMu serializes the apply path across live dispatch and resync
	// goroutines so the seen-check and the mark are atomic per event.
	applyMu sync.Mutex

	mu       sync.Mutex
	states   map[string]StreamState
	paused   bool
	pending  []model.Event
	unsubs   []func()
	cancel   context.CancelFunc
	inflight map[int]context.CancelFunc
	nextOp   int
	started  bool
	wg       sync.WaitGroup
}

// New creates a Syncer. Call Start to begin syncing.
func New(cfg Config, backend Backend, log *eventlog.Log, streams Streams, gate Gate, guard SessionGuard, applier Applier, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	states := make(map[string]StreamState, len(cfg.Streams))
	for _, sc := range cfg.Streams {
		states[sc.Name] = StateSynced
	}
	return &Syncer{
		cfg:      cfg,
		logger:   logger,
		backend:  backend,
		log:      log,
		streams:  streams,
		gate:     gate,
		guard:    guard,
		applier:  applier,
		states:   states,
		inflight: make(map[int]context.CancelFunc),
	}
}

// Start subscribes every configured stream and kicks an initial catchup per
// stream to drain events missed while the client was down.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("syncer already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	for _, sc := range s.cfg.Streams {
		stream := sc.Name

		for _, et := range sc.EventTypes {
			unsub, err := s.streams.Subscribe(sc.URL, et, s.handleEvent)
			if err != nil {
				s.Stop()
				return fmt.Errorf("subscribe %s/%s: %w", stream, et, err)
			}
			s.mu.Lock()
			s.unsubs = append(s.unsubs, unsub)
			s.mu.Unlock()
		}

		// Any reconnect means frames may have been missed; close the gap
		// from the durable cursor.
		off := s.streams.OnReconnect(sc.URL, func() {
			s.spawnResync(runCtx, stream)
		})
		s.mu.Lock()
		s.unsubs = append(s.unsubs, off)
		s.mu.Unlock()

		s.spawnResync(runCtx, stream)
	}

	s.logger.Info("syncer started", "streams", len(s.cfg.Streams))
	return nil
}

// Stop unsubscribes everything and waits for in-flight resyncs to finish.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, off := range unsubs {
		off()
	}
	s.wg.Wait()
}

// StreamState returns a stream's current recovery state.
func (s *Syncer) StreamState(stream string) StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[stream]
}

// Pause buffers live events instead of applying them. Used while a host
// update is pending so the consumer is not patched mid-swap.
func (s *Syncer) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.logger.Info("syncer paused")
}

// Resume flushes the buffered events through the normal apply path.
func (s *Syncer) Resume() {
	s.mu.Lock()
	s.paused = false
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range pending {
		if err := s.apply(ev); err != nil {
			s.logger.Warn("buffered event apply failed", "event_id", ev.ID, "error", err)
		}
	}
	s.logger.Info("syncer resumed", "flushed", len(pending))
}

// Refetch runs a full resync of every stream concurrently. Used by recovery
// and when local state is suspected corrupt; partial failure still leaves
// the succeeding streams rehydrated.
func (s *Syncer) Refetch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sc := range s.cfg.Streams {
		stream := sc.Name
		g.Go(func() error {
			return s.fullResync(ctx, stream)
		})
	}
	return g.Wait()
}

// CancelInFlight aborts every catchup and snapshot currently running. The
// syncer itself stays live: later resyncs derive fresh contexts from the run
// context and pick up from the durable cursor as usual.
func (s *Syncer) CancelInFlight() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.inflight))
	for _, c := range s.inflight {
		cancels = append(cancels, c)
	}
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	if len(cancels) > 0 {
		s.logger.Info("cancelled in-flight syncs", "count", len(cancels))
	}
}

// track derives a cancellable context for one recovery pass and registers it
// so CancelInFlight can abort it without touching the parent.
func (s *Syncer) track(ctx context.Context) (context.Context, func()) {
	opCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	id := s.nextOp
	s.nextOp++
	s.inflight[id] = cancel
	s.mu.Unlock()

	return opCtx, func() {
		cancel()
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	}
}

// Resync runs a cursor-based catchup for one stream, escalating to a full
// resync when the cursor is gone. On failure the stream's previous state is
// restored so it does not report RESYNCING forever.
func (s *Syncer) Resync(ctx context.Context, stream string) (err error) {
	ctx, done := s.track(ctx)
	defer done()

	prev := s.StreamState(stream)
	s.setState(stream, StateResyncing)
	defer func() {
		if err != nil {
			s.setState(stream, prev)
		}
	}()

	for {
		if err := s.gate.WaitUntilAllowed(ctx); err != nil {
			return err
		}

		cursor, err := s.log.Cursor(stream)
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}
		cursor.Stream = stream

		events, err := s.backend.Catchup(ctx, cursor)
		switch {
		case err == nil:
			s.gate.NotifySuccess()
			s.applyDelta(stream, events)
			s.setState(stream, StateSynced)
			return nil

		case errors.Is(err, api.ErrCursorGone):
			// The retained window moved past us. An empty delta here would
			// silently lose events; rebuild from canonical state instead.
			s.logger.Warn("cursor gone, full resync", "stream", stream)
			return s.fullResync(ctx, stream)

		case errors.Is(err, api.ErrUnauthorized):
			s.guard.HandleUnauthorized()
			return err

		default:
			var rateLimited *api.RateLimitError
			if errors.As(err, &rateLimited) {
				s.gate.ReportRateLimit()
				continue
			}
			return fmt.Errorf("catchup %s: %w", stream, err)
		}
	}
}

func (s *Syncer) fullResync(ctx context.Context, stream string) (err error) {
	ctx, done := s.track(ctx)
	defer done()

	prev := s.StreamState(stream)
	s.setState(stream, StateFullResync)
	defer func() {
		if err != nil {
			s.setState(stream, prev)
		}
	}()

	for {
		if err := s.gate.WaitUntilAllowed(ctx); err != nil {
			return err
		}

		events, err := s.backend.Snapshot(ctx, stream)
		switch {
		case err == nil:
			s.gate.NotifySuccess()
			if err := s.log.Clear(stream); err != nil {
				return fmt.Errorf("clear stream log: %w", err)
			}
			s.applier.Invalidate(stream)
			s.applyDelta(stream, events)
			s.setState(stream, StateSynced)
			s.logger.Info("stream rehydrated", "stream", stream, "events", len(events))
			return nil

		case errors.Is(err, api.ErrUnauthorized):
			s.guard.HandleUnauthorized()
			return err

		default:
			var rateLimited *api.RateLimitError
			if errors.As(err, &rateLimited) {
				s.gate.ReportRateLimit()
				continue
			}
			return fmt.Errorf("snapshot %s: %w", stream, err)
		}
	}
}

// applyDelta sorts a batch into (time, id) total order and feeds each event
// through the shared apply path. Individual failures are logged and skipped
// so one bad event cannot stall the stream.
func (s *Syncer) applyDelta(stream string, events []model.Event) {
	model.SortEvents(events)
	for _, ev := range events {
		if ev.Stream == "" {
			ev.Stream = stream
		}
		if err := s.apply(ev); err != nil {
			s.logger.Warn("delta event apply failed",
				"stream", stream,
				"event_id", ev.ID,
				"error", err,
			)
		}
	}
}

// handleEvent receives live push-channel events.
func (s *Syncer) handleEvent(ev model.Event) {
	s.mu.Lock()
	if s.paused {
		s.pending = append(s.pending, ev)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.apply(ev); err != nil {
		s.logger.Warn("live event apply failed", "event_id", ev.ID, "error", err)
	}
}

// apply is the single idempotent apply path. Order matters: the processed
// record is written only after the applier has integrated the event, so a
// crash between the two redelivers rather than drops.
func (s *Syncer) apply(ev model.Event) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if !ev.Valid() {
		// Malformed frames are logged and skipped; the stream continues.
		s.logger.Warn("malformed event skipped", "event_id", ev.ID, "type", ev.Type)
		return nil
	}

	seen, err := s.log.Seen(ev.Stream, ev.ID)
	if err != nil {
		return fmt.Errorf("seen check: %w", err)
	}
	if seen {
		return nil
	}

	// Echoes of our own mutations advance the cursor without re-applying;
	// the optimistic update already happened locally.
	if ev.OriginClientID != "" && ev.OriginClientID == s.cfg.InstanceID {
		return s.log.MarkAndAdvance(ev)
	}

	if err := s.applier.Apply(ev); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	return s.log.MarkAndAdvance(ev)
}

func (s *Syncer) spawnResync(ctx context.Context, stream string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Resync(ctx, stream); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("resync failed", "stream", stream, "error", err)
		}
	}()
}

func (s *Syncer) setState(stream string, state StreamState) {
	s.mu.Lock()
	prev := s.states[stream]
	s.states[stream] = state
	s.mu.Unlock()
	if prev != state {
		s.logger.Debug("stream state", "stream", stream, "from", prev, "to", state)
	}
}
