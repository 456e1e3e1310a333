package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Tuwebai/safespot-sync/internal/api"
	"github.com/Tuwebai/safespot-sync/internal/eventlog"
	"github.com/Tuwebai/safespot-sync/internal/model"
)

type fakeBackend struct {
	catchup  func(model.Cursor) ([]model.Event, error)
	snapshot func(string) ([]model.Event, error)
}

func (f *fakeBackend) Catchup(_ context.Context, cursor model.Cursor) ([]model.Event, error) {
	return f.catchup(cursor)
}

func (f *fakeBackend) Snapshot(_ context.Context, stream string) ([]model.Event, error) {
	return f.snapshot(stream)
}

type fakeStreams struct{}

func (fakeStreams) Subscribe(string, model.EventType, func(model.Event)) (func(), error) {
	return func() {}, nil
}

func (fakeStreams) OnReconnect(string, func()) func() {
	return func() {}
}

type fakeGate struct {
	mu      sync.Mutex
	reports int
}

func (f *fakeGate) WaitUntilAllowed(context.Context) error { return nil }
func (f *fakeGate) NotifySuccess()                         {}

func (f *fakeGate) ReportRateLimit() {
	f.mu.Lock()
	f.reports++
	f.mu.Unlock()
}

type fakeGuard struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeGuard) HandleUnauthorized() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

type recordingApplier struct {
	mu          sync.Mutex
	applied     []model.Event
	invalidated []string
	failOn      map[string]error
}

func (r *recordingApplier) Apply(ev model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failOn[ev.ID]; ok {
		return err
	}
	r.applied = append(r.applied, ev)
	return nil
}

func (r *recordingApplier) Invalidate(stream string) {
	r.mu.Lock()
	r.invalidated = append(r.invalidated, stream)
	r.mu.Unlock()
}

func (r *recordingApplier) appliedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.applied))
	for i, ev := range r.applied {
		ids[i] = ev.ID
	}
	return ids
}

func newTestSyncer(t *testing.T, backend Backend) (*Syncer, *recordingApplier, *fakeGate, *fakeGuard) {
	t.Helper()

	log, err := eventlog.Open(t.TempDir(), eventlog.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	applier := &recordingApplier{}
	gate := &fakeGate{}
	guard := &fakeGuard{}

	cfg := Config{
		InstanceID: "inst_self",
		Streams: []StreamConfig{
			{Name: "reports", URL: "http://push/reports", EventTypes: []model.EventType{model.TypeReportCreated}},
		},
	}
	s := New(cfg, backend, log, fakeStreams{}, gate, guard, applier, nil)
	return s, applier, gate, guard
}

func ev(id string, at int64) model.Event {
	return model.Event{
		ID:          id,
		Type:        model.TypeReportCreated,
		Stream:      "reports",
		EffectiveAt: at,
	}
}

func TestApply_Idempotent(t *testing.T) {
	s, applier, _, _ := newTestSyncer(t, &fakeBackend{})

	e := ev("ev_1", 100)
	if err := s.apply(e); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := s.apply(e); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	if got := applier.appliedIDs(); len(got) != 1 {
		t.Errorf("applied %v, want exactly one delivery", got)
	}
}

func TestApply_EchoSuppression(t *testing.T) {
	s, applier, _, _ := newTestSyncer(t, &fakeBackend{})

	echo := ev("ev_1", 100)
	echo.OriginClientID = "inst_self"
	if err := s.apply(echo); err != nil {
		t.Fatalf("apply echo: %v", err)
	}

	if got := applier.appliedIDs(); len(got) != 0 {
		t.Errorf("echo reached applier: %v", got)
	}

	// The cursor still advanced, so catchup will not refetch the echo.
	cursor, err := s.log.Cursor("reports")
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor.AfterID != "ev_1" || cursor.AfterTime != 100 {
		t.Errorf("cursor = %+v", cursor)
	}
}

func TestApply_MalformedSkipped(t *testing.T) {
	s, applier, _, _ := newTestSyncer(t, &fakeBackend{})

	if err := s.apply(model.Event{ID: "ev_bad"}); err != nil {
		t.Fatalf("malformed event returned error: %v", err)
	}
	if err := s.apply(ev("ev_good", 100)); err != nil {
		t.Fatalf("apply after malformed: %v", err)
	}

	if got := applier.appliedIDs(); len(got) != 1 || got[0] != "ev_good" {
		t.Errorf("applied = %v", got)
	}
}

func TestApply_FailureLeavesEventUnmarked(t *testing.T) {
	s, applier, _, _ := newTestSyncer(t, &fakeBackend{})
	applier.failOn = map[string]error{"ev_1": context.DeadlineExceeded}

	e := ev("ev_1", 100)
	if err := s.apply(e); err == nil {
		t.Fatal("expected apply error")
	}

	// Redelivery succeeds once the applier recovers.
	applier.failOn = nil
	if err := s.apply(e); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if got := applier.appliedIDs(); len(got) != 1 || got[0] != "ev_1" {
		t.Errorf("applied = %v", got)
	}
}

func TestResync_SortsDelta(t *testing.T) {
	backend := &fakeBackend{
		catchup: func(model.Cursor) ([]model.Event, error) {
			// Out of order and with an (effective time) tie.
			return []model.Event{ev("ev_3", 300), ev("ev_1", 100), ev("ev_2", 100)}, nil
		},
	}
	s, applier, _, _ := newTestSyncer(t, backend)

	if err := s.Resync(context.Background(), "reports"); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	want := []string{"ev_1", "ev_2", "ev_3"}
	got := applier.appliedIDs()
	if len(got) != len(want) {
		t.Fatalf("applied = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("applied[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	cursor, _ := s.log.Cursor("reports")
	if cursor.AfterID != "ev_3" || cursor.AfterTime != 300 {
		t.Errorf("cursor = %+v", cursor)
	}
	if s.StreamState("reports") != StateSynced {
		t.Errorf("state = %v", s.StreamState("reports"))
	}
}

func TestResync_GoneCursorRehydrates(t *testing.T) {
	backend := &fakeBackend{
		catchup: func(model.Cursor) ([]model.Event, error) {
			return nil, api.ErrCursorGone
		},
		snapshot: func(stream string) ([]model.Event, error) {
			return []model.Event{ev("snap_1", 10), ev("snap_2", 20)}, nil
		},
	}
	s, applier, _, _ := newTestSyncer(t, backend)

	// Pre-existing history that the rehydration must discard.
	if err := s.apply(ev("old_1", 5)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := s.Resync(context.Background(), "reports"); err != nil {
		t.Fatalf("Resync: %v", err)
	}

	applier.mu.Lock()
	invalidated := applier.invalidated
	applier.mu.Unlock()
	if len(invalidated) != 1 || invalidated[0] != "reports" {
		t.Errorf("invalidated = %v", invalidated)
	}

	// The old record was cleared: a redelivery of old_1 would apply again.
	seen, err := s.log.Seen("reports", "old_1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Error("stream log not cleared before rehydration")
	}

	cursor, _ := s.log.Cursor("reports")
	if cursor.AfterID != "snap_2" {
		t.Errorf("cursor = %+v", cursor)
	}
}

func TestResync_UnauthorizedEscalates(t *testing.T) {
	var calls int
	backend := &fakeBackend{
		catchup: func(model.Cursor) ([]model.Event, error) {
			calls++
			return nil, api.ErrUnauthorized
		},
	}
	s, _, _, guard := newTestSyncer(t, backend)

	if err := s.Resync(context.Background(), "reports"); err == nil {
		t.Fatal("expected error")
	}
	if guard.calls != 1 {
		t.Errorf("HandleUnauthorized calls = %d", guard.calls)
	}
	if calls != 1 {
		t.Errorf("401 retried: %d calls", calls)
	}
}

func TestResync_RateLimitReportsAndRetries(t *testing.T) {
	var calls int
	backend := &fakeBackend{
		catchup: func(model.Cursor) ([]model.Event, error) {
			calls++
			if calls == 1 {
				return nil, &api.RateLimitError{}
			}
			return []model.Event{ev("ev_1", 100)}, nil
		},
	}
	s, applier, gate, _ := newTestSyncer(t, backend)

	if err := s.Resync(context.Background(), "reports"); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if gate.reports != 1 {
		t.Errorf("ReportRateLimit calls = %d", gate.reports)
	}
	if got := applier.appliedIDs(); len(got) != 1 {
		t.Errorf("applied = %v", got)
	}
}

func TestResync_FailureRestoresStreamState(t *testing.T) {
	backend := &fakeBackend{
		catchup: func(model.Cursor) ([]model.Event, error) {
			return nil, errors.New("backend down")
		},
	}
	s, _, _, _ := newTestSyncer(t, backend)

	if err := s.Resync(context.Background(), "reports"); err == nil {
		t.Fatal("expected error")
	}
	if got := s.StreamState("reports"); got != StateSynced {
		t.Errorf("state after failed resync = %v, want SYNCED", got)
	}
}

func TestResync_SnapshotFailureRestoresStreamState(t *testing.T) {
	backend := &fakeBackend{
		catchup: func(model.Cursor) ([]model.Event, error) {
			return nil, api.ErrCursorGone
		},
		snapshot: func(string) ([]model.Event, error) {
			return nil, errors.New("backend down")
		},
	}
	s, _, _, _ := newTestSyncer(t, backend)

	if err := s.Resync(context.Background(), "reports"); err == nil {
		t.Fatal("expected error")
	}
	if got := s.StreamState("reports"); got != StateSynced {
		t.Errorf("state after failed rehydration = %v, want SYNCED", got)
	}
}

type ctxBackend struct {
	catchup  func(context.Context, model.Cursor) ([]model.Event, error)
	snapshot func(context.Context, string) ([]model.Event, error)
}

func (f *ctxBackend) Catchup(ctx context.Context, cursor model.Cursor) ([]model.Event, error) {
	return f.catchup(ctx, cursor)
}

func (f *ctxBackend) Snapshot(ctx context.Context, stream string) ([]model.Event, error) {
	return f.snapshot(ctx, stream)
}

func TestCancelInFlight_AbortsButKeepsSyncerUsable(t *testing.T) {
	entered := make(chan struct{})
	var calls int
	backend := &ctxBackend{
		catchup: func(ctx context.Context, _ model.Cursor) ([]model.Event, error) {
			calls++
			if calls == 1 {
				close(entered)
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return []model.Event{ev("ev_1", 100)}, nil
		},
	}
	s, applier, _, _ := newTestSyncer(t, backend)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Resync(context.Background(), "reports")
	}()

	<-entered
	s.CancelInFlight()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled resync = %v, want context.Canceled", err)
	}

	// Only the in-flight pass died: a later resync runs to completion, e.g.
	// after the user logs back in.
	if err := s.Resync(context.Background(), "reports"); err != nil {
		t.Fatalf("resync after cancel: %v", err)
	}
	if got := applier.appliedIDs(); len(got) != 1 || got[0] != "ev_1" {
		t.Errorf("applied = %v", got)
	}
}

func TestPauseBuffersUntilResume(t *testing.T) {
	s, applier, _, _ := newTestSyncer(t, &fakeBackend{})

	s.Pause()
	s.handleEvent(ev("ev_1", 100))
	s.handleEvent(ev("ev_2", 200))

	if got := applier.appliedIDs(); len(got) != 0 {
		t.Fatalf("applied while paused: %v", got)
	}

	s.Resume()

	got := applier.appliedIDs()
	if len(got) != 2 || got[0] != "ev_1" || got[1] != "ev_2" {
		t.Errorf("applied after resume = %v", got)
	}
}

func TestRefetch_AllStreams(t *testing.T) {
	var mu sync.Mutex
	snapshots := map[string]int{}
	backend := &fakeBackend{
		snapshot: func(stream string) ([]model.Event, error) {
			mu.Lock()
			snapshots[stream]++
			mu.Unlock()
			return nil, nil
		},
	}

	log, err := eventlog.Open(t.TempDir(), eventlog.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("open event log: %v", err)
	}
	defer log.Close()

	applier := &recordingApplier{}
	cfg := Config{
		InstanceID: "inst_self",
		Streams: []StreamConfig{
			{Name: "reports", URL: "http://push/reports"},
			{Name: "comments", URL: "http://push/comments"},
		},
	}
	s := New(cfg, backend, log, fakeStreams{}, &fakeGate{}, &fakeGuard{}, applier, nil)

	if err := s.Refetch(context.Background()); err != nil {
		t.Fatalf("Refetch: %v", err)
	}

	if snapshots["reports"] != 1 || snapshots["comments"] != 1 {
		t.Errorf("snapshots = %v", snapshots)
	}

	applier.mu.Lock()
	invalidated := len(applier.invalidated)
	applier.mu.Unlock()
	if invalidated != 2 {
		t.Errorf("invalidated %d streams, want 2", invalidated)
	}
}
