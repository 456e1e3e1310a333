package connpool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Tuwebai/safespot-sync/internal/model"
)

func TestSSETransport_ParsesFrames(t *testing.T) {
	served := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)

		// Heartbeat comment, then three frames: one relying on the SSE
		// id/event fields, one malformed, one self-describing.
		fmt.Fprint(w, ": heartbeat\n\n")
		fmt.Fprint(w, "id: ev_1\nevent: report-create\ndata: {\"stream\":\"reports\",\"ts\":1000}\n\n")
		fl.Flush()
		fmt.Fprint(w, "data: this-is-not-json\n\n")
		fmt.Fprint(w, "data: {\"id\":\"ev_2\",\"type\":\"report-update\",\"stream\":\"reports\",\"ts\":2000}\n\n")
		fl.Flush()
		<-served
	}))
	defer server.Close()
	defer close(served)

	cfg := TransportConfig{
		URL:          server.URL,
		StaleTimeout: 5 * time.Second,
		BufferSize:   8,
		TokenSource:  func() string { return "tok" },
	}
	tr := NewSSETransport(cfg, nil)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !tr.IsConnected() {
		t.Fatal("not connected after Connect")
	}

	var got []model.Event
	for len(got) < 2 {
		select {
		case ev := <-tr.Events():
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, received %d events", len(got))
		}
	}

	if got[0].ID != "ev_1" || got[0].Type != model.TypeReportCreated {
		t.Errorf("event 1 = {%s %s}, want id/type from frame fields", got[0].ID, got[0].Type)
	}
	if got[0].EffectiveAt != 1000 {
		t.Errorf("event 1 ts = %d, want 1000", got[0].EffectiveAt)
	}
	if got[1].ID != "ev_2" || got[1].Type != model.TypeReportUpdated {
		t.Errorf("event 2 = {%s %s}", got[1].ID, got[1].Type)
	}
	if got[0].ReceivedAt.IsZero() || got[1].ReceivedAt.IsZero() {
		t.Error("ReceivedAt not stamped")
	}
}

func TestSSETransport_FullBufferBlocksWithoutLoss(t *testing.T) {
	served := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)

		for i := 1; i <= 3; i++ {
			fmt.Fprintf(w, "data: {\"id\":\"ev_%d\",\"type\":\"report-create\",\"stream\":\"reports\",\"ts\":%d}\n\n", i, i*1000)
		}
		fl.Flush()
		<-served
	}))
	defer server.Close()
	defer close(served)

	// Buffer of one: the read loop must stall, not drop, while the consumer
	// lags behind.
	tr := NewSSETransport(TransportConfig{URL: server.URL, StaleTimeout: 10 * time.Second, BufferSize: 1}, nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Let the read loop run into the full buffer before draining.
	time.Sleep(50 * time.Millisecond)

	var got []model.Event
	for len(got) < 3 {
		select {
		case ev := <-tr.Events():
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, received %d of 3 events", len(got))
		}
	}

	for i, ev := range got {
		if want := fmt.Sprintf("ev_%d", i+1); ev.ID != want {
			t.Errorf("event %d = %q, want %q", i, ev.ID, want)
		}
	}

	select {
	case err := <-tr.Errors():
		t.Errorf("unexpected transport error: %v", err)
	default:
	}
}

func TestSSETransport_ServerCloseSurfacesError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": hello\n\n")
		// Handler returns: the stream ends.
	}))
	defer server.Close()

	tr := NewSSETransport(TransportConfig{URL: server.URL, StaleTimeout: 5 * time.Second, BufferSize: 8}, nil)
	defer tr.Close()

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case err := <-tr.Errors():
		if err == nil {
			t.Error("nil error from closed stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error surfaced after server closed the stream")
	}
}

func TestSSETransport_NonOKStatusFailsConnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	tr := NewSSETransport(TransportConfig{URL: server.URL, StaleTimeout: time.Second, BufferSize: 8}, nil)
	if err := tr.Connect(context.Background()); err == nil {
		t.Error("Connect succeeded against a 503 endpoint")
	}
}

func TestSSETransport_ConnectAfterCloseFails(t *testing.T) {
	tr := NewSSETransport(TransportConfig{URL: "http://127.0.0.1:0", BufferSize: 1}, nil)
	tr.Close()
	if err := tr.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}
