// streamtest dials a push stream and prints decoded events to the console.
// Usage: go run ./cmd/streamtest --url https://sync.example.com/v1/stream/reports
//
// A bearer token can be supplied via the SAFESPOT_TOKEN environment variable.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tuwebai/safespot-sync/internal/connpool"
	"github.com/Tuwebai/safespot-sync/internal/model"
)

func main() {
	url := flag.String("url", "", "push stream URL to dial")
	transport := flag.String("transport", "sse", "transport: sse or websocket")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	stale := flag.Duration("stale", 90*time.Second, "stale timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if *url == "" {
		logger.Error("missing --url")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	token := os.Getenv("SAFESPOT_TOKEN")

	cfg := connpool.TransportConfig{
		URL:          *url,
		Kind:         connpool.TransportKind(*transport),
		StaleTimeout: *stale,
		BufferSize:   1000,
		TokenSource:  func() string { return token },
	}

	var t connpool.Transport
	switch cfg.Kind {
	case connpool.TransportWebSocket:
		t = connpool.NewWSTransport(cfg, logger)
	case connpool.TransportSSE:
		t = connpool.NewSSETransport(cfg, logger)
	default:
		logger.Error("unknown transport", "transport", *transport)
		os.Exit(1)
	}

	logger.Info("dialing", "url", *url, "transport", cfg.Kind)
	if err := t.Connect(ctx); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}
	defer t.Close()

	var received, malformed int
	statsTicker := time.NewTicker(10 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete", "received", received, "malformed", malformed)
			return

		case <-t.Done():
			logger.Info("transport closed", "received", received)
			return

		case err := <-t.Errors():
			logger.Error("stream error", "error", err)
			cancel()

		case <-statsTicker.C:
			logger.Info("stats",
				"received", received,
				"malformed", malformed,
				"connected", t.IsConnected(),
			)

		case ev := <-t.Events():
			received++
			if !ev.Valid() {
				malformed++
				logger.Warn("malformed event", "event_id", ev.ID)
				continue
			}
			printEvent(ev, *verbose)
		}
	}
}

func printEvent(ev model.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Printf("[EVENT] %s\n", data)
		return
	}
	fmt.Printf("[%s] id=%s stream=%s ts=%d origin=%s payload=%dB\n",
		ev.Type, ev.ID, ev.Stream, ev.EffectiveAt, ev.OriginClientID, len(ev.Payload))
}
