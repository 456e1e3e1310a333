package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/Tuwebai/safespot-sync/internal/api"
	"github.com/Tuwebai/safespot-sync/internal/bootstrap"
	"github.com/Tuwebai/safespot-sync/internal/bus"
	"github.com/Tuwebai/safespot-sync/internal/config"
	"github.com/Tuwebai/safespot-sync/internal/connpool"
	"github.com/Tuwebai/safespot-sync/internal/eventlog"
	"github.com/Tuwebai/safespot-sync/internal/heartbeat"
	"github.com/Tuwebai/safespot-sync/internal/model"
	"github.com/Tuwebai/safespot-sync/internal/session"
	"github.com/Tuwebai/safespot-sync/internal/syncer"
	"github.com/Tuwebai/safespot-sync/internal/traffic"
	"github.com/Tuwebai/safespot-sync/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/syncd.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting syncd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.BaseURL,
		"streams", len(cfg.Streams),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Open the durable event log
	log, err := eventlog.Open(filepath.Join(cfg.Instance.DataDir, "events"), eventlog.Config{
		Retention: cfg.EventLog.Retention,
		GCPeriod:  cfg.EventLog.GCPeriod,
	}, logger)
	if err != nil {
		logger.Error("failed to open event log", "error", err)
		os.Exit(1)
	}
	defer log.Close()

	// Open the session snapshot store
	store, err := session.OpenStore(filepath.Join(cfg.Instance.DataDir, "session"))
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Core plumbing: bus, traffic governor, session authority
	b := bus.New(logger)

	controller := traffic.NewController(traffic.Config{
		BackoffFloor: cfg.Traffic.BackoffFloor,
		BackoffCap:   cfg.Traffic.BackoffCap,
		RatePerSec:   cfg.Traffic.RatePerSec,
		Burst:        cfg.Traffic.Burst,
	}, logger)

	authority := session.NewAuthority(store, controller, b, logger)

	// REST client; the bearer token always reflects the live session
	apiClient := api.NewClient(
		cfg.API.BaseURL,
		authority.Token,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
	)

	// Connection pool; per-stream transport selection
	kindByURL := make(map[string]connpool.TransportKind, len(cfg.Streams))
	for _, sc := range cfg.Streams {
		kindByURL[sc.URL] = connpool.TransportKind(sc.Transport)
	}

	pool := connpool.New(connpool.Config{
		ReconnectBaseDelay: cfg.Connections.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Connections.ReconnectMaxDelay,
		StaleTimeout:       cfg.Connections.StaleTimeout,
		BufferSize:         cfg.Connections.BufferSize,
		TokenSource:        authority.Token,
		NewTransport: func(tc connpool.TransportConfig) connpool.Transport {
			if kindByURL[tc.URL] == connpool.TransportWebSocket {
				return connpool.NewWSTransport(tc, logger.With("transport", "ws"))
			}
			return connpool.NewSSETransport(tc, logger.With("transport", "sse"))
		},
	}, logger)
	defer pool.Close()

	// Applier: serialized in-memory view of applied events
	queue := traffic.NewSerialQueue(cfg.Connections.BufferSize, logger)
	defer queue.Close()
	view := newStreamView(queue, logger)

	streams := make([]syncer.StreamConfig, 0, len(cfg.Streams))
	for _, sc := range cfg.Streams {
		types := make([]model.EventType, 0, len(sc.EventTypes))
		for _, et := range sc.EventTypes {
			types = append(types, model.EventType(et))
		}
		streams = append(streams, syncer.StreamConfig{
			Name:       sc.Name,
			URL:        sc.URL,
			EventTypes: types,
		})
	}

	orch := syncer.New(syncer.Config{
		InstanceID: cfg.Instance.ID,
		Streams:    streams,
	}, apiClient, log, pool, controller, authority, view, logger)

	// Forced logout aborts in-flight catchups; the syncer itself stays up
	// so a later login can resync.
	authority.SetCancelInFlight(orch.CancelInFlight)

	beater := heartbeat.New(heartbeat.Config{
		Interval: cfg.Heartbeat.Interval,
		Timeout:  cfg.Heartbeat.Timeout,
	}, apiClient, pool, authority, cfg.Instance.ID, logger)

	manager := bootstrap.New(bootstrap.Config{
		BootTimeout:    cfg.Session.BootTimeout,
		RecoverTimeout: cfg.Session.RecoverTimeout,
	}, apiClient, authority, pool, orch, b, logger)

	// Health endpoint up before the boot sequence so progress is observable
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(cfg, manager, authority, pool, orch, view),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// SIGUSR1 hides the client, SIGUSR2 shows it; the lifecycle manager
	// reacts through the visibility topic exactly as an embedded host would.
	visCh := make(chan os.Signal, 1)
	signal.Notify(visCh, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range visCh {
			visible := sig == syscall.SIGUSR2
			logger.Info("visibility signal", "visible", visible)
			b.Publish(bus.TopicVisibility, visible)
		}
	}()

	// Boot: identity, session, RUNNING
	if err := manager.Start(ctx); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer manager.Close()

	if err := orch.Start(ctx); err != nil {
		logger.Error("failed to start syncer", "error", err)
		os.Exit(1)
	}
	defer orch.Stop()

	if err := beater.Start(ctx); err != nil {
		logger.Error("failed to start heartbeat", "error", err)
		os.Exit(1)
	}

	logger.Info("syncd running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d%s", cfg.Health.Port, cfg.Health.Path),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	beater.Stop(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)

	logger.Info("syncd stopped")
}

// streamView is the daemon's consumer: a serialized per-stream event count
// that stands in for the host application's cache layer. Applies run through
// the serial queue so ordering and failure isolation hold even if a future
// applier does real work.
type streamView struct {
	queue  *traffic.SerialQueue
	logger *slog.Logger

	mu     sync.Mutex
	counts map[string]int
	latest map[string]time.Time
}

func newStreamView(queue *traffic.SerialQueue, logger *slog.Logger) *streamView {
	return &streamView{
		queue:  queue,
		logger: logger,
		counts: make(map[string]int),
		latest: make(map[string]time.Time),
	}
}

func (v *streamView) Apply(ev model.Event) error {
	return <-v.queue.Enqueue(string(ev.Type), func() error {
		v.mu.Lock()
		v.counts[ev.Stream]++
		v.latest[ev.Stream] = time.Now()
		v.mu.Unlock()
		v.logger.Debug("event applied",
			"stream", ev.Stream,
			"type", ev.Type,
			"event_id", ev.ID,
		)
		return nil
	})
}

func (v *streamView) Invalidate(stream string) {
	v.mu.Lock()
	delete(v.counts, stream)
	delete(v.latest, stream)
	v.mu.Unlock()
	v.logger.Info("stream view invalidated", "stream", stream)
}

func (v *streamView) snapshot() map[string]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]int, len(v.counts))
	for k, n := range v.counts {
		out[k] = n
	}
	return out
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(cfg *config.Config, manager *bootstrap.Manager, authority *session.Authority, pool *connpool.Pool, orch *syncer.Syncer, view *streamView) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc(cfg.Health.Path, func(w http.ResponseWriter, r *http.Request) {
		stats := pool.Stats()

		streams := make(map[string]string, len(cfg.Streams))
		for _, sc := range cfg.Streams {
			streams[sc.Name] = orch.StreamState(sc.Name).String()
		}

		health := struct {
			Status    string            `json:"status"`
			Lifecycle string            `json:"lifecycle"`
			Session   string            `json:"session"`
			Streams   map[string]string `json:"streams"`
			Pool      map[string]int    `json:"pool"`
			Applied   map[string]int    `json:"applied"`
		}{
			Status:    "healthy",
			Lifecycle: manager.State().String(),
			Session:   authority.State().String(),
			Streams:   streams,
			Pool: map[string]int{
				"connections": stats.Connections,
				"healthy":     stats.Healthy,
				"subscribers": stats.Subscribers,
			},
			Applied: view.snapshot(),
		}

		switch manager.State() {
		case bootstrap.Failed:
			health.Status = "unhealthy"
		case bootstrap.Suspended, bootstrap.Recovering, bootstrap.Booting:
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
