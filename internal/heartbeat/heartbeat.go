// Package heartbeat keeps the backend's liveness view of this client fresh
// when the push channel cannot do it. Ticks are skipped while every pooled
// connection is healthy; the open stream is already proof of life.
package heartbeat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tuwebai/safespot-sync/internal/api"
)

// Pinger is the liveness surface of the REST client.
type Pinger interface {
	Heartbeat(ctx context.Context, clientID string) error
}

// Health reports whether the push channel is currently carrying liveness.
type Health interface {
	HealthyAll() bool
}

// Escalator handles rejected credentials.
type Escalator interface {
	HandleUnauthorized()
}

// Config holds heartbeat configuration.
type Config struct {
	Interval time.Duration // Ping interval (default: 30s)
	Timeout  time.Duration // Per-ping timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// Beater periodically pings the backend with the client instance ID.
type Beater struct {
	cfg       Config
	pinger    Pinger
	health    Health
	escalator Escalator
	clientID  string
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Beater. health and escalator may be nil.
func New(cfg Config, pinger Pinger, health Health, escalator Escalator, clientID string, logger *slog.Logger) *Beater {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Beater{
		cfg:       cfg,
		pinger:    pinger,
		health:    health,
		escalator: escalator,
		clientID:  clientID,
		logger:    logger,
	}
}

// Start begins the heartbeat loop.
func (b *Beater) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go b.run()

	b.logger.Info("heartbeat started", "interval", b.cfg.Interval)
	return nil
}

// Stop gracefully shuts down the heartbeat loop.
func (b *Beater) Stop(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("heartbeat stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Beater) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Beater) tick() {
	if b.health != nil && b.health.HealthyAll() {
		b.logger.Debug("heartbeat skipped, push channel healthy")
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.cfg.Timeout)
	defer cancel()

	err := b.pinger.Heartbeat(ctx, b.clientID)
	switch {
	case err == nil:
	case errors.Is(err, api.ErrUnauthorized):
		if b.escalator != nil {
			b.escalator.HandleUnauthorized()
		}
	default:
		b.logger.Warn("heartbeat failed", "err", err)
	}
}
