package traffic

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State describes the controller's traffic posture.
type State string

const (
	// StateIdle passes actions through immediately.
	StateIdle State = "IDLE"
	// StateRateLimited is the instant a rate-limit signal arrives, before
	// the backoff window is scheduled.
	StateRateLimited State = "RATE_LIMITED"
	// StateBackingOff holds actions until the scheduled delay elapses.
	StateBackingOff State = "BACKING_OFF"
	// StateAllowing ramps actions back through the token bucket after a
	// backoff window clears.
	StateAllowing State = "ALLOWING"
	// StateCongested is BACKING_OFF with the delay pinned at the cap.
	StateCongested State = "CONGESTED"
)

// Config holds backoff and pacing parameters.
type Config struct {
	BackoffFloor time.Duration // first delay after a rate-limit signal
	BackoffCap   time.Duration // delays never exceed this
	RatePerSec   float64       // token-bucket refill rate while ALLOWING
	Burst        int           // token-bucket burst while ALLOWING
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BackoffFloor: 2 * time.Second,
		BackoffCap:   60 * time.Second,
		RatePerSec:   10,
		Burst:        5,
	}
}

// Controller is the global backoff governor. One instance gates all
// traffic-sensitive actions in the process.
type Controller struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter

	mu          sync.Mutex
	state       State
	consecutive int           // rate-limit hits without an intervening success
	delay       time.Duration // currently scheduled backoff delay
	cleared     chan struct{} // closed when the current backoff window ends
	timer       *time.Timer
}

// NewController creates a controller in the IDLE state.
func NewController(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BackoffFloor == 0 {
		cfg.BackoffFloor = DefaultConfig().BackoffFloor
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = DefaultConfig().BackoffCap
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = DefaultConfig().RatePerSec
	}
	if cfg.Burst == 0 {
		cfg.Burst = DefaultConfig().Burst
	}

	return &Controller{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		state:   StateIdle,
	}
}

// State returns the current traffic posture.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Delay returns the currently scheduled backoff delay, zero when none.
func (c *Controller) Delay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// WaitUntilAllowed blocks until outgoing actions may proceed. It returns
// immediately in IDLE, paces through the token bucket in ALLOWING, and
// otherwise waits for the backoff window to clear. This is the sole
// suspension point for traffic-gated actions.
func (c *Controller) WaitUntilAllowed(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch c.state {
		case StateIdle:
			c.mu.Unlock()
			return nil
		case StateAllowing:
			c.mu.Unlock()
			return c.limiter.Wait(ctx)
		default:
			cleared := c.cleared
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-cleared:
			}
		}
	}
}

// ReportRateLimit records a rate-limit signal from the server. The first
// hit schedules the floor delay; each consecutive hit doubles it up to the
// cap, where the controller reports CONGESTED.
func (c *Controller) ReportRateLimit() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutive++
	delay := c.cfg.BackoffFloor << (c.consecutive - 1)
	if c.consecutive > 16 || delay > c.cfg.BackoffCap || delay <= 0 {
		delay = c.cfg.BackoffCap
	}
	c.delay = delay

	if c.state == StateIdle || c.state == StateAllowing {
		c.cleared = make(chan struct{})
	}
	c.state = StateRateLimited
	if delay >= c.cfg.BackoffCap {
		c.state = StateCongested
	} else {
		c.state = StateBackingOff
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, c.clearBackoff)

	c.logger.Warn("rate limited, backing off",
		"delay", delay,
		"consecutive", c.consecutive,
		"state", c.state,
	)
}

// NotifySuccess records a successful action, resetting the consecutive
// counter so the next backoff starts at the floor again. A success while
// ALLOWING returns the controller to IDLE.
func (c *Controller) NotifySuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutive = 0
	if c.state == StateAllowing {
		c.state = StateIdle
		c.delay = 0
	}
}

// Reset drops all backoff state. Used on forced logout so a new session
// never inherits a stale penalty window.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cleared != nil {
		close(c.cleared)
		c.cleared = nil
	}
	c.state = StateIdle
	c.consecutive = 0
	c.delay = 0
}

func (c *Controller) clearBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateBackingOff && c.state != StateCongested && c.state != StateRateLimited {
		return
	}
	c.state = StateAllowing
	if c.cleared != nil {
		close(c.cleared)
		c.cleared = nil
	}
	c.logger.Info("backoff cleared, ramping traffic")
}
