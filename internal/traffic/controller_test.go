package traffic

import (
	"context"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		BackoffFloor: 10 * time.Millisecond,
		BackoffCap:   80 * time.Millisecond,
		RatePerSec:   1000,
		Burst:        1000,
	}
}

func TestController_IdlePassesImmediately(t *testing.T) {
	c := NewController(testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := c.WaitUntilAllowed(ctx); err != nil {
		t.Fatalf("WaitUntilAllowed: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("IDLE wait did not return immediately")
	}
}

func TestController_BackoffGrowthAndCap(t *testing.T) {
	c := NewController(testConfig(), nil)

	var delays []time.Duration
	for i := 0; i < 6; i++ {
		c.ReportRateLimit()
		delays = append(delays, c.Delay())
	}

	// Strictly increasing until the cap, then pinned.
	for i := 1; i < len(delays); i++ {
		if delays[i-1] < 80*time.Millisecond && delays[i] <= delays[i-1] {
			t.Errorf("delay[%d]=%v not greater than delay[%d]=%v", i, delays[i], i-1, delays[i-1])
		}
		if delays[i] > 80*time.Millisecond {
			t.Errorf("delay[%d]=%v exceeds cap", i, delays[i])
		}
	}
	if delays[len(delays)-1] != 80*time.Millisecond {
		t.Errorf("final delay = %v, want cap 80ms", delays[len(delays)-1])
	}
	if got := c.State(); got != StateCongested {
		t.Errorf("state at cap = %v, want CONGESTED", got)
	}
}

func TestController_SuccessResetsCounter(t *testing.T) {
	c := NewController(testConfig(), nil)

	c.ReportRateLimit()
	c.ReportRateLimit()
	if c.Delay() != 20*time.Millisecond {
		t.Fatalf("delay after two hits = %v, want 20ms", c.Delay())
	}

	// Let the window clear, succeed, then hit again: back to the floor.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.WaitUntilAllowed(ctx); err != nil {
		t.Fatalf("WaitUntilAllowed: %v", err)
	}
	c.NotifySuccess()

	c.ReportRateLimit()
	if c.Delay() != 10*time.Millisecond {
		t.Errorf("delay after success reset = %v, want floor 10ms", c.Delay())
	}
}

func TestController_WaitBlocksUntilCleared(t *testing.T) {
	c := NewController(testConfig(), nil)

	c.ReportRateLimit()
	if got := c.State(); got != StateBackingOff {
		t.Fatalf("state = %v, want BACKING_OFF", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := c.WaitUntilAllowed(ctx); err != nil {
		t.Fatalf("WaitUntilAllowed: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("wait returned before the backoff window elapsed")
	}
	if got := c.State(); got != StateAllowing {
		t.Errorf("state after clear = %v, want ALLOWING", got)
	}

	c.NotifySuccess()
	if got := c.State(); got != StateIdle {
		t.Errorf("state after success = %v, want IDLE", got)
	}
}

func TestController_WaitHonorsContext(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffFloor = time.Minute
	cfg.BackoffCap = time.Hour
	c := NewController(cfg, nil)

	c.ReportRateLimit()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := c.WaitUntilAllowed(ctx); err != context.DeadlineExceeded {
		t.Errorf("WaitUntilAllowed = %v, want DeadlineExceeded", err)
	}
}

func TestController_ResetClearsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.BackoffFloor = time.Minute
	c := NewController(cfg, nil)

	c.ReportRateLimit()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- c.WaitUntilAllowed(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	c.Reset()

	if err := <-done; err != nil {
		t.Errorf("wait after Reset = %v, want nil", err)
	}
	if got := c.State(); got != StateIdle {
		t.Errorf("state after Reset = %v, want IDLE", got)
	}
	if c.Delay() != 0 {
		t.Errorf("delay after Reset = %v, want 0", c.Delay())
	}
}
