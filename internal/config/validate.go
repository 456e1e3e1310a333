package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if len(c.Streams) == 0 {
		return errors.New("at least one stream is required")
	}
	for i, s := range c.Streams {
		if err := s.validate(fmt.Sprintf("streams[%d]", i)); err != nil {
			return err
		}
	}

	if c.Connections.ReconnectBaseDelay > c.Connections.ReconnectMaxDelay {
		return fmt.Errorf("connections.reconnect_base_delay (%v) cannot exceed reconnect_max_delay (%v)",
			c.Connections.ReconnectBaseDelay, c.Connections.ReconnectMaxDelay)
	}
	if c.Connections.BufferSize < 1 {
		return errors.New("connections.buffer_size must be >= 1")
	}

	if c.Traffic.BackoffFloor > c.Traffic.BackoffCap {
		return fmt.Errorf("traffic.backoff_floor (%v) cannot exceed backoff_cap (%v)",
			c.Traffic.BackoffFloor, c.Traffic.BackoffCap)
	}
	if c.Traffic.RatePerSec <= 0 {
		return errors.New("traffic.rate_per_sec must be > 0")
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (s *StreamConfig) validate(prefix string) error {
	if s.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if s.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	if s.Transport != "sse" && s.Transport != "websocket" {
		return fmt.Errorf("%s.transport must be \"sse\" or \"websocket\", got %q", prefix, s.Transport)
	}
	return nil
}
