package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDataDir            = "./data"
	DefaultAPITimeout         = 30 * time.Second
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = 1 * time.Second
	DefaultTransport          = "sse"
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultStaleTimeout       = 45 * time.Second
	DefaultBufferSize         = 1000
	DefaultBackoffFloor       = 2 * time.Second
	DefaultBackoffCap         = 60 * time.Second
	DefaultRatePerSec         = 10.0
	DefaultBurst              = 5
	DefaultBootTimeout        = 10 * time.Second
	DefaultRecoverTimeout     = 30 * time.Second
	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultHeartbeatTimeout   = 10 * time.Second
	DefaultRetention          = 7 * 24 * time.Hour
	DefaultGCPeriod           = 30 * time.Minute
	DefaultHealthPort         = 8091
	DefaultHealthPath         = "/health"
)

func (c *Config) applyDefaults() {
	if c.Instance.DataDir == "" {
		c.Instance.DataDir = DefaultDataDir
	}

	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RetryBackoff == 0 {
		c.API.RetryBackoff = DefaultRetryBackoff
	}

	for i := range c.Streams {
		if c.Streams[i].Transport == "" {
			c.Streams[i].Transport = DefaultTransport
		}
	}

	if c.Connections.ReconnectBaseDelay == 0 {
		c.Connections.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connections.ReconnectMaxDelay == 0 {
		c.Connections.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connections.StaleTimeout == 0 {
		c.Connections.StaleTimeout = DefaultStaleTimeout
	}
	if c.Connections.BufferSize == 0 {
		c.Connections.BufferSize = DefaultBufferSize
	}

	if c.Traffic.BackoffFloor == 0 {
		c.Traffic.BackoffFloor = DefaultBackoffFloor
	}
	if c.Traffic.BackoffCap == 0 {
		c.Traffic.BackoffCap = DefaultBackoffCap
	}
	if c.Traffic.RatePerSec == 0 {
		c.Traffic.RatePerSec = DefaultRatePerSec
	}
	if c.Traffic.Burst == 0 {
		c.Traffic.Burst = DefaultBurst
	}

	if c.Session.BootTimeout == 0 {
		c.Session.BootTimeout = DefaultBootTimeout
	}
	if c.Session.RecoverTimeout == 0 {
		c.Session.RecoverTimeout = DefaultRecoverTimeout
	}

	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if c.Heartbeat.Timeout == 0 {
		c.Heartbeat.Timeout = DefaultHeartbeatTimeout
	}

	if c.EventLog.Retention == 0 {
		c.EventLog.Retention = DefaultRetention
	}
	if c.EventLog.GCPeriod == 0 {
		c.EventLog.GCPeriod = DefaultGCPeriod
	}

	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
	if c.Health.Path == "" {
		c.Health.Path = DefaultHealthPath
	}
}
