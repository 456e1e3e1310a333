package config

import "time"

// Config is the root configuration for a sync client instance.
type Config struct {
	Instance    InstanceConfig    `yaml:"instance"`
	API         APIConfig         `yaml:"api"`
	Streams     []StreamConfig    `yaml:"streams"`
	Connections ConnectionsConfig `yaml:"connections"`
	Traffic     TrafficConfig     `yaml:"traffic"`
	Session     SessionConfig     `yaml:"session"`
	Heartbeat   HeartbeatConfig   `yaml:"heartbeat"`
	EventLog    EventLogConfig    `yaml:"event_log"`
	Health      HealthConfig      `yaml:"health"`
}

// InstanceConfig identifies this client instance.
type InstanceConfig struct {
	ID      string `yaml:"id"`
	DataDir string `yaml:"data_dir"`
}

// APIConfig holds sync backend REST settings.
type APIConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// StreamConfig declares one subscribed push channel.
type StreamConfig struct {
	Name       string   `yaml:"name"`
	URL        string   `yaml:"url"`
	EventTypes []string `yaml:"event_types"`
	Transport  string   `yaml:"transport"` // "sse" (default) or "websocket"
}

// ConnectionsConfig holds push-channel connection settings.
type ConnectionsConfig struct {
	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	StaleTimeout       time.Duration `yaml:"stale_timeout"`
	BufferSize         int           `yaml:"buffer_size"`
}

// TrafficConfig holds rate-limit backoff settings.
type TrafficConfig struct {
	BackoffFloor time.Duration `yaml:"backoff_floor"`
	BackoffCap   time.Duration `yaml:"backoff_cap"`
	RatePerSec   float64       `yaml:"rate_per_sec"`
	Burst        int           `yaml:"burst"`
}

// SessionConfig holds lifecycle timing settings.
type SessionConfig struct {
	BootTimeout    time.Duration `yaml:"boot_timeout"`
	RecoverTimeout time.Duration `yaml:"recover_timeout"`
}

// HeartbeatConfig holds liveness ping settings.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EventLogConfig holds durable event log settings.
type EventLogConfig struct {
	Retention time.Duration `yaml:"retention"`
	GCPeriod  time.Duration `yaml:"gc_period"`
}

// HealthConfig holds the local health/stats HTTP endpoint settings.
type HealthConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
