package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-client
  data_dir: /tmp/safespot
api:
  base_url: https://sync.example.com/v1
streams:
  - name: reports
    url: https://sync.example.com/v1/stream/reports
    event_types: [report-create, report-update]
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-client" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-client")
	}
	if cfg.API.BaseURL != "https://sync.example.com/v1" {
		t.Errorf("API.BaseURL = %q", cfg.API.BaseURL)
	}
	if len(cfg.Streams) != 1 || cfg.Streams[0].Name != "reports" {
		t.Errorf("Streams = %+v", cfg.Streams)
	}
	if len(cfg.Streams[0].EventTypes) != 2 {
		t.Errorf("EventTypes = %v", cfg.Streams[0].EventTypes)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_SYNC_URL", "https://staging.example.com/v1")

	yaml := `
instance:
  id: test-client
api:
  base_url: ${TEST_SYNC_URL}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.BaseURL != "https://staging.example.com/v1" {
		t.Errorf("API.BaseURL = %q, want env-substituted value", cfg.API.BaseURL)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-client
api:
  base_url: https://sync.example.com/v1
streams:
  - name: reports
    url: https://sync.example.com/v1/stream/reports
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.Timeout != DefaultAPITimeout {
		t.Errorf("API.Timeout = %v, want default %v", cfg.API.Timeout, DefaultAPITimeout)
	}
	if cfg.Streams[0].Transport != DefaultTransport {
		t.Errorf("Streams[0].Transport = %q, want default %q", cfg.Streams[0].Transport, DefaultTransport)
	}
	if cfg.Traffic.BackoffFloor != DefaultBackoffFloor {
		t.Errorf("Traffic.BackoffFloor = %v, want default %v", cfg.Traffic.BackoffFloor, DefaultBackoffFloor)
	}
	if cfg.EventLog.Retention != DefaultRetention {
		t.Errorf("EventLog.Retention = %v, want default %v", cfg.EventLog.Retention, DefaultRetention)
	}
	if cfg.Health.Port != DefaultHealthPort {
		t.Errorf("Health.Port = %d, want default %d", cfg.Health.Port, DefaultHealthPort)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{
		Instance: InstanceConfig{ID: "test", DataDir: "/tmp/d"},
		API:      APIConfig{BaseURL: "https://sync.example.com/v1"},
		Streams: []StreamConfig{
			{Name: "reports", URL: "https://sync.example.com/v1/stream/reports", Transport: "sse"},
		},
		Connections: ConnectionsConfig{
			ReconnectBaseDelay: time.Second,
			ReconnectMaxDelay:  time.Minute,
			BufferSize:         100,
		},
		Traffic: TrafficConfig{
			BackoffFloor: 2 * time.Second,
			BackoffCap:   time.Minute,
			RatePerSec:   10,
		},
		Health: HealthConfig{Port: 8091},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: "api.base_url is required",
		},
		{
			name:    "no streams",
			mutate:  func(c *Config) { c.Streams = nil },
			wantErr: "at least one stream is required",
		},
		{
			name:    "missing stream url",
			mutate:  func(c *Config) { c.Streams[0].URL = "" },
			wantErr: "streams[0].url is required",
		},
		{
			name:    "bad transport",
			mutate:  func(c *Config) { c.Streams[0].Transport = "carrier-pigeon" },
			wantErr: `streams[0].transport must be "sse" or "websocket", got "carrier-pigeon"`,
		},
		{
			name:    "backoff floor above cap",
			mutate:  func(c *Config) { c.Traffic.BackoffFloor = 2 * time.Minute },
			wantErr: "traffic.backoff_floor (2m0s) cannot exceed backoff_cap (1m0s)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Streams = append([]StreamConfig(nil), valid.Streams...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
