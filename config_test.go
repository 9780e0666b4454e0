package dataplane

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ciscoittech/pingtopass-dataplane/region"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataplane.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfigFile(t, `
instance_id: node-1
regions:
  - id: us-east
    priority: 1
    primary: true
  - id: eu-west
    priority: 2
redis:
  addr: redis.internal:6379
  channel: pp:invalidate
  namespace: "pp:"
cache:
  local_max_size: 5000
  local_ttl: 15s
  default_ttl: 5m
  ttl_by_operation:
    examById: 300s
    userSummary: 60s
probe:
  interval: 10s
  timeout: 1s
  failure_threshold: 3
telemetry:
  capacity: 1024
  window: 2m
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.InstanceID != "node-1" {
		t.Fatalf("Expected instance_id node-1, got %q", cfg.InstanceID)
	}
	if len(cfg.Regions) != 2 || !cfg.Regions[0].Primary || cfg.Regions[1].ID != "eu-west" {
		t.Fatalf("Regions misparsed: %+v", cfg.Regions)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Fatalf("Expected redis addr override, got %q", cfg.Redis.Addr)
	}
	if cfg.Cache.LocalTTL.Std() != 15*time.Second {
		t.Fatalf("Expected local_ttl 15s, got %v", cfg.Cache.LocalTTL.Std())
	}
	if cfg.Cache.TTLByOperation["examById"].Std() != 300*time.Second {
		t.Fatalf("Expected examById TTL 300s, got %v", cfg.Cache.TTLByOperation["examById"].Std())
	}
	if cfg.Probe.FailureThreshold != 3 {
		t.Fatalf("Expected failure_threshold 3, got %d", cfg.Probe.FailureThreshold)
	}
	if cfg.Telemetry.Window.Std() != 2*time.Minute {
		t.Fatalf("Expected telemetry window 2m, got %v", cfg.Telemetry.Window.Std())
	}

	// Untouched settings keep their defaults.
	if cfg.Cache.LocalMaxSize != 5000 {
		t.Fatalf("Expected local_max_size 5000, got %d", cfg.Cache.LocalMaxSize)
	}
	if cfg.Alerts.ErrorRateCritical != 0.25 {
		t.Fatalf("Expected default critical threshold, got %f", cfg.Alerts.ErrorRateCritical)
	}
}

func TestLoadConfigInvalidDuration(t *testing.T) {
	path := writeConfigFile(t, `
regions:
  - id: us-east
    primary: true
cache:
  local_ttl: soon
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("Expected error for unparseable duration")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Regions = []region.Config{
			{ID: "us", Priority: 1, Primary: true},
			{ID: "eu", Priority: 2},
		}
		return cfg
	}

	if err := func() error { cfg := valid(); return cfg.Validate() }(); err != nil {
		t.Fatalf("Valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no regions", func(c *Config) { c.Regions = nil }},
		{"no primary", func(c *Config) { c.Regions[0].Primary = false }},
		{"two primaries", func(c *Config) { c.Regions[1].Primary = true }},
		{"region without id", func(c *Config) { c.Regions[1].ID = "" }},
		{"zero local size", func(c *Config) { c.Cache.LocalMaxSize = 0 }},
		{"zero default ttl", func(c *Config) { c.Cache.DefaultTTL = 0 }},
		{"zero probe interval", func(c *Config) { c.Probe.Interval = 0 }},
		{"zero failure threshold", func(c *Config) { c.Probe.FailureThreshold = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	out, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("MarshalYAML failed: %v", err)
	}
	if out != "1m30s" {
		t.Fatalf("Expected 1m30s, got %v", out)
	}
}
