package dataplane

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ciscoittech/pingtopass-dataplane/region"
	"github.com/ciscoittech/pingtopass-dataplane/telemetry"
)

// Duration wraps time.Duration so yaml configs can say "30s".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RedisConfig configures the shared cache layer and the invalidation
// channel.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Channel   string `yaml:"channel"`
	Namespace string `yaml:"namespace"`
}

// CacheConfig configures both cache layers and the TTL-by-operation
// table.
type CacheConfig struct {
	LocalMaxSize   int                 `yaml:"local_max_size"`
	LocalTTL       Duration            `yaml:"local_ttl"`
	DefaultTTL     Duration            `yaml:"default_ttl"`
	TTLByOperation map[string]Duration `yaml:"ttl_by_operation"`
}

// ProbeConfig configures the health probe.
type ProbeConfig struct {
	Interval         Duration `yaml:"interval"`
	Timeout          Duration `yaml:"timeout"`
	FailureThreshold int      `yaml:"failure_threshold"`
}

// TelemetryConfig sizes the sample ring and rolling window.
type TelemetryConfig struct {
	Capacity int      `yaml:"capacity"`
	Window   Duration `yaml:"window"`
}

// Config is the static configuration of a dataplane instance.
type Config struct {
	// InstanceID identifies this instance on the invalidation channel.
	// Defaults to a random UUID.
	InstanceID string `yaml:"instance_id"`

	// Regions lists the replica regions; exactly one must be primary.
	Regions []region.Config `yaml:"regions"`

	Redis     RedisConfig          `yaml:"redis"`
	Cache     CacheConfig          `yaml:"cache"`
	Probe     ProbeConfig          `yaml:"probe"`
	Alerts    telemetry.Thresholds `yaml:"alerts"`
	Telemetry TelemetryConfig      `yaml:"telemetry"`
}

// DefaultConfig returns a config with every tunable at its default.
// Regions and redis address must still be supplied.
func DefaultConfig() Config {
	return Config{
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Channel:   "dataplane:invalidate",
			Namespace: "dp:",
		},
		Cache: CacheConfig{
			LocalMaxSize: 10000,
			LocalTTL:     Duration(30 * time.Second),
			DefaultTTL:   Duration(5 * time.Minute),
		},
		Probe: ProbeConfig{
			Interval:         Duration(30 * time.Second),
			Timeout:          Duration(2 * time.Second),
			FailureThreshold: 2,
		},
		Alerts: telemetry.DefaultThresholds(),
		Telemetry: TelemetryConfig{
			Capacity: 4096,
			Window:   Duration(5 * time.Minute),
		},
	}
}

// LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Regions) == 0 {
		return fmt.Errorf("%w: no regions", ErrInvalidConfig)
	}
	primaries := 0
	for _, r := range c.Regions {
		if r.ID == "" {
			return fmt.Errorf("%w: region without id", ErrInvalidConfig)
		}
		if r.Primary {
			primaries++
		}
	}
	if primaries != 1 {
		return fmt.Errorf("%w: want exactly one primary region, have %d", ErrInvalidConfig, primaries)
	}
	if c.Cache.LocalMaxSize <= 0 || c.Cache.LocalTTL <= 0 || c.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("%w: cache sizing", ErrInvalidConfig)
	}
	if c.Probe.Interval <= 0 || c.Probe.Timeout <= 0 || c.Probe.FailureThreshold < 1 {
		return fmt.Errorf("%w: probe settings", ErrInvalidConfig)
	}
	return nil
}
