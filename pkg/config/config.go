// Package config loads the daemon configuration from YAML plus environment
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/phenomenon0/epl-edge/pkg/feed"
)

// Config is the complete edged configuration.
type Config struct {
	Env  string     `yaml:"env"` // "local", "dev", "prod"
	HTTP HTTPConfig `yaml:"http"`

	Aggregator AggregatorConfig `yaml:"aggregator"`
	Redis      RedisConfig      `yaml:"redis"`
	Sources    []SourceConfig   `yaml:"sources"`

	// Teams extends the built-in alias table (alias -> canonical name).
	// Promoted/relegated clubs land here, not in code.
	Teams TeamsConfig `yaml:"teams"`
}

// HTTPConfig controls the API server.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// AggregatorConfig controls staleness eviction.
type AggregatorConfig struct {
	StalenessMinutes int `yaml:"staleness_minutes"`
	SweepSeconds     int `yaml:"sweep_seconds"`
}

// StalenessWindow returns the staleness window as a duration.
func (c AggregatorConfig) StalenessWindow() time.Duration {
	return time.Duration(c.StalenessMinutes) * time.Minute
}

// SweepInterval returns the sweep interval as a duration.
func (c AggregatorConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepSeconds) * time.Second
}

// RedisConfig enables the optional comparison fan-out. Empty Addr disables it.
type RedisConfig struct {
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// SourceConfig describes one producer.
type SourceConfig struct {
	Name feed.SourceID `yaml:"name"`
	Kind string        `yaml:"kind"` // "subprocess" or "poll"
	Unit feed.Unit     `yaml:"unit"` // "cents" or "probability"

	// Subprocess producers
	Command []string `yaml:"command,omitempty"`

	// Poll producers
	URL             string `yaml:"url,omitempty"`
	IntervalSeconds int    `yaml:"interval_seconds,omitempty"`
}

// TeamsConfig carries the configurable alias table.
type TeamsConfig struct {
	Aliases map[string]string `yaml:"aliases"`
}

// Load reads the YAML config file and the .env file if present. Environment
// variables override file values for the keys they cover.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a runnable local configuration: three feedsim producers
// standing in for the real scrapers.
func Default() *Config {
	cfg := &Config{
		Sources: []SourceConfig{
			{Name: feed.SourceKalshi, Kind: "subprocess", Unit: feed.UnitCents,
				Command: []string{"feedsim", "-source", "kalshi", "-unit", "cents"}},
			{Name: feed.SourceManifold, Kind: "subprocess", Unit: feed.UnitProbability,
				Command: []string{"feedsim", "-source", "manifold", "-unit", "probability"}},
			{Name: feed.SourceModel, Kind: "subprocess", Unit: feed.UnitProbability,
				Command: []string{"feedsim", "-source", "model", "-unit", "probability"}},
		},
	}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_CHANNEL"); v != "" {
		cfg.Redis.Channel = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "local"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Aggregator.StalenessMinutes <= 0 {
		cfg.Aggregator.StalenessMinutes = 15
	}
	if cfg.Aggregator.SweepSeconds <= 0 {
		cfg.Aggregator.SweepSeconds = 30
	}
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "epledge_comparisons"
	}
	for i := range cfg.Sources {
		if cfg.Sources[i].Kind == "" {
			cfg.Sources[i].Kind = "subprocess"
		}
		if cfg.Sources[i].IntervalSeconds <= 0 {
			cfg.Sources[i].IntervalSeconds = 30
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("config: no sources configured")
	}
	for _, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("config: source with empty name")
		}
		if s.Unit != feed.UnitCents && s.Unit != feed.UnitProbability {
			return fmt.Errorf("config: source %s: unit must be %q or %q, got %q",
				s.Name, feed.UnitCents, feed.UnitProbability, s.Unit)
		}
		switch s.Kind {
		case "subprocess":
			if len(s.Command) == 0 {
				return fmt.Errorf("config: source %s: subprocess source needs a command", s.Name)
			}
		case "poll":
			if s.URL == "" {
				return fmt.Errorf("config: source %s: poll source needs a url", s.Name)
			}
		default:
			return fmt.Errorf("config: source %s: unknown kind %q", s.Name, s.Kind)
		}
	}
	return nil
}
