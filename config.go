package fragcache

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the file-based subset of Options: the knobs an operator tunes
// without touching wiring code. Durations are strings in time.ParseDuration
// form ("30m", "24h").
type Config struct {
	Namespace         string `yaml:"namespace"`
	Disabled          bool   `yaml:"disabled"`
	DefaultLifetime   string `yaml:"defaultLifetime"`
	SweepInterval     string `yaml:"sweepInterval"`
	UncacheableMarker string `yaml:"uncacheableMarker"`

	// compiled
	lifetime time.Duration
	sweep    time.Duration
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.DefaultLifetime != "" {
		d, err := time.ParseDuration(cfg.DefaultLifetime)
		if err != nil {
			return Config{}, fmt.Errorf("defaultLifetime: %w", err)
		}
		cfg.lifetime = d
	}
	if cfg.SweepInterval != "" {
		d, err := time.ParseDuration(cfg.SweepInterval)
		if err != nil {
			return Config{}, fmt.Errorf("sweepInterval: %w", err)
		}
		cfg.sweep = d
	}
	return cfg, nil
}

// Apply copies the configured values onto opts, leaving unset fields alone.
func (cfg Config) Apply(opts *Options) {
	if cfg.Namespace != "" {
		opts.Namespace = cfg.Namespace
	}
	if cfg.Disabled {
		opts.Disabled = true
	}
	if cfg.lifetime > 0 {
		opts.DefaultLifetime = cfg.lifetime
	}
	if cfg.sweep > 0 {
		opts.SweepInterval = cfg.sweep
	}
	if cfg.UncacheableMarker != "" {
		opts.UncacheableMarker = cfg.UncacheableMarker
	}
}
