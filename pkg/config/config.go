// Package config unifies the retry, backoff, and burst policies of the
// client under one loadable configuration. The historical client shipped
// as three near-identical variants differing only in these numbers; they
// are named knobs here instead of parallel code paths.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can use Go duration
// strings such as "200ms" or "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config carries every tunable policy knob.
type Config struct {
	Registration RegistrationConfig `yaml:"registration"`
	Resolver     ResolverConfig     `yaml:"resolver"`
	Punch        PunchConfig        `yaml:"punch"`
}

// RegistrationConfig tunes the fire-and-forget announcement.
type RegistrationConfig struct {
	Retries     int      `yaml:"retries"`
	Interval    Duration `yaml:"interval"`
	BackoffStep Duration `yaml:"backoff_step"`
}

// ResolverConfig tunes the peer address lookup.
type ResolverConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	NotFoundDelay  Duration `yaml:"not_found_delay"`
	WaitTimeout    int      `yaml:"wait_timeout"`
}

// PunchConfig tunes the hole-punch burst.
type PunchConfig struct {
	Count    int      `yaml:"count"`
	Interval Duration `yaml:"interval"`
}

// Default returns the standard policy.
func Default() *Config {
	return &Config{
		Registration: RegistrationConfig{
			Retries:  3,
			Interval: Duration(200 * time.Millisecond),
		},
		Resolver: ResolverConfig{
			MaxAttempts:    5,
			InitialBackoff: Duration(400 * time.Millisecond),
			MaxBackoff:     Duration(5 * time.Second),
			NotFoundDelay:  Duration(600 * time.Millisecond),
			WaitTimeout:    10,
		},
		Punch: PunchConfig{
			Count:    100,
			Interval: Duration(25 * time.Millisecond),
		},
	}
}

// Load reads a YAML file and overlays it on the defaults. Fields absent
// from the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would disable a phase outright.
func (c *Config) Validate() error {
	if c.Registration.Retries <= 0 {
		return fmt.Errorf("registration.retries must be positive, got %d", c.Registration.Retries)
	}
	if c.Resolver.MaxAttempts <= 0 {
		return fmt.Errorf("resolver.max_attempts must be positive, got %d", c.Resolver.MaxAttempts)
	}
	if c.Resolver.WaitTimeout <= 0 {
		return fmt.Errorf("resolver.wait_timeout must be positive, got %d", c.Resolver.WaitTimeout)
	}
	if c.Punch.Count <= 0 {
		return fmt.Errorf("punch.count must be positive, got %d", c.Punch.Count)
	}
	return nil
}
