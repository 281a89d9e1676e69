// Package config provides workspace discovery and YAML configuration loading
// for crew.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the .crew/config.yaml content.
type Config struct {
	Worker WorkerConfig `yaml:"worker"`
	Limits LimitsConfig `yaml:"limits"`
}

// WorkerConfig configures how worker subprocesses are invoked.
type WorkerConfig struct {
	// Binary is the agent command to spawn for every worker (default: "agent").
	Binary string `yaml:"binary"`
	// Model is the model identifier passed to credential selection, e.g.
	// "anthropic/claude-sonnet". The provider is the text before the first "/".
	Model string `yaml:"model"`
	// ExtraEnv names additional environment variables (comma/space separated)
	// passed through to every worker on top of persona-declared ones.
	ExtraEnv string `yaml:"extra_env"`
}

// LimitsConfig bounds subprocess execution.
type LimitsConfig struct {
	// MaxInFlight caps concurrently running workers across Pool and Dispatcher
	// (0 = default).
	MaxInFlight int `yaml:"max_in_flight"`
	// RunTimeout is the per-run wall clock limit for one worker subprocess
	// (0 = default).
	RunTimeout time.Duration `yaml:"run_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Worker: WorkerConfig{
			Binary: "agent",
			Model:  "anthropic/claude-sonnet",
		},
		Limits: LimitsConfig{
			MaxInFlight: 4,
			RunTimeout:  10 * time.Minute,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Worker.Binary == "" {
		return fmt.Errorf("worker.binary is required")
	}
	if c.Worker.Model == "" {
		return fmt.Errorf("worker.model is required")
	}
	if c.Limits.MaxInFlight < 0 {
		return fmt.Errorf("limits.max_in_flight must be >= 0")
	}
	if c.Limits.RunTimeout < 0 {
		return fmt.Errorf("limits.run_timeout must be >= 0")
	}
	return nil
}

// applyDefaults fills zero-valued limits from DefaultConfig.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Worker.Binary == "" {
		c.Worker.Binary = def.Worker.Binary
	}
	if c.Worker.Model == "" {
		c.Worker.Model = def.Worker.Model
	}
	if c.Limits.MaxInFlight == 0 {
		c.Limits.MaxInFlight = def.Limits.MaxInFlight
	}
	if c.Limits.RunTimeout == 0 {
		c.Limits.RunTimeout = def.Limits.RunTimeout
	}
}

// LoadFromFile reads and validates a config file. A missing file yields the
// defaults, not an error.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s is malformed: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}
