// Package config loads and saves fiberpool.yaml, the scheduler's own
// tuning knobs (worker count, spin/steal behavior, pool growth, debug
// tracing).
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the root of fiberpool.yaml.
type Config struct {
	Workers *WorkersConfig `yaml:"workers,omitempty"`
	Pool    *PoolConfig    `yaml:"pool,omitempty"`
	Debug   *DebugConfig   `yaml:"debug,omitempty"`
}

// WorkersConfig tunes the MultiThreaded Worker pool.
type WorkersConfig struct {
	// Count is the number of MultiThreaded Workers. Zero means
	// runtime.NumCPU().
	Count int `yaml:"count,omitempty"`

	// SpinBurst is how many nop-check iterations a Worker runs per
	// polling burst while looking for work before yielding to the
	// scheduler.
	SpinBurst int `yaml:"spinBurst,omitempty"`

	// SpinSleep is the total wall-clock budget a Worker spends
	// spinning before it parks and waits to be woken.
	SpinSleep string `yaml:"spinSleep,omitempty"`

	// StealFanout caps how many sibling Workers an idle Worker will
	// probe in one steal attempt.
	StealFanout int `yaml:"stealFanout,omitempty"`
}

// PoolConfig tunes the generic object pools.
type PoolConfig struct {
	// UnboundedChunk is the minimum number of items an UnboundedPool
	// creates the first time it grows (it doubles its total capacity
	// on every subsequent exhaustion).
	UnboundedChunk int `yaml:"unboundedChunk,omitempty"`
}

// DebugConfig controls diagnostics.
type DebugConfig struct {
	// Trace turns on fiberpool.SetDebugLog-style tracing.
	Trace bool `yaml:"trace,omitempty"`
}

const fileName = "fiberpool.yaml"

// DefaultConfig returns the configuration used when no fiberpool.yaml
// is present.
func DefaultConfig() *Config {
	return &Config{
		Workers: &WorkersConfig{
			Count:       0,
			SpinBurst:   256,
			SpinSleep:   "1ms",
			StealFanout: 4,
		},
		Pool: &PoolConfig{
			UnboundedChunk: 32,
		},
		Debug: &DebugConfig{
			Trace: false,
		},
	}
}

// Load reads fiberpool.yaml from projectPath, falling back to
// DefaultConfig if it does not exist.
func Load(projectPath string) (*Config, error) {
	configPath := filepath.Join(projectPath, fileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes cfg to fiberpool.yaml under projectPath.
func Save(cfg *Config, projectPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(projectPath, fileName), data, 0644)
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Workers == nil {
		cfg.Workers = defaults.Workers
	} else {
		if cfg.Workers.SpinBurst == 0 {
			cfg.Workers.SpinBurst = defaults.Workers.SpinBurst
		}
		if cfg.Workers.SpinSleep == "" {
			cfg.Workers.SpinSleep = defaults.Workers.SpinSleep
		}
		if cfg.Workers.StealFanout == 0 {
			cfg.Workers.StealFanout = defaults.Workers.StealFanout
		}
	}

	if cfg.Pool == nil {
		cfg.Pool = defaults.Pool
	} else if cfg.Pool.UnboundedChunk == 0 {
		cfg.Pool.UnboundedChunk = defaults.Pool.UnboundedChunk
	}

	if cfg.Debug == nil {
		cfg.Debug = defaults.Debug
	}
}

// Validate performs no checks and always returns nil.
func (c *Config) Validate() error {
	return nil
}
