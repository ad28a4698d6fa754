// Package config handles YAML configuration for ohjaamo.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/ohjaamo/types"
)

// Config is the root configuration structure.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Backend    BackendConfig    `yaml:"backend"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Status     StatusConfig     `yaml:"status"`
	Policy     PolicyConfig     `yaml:"policy"`
	OTEL       OTELConfig       `yaml:"otel"`
	Log        LogConfig        `yaml:"log"`
}

// StorageConfig holds record store and journal locations.
type StorageConfig struct {
	Dir string `yaml:"dir"`
}

// BackendConfig selects and configures the backend adapters.
type BackendConfig struct {
	Kind    string `yaml:"kind"`
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`
}

// ExecutorConfig holds request execution settings.
type ExecutorConfig struct {
	Workers          int           `yaml:"workers"`
	CallTimeoutStr   string        `yaml:"call_timeout"`
	CallTimeout      time.Duration `yaml:"-"`
	SweepIntervalStr string        `yaml:"sweep_interval"`
	SweepInterval    time.Duration `yaml:"-"`
}

// ReconcilerConfig holds reconciliation loop settings.
type ReconcilerConfig struct {
	IntervalStr string        `yaml:"interval"`
	Interval    time.Duration `yaml:"-"`
	ScopeKind   string        `yaml:"scope_kind"`
	Scopes      []string      `yaml:"scopes"`
}

// StatusConfig holds status aggregation settings.
type StatusConfig struct {
	BurstWindowStr string        `yaml:"burst_window"`
	BurstWindow    time.Duration `yaml:"-"`
}

// PolicyConfig holds deletion guard settings.
type PolicyConfig struct {
	Dir string `yaml:"dir"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled    bool `yaml:"enabled"`
	ListenPort int  `yaml:"listen_port"`
	Prometheus bool `yaml:"prometheus"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied, as if an
// empty file had been loaded.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	// Defaults always parse.
	_ = parseDurations(cfg)
	return cfg
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "/var/lib/ohjaamo"
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = "memory"
	}
	if cfg.Executor.Workers == 0 {
		cfg.Executor.Workers = 4
	}
	if cfg.Executor.CallTimeoutStr == "" {
		cfg.Executor.CallTimeoutStr = "30s"
	}
	if cfg.Executor.SweepIntervalStr == "" {
		cfg.Executor.SweepIntervalStr = "30s"
	}
	if cfg.Reconciler.IntervalStr == "" {
		cfg.Reconciler.IntervalStr = "5m"
	}
	if cfg.Reconciler.ScopeKind == "" {
		cfg.Reconciler.ScopeKind = string(types.ScopeTenant)
	}
	if cfg.Status.BurstWindowStr == "" {
		cfg.Status.BurstWindowStr = "1m"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "ohjaamo"
	}
	if cfg.OTEL.Metrics.ListenPort == 0 {
		cfg.OTEL.Metrics.ListenPort = 9464
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Executor.CallTimeoutStr)
	if err != nil {
		return fmt.Errorf("parse call_timeout %q: %w", cfg.Executor.CallTimeoutStr, err)
	}
	cfg.Executor.CallTimeout = d

	d, err = time.ParseDuration(cfg.Executor.SweepIntervalStr)
	if err != nil {
		return fmt.Errorf("parse sweep_interval %q: %w", cfg.Executor.SweepIntervalStr, err)
	}
	cfg.Executor.SweepInterval = d

	d, err = time.ParseDuration(cfg.Reconciler.IntervalStr)
	if err != nil {
		return fmt.Errorf("parse interval %q: %w", cfg.Reconciler.IntervalStr, err)
	}
	cfg.Reconciler.Interval = d

	d, err = time.ParseDuration(cfg.Status.BurstWindowStr)
	if err != nil {
		return fmt.Errorf("parse burst_window %q: %w", cfg.Status.BurstWindowStr, err)
	}
	cfg.Status.BurstWindow = d

	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case "memory":
	case "aws":
		if c.Backend.Region == "" {
			return fmt.Errorf("backend: region required for aws")
		}
	default:
		return fmt.Errorf("backend: unknown kind %q", c.Backend.Kind)
	}
	if c.Executor.Workers < 1 {
		return fmt.Errorf("executor: workers must be positive (got %d)", c.Executor.Workers)
	}
	if c.Executor.SweepInterval <= 0 {
		return fmt.Errorf("executor: sweep_interval must be positive")
	}
	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler: interval must be positive")
	}
	switch types.ScopeKind(c.Reconciler.ScopeKind) {
	case types.ScopeTenant, types.ScopeProject:
	default:
		return fmt.Errorf("reconciler: unknown scope_kind %q", c.Reconciler.ScopeKind)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}
