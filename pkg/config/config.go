package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fabula-ai/fabula/pkg/models"
)

// Config holds all Fabula engine configuration.
type Config struct {
	DBPath    string          `yaml:"db_path"`
	Cache     CacheConfig     `yaml:"cache"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Budget    BudgetConfig    `yaml:"budget"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Provider  ProviderConfig  `yaml:"provider"`

	// Models overrides the built-in model tier registry when non-empty.
	Models []models.ModelProfile `yaml:"models,omitempty"`
}

// CacheConfig controls the response memo cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Capacity      int           `yaml:"capacity"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SchedulerConfig controls the batch scheduler.
type SchedulerConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	BudgetCeiling float64       `yaml:"budget_ceiling"`
	Tick          time.Duration `yaml:"tick"`
	AwaitTimeout  time.Duration `yaml:"await_timeout"`

	// HaltOnExceeded stops admitting new operations for callers whose
	// monthly budget status is exceeded. Off by default: alerts are
	// informational.
	HaltOnExceeded bool `yaml:"halt_on_exceeded"`
}

// BudgetConfig holds per-caller budget policies and the fallback default.
type BudgetConfig struct {
	Default models.Budget   `yaml:"default"`
	Callers []models.Budget `yaml:"callers,omitempty"`
}

// LedgerConfig controls cost ledger retention.
type LedgerConfig struct {
	// MaxEntriesPerCaller bounds ledger rows kept per caller.
	MaxEntriesPerCaller int `yaml:"max_entries_per_caller"`
}

// ProviderConfig controls retry behavior for provider calls.
type ProviderConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DBPath: "fabula.db",
		Cache: CacheConfig{
			Enabled:       true,
			Capacity:      1000,
			TTL:           time.Hour,
			SweepInterval: time.Minute,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent: 5,
			BudgetCeiling: 50,
			Tick:          time.Second,
			AwaitTimeout:  2 * time.Minute,
		},
		Budget: BudgetConfig{
			Default: models.Budget{
				Monthly:       100,
				WarnAt:        0.8,
				CriticalAt:    0.95,
				AlertsEnabled: true,
			},
		},
		Ledger: LedgerConfig{
			MaxEntriesPerCaller: 10000,
		},
		Provider: ProviderConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
