// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml), with ${ENV_VAR} expansion
//  2. Environment variables (fallback)
//
// Tenant-specific settings (confidence threshold, matching weights,
// priority mapping, overpayment policy) layer over the global defaults.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/evenstad/reconcile-backend/internal/domain/matcher"
)

// Config represents the entire application configuration.
type Config struct {
	Storage       StorageConfig           `yaml:"storage"`
	Server        ServerConfig            `yaml:"server"`
	Pipeline      PipelineConfig          `yaml:"pipeline"`
	Defaults      TenantConfig            `yaml:"defaults"`
	Tenants       map[string]TenantConfig `yaml:"tenants"`
	Observability ObservabilityConfig     `yaml:"observability"`
}

// StorageConfig holds database configuration.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// PipelineConfig holds worker pool settings.
type PipelineConfig struct {
	Workers int `yaml:"workers"`
}

// PriorityBand maps an amount floor (minor units) to a review priority.
type PriorityBand struct {
	MinAmount int64 `yaml:"min_amount"`
	Priority  int   `yaml:"priority"`
}

// TenantConfig holds per-tenant pipeline behavior.
type TenantConfig struct {
	ConfidenceThreshold int             `yaml:"confidence_threshold"`
	Weights             matcher.Weights `yaml:"weights"`
	DateWindowDays      int             `yaml:"date_window_days"`
	AmountTolerance     int64           `yaml:"amount_tolerance"`
	BankAccount         string          `yaml:"bank_account"`
	PayableAccount      string          `yaml:"payable_account"`
	FallbackAccount     string          `yaml:"fallback_account"`

	// OverpaymentAutoSearch decides whether excess beyond one invoice's
	// balance auto-searches the vendor's other open invoices or always
	// goes to review.
	OverpaymentAutoSearch bool `yaml:"overpayment_auto_search"`

	// PriorityBands map subject amounts to queue priority, highest
	// matching floor wins.
	PriorityBands []PriorityBand `yaml:"priority_bands"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() *Config {
	return &Config{
		Storage: StorageConfig{
			DatabasePath: getEnv("RECONCILE_DB_PATH", "reconcile.db"),
		},
		Server: ServerConfig{
			Port:           getEnvInt("RECONCILE_PORT", 8080),
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Pipeline: PipelineConfig{
			Workers: getEnvInt("RECONCILE_WORKERS", 4),
		},
		Defaults: DefaultTenantConfig(),
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
}

// LoadOrEnv tries to load from config.yaml, falls back to environment
// variables.
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries the given path first, falls back to env vars.
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// DefaultTenantConfig returns the tenant settings used absent overrides.
func DefaultTenantConfig() TenantConfig {
	mc := matcher.DefaultConfig()
	return TenantConfig{
		ConfidenceThreshold: 85,
		Weights:             mc.Weights,
		DateWindowDays:      mc.DateWindowDays,
		AmountTolerance:     mc.AmountToleranceMinor,
		BankAccount:         "1920",
		PayableAccount:      "2400",
		FallbackAccount:     "6790",
		PriorityBands: []PriorityBand{
			{MinAmount: 0, Priority: 1},
			{MinAmount: 10_000_00, Priority: 2},
			{MinAmount: 100_000_00, Priority: 3},
		},
	}
}

// Tenant resolves the effective configuration for a tenant: its overrides
// on top of the configured defaults, on top of the built-in defaults.
func (c *Config) Tenant(tenantID string) TenantConfig {
	eff := DefaultTenantConfig()
	merge := func(over TenantConfig) {
		if over.ConfidenceThreshold > 0 {
			eff.ConfidenceThreshold = over.ConfidenceThreshold
		}
		if over.Weights != (matcher.Weights{}) {
			eff.Weights = over.Weights
		}
		if over.DateWindowDays > 0 {
			eff.DateWindowDays = over.DateWindowDays
		}
		if over.AmountTolerance > 0 {
			eff.AmountTolerance = over.AmountTolerance
		}
		if over.BankAccount != "" {
			eff.BankAccount = over.BankAccount
		}
		if over.PayableAccount != "" {
			eff.PayableAccount = over.PayableAccount
		}
		if over.FallbackAccount != "" {
			eff.FallbackAccount = over.FallbackAccount
		}
		if over.OverpaymentAutoSearch {
			eff.OverpaymentAutoSearch = true
		}
		if len(over.PriorityBands) > 0 {
			eff.PriorityBands = over.PriorityBands
		}
	}
	merge(c.Defaults)
	if over, ok := c.Tenants[tenantID]; ok {
		merge(over)
	}
	return eff
}

// Priority resolves a subject amount to a queue priority via the tenant's
// bands; the highest matching floor wins.
func (tc TenantConfig) Priority(amount int64) int {
	if amount < 0 {
		amount = -amount
	}
	best := 0
	var bestFloor int64 = -1
	for _, band := range tc.PriorityBands {
		if amount >= band.MinAmount && band.MinAmount > bestFloor {
			best = band.Priority
			bestFloor = band.MinAmount
		}
	}
	return best
}

// MatcherConfig builds the matcher configuration for a tenant.
func (tc TenantConfig) MatcherConfig() matcher.Config {
	mc := matcher.DefaultConfig()
	mc.Weights = tc.Weights
	if tc.DateWindowDays > 0 {
		mc.DateWindowDays = tc.DateWindowDays
	}
	if tc.AmountTolerance > 0 {
		mc.AmountToleranceMinor = tc.AmountTolerance
	}
	return mc
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}
