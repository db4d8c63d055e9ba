// Package config loads engine settings from HERA_* environment variables.
// CLI flags override whatever is loaded here.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide engine configuration.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string `env:"HERA_DB_PATH" envDefault:"hera.db"`

	// PlatformOrg is the organization whose records every tenant may read.
	// Empty disables platform fallback.
	PlatformOrg string `env:"HERA_PLATFORM_ORG"`

	// CurrencyPrecision is the number of decimal places balance checks and
	// derived amounts round to.
	CurrencyPrecision int32 `env:"HERA_CURRENCY_PRECISION" envDefault:"2"`

	// EntityKinds and RelationshipKinds extend the built-in allow-lists.
	EntityKinds       []string `env:"HERA_ENTITY_KINDS" envSeparator:","`
	RelationshipKinds []string `env:"HERA_RELATIONSHIP_KINDS" envSeparator:","`

	// PolicyDir holds the CUE policy bundles. Empty means no bundles.
	PolicyDir string `env:"HERA_POLICY_DIR"`

	LogLevel string `env:"HERA_LOG_LEVEL" envDefault:"info"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and checks the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings that parse but make no sense.
func (c Config) Validate() error {
	if c.CurrencyPrecision < 0 || c.CurrencyPrecision > 8 {
		return fmt.Errorf("config: HERA_CURRENCY_PRECISION must be 0-8, got %d", c.CurrencyPrecision)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: HERA_LOG_LEVEL: %w", err)
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
