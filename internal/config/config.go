// ABOUTME: Configuration loading and parsing for hookstate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hookstate configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Failures FailuresConfig `yaml:"failures"`
	Lock     LockConfig     `yaml:"lock"`
	Sanity   SanityConfig   `yaml:"sanity"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds the state database location
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig holds record lifetime configuration
type SessionConfig struct {
	TTL     time.Duration `yaml:"-"`
	WarnTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TTLRaw     string `yaml:"ttl"`
	WarnTTLRaw string `yaml:"warn_ttl"`
}

// FailuresConfig holds escalation thresholds per failure category
type FailuresConfig struct {
	Thresholds map[string]int `yaml:"thresholds"`
	RingSize   int            `yaml:"ring_size"`
}

// LockConfig bounds the retry budget for contended writes
type LockConfig struct {
	Attempts    int           `yaml:"attempts"`
	BackoffBase time.Duration `yaml:"-"`
	BackoffCap  time.Duration `yaml:"-"`

	BackoffBaseRaw string `yaml:"backoff_base"`
	BackoffCapRaw  string `yaml:"backoff_cap"`
}

// SanityConfig holds ceilings for discarding implausible readings
type SanityConfig struct {
	MaxDuration time.Duration `yaml:"-"`

	MaxDurationRaw string `yaml:"max_duration"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every field at its built-in value.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: filepath.Join(DataPath(), "state.db")},
		Session: SessionConfig{
			TTL:     2 * time.Hour,
			WarnTTL: 10 * time.Minute,
		},
		Failures: FailuresConfig{
			Thresholds: map[string]int{"debug": 3, "test": 3},
			RingSize:   5,
		},
		Lock: LockConfig{
			Attempts:    5,
			BackoffBase: 2 * time.Millisecond,
			BackoffCap:  40 * time.Millisecond,
		},
		Sanity:  SanityConfig{MaxDuration: 10 * time.Minute},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded and
// duration strings are parsed into time.Duration values. Omitted fields
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the config at path, falling back to defaults when the
// file does not exist. Hooks run on machines that never saw a config file;
// that must not be an error.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// Path returns the path to the hookstate config file.
// Priority: HOOKSTATE_CONFIG env var > XDG_CONFIG_HOME/hookstate/hookstate.yaml > ~/.config/hookstate/hookstate.yaml
func Path() string {
	if envPath := os.Getenv("HOOKSTATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "hookstate.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hookstate", "hookstate.yaml")
}

// DataPath returns the path to the hookstate data directory.
// Priority: XDG_DATA_HOME/hookstate > ~/.local/share/hookstate
func DataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "hookstate")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Lock.Attempts <= 0 {
		return fmt.Errorf("lock.attempts must be positive")
	}
	if c.Failures.RingSize <= 0 {
		return fmt.Errorf("failures.ring_size must be positive")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Session.TTLRaw, "session.ttl", &cfg.Session.TTL},
		{cfg.Session.WarnTTLRaw, "session.warn_ttl", &cfg.Session.WarnTTL},
		{cfg.Lock.BackoffBaseRaw, "lock.backoff_base", &cfg.Lock.BackoffBase},
		{cfg.Lock.BackoffCapRaw, "lock.backoff_cap", &cfg.Lock.BackoffCap},
		{cfg.Sanity.MaxDurationRaw, "sanity.max_duration", &cfg.Sanity.MaxDuration},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
