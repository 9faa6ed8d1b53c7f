// Package config loads the musig2 tool configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration.
type Config struct {
	Protocol ProtocolConfig `yaml:"protocol"`
	Session  SessionConfig  `yaml:"session"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ProtocolConfig selects the curve and hash function. Every participant of
// a ceremony must use the same values.
type ProtocolConfig struct {
	Curve  string `yaml:"curve"`  // secp256k1, bjj
	Hasher string `yaml:"hasher"` // blake2b, sha256
}

// SessionConfig controls the coordinator.
type SessionConfig struct {
	PhaseTimeout  time.Duration `yaml:"phase_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	KeyCacheSize  int           `yaml:"key_cache_size"`
}

// LedgerConfig selects where nonce usage is recorded.
type LedgerConfig struct {
	Backend string `yaml:"backend"` // memory, file
	Path    string `yaml:"path"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

const (
	CurveSecp256k1 = "secp256k1"
	CurveBJJ       = "bjj"

	HasherBlake2b = "blake2b"
	HasherSHA256  = "sha256"

	LedgerMemory = "memory"
	LedgerFile   = "file"
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Protocol: ProtocolConfig{
			Curve:  CurveSecp256k1,
			Hasher: HasherBlake2b,
		},
		Session: SessionConfig{
			PhaseTimeout:  30 * time.Second,
			SweepInterval: time.Second,
			KeyCacheSize:  128,
		},
		Ledger: LedgerConfig{
			Backend: LedgerMemory,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
			Path: "/metrics",
		},
	}
}

// Load reads a YAML file on top of [Default], applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - config file path is provided by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MUSIG2_CURVE"); v != "" {
		cfg.Protocol.Curve = v
	}
	if v := os.Getenv("MUSIG2_HASHER"); v != "" {
		cfg.Protocol.Hasher = v
	}
	if v := os.Getenv("MUSIG2_PHASE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("ignoring invalid MUSIG2_PHASE_TIMEOUT", "value", v, "error", err)
		} else {
			cfg.Session.PhaseTimeout = d
		}
	}
	if v := os.Getenv("MUSIG2_KEY_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("ignoring invalid MUSIG2_KEY_CACHE_SIZE", "value", v, "error", err)
		} else {
			cfg.Session.KeyCacheSize = n
		}
	}
	if v := os.Getenv("MUSIG2_LEDGER_PATH"); v != "" {
		cfg.Ledger.Backend = LedgerFile
		cfg.Ledger.Path = v
	}
	if v := os.Getenv("MUSIG2_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MUSIG2_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MUSIG2_METRICS_ADDR"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = v
	}
}

// Validate checks that every field holds a supported value.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Protocol.Curve) {
	case CurveSecp256k1, CurveBJJ:
	default:
		return fmt.Errorf("invalid curve: %s (must be secp256k1 or bjj)", c.Protocol.Curve)
	}

	switch strings.ToLower(c.Protocol.Hasher) {
	case HasherBlake2b, HasherSHA256:
	default:
		return fmt.Errorf("invalid hasher: %s (must be blake2b or sha256)", c.Protocol.Hasher)
	}

	if c.Session.PhaseTimeout <= 0 {
		return fmt.Errorf("phase_timeout must be positive, got %s", c.Session.PhaseTimeout)
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive, got %s", c.Session.SweepInterval)
	}
	if c.Session.KeyCacheSize < 1 {
		return fmt.Errorf("key_cache_size must be at least 1, got %d", c.Session.KeyCacheSize)
	}

	switch c.Ledger.Backend {
	case LedgerMemory:
	case LedgerFile:
		if c.Ledger.Path == "" {
			return fmt.Errorf("ledger path is required for the file backend")
		}
	default:
		return fmt.Errorf("invalid ledger backend: %s (must be memory or file)", c.Ledger.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics addr is required when metrics are enabled")
	}
	return nil
}
