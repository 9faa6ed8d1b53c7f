package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Success(t *testing.T) {
	path := writeConfig(t, `
protocol:
  curve: bjj
  hasher: sha256
session:
  phase_timeout: 5s
  key_cache_size: 16
ledger:
  backend: file
  path: /var/lib/musig2/nonces.log
logging:
  level: debug
  format: json
metrics:
  enabled: true
  addr: 127.0.0.1:9100
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, CurveBJJ, cfg.Protocol.Curve)
	assert.Equal(t, HasherSHA256, cfg.Protocol.Hasher)
	assert.Equal(t, 5*time.Second, cfg.Session.PhaseTimeout)
	assert.Equal(t, 16, cfg.Session.KeyCacheSize)
	assert.Equal(t, time.Second, cfg.Session.SweepInterval, "unset fields keep defaults")
	assert.Equal(t, LedgerFile, cfg.Ledger.Backend)
	assert.Equal(t, "/var/lib/musig2/nonces.log", cfg.Ledger.Path)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "protocol: [unclosed"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MUSIG2_CURVE", "bjj")
	t.Setenv("MUSIG2_PHASE_TIMEOUT", "750ms")
	t.Setenv("MUSIG2_KEY_CACHE_SIZE", "not-a-number")
	t.Setenv("MUSIG2_LEDGER_PATH", "/tmp/ledger")
	t.Setenv("MUSIG2_METRICS_ADDR", ":9300")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, CurveBJJ, cfg.Protocol.Curve)
	assert.Equal(t, 750*time.Millisecond, cfg.Session.PhaseTimeout)
	assert.Equal(t, 128, cfg.Session.KeyCacheSize, "invalid override is ignored")
	assert.Equal(t, LedgerFile, cfg.Ledger.Backend)
	assert.Equal(t, "/tmp/ledger", cfg.Ledger.Path)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9300", cfg.Metrics.Addr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown curve", func(c *Config) { c.Protocol.Curve = "p256" }},
		{"unknown hasher", func(c *Config) { c.Protocol.Hasher = "md5" }},
		{"zero timeout", func(c *Config) { c.Session.PhaseTimeout = 0 }},
		{"zero sweep", func(c *Config) { c.Session.SweepInterval = 0 }},
		{"empty cache", func(c *Config) { c.Session.KeyCacheSize = 0 }},
		{"file ledger without path", func(c *Config) { c.Ledger.Backend = LedgerFile }},
		{"unknown ledger", func(c *Config) { c.Ledger.Backend = "redis" }},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"metrics without addr", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ""
		}},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
