package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("DefaultsWithoutFile", func(t *testing.T) {
		t.Chdir(t.TempDir())

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "mask", cfg.Privacy.Masking.Mode)
		assert.Equal(t, []string{"all"}, cfg.Privacy.Detectors)
		assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
		assert.True(t, cfg.Privacy.HeaderScrubbing.Enabled)
	})

	t.Run("FileOverridesDefaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: 9090
privacy:
  detectors: [email, phone number]
  masking:
    mode: anonymize
    placeholder: "***"
upstream:
  timeout: 5s
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "anonymize", cfg.Privacy.Masking.Mode)
		assert.Equal(t, "***", cfg.Privacy.Masking.Placeholder)
		assert.Equal(t, 5*time.Second, cfg.Upstream.Timeout)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	})

	t.Run("EnvOverridesFile", func(t *testing.T) {
		path := writeConfig(t, "server:\n  port: 9090\n")
		t.Setenv("SENTINEL_SERVER_PORT", "7070")
		t.Setenv("SENTINEL_LOGGING_LEVEL", "debug")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 7070, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("InvalidMaskingMode", func(t *testing.T) {
		path := writeConfig(t, "privacy:\n  masking:\n    mode: shred\n")
		_, err := Load(path)
		assert.ErrorContains(t, err, "invalid masking mode")
	})

	t.Run("UnknownDetector", func(t *testing.T) {
		path := writeConfig(t, "privacy:\n  detectors: [passport]\n")
		_, err := Load(path)
		assert.ErrorContains(t, err, "unknown detector")
	})
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"Port", func(c *Config) { c.Server.Port = 70000 }},
		{"LogLevel", func(c *Config) { c.Logging.Level = "trace" }},
		{"LogFormat", func(c *Config) { c.Logging.Format = "xml" }},
		{"UpstreamURL", func(c *Config) { c.Upstream.APIURL = "not a url" }},
		{"RateLimit", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"UploadSize", func(c *Config) { c.Extract.MaxUploadBytes = 0 }},
		{"SampleRatio", func(c *Config) { c.Telemetry.SampleRatio = 2 }},
	}

	require.NoError(t, validateConfig(GetDefaults()))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}

func TestParseDetectors(t *testing.T) {
	all := sensitive.DefaultBank().Types()

	types, err := ParseDetectors(nil)
	require.NoError(t, err)
	assert.Equal(t, all, types)

	types, err = ParseDetectors([]string{"email", "ALL"})
	require.NoError(t, err)
	assert.Equal(t, all, types)

	types, err = ParseDetectors([]string{"credit_card", "Email", "email"})
	require.NoError(t, err)
	assert.Equal(t, []sensitive.Type{sensitive.TypeCreditCard, sensitive.TypeEmail}, types)

	_, err = ParseDetectors([]string{"iban"})
	assert.Error(t, err)
}

func TestWatchRequiresFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load("")
	require.NoError(t, err)

	assert.Error(t, Watch(func(*Config) {}, nil))
}
