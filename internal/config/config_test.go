package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "phonetrust.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "tesseract", cfg.OCR.Provider)
	assert.Equal(t, []string{"fra", "eng"}, cfg.OCR.Languages)
	assert.Equal(t, 30, cfg.OCR.TimeoutSecs)
	assert.Equal(t, "local", cfg.Scoring.Provider)
	assert.Equal(t, 3, cfg.Scoring.RetryMaxAttempts)
	assert.InDelta(t, 25.0, cfg.Scoring.Weights["identity_match"], 0.001)
	assert.Len(t, cfg.Scoring.Weights, 6)
	assert.Equal(t, "store", cfg.Certainty.Source)
	assert.True(t, cfg.Monitor.Enabled)
	assert.InDelta(t, 0.5, cfg.Monitor.RejectionRateThreshold, 0.001)
	assert.Empty(t, cfg.Monitor.WebhookURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/phonetrust
log:
  level: debug
  format: console
ocr:
  provider: mistral
  mistral_api_key: sk-test
scoring:
  provider: http
  base_url: https://scoring.internal
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "mistral", cfg.OCR.Provider)
	assert.Equal(t, "https://scoring.internal", cfg.Scoring.BaseURL)
	assert.Equal(t, "mistral-ocr-latest", cfg.OCR.MistralModel)
	require.NoError(t, cfg.Validate("serve"))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log:\n  level: debug\n"), 0o644))
	t.Setenv("PHONETRUST_LOG_LEVEL", "warn")
	t.Setenv("PHONETRUST_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Store:   StoreConfig{Driver: "sqlite", DatabaseURL: "x.db"},
			Server:  ServerConfig{Port: 8080},
			OCR:     OCRConfig{Provider: "tesseract"},
			Scoring: ScoringConfig{Provider: "local"},
		}
	}

	tests := []struct {
		name    string
		section string
		mutate  func(*Config)
		wantErr string
	}{
		{"store ok", "store", func(*Config) {}, ""},
		{"bad driver", "store", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"no url", "store", func(c *Config) { c.Store.DatabaseURL = "" }, "store.database_url"},
		{"mistral without key", "ocr", func(c *Config) { c.OCR.Provider = "mistral" }, "ocr.mistral_api_key"},
		{"unknown ocr", "ocr", func(c *Config) { c.OCR.Provider = "paddle" }, "ocr.provider"},
		{"http scoring without url", "scoring", func(c *Config) { c.Scoring.Provider = "http" }, "scoring.base_url"},
		{"serve bad port", "serve", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown section", "fedsync", func(*Config) {}, "unknown section"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate(tt.section)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLoggerConsole(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}
