package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 3, cfg.Pool.MaxBrowsers)
	assert.Equal(t, 5, cfg.Pool.MaxPagesPerBrowser)
	assert.Equal(t, 5*time.Minute, cfg.Pool.MaxIdleTime)
	assert.Equal(t, time.Minute, cfg.Pool.SweepInterval)
	assert.Equal(t, ExhaustReuse, cfg.Pool.OnExhausted)
	assert.True(t, cfg.Pool.Headless)

	assert.Equal(t, "https://api.figma.com", cfg.Figma.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Figma.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Web.Timeout)
	assert.Equal(t, 1440, cfg.Web.ViewportWidth)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.StageTimeout)

	assert.Equal(t, "json", cfg.Report.Format)
	assert.Equal(t, 65536, cfg.Report.ChunkSize)
	assert.Equal(t, int64(1<<20), cfg.Report.CompressThreshold)
	assert.Empty(t, cfg.History.DSN)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero browsers", func(c *Config) { c.Pool.MaxBrowsers = 0 }},
		{"zero pages", func(c *Config) { c.Pool.MaxPagesPerBrowser = 0 }},
		{"unknown exhaustion policy", func(c *Config) { c.Pool.OnExhausted = "panic" }},
		{"zero chunk size", func(c *Config) { c.Report.ChunkSize = 0 }},
		{"unknown report format", func(c *Config) { c.Report.Format = "pdf" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool:
  max_browsers: 7
  on_exhausted: queue
web:
  viewport_width: 390
  viewport_height: 844
report:
  format: html
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Pool.MaxBrowsers)
	assert.Equal(t, ExhaustQueue, cfg.Pool.OnExhausted)
	assert.Equal(t, 390, cfg.Web.ViewportWidth)
	assert.Equal(t, "html", cfg.Report.Format)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5, cfg.Pool.MaxPagesPerBrowser)
	assert.Equal(t, "https://api.figma.com", cfg.Figma.BaseURL)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  max_browsers: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer os.Chdir(cwd)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Pool.MaxBrowsers)
}

func TestEnvBindings(t *testing.T) {
	t.Setenv("PARITY_FIGMA_TOKEN", "figd_secret")
	t.Setenv("PARITY_HISTORY_DSN", "postgres://localhost/parity")

	v := viper.New()
	SetDefaults(v)
	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "figd_secret", cfg.Figma.Token)
	assert.Equal(t, "postgres://localhost/parity", cfg.History.DSN)
}
