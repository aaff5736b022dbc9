package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".coworkforge", cfg.WorkDir)
	assert.Equal(t, 2, cfg.Throttle.MaxConcurrent)
	assert.Equal(t, 500*time.Millisecond, cfg.Throttle.Pacing.Duration())
	assert.False(t, cfg.Verify.AllowRun)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
work_dir: /tmp/forge
throttle:
  max_concurrent: 5
  pacing: 2s
verify:
  allow_run: true
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/forge", cfg.WorkDir)
	assert.Equal(t, 5, cfg.Throttle.MaxConcurrent)
	assert.Equal(t, 2*time.Second, cfg.Throttle.Pacing.Duration())
	assert.True(t, cfg.Verify.AllowRun)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched keys keep defaults.
	assert.Equal(t, ".", cfg.ProjectRoot)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("throttle:\n  max_concurrent: 5\n"), 0o600))

	t.Setenv("COWORKFORGE_THROTTLE_MAX_CONCURRENT", "9")
	t.Setenv("COWORKFORGE_WORK_DIR", "/var/forge")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Throttle.MaxConcurrent)
	assert.Equal(t, "/var/forge", cfg.WorkDir)
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ".coworkforge", cfg.WorkDir)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("throttle: [broken"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty work_dir", func(c *Config) { c.WorkDir = "" }},
		{"empty project_root", func(c *Config) { c.ProjectRoot = "" }},
		{"zero concurrency", func(c *Config) { c.Throttle.MaxConcurrent = 0 }},
		{"zero retries", func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{"bad log format", func(c *Config) { c.Logging.Format = "text" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDuration_RoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(text))

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
}
