// Package config provides configuration loading for the pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sopaco/cowork-forge-sub001/internal/logging"
)

// Duration wraps time.Duration for text unmarshaling (YAML, env vars).
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration for the pipeline.
type Config struct {
	// WorkDir is where session state and artifacts are persisted.
	WorkDir string `koanf:"work_dir"`

	// ProjectRoot is the directory verification commands run against.
	// Commands whose working directory resolves outside it are rejected.
	ProjectRoot string `koanf:"project_root"`

	Logging  logging.Config `koanf:"logging"`
	Throttle ThrottleConfig `koanf:"throttle"`
	Verify   VerifyConfig   `koanf:"verify"`
	Memory   MemoryConfig   `koanf:"memory"`
	Retry    RetryConfig    `koanf:"retry"`
}

// ThrottleConfig bounds calls to the generation backend.
type ThrottleConfig struct {
	// MaxConcurrent is the maximum number of generator calls in flight.
	MaxConcurrent int `koanf:"max_concurrent"`

	// Pacing is the minimum spacing between successive calls.
	Pacing Duration `koanf:"pacing"`
}

// VerifyConfig controls the verification engine.
type VerifyConfig struct {
	// CommandTimeout is the best-effort per-command timeout hint.
	CommandTimeout Duration `koanf:"command_timeout"`

	// AllowRun re-enables long-running Run-phase commands.
	AllowRun bool `koanf:"allow_run"`
}

// MemoryConfig locates the memory database.
type MemoryConfig struct {
	// Path is the SQLite database file. Empty means <work_dir>/memory.db.
	Path string `koanf:"path"`
}

// RetryConfig bounds stage retry attempts in the run loop.
type RetryConfig struct {
	MaxAttempts int `koanf:"max_attempts"`
}

// NewDefaultConfig returns a configuration with working defaults.
func NewDefaultConfig() *Config {
	return &Config{
		WorkDir:     ".coworkforge",
		ProjectRoot: ".",
		Logging:     *logging.NewDefaultConfig(),
		Throttle: ThrottleConfig{
			MaxConcurrent: 2,
			Pacing:        Duration(500 * time.Millisecond),
		},
		Verify: VerifyConfig{
			CommandTimeout: Duration(5 * time.Minute),
			AllowRun:       false,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir cannot be empty")
	}
	if c.ProjectRoot == "" {
		return fmt.Errorf("project_root cannot be empty")
	}
	if c.Throttle.MaxConcurrent < 1 {
		return fmt.Errorf("throttle.max_concurrent must be >= 1, got %d", c.Throttle.MaxConcurrent)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
