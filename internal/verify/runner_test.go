package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShellRunner_Success(t *testing.T) {
	r := NewShellRunner(0)
	result := r.Run(context.Background(), "echo hello", t.TempDir())

	assert.Equal(t, 0, result.ExitCode)
	assert.True(t, result.Passed())
	assert.Equal(t, "hello\n", result.Stdout)
}

func TestShellRunner_NonZeroExit(t *testing.T) {
	r := NewShellRunner(0)
	result := r.Run(context.Background(), "echo oops >&2; exit 2", t.TempDir())

	assert.Equal(t, 2, result.ExitCode)
	assert.False(t, result.Passed())
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestShellRunner_WorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	r := NewShellRunner(0)
	result := r.Run(context.Background(), "pwd", dir)

	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, result.Stdout, dir)
}

func TestShellRunner_SpawnFailure(t *testing.T) {
	r := NewShellRunner(0)
	// A nonexistent working directory fails before the process starts.
	result := r.Run(context.Background(), "echo hi", "/nonexistent/dir/for/test")

	assert.Equal(t, ExitSpawnFailure, result.ExitCode)
	assert.NotEmpty(t, result.Stderr)
}

func TestShellRunner_Timeout(t *testing.T) {
	r := NewShellRunner(100 * time.Millisecond)
	start := time.Now()
	result := r.Run(context.Background(), "sleep 5", t.TempDir())

	assert.NotEqual(t, 0, result.ExitCode)
	assert.Less(t, time.Since(start), 3*time.Second)
}
