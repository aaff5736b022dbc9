package verify

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// Runner executes one shell command in a working directory.
//
// Implementations never return an error for a failing command; failures are
// reported through the exit code. Spawn failures use ExitSpawnFailure with
// the error text in stderr.
type Runner interface {
	Run(ctx context.Context, command, dir string) CommandResult
}

// ShellRunner runs commands through `sh -c`.
type ShellRunner struct {
	// Timeout is a best-effort per-command bound. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
}

// NewShellRunner creates a runner with the given per-command timeout hint.
func NewShellRunner(timeout time.Duration) *ShellRunner {
	return &ShellRunner{Timeout: timeout}
}

// Run executes command in dir and captures exit code, stdout and stderr.
func (r *ShellRunner) Run(ctx context.Context, command, dir string) CommandResult {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := CommandResult{
		Command: Command{Cmd: command},
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}

	switch {
	case err == nil:
		result.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			// The process never started: capture the spawn error instead
			// of surfacing it as a Go error.
			result.ExitCode = ExitSpawnFailure
			if result.Stderr == "" {
				result.Stderr = err.Error()
			}
		}
	}

	return result
}

var _ Runner = (*ShellRunner)(nil)
