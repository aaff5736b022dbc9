// Package verify runs build/test/check commands against a project directory
// and translates failures into structured issues.
//
// The engine composes a project kind detector, a command safety classifier,
// a shell runner and an error path extractor. Commands come either from an
// upstream plan or from per-ecosystem defaults.
package verify

import (
	"fmt"
	"strings"
)

// Phase tags a verification command with its role in the pass.
type Phase string

const (
	PhaseBuild Phase = "build"
	PhaseTest  Phase = "test"
	PhaseCheck Phase = "check"
	PhaseRun   Phase = "run"
)

// Reserved exit codes for commands that never ran.
const (
	// ExitSpawnFailure marks commands the OS could not start (not found,
	// permission denied). The spawn error is captured in stderr.
	ExitSpawnFailure = -1

	// ExitSafetyBlocked marks commands rejected by the safety classifier
	// before execution.
	ExitSafetyBlocked = -2
)

// maxOutputLen bounds command output embedded in notes and hints so that
// artifacts stay small.
const maxOutputLen = 2000

const truncationMarker = "... [output truncated]"

// Command is one declared verification command.
type Command struct {
	Phase    Phase  `json:"phase" koanf:"phase"`
	Cmd      string `json:"cmd" koanf:"cmd"`
	Expect   string `json:"expect,omitempty" koanf:"expect"`
	Optional bool   `json:"optional,omitempty" koanf:"optional"`
}

// CommandResult captures one command execution.
type CommandResult struct {
	Command  Command `json:"command"`
	ExitCode int     `json:"exit_code"`
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
}

// Passed reports whether the command succeeded.
func (r *CommandResult) Passed() bool {
	return r.ExitCode == 0
}

// CheckStatus is the status string of a CheckResult.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckSkipped CheckStatus = "skipped"
)

// CheckResult records one executed or skipped verification command.
// CheckResults are append-only per verification pass.
type CheckResult struct {
	ID       string      `json:"id"`
	Command  string      `json:"command"`
	Phase    Phase       `json:"phase"`
	Status   CheckStatus `json:"status"`
	ExitCode int         `json:"exit_code"`
	Notes    string      `json:"notes,omitempty"`
}

// Severity of an Issue.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue records one actionable defect found by a verification pass.
type Issue struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	FixHint     string   `json:"fix_hint,omitempty"`
	Files       []string `json:"files,omitempty"`
}

// Blocking reports whether the issue should prevent the stage from being
// considered verified.
func (i *Issue) Blocking() bool {
	return i.Severity == SeverityError
}

// truncate bounds s to maxOutputLen, appending a marker when cut.
func truncate(s string) string {
	if len(s) <= maxOutputLen {
		return s
	}
	return s[:maxOutputLen] + truncationMarker
}

// combinedOutput joins stdout and stderr for path extraction and notes.
func combinedOutput(r *CommandResult) string {
	var parts []string
	if strings.TrimSpace(r.Stdout) != "" {
		parts = append(parts, r.Stdout)
	}
	if strings.TrimSpace(r.Stderr) != "" {
		parts = append(parts, r.Stderr)
	}
	return strings.Join(parts, "\n")
}

// checkID builds a stable id for the nth check of a pass.
func checkID(n int) string {
	return fmt.Sprintf("check-%03d", n)
}

// issueID builds a stable id for the nth issue of a pass.
func issueID(n int) string {
	return fmt.Sprintf("issue-%03d", n)
}
