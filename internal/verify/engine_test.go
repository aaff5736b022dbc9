package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spyRunner records executed commands and serves canned results.
type spyRunner struct {
	calls   []string
	results map[string]CommandResult
}

func newSpyRunner() *spyRunner {
	return &spyRunner{results: make(map[string]CommandResult)}
}

func (s *spyRunner) failWith(cmd string, exitCode int, stderr string) {
	s.results[cmd] = CommandResult{ExitCode: exitCode, Stderr: stderr}
}

func (s *spyRunner) Run(_ context.Context, command, _ string) CommandResult {
	s.calls = append(s.calls, command)
	if result, ok := s.results[command]; ok {
		result.Command = Command{Cmd: command}
		return result
	}
	return CommandResult{Command: Command{Cmd: command}, ExitCode: 0}
}

func newTestEngine(t *testing.T, root string, runner Runner) *Engine {
	t.Helper()
	engine, err := NewEngine(root, WithRunner(runner))
	require.NoError(t, err)
	return engine
}

func TestEngine_AllCommandsPass(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/ok\n")

	runner := newSpyRunner()
	engine := newTestEngine(t, dir, runner)

	checks, issues := engine.Verify(context.Background(), nil)

	require.Len(t, checks, 3, "go defaults run build, vet and test")
	assert.Empty(t, issues)
	for _, c := range checks {
		assert.Equal(t, CheckPassed, c.Status)
	}
}

func TestEngine_OptionalFailuresNeverBlock(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.mod", "module example.com/warn\n")

	runner := newSpyRunner()
	runner.failWith("go test ./...", 1, "FAIL example.com/warn 0.1s")
	engine := newTestEngine(t, dir, runner)

	_, issues := engine.Verify(context.Background(), nil)

	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)
	assert.False(t, issues[0].Blocking())
}

func TestEngine_MixedOptionalAndMandatory(t *testing.T) {
	dir := t.TempDir()

	runner := newSpyRunner()
	runner.failWith("opt-a", 1, "")
	runner.failWith("opt-b", 1, "")
	engine := newTestEngine(t, dir, runner)

	declared := []Command{
		{Phase: PhaseBuild, Cmd: "build-ok"},
		{Phase: PhaseCheck, Cmd: "check-ok"},
		{Phase: PhaseTest, Cmd: "opt-a", Optional: true},
		{Phase: PhaseTest, Cmd: "opt-b", Optional: true},
	}

	checks, issues := engine.Verify(context.Background(), declared)

	require.Len(t, checks, 4)
	require.Len(t, issues, 2)
	for _, issue := range issues {
		assert.Equal(t, SeverityWarning, issue.Severity)
	}
}

func TestEngine_MandatoryFailureExtractsPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"build":"tsc","test":"jest","start":"node ."}}`)

	runner := newSpyRunner()
	runner.failWith("npx tsc --noEmit", 2, "path/to/file.ts:12:5 - error TS2322: Type 'number'")
	engine := newTestEngine(t, dir, runner)

	declared := []Command{{Phase: PhaseBuild, Cmd: "npx tsc --noEmit", Expect: "typechecks"}}
	checks, issues := engine.Verify(context.Background(), declared)

	require.Len(t, checks, 1)
	assert.Equal(t, CheckFailed, checks[0].Status)
	assert.Equal(t, 2, checks[0].ExitCode)

	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Contains(t, issues[0].FixHint, "path/to/file.ts")
	assert.Contains(t, issues[0].Files, "path/to/file.ts")
}

func TestEngine_BlockedCommandNeverExecutes(t *testing.T) {
	dir := t.TempDir()

	runner := newSpyRunner()
	engine := newTestEngine(t, dir, runner)

	declared := []Command{{Phase: PhaseCheck, Cmd: "rm -rf /"}}
	checks, issues := engine.Verify(context.Background(), declared)

	assert.Empty(t, runner.calls, "blocked commands must not reach the runner")

	require.Len(t, checks, 1)
	assert.Equal(t, CheckFailed, checks[0].Status)
	assert.Equal(t, ExitSafetyBlocked, checks[0].ExitCode)
	assert.Contains(t, checks[0].Notes, "blocked")

	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
}

func TestEngine_SuspiciousCommandStillExecutes(t *testing.T) {
	dir := t.TempDir()

	runner := newSpyRunner()
	engine := newTestEngine(t, dir, runner)

	declared := []Command{{Phase: PhaseCheck, Cmd: "nohup ./lint-daemon"}}
	checks, issues := engine.Verify(context.Background(), declared)

	assert.Equal(t, []string{"nohup ./lint-daemon"}, runner.calls)
	require.Len(t, checks, 1)
	assert.Equal(t, CheckPassed, checks[0].Status)
	assert.Empty(t, issues)
}

func TestEngine_NodeMissingScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"build":"tsc","test":"jest"}}`)

	runner := newSpyRunner()
	engine := newTestEngine(t, dir, runner)

	checks, issues := engine.Verify(context.Background(), nil)

	assert.Empty(t, runner.calls, "no command may run while the manifest is invalid")

	require.Len(t, checks, 1)
	assert.Equal(t, CheckFailed, checks[0].Status)

	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Contains(t, issues[0].Description, "start")
	assert.Contains(t, issues[0].Files, "package.json")
}

func TestEngine_NodeRunPhaseFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"build":"tsc","test":"jest","start":"node ."}}`)

	runner := newSpyRunner()
	engine := newTestEngine(t, dir, runner)

	checks, issues := engine.Verify(context.Background(), nil)

	assert.NotContains(t, runner.calls, "npm start")
	assert.Empty(t, issues)

	require.Len(t, checks, 3, "every command yields a result, executed or skipped")
	var skipped []CheckResult
	for _, check := range checks {
		if check.Status == CheckSkipped {
			skipped = append(skipped, check)
		}
	}
	require.Len(t, skipped, 1)
	assert.Equal(t, PhaseRun, skipped[0].Phase)
	assert.Equal(t, "npm start", skipped[0].Command)
}

func TestEngine_NodeRunPhaseAllowed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "package.json", `{"scripts":{"build":"tsc","test":"jest","start":"node ."}}`)

	runner := newSpyRunner()
	engine, err := NewEngine(dir, WithRunner(runner), WithAllowRun(true))
	require.NoError(t, err)

	_, _ = engine.Verify(context.Background(), nil)
	assert.Contains(t, runner.calls, "npm start")
}

func TestEngine_EmptyCommandListIsNoOp(t *testing.T) {
	dir := t.TempDir() // no markers: unknown kind, no defaults

	runner := newSpyRunner()
	engine := newTestEngine(t, dir, runner)

	checks, issues := engine.Verify(context.Background(), nil)

	assert.Empty(t, checks)
	assert.Empty(t, issues)
	assert.Empty(t, runner.calls)
}

func TestTruncate(t *testing.T) {
	short := "fits"
	assert.Equal(t, short, truncate(short))

	long := make([]byte, maxOutputLen+50)
	for i := range long {
		long[i] = 'a'
	}
	got := truncate(string(long))
	assert.Len(t, got, maxOutputLen+len(truncationMarker))
	assert.Contains(t, got, truncationMarker)
}
