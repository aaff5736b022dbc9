package verify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sopaco/cowork-forge-sub001/internal/telemetry"
)

// Engine composes the detector, safety classifier, runner and path
// extractor into one verification pass.
type Engine struct {
	root       string
	classifier *Classifier
	runner     Runner
	logger     *zap.Logger
	allowRun   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunner replaces the shell runner (used by tests to spy on execution).
func WithRunner(r Runner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithAllowRun re-enables long-running Run-phase commands.
func WithAllowRun(allow bool) Option {
	return func(e *Engine) { e.allowRun = allow }
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a verification engine bound to a project root. The
// safety classifier rejects commands whose working directory escapes it.
func NewEngine(root string, opts ...Option) (*Engine, error) {
	classifier, err := NewClassifier(root)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	e := &Engine{
		root:       root,
		classifier: classifier,
		runner:     NewShellRunner(0),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Verify runs the declared commands (or per-kind defaults when declared is
// empty) and classifies each as passed or failed. Hard failures produce
// Error issues with affected-file hints; optional-command failures produce
// Warning issues that never block the pipeline.
//
// An empty effective command list is a no-op returning empty slices.
func (e *Engine) Verify(ctx context.Context, declared []Command) ([]CheckResult, []Issue) {
	info := Detect(e.root)
	e.logger.Debug("verification pass starting",
		zap.String("kind", string(info.Kind)),
		zap.String("project", info.Name),
		zap.Int("declared", len(declared)),
	)

	commands := declared
	usingDefaults := false
	if len(commands) == 0 {
		commands = DefaultCommands(info.Kind)
		usingDefaults = true
	}

	var checks []CheckResult
	var issues []Issue

	// npm start never terminates, so the node defaults are validated
	// against the manifest instead of executed.
	if info.Kind == KindNode && !e.allowRun && usingDefaults {
		missing, err := missingNodeScripts(e.root)
		if err != nil || len(missing) > 0 {
			desc := describeMissingScripts(missing, err)
			checks = append(checks, CheckResult{
				ID:       checkID(len(checks)),
				Command:  "package.json scripts",
				Phase:    PhaseCheck,
				Status:   CheckFailed,
				ExitCode: ExitSpawnFailure,
				Notes:    desc,
			})
			issues = append(issues, Issue{
				ID:          issueID(len(issues)),
				Severity:    SeverityError,
				Description: desc,
				FixHint:     "declare the missing scripts in package.json",
				Files:       []string{"package.json"},
			})
			telemetry.VerificationIssuesTotal.WithLabelValues(string(SeverityError)).Inc()
			// Nothing else runs until the manifest is fixed.
			return checks, issues
		}
	}

	for _, cmd := range commands {
		if cmd.Phase == PhaseRun && info.Kind == KindNode && !e.allowRun {
			checks = append(checks, CheckResult{
				ID:      checkID(len(checks)),
				Command: cmd.Cmd,
				Phase:   cmd.Phase,
				Status:  CheckSkipped,
				Notes:   "run-phase commands are not executed unless explicitly allowed",
			})
			telemetry.CommandsExecutedTotal.WithLabelValues(string(cmd.Phase), "skipped").Inc()
			continue
		}

		check, issue := e.runOne(ctx, info.Kind, cmd, len(checks), len(issues))
		checks = append(checks, check)
		if issue != nil {
			issues = append(issues, *issue)
			telemetry.VerificationIssuesTotal.WithLabelValues(string(issue.Severity)).Inc()
		}
	}

	return checks, issues
}

// runOne classifies and executes a single command.
func (e *Engine) runOne(ctx context.Context, kind Kind, cmd Command, checkN, issueN int) (CheckResult, *Issue) {
	classification := e.classifier.Classify(cmd.Cmd, e.root)

	switch classification.Verdict {
	case VerdictBlocked:
		e.logger.Warn("command blocked by safety classifier",
			zap.String("cmd", cmd.Cmd),
			zap.String("reason", classification.Reason),
		)
		telemetry.CommandsExecutedTotal.WithLabelValues(string(cmd.Phase), "blocked").Inc()
		return CheckResult{
				ID:       checkID(checkN),
				Command:  cmd.Cmd,
				Phase:    cmd.Phase,
				Status:   CheckFailed,
				ExitCode: ExitSafetyBlocked,
				Notes:    "blocked: " + classification.Reason,
			}, &Issue{
				ID:          issueID(issueN),
				Severity:    SeverityError,
				Description: fmt.Sprintf("command %q was rejected: %s", cmd.Cmd, classification.Reason),
				FixHint:     "remove or rewrite the rejected command",
			}

	case VerdictSuspicious:
		e.logger.Warn("suspicious command, executing anyway",
			zap.String("cmd", cmd.Cmd),
			zap.String("reason", classification.Reason),
		)
	}

	result := e.runner.Run(ctx, cmd.Cmd, e.root)
	result.Command = cmd

	if result.Passed() {
		telemetry.CommandsExecutedTotal.WithLabelValues(string(cmd.Phase), "passed").Inc()
		return CheckResult{
			ID:       checkID(checkN),
			Command:  cmd.Cmd,
			Phase:    cmd.Phase,
			Status:   CheckPassed,
			ExitCode: 0,
		}, nil
	}

	telemetry.CommandsExecutedTotal.WithLabelValues(string(cmd.Phase), "failed").Inc()

	output := combinedOutput(&result)
	check := CheckResult{
		ID:       checkID(checkN),
		Command:  cmd.Cmd,
		Phase:    cmd.Phase,
		Status:   CheckFailed,
		ExitCode: result.ExitCode,
		Notes:    truncate(output),
	}

	if cmd.Optional {
		return check, &Issue{
			ID:       issueID(issueN),
			Severity: SeverityWarning,
			Description: fmt.Sprintf("optional command %q failed with exit code %d",
				cmd.Cmd, result.ExitCode),
			FixHint: expectHint(cmd),
		}
	}

	files := ExtractPaths(kind, output)
	return check, &Issue{
		ID:       issueID(issueN),
		Severity: SeverityError,
		Description: fmt.Sprintf("command %q failed with exit code %d",
			cmd.Cmd, result.ExitCode),
		FixHint: fixHint(cmd, files, output),
		Files:   files,
	}
}

func describeMissingScripts(missing []string, err error) string {
	if err != nil {
		return fmt.Sprintf("package.json could not be validated: %v", err)
	}
	return fmt.Sprintf("package.json is missing required scripts: %s",
		strings.Join(missing, ", "))
}

func expectHint(cmd Command) string {
	if cmd.Expect == "" {
		return ""
	}
	return "expected: " + cmd.Expect
}

func fixHint(cmd Command, files []string, output string) string {
	var parts []string
	if cmd.Expect != "" {
		parts = append(parts, "expected: "+cmd.Expect)
	}
	if len(files) > 0 {
		parts = append(parts, "check "+strings.Join(files, ", "))
	}
	if len(parts) == 0 {
		parts = append(parts, truncate(output))
	}
	return strings.Join(parts, "; ")
}
