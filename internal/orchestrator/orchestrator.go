package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sopaco/cowork-forge-sub001/internal/artifact"
	"github.com/sopaco/cowork-forge-sub001/internal/bus"
	"github.com/sopaco/cowork-forge-sub001/internal/telemetry"
	"github.com/sopaco/cowork-forge-sub001/internal/throttle"
	"github.com/sopaco/cowork-forge-sub001/internal/verify"
)

// Generated is the output of one stage generator invocation.
type Generated struct {
	// Payload is the stage-specific artifact body.
	Payload json.RawMessage

	// Summary is a short human-readable description, one line per entry.
	Summary []string

	// Lineage lists the predecessor artifact ids this output builds on.
	Lineage []string

	// Commands declares the verification commands for verifying stages.
	// Empty means the engine falls back to per-kind defaults.
	Commands []verify.Command
}

// Generator produces the artifact for a stage. Implementations may call
// an LLM backend, prompt a human, or run a deterministic tool; the
// orchestrator awaits them under the admission gate.
type Generator interface {
	Generate(ctx context.Context, stage Stage, session *Session) (*Generated, error)
}

// Approver is the human-in-the-loop gate consulted after a gated stage
// completes. Confirm blocks until the human answers or ctx is cancelled.
type Approver interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// AutoApprove approves every gate. Used for non-interactive runs.
type AutoApprove struct{}

func (AutoApprove) Confirm(context.Context, string) (bool, error) { return true, nil }

// Verifier runs a verification pass over the project. *verify.Engine
// satisfies it.
type Verifier interface {
	Verify(ctx context.Context, declared []verify.Command) ([]verify.CheckResult, []verify.Issue)
}

// DependencyError reports that a stage was requested before its
// prerequisites completed. It is fatal and never retried.
type DependencyError struct {
	Stage   Stage
	Missing []Stage
}

func (e *DependencyError) Error() string {
	names := make([]string, len(e.Missing))
	for i, s := range e.Missing {
		names[i] = string(s)
	}
	return fmt.Sprintf("stage %s requires completed stages: %s",
		e.Stage, strings.Join(names, ", "))
}

// OutcomeKind tags a StageOutcome.
type OutcomeKind string

const (
	// OutcomeSuccess means the stage completed and the run may proceed.
	OutcomeSuccess OutcomeKind = "success"

	// OutcomeSkipped means the stage was already completed.
	OutcomeSkipped OutcomeKind = "skipped"

	// OutcomeFailed means the generator failed; CanRetry says whether
	// re-running the stage is sensible.
	OutcomeFailed OutcomeKind = "failed"

	// OutcomeCancelled means the human gate rejected the stage. The
	// stage stays completed; the run does not advance.
	OutcomeCancelled OutcomeKind = "cancelled"
)

// StageOutcome is the result of one Advance call.
type StageOutcome struct {
	Stage      Stage
	Kind       OutcomeKind
	ArtifactID string
	Verified   bool
	Issues     []verify.Issue
	Err        error
	CanRetry   bool
}

// AdvanceOptions controls a single Advance call.
type AdvanceOptions struct {
	// SkipCompleted makes re-entry into a completed stage return the
	// existing artifact id instead of failing.
	SkipCompleted bool
}

// Deps are the collaborators an Orchestrator needs. Sessions, Artifacts
// and Generator are required; the rest default to working no-op or
// shared instances.
type Deps struct {
	Registry  *Registry
	Sessions  *SessionStore
	Artifacts artifact.Store
	Generator Generator
	Gate      *throttle.Gate
	Bus       *bus.Bus
	Verifier  Verifier
	Approver  Approver
	Logger    *zap.Logger

	// MaxAttempts bounds how often Run re-enters a retryable failed
	// stage. Zero means the default of 3.
	MaxAttempts int
}

// Orchestrator drives a session through the pipeline one stage at a
// time. It is the only writer of session state.
type Orchestrator struct {
	registry    *Registry
	sessions    *SessionStore
	artifacts   artifact.Store
	generator   Generator
	gate        *throttle.Gate
	bus         *bus.Bus
	verifier    Verifier
	approver    Approver
	logger      *zap.Logger
	maxAttempts int
}

// New validates deps and builds an orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("orchestrator needs a session store")
	}
	if deps.Artifacts == nil {
		return nil, fmt.Errorf("orchestrator needs an artifact store")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("orchestrator needs a generator")
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Gate == nil {
		deps.Gate = throttle.Default()
	}
	if deps.Bus == nil {
		deps.Bus = bus.New(bus.WithDropHook(telemetry.BusDroppedEventsTotal.Inc))
	}
	if deps.Approver == nil {
		deps.Approver = AutoApprove{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 3
	}

	return &Orchestrator{
		registry:    deps.Registry,
		sessions:    deps.Sessions,
		artifacts:   deps.Artifacts,
		generator:   deps.Generator,
		gate:        deps.Gate,
		bus:         deps.Bus,
		verifier:    deps.Verifier,
		approver:    deps.Approver,
		logger:      deps.Logger,
		maxAttempts: deps.MaxAttempts,
	}, nil
}

// Bus returns the event bus observers should subscribe to.
func (o *Orchestrator) Bus() *bus.Bus { return o.bus }

// Advance runs one stage of the session.
//
// Dependency violations return a *DependencyError; persistence failures
// return their underlying error. Generator failures do NOT return an
// error: they are recorded in the session and reported through an
// OutcomeFailed outcome so the caller can decide about retry.
//
// Completion events are published strictly after the corresponding
// session state has been persisted.
func (o *Orchestrator) Advance(ctx context.Context, session *Session, stage Stage, opts AdvanceOptions) (*StageOutcome, error) {
	spec, ok := o.registry.Spec(stage)
	if !ok {
		return nil, fmt.Errorf("stage %q is not in the pipeline", stage)
	}

	var missing []Stage
	for _, dep := range spec.DependsOn {
		if !session.Completed(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return nil, &DependencyError{Stage: stage, Missing: missing}
	}

	if st := session.Status(stage); st != nil && st.State == StateCompleted && !st.Stale {
		if opts.SkipCompleted {
			o.logger.Debug("stage already completed, skipping",
				zap.String("session.id", session.ID),
				zap.String("stage", string(stage)),
			)
			return &StageOutcome{
				Stage:      stage,
				Kind:       OutcomeSkipped,
				ArtifactID: st.ArtifactID,
				Verified:   st.Verified,
			}, nil
		}
		return nil, fmt.Errorf("stage %s is already completed", stage)
	}

	started := time.Now()
	if err := session.markInProgress(stage, started.UTC()); err != nil {
		return nil, err
	}
	if err := o.sessions.Save(session); err != nil {
		return nil, fmt.Errorf("failed to persist stage start: %w", err)
	}
	o.publish(bus.EventStageStarted, session.ID, stage, "", "")
	telemetry.StageTransitionsTotal.WithLabelValues(string(stage), string(StateInProgress)).Inc()

	o.logger.Info("stage started",
		zap.String("session.id", session.ID),
		zap.String("stage", string(stage)),
	)

	var gen *Generated
	genErr := o.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		gen, err = o.generator.Generate(ctx, stage, session)
		return err
	})
	if genErr != nil {
		return o.failStage(session, stage, genErr, started)
	}
	if gen == nil {
		return o.failStage(session, stage, fmt.Errorf("generator returned no output"), started)
	}

	artifactID, err := o.artifacts.Put(session.ID, string(stage), gen.Payload, gen.Summary, gen.Lineage)
	if err != nil {
		return o.failStage(session, stage, fmt.Errorf("failed to store artifact: %w", err), started)
	}

	verified := true
	var issues []verify.Issue
	if spec.Verifying && o.verifier != nil {
		o.publish(bus.EventToolStarted, session.ID, stage, "verify", "")
		checks, found := o.verifier.Verify(ctx, gen.Commands)
		o.publish(bus.EventToolCompleted, session.ID, stage, "verify",
			fmt.Sprintf("%d checks, %d issues", len(checks), len(found)))

		issues = found
		for _, issue := range issues {
			if issue.Blocking() {
				verified = false
			}
		}
		o.logger.Info("verification pass finished",
			zap.String("session.id", session.ID),
			zap.String("stage", string(stage)),
			zap.Int("checks", len(checks)),
			zap.Int("issues", len(issues)),
			zap.Bool("verified", verified),
		)
	}

	if err := session.markCompleted(stage, artifactID, verified, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := o.sessions.Save(session); err != nil {
		return nil, fmt.Errorf("failed to persist stage completion: %w", err)
	}
	o.publish(bus.EventStageCompleted, session.ID, stage, "", artifactID)
	telemetry.StageTransitionsTotal.WithLabelValues(string(stage), string(StateCompleted)).Inc()
	telemetry.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(started).Seconds())

	if spec.Verifying && !verified {
		o.publishError(session.ID, stage, bus.SeverityWarning,
			"verification found blocking issues; stage completed unverified")
	}

	outcome := &StageOutcome{
		Stage:      stage,
		Kind:       OutcomeSuccess,
		ArtifactID: artifactID,
		Verified:   verified,
		Issues:     issues,
	}

	if spec.Gated {
		prompt := fmt.Sprintf("stage %s completed (artifact %s); continue?", stage, artifactID)
		approved, err := o.approver.Confirm(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("approval gate for stage %s: %w", stage, err)
		}
		if !approved {
			o.logger.Info("stage rejected at approval gate",
				zap.String("session.id", session.ID),
				zap.String("stage", string(stage)),
			)
			outcome.Kind = OutcomeCancelled
		}
	}

	return outcome, nil
}

// failStage records a retryable generator failure and reports it as an
// outcome. Only a persistence failure returns an error.
func (o *Orchestrator) failStage(session *Session, stage Stage, cause error, started time.Time) (*StageOutcome, error) {
	if err := session.markFailed(stage, cause, true, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := o.sessions.Save(session); err != nil {
		return nil, fmt.Errorf("failed to persist stage failure: %w", err)
	}
	o.publish(bus.EventStageFailed, session.ID, stage, "", cause.Error())
	o.publishError(session.ID, stage, bus.SeverityError, cause.Error())
	telemetry.StageTransitionsTotal.WithLabelValues(string(stage), string(StateFailed)).Inc()
	telemetry.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(started).Seconds())

	o.logger.Warn("stage failed",
		zap.String("session.id", session.ID),
		zap.String("stage", string(stage)),
		zap.Error(cause),
	)
	return &StageOutcome{
		Stage:    stage,
		Kind:     OutcomeFailed,
		Err:      cause,
		CanRetry: true,
	}, nil
}

// GotoStage moves the current-stage pointer back to target and records
// the restart reason. The target and every completed stage after it are
// marked stale: their artifacts remain readable inputs, but the stages
// are re-runnable and the next Run re-enters them. Stages after the
// target additionally lose their Verified flag until re-run.
func (o *Orchestrator) GotoStage(session *Session, target Stage, reason string) error {
	idx := o.registry.Index(target)
	if idx < 0 {
		return fmt.Errorf("stage %q is not in the pipeline", target)
	}
	if cur := o.registry.Index(session.Current); session.Current != "" && idx > cur {
		return fmt.Errorf("cannot go forward from %s to %s", session.Current, target)
	}

	for i, later := range o.registry.Order()[idx:] {
		if st := session.Status(later); st != nil && st.State == StateCompleted {
			st.Stale = true
			if i > 0 {
				st.Verified = false
			}
		}
	}

	session.Current = target
	session.Restarts = append(session.Restarts, Restart{
		Target: target,
		Reason: reason,
		At:     time.Now().UTC(),
	})

	if err := o.sessions.Save(session); err != nil {
		return fmt.Errorf("failed to persist restart: %w", err)
	}
	o.logger.Info("pipeline restarted at earlier stage",
		zap.String("session.id", session.ID),
		zap.String("stage", string(target)),
		zap.String("reason", reason),
	)
	return nil
}

// Run drives the session through all remaining stages in order,
// re-entering retryable failed stages up to the configured attempt
// bound. It returns the outcome that stopped the run, or the final
// stage's outcome when the whole pipeline completed.
func (o *Orchestrator) Run(ctx context.Context, session *Session) (*StageOutcome, error) {
	stages := o.registry.Order()
	start := 0
	if session.Current != "" {
		if idx := o.registry.Index(session.Current); idx >= 0 {
			start = idx
		}
	}

	var last *StageOutcome
	for _, stage := range stages[start:] {
		outcome, err := o.advanceWithRetry(ctx, session, stage)
		if err != nil {
			o.publishError(session.ID, stage, bus.SeverityCritical, err.Error())
			return nil, err
		}
		last = outcome

		switch outcome.Kind {
		case OutcomeCancelled:
			return outcome, nil
		case OutcomeFailed:
			return outcome, nil
		}
	}

	o.publish(bus.EventRunCompleted, session.ID, "", "", "")
	o.logger.Info("run completed", zap.String("session.id", session.ID))
	return last, nil
}

func (o *Orchestrator) advanceWithRetry(ctx context.Context, session *Session, stage Stage) (*StageOutcome, error) {
	var outcome *StageOutcome
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		var err error
		outcome, err = o.Advance(ctx, session, stage, AdvanceOptions{SkipCompleted: true})
		if err != nil {
			return nil, err
		}
		if outcome.Kind != OutcomeFailed || !outcome.CanRetry {
			return outcome, nil
		}
		if ctx.Err() != nil {
			return outcome, nil
		}
		o.logger.Warn("retrying failed stage",
			zap.String("session.id", session.ID),
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", o.maxAttempts),
		)
	}
	return outcome, nil
}

func (o *Orchestrator) publish(t bus.EventType, sessionID string, stage Stage, tool, message string) {
	o.bus.Publish(bus.Event{
		Type:      t,
		SessionID: sessionID,
		Stage:     string(stage),
		Tool:      tool,
		Message:   message,
	})
}

func (o *Orchestrator) publishError(sessionID string, stage Stage, severity bus.Severity, message string) {
	o.bus.Publish(bus.Event{
		Type:      bus.EventError,
		SessionID: sessionID,
		Stage:     string(stage),
		Message:   message,
		Severity:  severity,
	})
}
