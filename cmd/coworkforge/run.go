package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sopaco/cowork-forge-sub001/internal/artifact"
	"github.com/sopaco/cowork-forge-sub001/internal/bus"
	"github.com/sopaco/cowork-forge-sub001/internal/logging"
	"github.com/sopaco/cowork-forge-sub001/internal/orchestrator"
	"github.com/sopaco/cowork-forge-sub001/internal/telemetry"
	"github.com/sopaco/cowork-forge-sub001/internal/throttle"
	"github.com/sopaco/cowork-forge-sub001/internal/verify"
)

var (
	inputDir    string
	autoApprove bool
	gotoStage   string
	gotoReason  string
	metricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new pipeline session",
	Long: `Start a new session and drive it through every stage.

Stage inputs are read from the input directory; a stage whose input file
is missing fails as retryable so the file can be prepared and the session
resumed.

Examples:
  # Run with inputs from ./pipeline and interactive approval
  coworkforge run --input ./pipeline

  # Non-interactive run
  coworkforge run --input ./pipeline --yes`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a persisted session",
	Long: `Resume a session from its persisted state, re-entering failed
stages and continuing from the first incomplete stage.

Examples:
  # Continue where the session left off
  coworkforge resume 2f1a... --input ./pipeline

  # Restart from an earlier stage after a requirements change
  coworkforge resume 2f1a... --input ./pipeline --goto design --reason "requirements changed"`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, resumeCmd} {
		cmd.Flags().StringVar(&inputDir, "input", "pipeline", "directory with per-stage input files")
		cmd.Flags().BoolVar(&autoApprove, "yes", false, "approve every gate without asking")
		cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	}
	resumeCmd.Flags().StringVar(&gotoStage, "goto", "", "restart from this earlier stage")
	resumeCmd.Flags().StringVar(&gotoReason, "reason", "", "reason for the restart")
}

func runRun(cmd *cobra.Command, args []string) error {
	return executePipeline(cmd.Context(), "")
}

func runResume(cmd *cobra.Command, args []string) error {
	return executePipeline(cmd.Context(), args[0])
}

// executePipeline wires the full stack and drives one session. An empty
// sessionID starts a new session.
func executePipeline(parent context.Context, sessionID string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		go serveMetrics(ctx, metricsAddr, logger)
	}

	sessions, err := orchestrator.NewSessionStore(cfg.WorkDir, logger.Underlying())
	if err != nil {
		return err
	}
	artifacts, err := artifact.NewFileStore(cfg.WorkDir, logger.Underlying())
	if err != nil {
		return err
	}
	gate, err := throttle.Init(cfg.Throttle.MaxConcurrent, cfg.Throttle.Pacing.Duration())
	if err != nil {
		return err
	}
	engine, err := verify.NewEngine(cfg.ProjectRoot,
		verify.WithAllowRun(cfg.Verify.AllowRun),
		verify.WithLogger(logger.Underlying()),
		verify.WithRunner(verify.NewShellRunner(cfg.Verify.CommandTimeout.Duration())),
	)
	if err != nil {
		return err
	}

	var approver orchestrator.Approver = newStdinApprover()
	if autoApprove {
		approver = orchestrator.AutoApprove{}
	}

	eventBus := bus.New(bus.WithDropHook(telemetry.BusDroppedEventsTotal.Inc))
	orch, err := orchestrator.New(orchestrator.Deps{
		Sessions:    sessions,
		Artifacts:   artifacts,
		Generator:   newFileGenerator(inputDir),
		Gate:        gate,
		Bus:         eventBus,
		Verifier:    engine,
		Approver:    approver,
		Logger:      logger.Underlying(),
		MaxAttempts: cfg.Retry.MaxAttempts,
	})
	if err != nil {
		return err
	}

	var session *orchestrator.Session
	if sessionID == "" {
		session = orchestrator.NewSession()
		fmt.Printf("session %s\n", session.ID)
	} else {
		session, err = sessions.Load(sessionID)
		if err != nil {
			return err
		}
	}

	release, err := sessions.Lock(session.ID)
	if err != nil {
		return err
	}
	defer release()

	if gotoStage != "" {
		target, err := orchestrator.ParseStage(gotoStage)
		if err != nil {
			return err
		}
		if err := orch.GotoStage(session, target, gotoReason); err != nil {
			return err
		}
	}

	done := watchEvents(eventBus)
	outcome, err := orch.Run(logging.WithSessionID(ctx, session.ID), session)
	done()
	if err != nil {
		return err
	}

	return reportOutcome(outcome)
}

// watchEvents prints lifecycle events to stderr as they arrive. The
// returned func stops the watcher.
func watchEvents(b *bus.Bus) func() {
	events, cancel := b.Subscribe(64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			switch {
			case ev.Tool != "":
				fmt.Fprintf(os.Stderr, "[%s] %s %s %s\n", ev.Type, ev.Stage, ev.Tool, ev.Message)
			case ev.Message != "":
				fmt.Fprintf(os.Stderr, "[%s] %s: %s\n", ev.Type, ev.Stage, ev.Message)
			default:
				fmt.Fprintf(os.Stderr, "[%s] %s\n", ev.Type, ev.Stage)
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func reportOutcome(outcome *orchestrator.StageOutcome) error {
	if outcome == nil {
		return nil
	}
	switch outcome.Kind {
	case orchestrator.OutcomeCancelled:
		fmt.Printf("run stopped at stage %s: rejected at the approval gate\n", outcome.Stage)
		return nil
	case orchestrator.OutcomeFailed:
		retry := "not retryable"
		if outcome.CanRetry {
			retry = "retryable; resume the session to try again"
		}
		return fmt.Errorf("stage %s failed (%s): %w", outcome.Stage, retry, outcome.Err)
	default:
		fmt.Printf("pipeline completed (last stage %s, artifact %s, verified %t)\n",
			outcome.Stage, outcome.ArtifactID, outcome.Verified)
		return nil
	}
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	logger.Info(ctx, "metrics server listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn(ctx, "metrics server stopped", zap.Error(err))
	}
}
