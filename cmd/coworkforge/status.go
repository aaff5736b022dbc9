package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sopaco/cowork-forge-sub001/internal/orchestrator"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show persisted session state",
	Long: `Show the stage-by-stage state of a session, or list all
sessions when no id is given.

Examples:
  # List sessions
  coworkforge status

  # Inspect one session
  coworkforge status 2f1a...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	sessions, err := orchestrator.NewSessionStore(cfg.WorkDir, logger.Underlying())
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return listSessions(cmd, sessions)
	}
	return showSession(cmd, sessions, args[0])
}

func listSessions(cmd *cobra.Command, sessions *orchestrator.SessionStore) error {
	ids, err := sessions.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tCREATED\tCURRENT\tCOMPLETED")
	for _, id := range ids {
		s, err := sessions.Load(id)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\tunreadable: %v\n", id, err)
			continue
		}
		completed := 0
		for _, stage := range orchestrator.AllStages() {
			if s.Completed(stage) {
				completed++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\n",
			s.ID,
			s.CreatedAt.Format("2006-01-02 15:04"),
			s.Current,
			completed, len(orchestrator.AllStages()),
		)
	}
	return w.Flush()
}

func showSession(cmd *cobra.Command, sessions *orchestrator.SessionStore, id string) error {
	s, err := sessions.Load(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "session %s (created %s)\n\n",
		s.ID, s.CreatedAt.Format("2006-01-02 15:04:05"))

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATE\tARTIFACT\tVERIFIED\tDETAIL")
	for _, stage := range orchestrator.AllStages() {
		marker := " "
		if stage == s.Current {
			marker = "*"
		}

		st := s.Status(stage)
		if st == nil {
			fmt.Fprintf(w, "%s %s\tpending\t-\t-\t\n", marker, stage)
			continue
		}
		switch st.State {
		case orchestrator.StateInProgress:
			fmt.Fprintf(w, "%s %s\t%s\t-\t-\tsince %s\n",
				marker, stage, st.State, st.StartedAt.Format("15:04:05"))
		case orchestrator.StateCompleted:
			fmt.Fprintf(w, "%s %s\t%s\t%s\t%t\t\n",
				marker, stage, st.State, st.ArtifactID, st.Verified)
		case orchestrator.StateFailed:
			retry := "no retry"
			if st.CanRetry {
				retry = "retryable"
			}
			fmt.Fprintf(w, "%s %s\t%s\t-\t-\t%s: %s\n",
				marker, stage, st.State, retry, st.Error)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, r := range s.Restarts {
		fmt.Fprintf(cmd.OutOrStdout(), "\nrestarted at %s (%s): %s\n",
			r.Target, r.At.Format("2006-01-02 15:04"), r.Reason)
	}
	return nil
}
