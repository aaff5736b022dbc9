package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sopaco/cowork-forge-sub001/internal/verify"
)

var (
	commandsFile   string
	verifyAllowRun bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [dir]",
	Short: "Run a standalone verification pass",
	Long: `Run the verification engine against a project directory without
a pipeline session: detect the project kind, run the declared or default
commands, and report checks and issues.

Examples:
  # Verify the current directory with per-kind default commands
  coworkforge verify

  # Verify with declared commands
  coworkforge verify ./app --commands ./pipeline/commands.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&commandsFile, "commands", "", "YAML file with declared commands")
	verifyCmd.Flags().BoolVar(&verifyAllowRun, "allow-run", false, "execute long-running Run-phase commands")
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	root := cfg.ProjectRoot
	if len(args) == 1 {
		root = args[0]
	}

	var declared []verify.Command
	if commandsFile != "" {
		data, err := os.ReadFile(commandsFile)
		if err != nil {
			return fmt.Errorf("failed to read command declarations: %w", err)
		}
		declared, err = verify.LoadCommands(data)
		if err != nil {
			return err
		}
	}

	engine, err := verify.NewEngine(root,
		verify.WithAllowRun(verifyAllowRun || cfg.Verify.AllowRun),
		verify.WithLogger(logger.Underlying()),
		verify.WithRunner(verify.NewShellRunner(cfg.Verify.CommandTimeout.Duration())),
	)
	if err != nil {
		return err
	}

	checks, issues := engine.Verify(cmd.Context(), declared)

	out := cmd.OutOrStdout()
	for _, c := range checks {
		fmt.Fprintf(out, "%-6s [%s] %s (exit %d)\n", c.Status, c.Phase, c.Command, c.ExitCode)
		if c.Notes != "" {
			fmt.Fprintf(out, "       %s\n", firstLine(c.Notes))
		}
	}

	blocking := 0
	for _, issue := range issues {
		fmt.Fprintf(out, "\n[%s] %s\n", issue.Severity, issue.Description)
		if issue.FixHint != "" {
			fmt.Fprintf(out, "  hint: %s\n", issue.FixHint)
		}
		if len(issue.Files) > 0 {
			fmt.Fprintf(out, "  files: %s\n", strings.Join(issue.Files, ", "))
		}
		if issue.Blocking() {
			blocking++
		}
	}

	if blocking > 0 {
		return fmt.Errorf("verification failed with %d blocking issue(s)", blocking)
	}
	fmt.Fprintf(out, "\nverification passed (%d checks, %d warnings)\n", len(checks), len(issues))
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
