package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sopaco/cowork-forge-sub001/internal/memory"
)

var (
	memKind     string
	memRunID    string
	memKeywords []string
	memLimit    int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Query and maintain the cross-run memory store",
}

var memoryQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search decisions, patterns and insights",
	Long: `Search memory records by kind and keyword.

Examples:
  # All decisions mentioning sqlite
  coworkforge memory query --kind decision --keyword sqlite

  # Insights of one run
  coworkforge memory query --kind insight --run 2f1a...`,
	Args: cobra.NoArgs,
	RunE: runMemoryQuery,
}

var memoryPromoteCmd = &cobra.Command{
	Use:   "promote <run-id>",
	Short: "Promote a run's critical insights into decisions",
	Long: `Convert every critical-importance insight of the run that has
not been promoted yet into a durable decision. Safe to repeat: already
promoted insights are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runMemoryPromote,
}

func init() {
	memoryQueryCmd.Flags().StringVar(&memKind, "kind", "", "record kind (decision, pattern, insight)")
	memoryQueryCmd.Flags().StringVar(&memRunID, "run", "", "limit insights to one run id")
	memoryQueryCmd.Flags().StringArrayVar(&memKeywords, "keyword", nil, "substring filter (repeatable)")
	memoryQueryCmd.Flags().IntVar(&memLimit, "limit", 20, "maximum records per kind")

	memoryCmd.AddCommand(memoryQueryCmd)
	memoryCmd.AddCommand(memoryPromoteCmd)
}

func openMemory() (*memory.Store, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return memory.New(memoryPath(cfg), logger.Underlying())
}

func runMemoryQuery(cmd *cobra.Command, args []string) error {
	store, err := openMemory()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Query(memory.QueryOptions{
		Kind:     memory.Kind(memKind),
		RunID:    memRunID,
		Keywords: memKeywords,
		Limit:    memLimit,
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no records")
		return nil
	}

	out := cmd.OutOrStdout()
	for _, r := range records {
		header := fmt.Sprintf("[%s #%d]", r.Kind, r.ID)
		if r.Title != "" {
			header += " " + r.Title
		}
		if r.RunID != "" {
			header += fmt.Sprintf(" (run %s)", r.RunID)
		}
		fmt.Fprintln(out, header)
		fmt.Fprintf(out, "  %s\n", firstLine(strings.TrimSpace(r.Content)))
	}
	return nil
}

func runMemoryPromote(cmd *cobra.Command, args []string) error {
	store, err := openMemory()
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.PromoteCriticalInsights(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "promoted %d insight(s)\n", n)
	return nil
}
