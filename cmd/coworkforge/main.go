// Package main implements the coworkforge CLI, which drives a software
// production pipeline from idea to delivery with human approval gates.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sopaco/cowork-forge-sub001/internal/config"
	"github.com/sopaco/cowork-forge-sub001/internal/logging"
)

var (
	// configPath is the optional YAML configuration file
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coworkforge",
	Short: "Stage-gated software production pipeline",
	Long: `coworkforge drives a multi-stage production workflow
(idea, requirements, design, plan, coding, check, delivery) where every
stage output is persisted as an artifact and gated by human approval.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "configuration file (YAML)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(memoryCmd)
}

// loadConfig loads configuration from file and environment and builds
// the logger from it.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, logger, nil
}

// memoryPath resolves the memory database location.
func memoryPath(cfg *config.Config) string {
	if cfg.Memory.Path != "" {
		return cfg.Memory.Path
	}
	return filepath.Join(cfg.WorkDir, "memory.db")
}
