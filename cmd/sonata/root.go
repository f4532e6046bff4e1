package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sonata",
	Short: "Multi-model task orchestration core",
	Long: `Sonata routes work across specialized backend model services, executes
dependency-ordered subtask graphs, and manages per-entity conversational
context under strict token budgets.

Core capabilities:
- Selects the best service per task from declared capabilities and live
  performance metrics
- Decomposes complex tasks into dependency-ordered subtask chains
- Falls back to alternate services on failure
- Detects systemic bottlenecks from execution feedback
- Bounds conversational context with eviction, compression, and disk
  overflow`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
