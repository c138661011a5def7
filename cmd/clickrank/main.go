// Package main provides the clickrank binary: load search sessions, train a
// click-model relevance estimator and measure how re-ranking would help users.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clickrank",
		Short: "clickrank - click-model relevance estimation for site search",
		Long: `clickrank learns document relevance per search term from click logs
using a Simplified Dynamic Bayesian Network click model, and estimates how
many clicks re-ranking by that relevance would save.

Typical flow:
  clickrank migrate up
  clickrank load-sessions --dataset week1 --file sessions.csv
  clickrank train --dataset week1 --output week1.csv
  clickrank evaluate --dataset week1 --model week1.csv

Run 'clickrank run --file sessions.csv' to do everything in memory.`,
		SilenceUsage: true,
	}

	addGlobalFlags(rootCmd)

	rootCmd.AddCommand(
		migrateCmd(),
		loadSessionsCmd(),
		importContentCmd(),
		trainCmd(),
		evaluateCmd(),
		rankCmd(),
		runCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", "", "config file path")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	cmd.PersistentFlags().String("format", "text", "output format (text, json)")
	cmd.PersistentFlags().String("store", "", "relevance store (memory, postgres); overrides config")
	cmd.PersistentFlags().String("database-url", "", "Postgres URL; overrides config")
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clickrank %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}
