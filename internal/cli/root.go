package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

// configPath overrides config discovery when set via --config.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "maestro — a supervised multi-stage code-change pipeline",
	Long: `maestro sequences external code-generation tools through a fixed pipeline
(plan, code, integrate, verify, report, gate) with per-stage timeouts,
artifact contracts, and a machine-checkable QA verdict.

State lives in ~/.maestro/ (SQLite for events, JSON for task artifacts).
The watcher polls a request directory and runs each new task exactly once.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to maestro.yaml (default: search standard locations)")

	rootCmd.AddCommand(versionCmd)
	for _, cmd := range stageCmds() {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(allCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(analyticsCmd)
}
