package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show status of all known tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadPipelineConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		tasks, err := store.List("")
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(tasks, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		if len(tasks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tasks found.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-20s %-12s %-10s %s\n", "TASK", "STATUS", "STAGE", "REASON")
		fmt.Fprintf(w, "%-20s %-12s %-10s %s\n",
			strings.Repeat("-", 20),
			strings.Repeat("-", 12),
			strings.Repeat("-", 10),
			strings.Repeat("-", 6))
		for _, ts := range tasks {
			reason := ts.FailReason
			if len(reason) > 60 {
				reason = reason[:57] + "..."
			}
			fmt.Fprintf(w, "%-20s %-12s %-10s %s\n", ts.TaskID, ts.Status, ts.CurrentStage, reason)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("format", "table", "Output format: table or json")
}
