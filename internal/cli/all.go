package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var allCmd = &cobra.Command{
	Use:   "all [task]",
	Short: "Run the full pipeline for a task",
	Long: `Run every stage in order (plan, code, integrate, verify, report, gate)
for one task. Artifacts from any prior run are replaced first. Exits 0 only
on full success through report with a passing gate; any stage failure halts
the run and the failing stage is identifiable from the logs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]

		ctrl, _, _, cleanup, err := newController(nil)
		if err != nil {
			return err
		}
		defer cleanup()
		ctrl.SetProgress(os.Stderr)

		summary, err := ctrl.Run(cmd.Context(), taskID)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if !summary.Succeeded() {
			fmt.Fprintf(w, "pipeline failed at stage %q: %s\n", summary.FailedStage, summary.Reason)
			for i, a := range summary.NextActions {
				fmt.Fprintf(w, "  %d. %s\n", i+1, a)
			}
			return fmt.Errorf("pipeline failed for task %q", taskID)
		}
		fmt.Fprintf(w, "pipeline completed for task %q (run %s)\n", taskID, summary.RunID)
		return nil
	},
}
