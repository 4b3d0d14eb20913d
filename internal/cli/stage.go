package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/maestro/internal/pipeline"
	"github.com/lucasnoah/maestro/internal/qa"
)

// stageCmds returns one subcommand per externally runnable stage.
// gate has its own command with verdict output.
func stageCmds() []*cobra.Command {
	stages := []struct {
		name, short string
	}{
		{pipeline.StagePlan, "Run the plan stage for a task"},
		{pipeline.StageCode, "Run the code stage for a task"},
		{pipeline.StageIntegrate, "Run the integrate stage for a task"},
		{pipeline.StageVerify, "Run the verify checks for a task"},
		{pipeline.StageReport, "Synthesize the QA report for a task"},
	}

	var cmds []*cobra.Command
	for _, s := range stages {
		stage := s.name
		cmds = append(cmds, &cobra.Command{
			Use:   fmt.Sprintf("%s [task]", stage),
			Short: s.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSingleStage(cmd, args[0], stage)
			},
		})
	}
	return cmds
}

func runSingleStage(cmd *cobra.Command, taskID, stage string) error {
	ctrl, _, _, cleanup, err := newController(nil)
	if err != nil {
		return err
	}
	defer cleanup()
	ctrl.SetProgress(os.Stderr)

	summary, err := ctrl.RunStage(cmd.Context(), taskID, stage)
	if err != nil {
		return err
	}
	if summary.Status == pipeline.StatusFailed {
		return fmt.Errorf("stage %q failed for task %q: %s", stage, taskID, summary.Reason)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stage %q completed for task %q\n", stage, taskID)
	return nil
}

var gateCmd = &cobra.Command{
	Use:   "gate [task]",
	Short: "Check the QA verdict for a task",
	Long: `Read the task's QA report and print the verdict. A passing gate still
requires out-of-band human acknowledgment before any downstream merge.
Exits non-zero when QA failed, printing the ordered next-actions.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]

		cfg, err := loadPipelineConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		var report qa.Report
		if err := pipeline.ReadJSON(store.QAReportPath(taskID), &report); err != nil {
			return fmt.Errorf("read qa report for %q (run report first?): %w", taskID, err)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "task %s: QA %s\n", taskID, report.Status)
		fmt.Fprintf(w, "  tests: %d run, %d passed, %d failed\n", report.TestsRun, report.Passed, report.Failed)
		fmt.Fprintf(w, "  lint errors: %d, type errors: %d, coverage: %.0f%%\n",
			report.LintErrors, report.TypeErrors, report.Coverage)

		if report.Status != "pass" {
			fmt.Fprintln(w, "next actions:")
			for i, a := range report.NextActions {
				fmt.Fprintf(w, "  %d. %s\n", i+1, a)
			}
			return fmt.Errorf("gate failed for task %q", taskID)
		}
		fmt.Fprintln(w, "gate passed — awaiting human acknowledgment before merge")
		return nil
	},
}
