package cli

import (
	"fmt"

	"github.com/lucasnoah/maestro/internal/analytics"
	"github.com/spf13/cobra"
)

var analyticsSince string

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Query pipeline performance analytics",
}

var analyticsStagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Average and percentile durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		stats, err := analytics.QueryStageDurations(database, analyticsSince)
		if err != nil {
			return err
		}
		if len(stats) == 0 {
			cmd.Println("No stage results recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-12s %6s %10s %10s %10s\n", "STAGE", "COUNT", "AVG(s)", "P50(s)", "P95(s)")
		for _, s := range stats {
			fmt.Fprintf(w, "%-12s %6d %10.2f %10.2f %10.2f\n", s.Stage, s.Count, s.Avg, s.P50, s.P95)
		}
		return nil
	},
}

func init() {
	analyticsCmd.PersistentFlags().StringVar(&analyticsSince, "since", "", `only include results at or after "YYYY-MM-DD HH:MM:SS"`)
	analyticsCmd.AddCommand(analyticsStagesCmd)
}
