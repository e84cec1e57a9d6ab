package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	runsLimit int
	runsJSON  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Lists the most recent orchestration runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := newAPIClient()

		var runs []runView
		path := fmt.Sprintf("/api/v1/runs?limit=%d", runsLimit)
		if err := client.getJSON(cmd.Context(), path, &runs); err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if runsJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(runs)
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "WORK UNIT\tEVENT\tATTEMPT\tSTATUS\tSTARTED")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				run.WorkUnitID,
				run.EventType,
				run.AttemptNumber,
				run.OverallStatus,
				run.StartedAt.Format(time.RFC822),
			)
		}
		return w.Flush()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "Output runs as JSON")
	rootCmd.AddCommand(runsCmd)
}
