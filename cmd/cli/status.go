package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var outputJSON bool

// Color definitions
var (
	titleColor   = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	dimColor     = color.New(color.FgHiBlack)
)

var statusCmd = &cobra.Command{
	Use:   "status [work-unit-id]",
	Short: "Shows the latest orchestration run for a work unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()

		var run runView
		if err := client.getJSON(cmd.Context(), "/api/v1/runs/"+args[0], &run); err != nil {
			return fmt.Errorf("failed to retrieve run: %w", err)
		}

		if outputJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(run)
		}

		printRun(run)
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	statusCmd.Flags().BoolVar(&outputJSON, "json", false, "Output run as JSON")
	rootCmd.AddCommand(statusCmd)
}

func printRun(run runView) {
	titleColor.Printf("Run for %s\n", run.WorkUnitID)
	fmt.Printf("Event:    %s\n", run.EventType)
	fmt.Printf("Attempt:  %d\n", run.AttemptNumber)
	fmt.Print("Status:   ")
	statusColor(run.OverallStatus).Println(run.OverallStatus)
	fmt.Printf("Duration: %s\n\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "STEP\tREQUIRED\tSTATUS\tERROR")
	for _, step := range run.Steps {
		errText := ""
		if step.Error != nil {
			errText = fmt.Sprintf("[%s] %s", step.Error.Category, step.Error.Message)
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%s\n", step.StepName, step.Required, step.Status, errText)
	}
	_ = w.Flush()
}

func statusColor(status string) *color.Color {
	switch status {
	case "completed":
		return successColor
	case "partial":
		return warnColor
	case "failed":
		return errorColor
	default:
		return dimColor
	}
}
