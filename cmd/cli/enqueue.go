package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	eventID      string
	payloadInput string
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [event-type]",
	Short: "Submit a domain event to the FormPulse server",
	Long: `Submit a domain event to the FormPulse server for asynchronous processing.

The payload is given as inline JSON or read from a file with @path.

Examples:
  formpulse-cli enqueue form_completed --payload '{"form_id":"f1","response_id":"r1"}'
  formpulse-cli enqueue response_analyzed --payload @event.json`,
	Args: cobra.ExactArgs(1),
	RunE: runEnqueue,
}

func init() { //nolint:gochecknoinits // Cobra command registration
	enqueueCmd.Flags().StringVar(&eventID, "id", "", "Work unit id (defaults to a server-assigned UUID)")
	enqueueCmd.Flags().StringVarP(&payloadInput, "payload", "p", "{}", "Event payload as JSON, or @file")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	if webhookSecret == "" {
		return fmt.Errorf("webhook secret is not set\n\nTip: pass --secret or set FP_WEBHOOK_SECRET")
	}

	raw := payloadInput
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return fmt.Errorf("failed to read payload file: %w", err)
		}
		raw = string(data)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"id":         eventID,
		"event_type": args[0],
		"payload":    payload,
	})
	if err != nil {
		return err
	}

	client := newAPIClient()
	workUnitID, err := client.postEvent(cmd.Context(), body)
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Println("Event queued")
	fmt.Printf("Work unit: %s\n", workUnitID)
	fmt.Printf("Follow it with: formpulse-cli status %s\n", workUnitID)
	return nil
}
