package main

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [work-unit-id]",
	Short: "Streams live status events for a work unit",
	Long:  `Streams live status events for a work unit until interrupted. Events are pushed by the server as they happen; a work unit that already finished produces no further output.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()
		url := client.baseURL + "/api/v1/runs/" + args[0] + "/events"

		req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		// The stream stays open indefinitely; the default client timeout
		// would cut it off.
		stream := &http.Client{}
		resp, err := stream.Do(req)
		if err != nil {
			return fmt.Errorf("failed to open event stream: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned %s", resp.Status)
		}

		dimColor.Printf("Watching %s (Ctrl+C to stop)\n", args[0])
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				eventType := strings.TrimPrefix(line, "event: ")
				statusColor(eventType).Printf("%s ", eventType)
			case strings.HasPrefix(line, "data: "):
				fmt.Println(strings.TrimPrefix(line, "data: "))
			}
		}
		return scanner.Err()
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(watchCmd)
}
