package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var creditsCmd = &cobra.Command{
	Use:   "credits [user-id]",
	Short: "Shows the remaining AI credits for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient()

		var balance struct {
			UserID    string  `json:"userId"`
			Remaining float64 `json:"remaining"`
		}
		if err := client.getJSON(cmd.Context(), "/api/v1/credits/"+args[0], &balance); err != nil {
			return fmt.Errorf("failed to retrieve credit balance: %w", err)
		}

		fmt.Printf("User:      %s\n", balance.UserID)
		fmt.Print("Remaining: ")
		if balance.Remaining <= 0 {
			errorColor.Printf("%.2f\n", balance.Remaining)
		} else {
			successColor.Printf("%.2f\n", balance.Remaining)
		}
		return nil
	},
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	rootCmd.AddCommand(creditsCmd)
}
