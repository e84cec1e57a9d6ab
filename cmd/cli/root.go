package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serverURL     string
	webhookSecret string
)

var rootCmd = &cobra.Command{
	Use:   "formpulse-cli",
	Short: "formpulse-cli is the command-line interface for FormPulse.",
	Long:  `A CLI for interacting with the FormPulse service: enqueue form events, inspect orchestration runs and check AI credit balances.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() { //nolint:gochecknoinits // Cobra's init function for command registration
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "FormPulse server base URL")
	rootCmd.PersistentFlags().StringVarP(&webhookSecret, "secret", "k", "", "Webhook signing secret")

	if err := viper.BindPFlag("SERVER_URL", rootCmd.PersistentFlags().Lookup("server")); err != nil {
		slog.Error("Error binding flag", "error", err)
		os.Exit(1)
	}
	if err := viper.BindPFlag("WEBHOOK_SECRET", rootCmd.PersistentFlags().Lookup("secret")); err != nil {
		slog.Error("Error binding flag", "error", err)
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("FP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if serverURL == "" || serverURL == "http://localhost:8080" {
		if fromEnv := viper.GetString("SERVER_URL"); fromEnv != "" {
			serverURL = fromEnv
		}
	}
	if webhookSecret == "" {
		webhookSecret = viper.GetString("WEBHOOK_SECRET")
	}
}
