// Package main implements the cortex agent: chat gateways, scheduled goals
// and one-shot runs on the console.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the JSON or YAML config file
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Personal automation agent",
	Long: `cortex turns goals into task trees and works through them with tools,
answering on Telegram, Discord or the console.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "config file (.json, .yaml or .yml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tasksCmd)
}
