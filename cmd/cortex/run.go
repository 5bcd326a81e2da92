package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var runChatID string

var runCmd = &cobra.Command{
	Use:   "run <goal...>",
	Short: "Work through one goal on the console and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		reply, err := a.brain.Think(ctx, runChatID, strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("goal failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runChatID, "chat", "console:local", "chat ID the goal and its history belong to")
}
