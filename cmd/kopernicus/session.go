package main

import (
	"github.com/aretw0/kopernicus/internal/cli"
	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage persistent research sessions",
	Long:  `List, inspect, and remove the session checkpoints of the configured store.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, _, err := loadStack(cmd, true, cli.InspectOnly())
		if err != nil {
			return err
		}
		defer stack.Close()
		return cli.ListSessions(cmd.Context(), stack.Agent, cmd.OutOrStdout())
	},
}

var sessionInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the state of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		stack, _, err := loadStack(cmd, true, cli.InspectOnly())
		if err != nil {
			return err
		}
		defer stack.Close()
		return cli.InspectSession(cmd.Context(), stack.Agent, args[0], format, cmd.OutOrStdout())
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, _, err := loadStack(cmd, true, cli.InspectOnly())
		if err != nil {
			return err
		}
		defer stack.Close()
		return cli.RemoveSessions(cmd.Context(), stack.Agent, args, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd)
	sessionCmd.AddCommand(sessionInspectCmd)
	sessionCmd.AddCommand(sessionRmCmd)

	sessionInspectCmd.Flags().StringP("format", "f", cli.FormatSummary, "Output format: summary, json or yaml")
}
