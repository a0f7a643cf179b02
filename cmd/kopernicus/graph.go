package main

import (
	"github.com/aretw0/kopernicus/internal/cli"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export the research workflow as a Mermaid flowchart",
	Long: `Prints the workflow graph in Mermaid format. With --session, the step the
session resumes from is highlighted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		stack, _, err := loadStack(cmd, true, cli.InspectOnly())
		if err != nil {
			return err
		}
		defer stack.Close()
		return cli.ExportGraph(cmd.Context(), stack.Agent, sessionID, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("session", "s", "", "Highlight the resume point of this session")
}
