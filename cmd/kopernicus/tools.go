package main

import (
	"os"

	"github.com/aretw0/kopernicus/internal/cli"
	"github.com/aretw0/kopernicus/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the capabilities available to the agent",
	Long:  `Connects to the configured MCP servers and process tools and lists the tools they offer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, _, err := loadStack(cmd, true, cli.WithReasoner(cli.OfflineReasoner()))
		if err != nil {
			return err
		}
		defer stack.Close()
		return cli.ListTools(cmd.Context(), stack.Capabilities, tui.NewRenderer(os.Stdout), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
