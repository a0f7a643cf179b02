package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/kopernicus/internal/cli"
	"github.com/aretw0/kopernicus/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kopernicus",
	Short: "Kopernicus is a resumable research agent over knowledge-graph tools",
	Long: `Kopernicus answers research questions by negotiating a plan, exploring a
knowledge graph through capability servers and synthesizing an answer backed by evidence.
Every step is checkpointed, so an interrupted session resumes where it stopped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to kopernicus.yaml (default: ./kopernicus.yaml when present)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging on stderr")
}

// loadStack reads the configuration and wires the agent. quiet silences logging
// unless --debug is set.
func loadStack(cmd *cobra.Command, quiet bool, opts ...cli.BuildOption) (*cli.Stack, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	debug, _ := cmd.Flags().GetBool("debug")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := cli.NewLogger(cfg.Log, debug, quiet)
	stack, err := cli.Build(cmd.Context(), cfg, logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	return stack, logger, nil
}
