package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/kopernicus"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of kopernicus",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "kopernicus version %s\n", strings.TrimSpace(kopernicus.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
