package main

import (
	"strings"

	"github.com/aretw0/kopernicus/internal/cli"
	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [question]",
	Short: "Run an interactive research session",
	Long: `Starts a research session in the terminal. The first input is the question;
the agent answers with a plan proposal, which you revise with feedback or accept
with "approved". Interrupting a turn with Ctrl+C keeps the session resumable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonMode, _ := cmd.Flags().GetBool("json")
		opts := cli.RunOptions{JSON: jsonMode}
		opts.SessionID, _ = cmd.Flags().GetString("session")
		opts.AutoApprove, _ = cmd.Flags().GetBool("auto-approve")
		opts.ExitOnAnswer, _ = cmd.Flags().GetBool("exit-on-answer")
		opts.Verbose, _ = cmd.Flags().GetBool("verbose")
		opts.Fresh, _ = cmd.Flags().GetBool("fresh")
		opts.Question = strings.Join(args, " ")

		// Logs stay on stderr, but in interactive mode they would interleave with the prompt.
		stack, logger, err := loadStack(cmd, !jsonMode)
		if err != nil {
			return err
		}
		defer stack.Close()

		// The runner traps Ctrl+C per turn, so the session context carries no signal handling.
		return cli.RunSession(cmd.Context(), stack.Agent, opts, cli.StdConsole(), logger)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("session", "s", "", "Session ID to create or resume (default: a new random ID)")
	runCmd.Flags().Bool("json", false, "Run in JSON mode (NDJSON input/output)")
	runCmd.Flags().Bool("auto-approve", false, "Approve every plan proposal without asking")
	runCmd.Flags().Bool("exit-on-answer", false, "Exit once the question is answered")
	runCmd.Flags().BoolP("verbose", "v", false, "Print every workflow step as it completes")
	runCmd.Flags().Bool("fresh", false, "Delete the session checkpoint before starting")
}
