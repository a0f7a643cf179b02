package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aretw0/kopernicus"
	"github.com/aretw0/kopernicus/internal/presentation/tui"
	"github.com/aretw0/kopernicus/pkg/runner"
)

// RunOptions contains all the configuration for the run command.
type RunOptions struct {
	SessionID    string
	Question     string
	JSON         bool
	AutoApprove  bool
	ExitOnAnswer bool
	Verbose      bool
	// Fresh deletes the session checkpoint before the first turn.
	Fresh bool
}

// Console is the terminal a session runs on.
type Console struct {
	In  io.Reader
	Out io.Writer
	// Renderer turns markdown answers into ANSI; nil prints them raw.
	Renderer runner.ContentRenderer
	Banner   bool
}

// StdConsole returns the process terminal, with rendering and the banner
// enabled only when stdout is a TTY.
func StdConsole() Console {
	tty := tui.IsTerminal(os.Stdout)
	return Console{
		In:       os.Stdin,
		Out:      os.Stdout,
		Renderer: tui.NewRenderer(os.Stdout),
		Banner:   tty,
	}
}

// RunSession drives one research session interactively until the caller quits,
// the input ends or, with ExitOnAnswer, the episode is answered.
func RunSession(ctx context.Context, agent *kopernicus.Agent, opts RunOptions, console Console, logger *slog.Logger) error {
	if opts.SessionID == "" {
		opts.SessionID = kopernicus.NewSessionID()
	}
	if opts.Fresh {
		if err := agent.Delete(ctx, opts.SessionID); err != nil {
			return fmt.Errorf("failed to reset session: %w", err)
		}
	}

	var handler runner.IOHandler
	if opts.JSON {
		handler = runner.NewJSONHandler(console.In, console.Out)
	} else {
		if console.Banner {
			tui.PrintBanner(console.Out)
		}
		handler = runner.NewTextHandler(console.In, console.Out,
			runner.WithTextHandlerRenderer(console.Renderer),
			runner.WithVerbose(opts.Verbose),
		)
		logSessionStatus(ctx, agent, console.Out, opts.SessionID)
	}

	r := runner.New(
		runner.WithLogger(logger),
		runner.WithSessionID(opts.SessionID),
		runner.WithInputHandler(handler),
		runner.WithAutoApprove(opts.AutoApprove),
		runner.WithExitOnAnswer(opts.ExitOnAnswer),
	)

	err := r.Run(ctx, agent, opts.Question)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if !opts.JSON {
		printSystemMessage(console.Out, "Session '%s' saved. Resume with --session %s.", opts.SessionID, opts.SessionID)
	}
	return nil
}

func logSessionStatus(ctx context.Context, agent *kopernicus.Agent, w io.Writer, sessionID string) {
	state, err := agent.Snapshot(ctx, sessionID)
	if err != nil || (len(state.PastSteps) == 0 && state.Query == "") {
		printSystemMessage(w, "Session '%s' active.", sessionID)
		return
	}
	printSystemMessage(w, "Resuming session '%s' (%s, iteration %d).", sessionID, state.Phase, state.IterationCount)
}
