/*
Package runner implements the interactive loop around a research session.

It acts as the bridge between the agent and a console or a pipe: it reads caller
input, runs one turn per input, streams step progress while the turn runs and
presents the response at the end of the turn. Interrupting a turn (Ctrl+C) cancels
it without losing the session; the next input resumes it.

# Key Components

  - Runner: the read, advance, present loop.
  - IOHandler: decouples how turns are presented (text or JSON lines).
  - TextHandler: interactive console usage with optional Markdown rendering.
  - JSONHandler: one JSON object per line, for scripts and pipes.

# Usage

	r := runner.New(
		runner.WithSessionID("user-1"),
		runner.WithInputHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
	)

	if err := r.Run(ctx, agent, "What drugs treat asthma?"); err != nil {
		log.Fatal(err)
	}
*/
package runner
