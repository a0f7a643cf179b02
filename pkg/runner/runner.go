package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/aretw0/kopernicus/pkg/domain"
)

// ApprovalInput is the input fed to a session awaiting approval when AutoApprove is on.
const ApprovalInput = "approved"

// Runner drives one research session from an IOHandler: it reads an input,
// advances the agent one turn, presents the result and repeats.
type Runner struct {
	Handler   IOHandler
	Logger    *slog.Logger
	SessionID string

	// AutoApprove answers every plan proposal with ApprovalInput.
	AutoApprove bool
	// ExitOnAnswer ends the run once the session reaches a terminal phase.
	ExitOnAnswer bool
}

// New creates a Runner on stdin/stdout.
func New(opts ...Option) *Runner {
	r := &Runner{
		Logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.Handler == nil {
		r.Handler = NewTextHandler(nil, nil)
	}
	return r
}

// Run executes turns until the input ends, the caller types exit or quit,
// or (with ExitOnAnswer) the session is answered. A non-empty first input is
// used for the first turn instead of reading one.
//
// Ctrl+C cancels the running turn only. The session checkpoint keeps the turn
// resumable, so the next input picks it up where it stopped.
func (r *Runner) Run(ctx context.Context, agent Agent, first string) error {
	if r.SessionID == "" {
		return errors.New("runner: session id is required")
	}
	signals := NewSignalManager(ctx)
	defer signals.Stop()

	input := first
	for {
		if input == "" {
			val, err := r.Handler.Input(signals.Context())
			if err != nil {
				signals.CheckRace()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if signals.Interrupted() || errors.Is(err, io.EOF) {
					return nil
				}
				return fmt.Errorf("input error: %w", err)
			}
			input = val
		}
		switch strings.ToLower(strings.TrimSpace(input)) {
		case "exit", "quit":
			return nil
		case "":
			continue
		}

		state, err := r.turn(signals, agent, input)
		input = ""
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !r.recover(signals, err) {
				return err
			}
			continue
		}

		if err := r.Handler.Output(signals.Context(), state); err != nil {
			return fmt.Errorf("output error: %w", err)
		}
		if r.ExitOnAnswer && state.Phase.IsTerminal() {
			return nil
		}
		if r.AutoApprove && awaitingApproval(state) {
			r.Logger.Debug("auto-approving plan", "session_id", r.SessionID)
			input = ApprovalInput
		}
	}
}

func (r *Runner) turn(signals *SignalManager, agent Agent, input string) (*domain.ResearchState, error) {
	ctx := signals.Context()
	r.Logger.Debug("turn started", "session_id", r.SessionID)
	return agent.Advance(ctx, r.SessionID, input, func(sd domain.StepDelta) error {
		return r.Handler.Step(ctx, sd)
	})
}

// recover reports a failed turn and re-arms the loop. It returns false when
// the failure is not one the session can resume from.
func (r *Runner) recover(signals *SignalManager, err error) bool {
	ctx := context.WithoutCancel(signals.Context())
	if signals.Interrupted() {
		r.Logger.Info("turn interrupted", "session_id", r.SessionID)
		_ = r.Handler.SystemOutput(ctx, "Turn interrupted. Send any input to resume from the last completed step, or exit to quit.")
		signals.Reset()
		return true
	}

	var fatal *domain.FatalSessionError
	if errors.As(err, &fatal) {
		r.Logger.Error("turn failed", "session_id", r.SessionID, "step", fatal.Step, "err", fatal.Err)
		_ = r.Handler.SystemOutput(ctx, fmt.Sprintf("Step %s failed: %v. Send any input to resume from the last completed step.", fatal.Step, fatal.Err))
		return true
	}
	return false
}
