package runner

import (
	"context"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// IOHandler defines the strategy for interacting with the user.
// This allows switching between Text (console) and JSON (structured) modes.
type IOHandler interface {
	// Step presents one completed workflow step while the turn runs.
	Step(ctx context.Context, delta domain.StepDelta) error

	// Output presents the state at the end of a turn.
	Output(ctx context.Context, state *domain.ResearchState) error

	// Input reads the next caller input.
	Input(ctx context.Context) (string, error)

	// SystemOutput presents a meta-message (interruptions, failures, hints).
	SystemOutput(ctx context.Context, msg string) error
}

// Agent is the part of kopernicus.Agent the runner drives.
type Agent interface {
	Advance(ctx context.Context, sessionID, input string, emit func(domain.StepDelta) error) (*domain.ResearchState, error)
}

// ContentRenderer transforms Markdown before it is written.
// This allows for TUI rendering (markdown to ANSI) without coupling the core package.
type ContentRenderer func(string) (string, error)
