package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/aretw0/kopernicus/pkg/session"
)

// ErrStepBudgetExceeded is returned when a turn runs more steps than the graph can legitimately need.
var ErrStepBudgetExceeded = errors.New("step budget exceeded")

// EmitFunc receives every (step, delta) pair of a turn, after its checkpoint was written.
// A returned error aborts the turn; the session resumes from the saved cursor.
type EmitFunc func(domain.StepDelta) error

// Executor walks the graph for one session turn, checkpointing after every step.
type Executor struct {
	graph         *Graph
	sessions      *session.Manager
	logger        *slog.Logger
	hooks         domain.LifecycleHooks
	maxIterations int
	stepBudget    int
	now           func() time.Time
}

// Option configures the Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Executor) {
		e.hooks = hooks
	}
}

// WithMaxIterations sets the decision-cycle ceiling of new sessions.
func WithMaxIterations(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithStepBudget caps the steps of one turn. Zero derives the cap from the graph size
// and the iteration ceiling.
func WithStepBudget(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.stepBudget = n
		}
	}
}

// NewExecutor creates an executor over a validated graph.
func NewExecutor(graph *Graph, sessions *session.Manager, opts ...Option) (*Executor, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	e := &Executor{
		graph:         graph,
		sessions:      sessions,
		logger:        logging.NewNop(),
		maxIterations: domain.DefaultMaxIterations,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Graph returns the wiring the executor walks.
func (e *Executor) Graph() *Graph {
	return e.graph
}

// Advance runs one turn of the session with the caller input.
// A session waiting for input starts a new walk from the entry router;
// an interrupted session resumes at its cursor and ignores input.
// It returns the state after the last completed step.
func (e *Executor) Advance(ctx context.Context, sessionID, input string, emit EmitFunc) (*domain.ResearchState, error) {
	var final *domain.ResearchState
	err := e.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		store := e.sessions.Store()
		state, err := session.LoadOrNew(ctx, store, sessionID, e.maxIterations)
		if err != nil {
			return err
		}
		final = state
		logger := e.logger.With("session_id", sessionID, "episode", state.Episode)

		next := state.Cursor
		if next == "" {
			if state, err = domain.Merge(state, domain.Delta{Query: domain.Ptr(input)}); err != nil {
				return err
			}
			if next, err = e.graph.Start(state); err != nil {
				return &domain.FatalSessionError{SessionID: sessionID, Step: "entry", Err: err}
			}
		} else {
			logger.Info("resuming interrupted turn", "cursor", next)
		}

		budget := e.budget(state)
		for n := 0; next != End; n++ {
			if n >= budget {
				return &domain.FatalSessionError{SessionID: sessionID, Step: next, Err: fmt.Errorf("%w (%d)", ErrStepBudgetExceeded, budget)}
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			step, ok := e.graph.Step(next)
			if !ok {
				return &domain.FatalSessionError{SessionID: sessionID, Step: next, Err: domain.ErrUnknownStep}
			}

			delta, err := e.run(ctx, step, state)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Error("step failed", "step", next, "err", err)
				return &domain.FatalSessionError{SessionID: sessionID, Step: next, Err: err}
			}
			if err := ctx.Err(); err != nil {
				// The step finished after cancellation; its output is discarded.
				return err
			}

			merged, err := domain.Merge(state, delta)
			if err != nil {
				return &domain.FatalSessionError{SessionID: sessionID, Step: next, Err: err}
			}
			after, err := e.graph.Next(next, merged)
			if err != nil {
				return &domain.FatalSessionError{SessionID: sessionID, Step: next, Err: err}
			}
			merged.Cursor = after
			if after == End {
				merged.Cursor = ""
			}

			if err := store.Save(sideEffectContext(ctx), sessionID, merged); err != nil {
				return fmt.Errorf("failed to save checkpoint after %s: %w", next, err)
			}
			logger.Debug("state saved", "step", next, "cursor", merged.Cursor)
			state = merged
			final = state

			if emit != nil {
				if err := emit(domain.StepDelta{Step: next, Delta: delta}); err != nil {
					return fmt.Errorf("emit %s: %w", next, err)
				}
			}
			next = after
		}
		return nil
	})
	return final, err
}

// Snapshot returns the persisted state of a session.
func (e *Executor) Snapshot(ctx context.Context, sessionID string) (*domain.ResearchState, error) {
	return e.sessions.Load(ctx, sessionID)
}

func (e *Executor) budget(state *domain.ResearchState) int {
	if e.stepBudget > 0 {
		return e.stepBudget
	}
	limit := state.MaxIterations
	if limit <= 0 {
		limit = e.maxIterations
	}
	return (limit + 2) * len(e.graph.Nodes())
}

// run executes one step with hooks and panic recovery.
func (e *Executor) run(ctx context.Context, step Step, state *domain.ResearchState) (delta domain.Delta, err error) {
	start := e.now()
	e.emitStepEnter(ctx, state.SessionID, step.Name())
	defer func() {
		if r := recover(); r != nil {
			delta, err = domain.Delta{}, fmt.Errorf("panic: %v", r)
		}
		e.emitStepLeave(ctx, state.SessionID, step.Name(), e.now().Sub(start), err)
	}()
	return step.Run(ctx, state.Clone())
}

func (e *Executor) emitStepEnter(ctx context.Context, sessionID, step string) {
	if e.hooks.OnStepEnter == nil {
		return
	}
	e.hooks.OnStepEnter(ctx, &domain.StepEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventStepEnter, SessionID: sessionID},
		Step:      step,
	})
}

func (e *Executor) emitStepLeave(ctx context.Context, sessionID, step string, d time.Duration, err error) {
	if e.hooks.OnStepLeave == nil {
		return
	}
	e.hooks.OnStepLeave(ctx, &domain.StepEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: domain.EventStepLeave, SessionID: sessionID},
		Step:      step,
		Duration:  d,
		Err:       err,
	})
}

// sideEffectContext keeps checkpoint writes alive when the turn context was cancelled
// between a step finishing and its save.
func sideEffectContext(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.WithoutCancel(ctx)
	}
	return ctx
}
