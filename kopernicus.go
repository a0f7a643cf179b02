package kopernicus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/kopernicus/internal/capability"
	"github.com/aretw0/kopernicus/internal/guard"
	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/aretw0/kopernicus/internal/runtime"
	"github.com/aretw0/kopernicus/internal/steps"
	"github.com/aretw0/kopernicus/pkg/adapters/memory"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/aretw0/kopernicus/pkg/ports"
	"github.com/aretw0/kopernicus/pkg/session"
	"github.com/google/uuid"
)

// Policy tunes the loop guard and the steward. Zero fields keep their defaults.
type Policy struct {
	// FailureThreshold is the number of consecutive steps without evidence that forces termination.
	FailureThreshold int
	// MinIteration is the iteration count the guard waits for before it may fire.
	MinIteration int
	// StewardEvery is the steward cadence, counted in logged steps.
	StewardEvery int
	// EvidenceCap bounds the evidence handed to planning prompts.
	EvidenceCap int
}

// ToolConfig tunes the capability adapter. Zero fields keep their defaults.
type ToolConfig struct {
	// ResolutionTool resolves names to identifiers; it is the only tool retried.
	ResolutionTool string
	// NormalizationTool is called automatically with the identifiers a resolution found.
	NormalizationTool string
	// RetryDelay is the pause before retrying a failed resolution.
	RetryDelay time.Duration
}

// Agent is the entry point of the library: one research workflow bound to a
// checkpoint store. It is safe for concurrent use across sessions; turns of the
// same session are serialised.
type Agent struct {
	executor      *runtime.Executor
	sessions      *session.Manager
	store         ports.CheckpointStore
	locker        ports.DistributedLocker
	lockTTL       time.Duration
	hooks         domain.LifecycleHooks
	logger        *slog.Logger
	policy        Policy
	tools         *ToolConfig
	maxIterations int
}

// Option configures the Agent.
type Option func(*Agent)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(a *Agent) {
		a.hooks = hooks
	}
}

// WithStore sets the checkpoint store (default: in-memory).
func WithStore(store ports.CheckpointStore) Option {
	return func(a *Agent) {
		a.store = store
	}
}

// WithLocker enables a distributed lock around every turn.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(a *Agent) {
		a.locker = locker
	}
}

// WithLockTTL bounds how long a distributed turn lock is held.
func WithLockTTL(ttl time.Duration) Option {
	return func(a *Agent) {
		a.lockTTL = ttl
	}
}

// WithPolicy sets the loop guard and steward policy.
func WithPolicy(p Policy) Option {
	return func(a *Agent) {
		a.policy = p
	}
}

// WithToolConfig tunes how capabilities are invoked.
func WithToolConfig(cfg ToolConfig) Option {
	return func(a *Agent) {
		a.tools = &cfg
	}
}

// WithMaxIterations sets the exploration ceiling of new sessions.
func WithMaxIterations(n int) Option {
	return func(a *Agent) {
		a.maxIterations = n
	}
}

// New wires a research agent over a reasoning provider and a capability provider.
func New(reasoner ports.ReasoningProvider, caps ports.CapabilityProvider, opts ...Option) (*Agent, error) {
	if reasoner == nil {
		return nil, errors.New("reasoning provider is required")
	}
	if caps == nil {
		return nil, errors.New("capability provider is required")
	}
	a := &Agent{maxIterations: domain.DefaultMaxIterations}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.NewNop()
	}
	if a.store == nil {
		a.store = memory.NewStore()
	}

	sessionOpts := []session.Option{session.WithLogger(a.logger)}
	if a.locker != nil {
		sessionOpts = append(sessionOpts, session.WithLocker(a.locker), session.WithLockTTL(a.lockTTL))
	}
	a.sessions = session.NewManager(a.store, sessionOpts...)

	adapterOpts := []capability.Option{
		capability.WithLogger(a.logger),
		capability.WithLifecycleHooks(a.hooks),
	}
	if a.tools != nil {
		cfg := capability.DefaultConfig()
		cfg.ResolutionTool = a.tools.ResolutionTool
		cfg.NormalizationTool = a.tools.NormalizationTool
		cfg.RetryDelay = a.tools.RetryDelay
		adapterOpts = append(adapterOpts, capability.WithConfig(cfg))
	}
	adapter := capability.New(caps, reasoner, adapterOpts...)

	wf := steps.New(reasoner, adapter,
		steps.WithPolicy(guard.Policy{
			FailureThreshold: a.policy.FailureThreshold,
			MinIteration:     a.policy.MinIteration,
			StewardEvery:     a.policy.StewardEvery,
		}),
		steps.WithEvidenceCap(a.policy.EvidenceCap),
		steps.WithLogger(a.logger),
		steps.WithLifecycleHooks(a.hooks),
	)

	exec, err := runtime.NewExecutor(wf.Graph(), a.sessions,
		runtime.WithLogger(a.logger),
		runtime.WithLifecycleHooks(a.hooks),
		runtime.WithMaxIterations(a.maxIterations),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow: %w", err)
	}
	a.executor = exec
	return a, nil
}

// Advance runs one turn of a session with the caller input and streams every
// completed step to emit (which may be nil). A turn stops at a suspension point
// (a plan proposal awaiting feedback) or when the episode is answered.
//
// A step failure aborts the turn with a *domain.FatalSessionError; the checkpoint
// of the last completed step stays valid and the next Advance resumes from it.
func (a *Agent) Advance(ctx context.Context, sessionID, input string, emit func(domain.StepDelta) error) (*domain.ResearchState, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	return a.executor.Advance(ctx, sessionID, input, emit)
}

// Snapshot returns the full state of a session, or a fresh state when it does not exist yet.
func (a *Agent) Snapshot(ctx context.Context, sessionID string) (*domain.ResearchState, error) {
	state, err := a.executor.Snapshot(ctx, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.NewState(sessionID, a.maxIterations), nil
	}
	return state, err
}

// Delete removes a session checkpoint.
func (a *Agent) Delete(ctx context.Context, sessionID string) error {
	return a.sessions.Delete(ctx, sessionID)
}

// List returns the IDs of stored sessions.
func (a *Agent) List(ctx context.Context) ([]string, error) {
	return a.sessions.List(ctx)
}

// Graph describes the workflow graph, for export and inspection.
func (a *Agent) Graph() domain.Topology {
	return a.executor.Graph().Topology()
}

// NewSessionID returns a random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}
