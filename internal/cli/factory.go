package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/kopernicus"
	"github.com/aretw0/kopernicus/internal/capability"
	"github.com/aretw0/kopernicus/internal/config"
	"github.com/aretw0/kopernicus/pkg/adapters/file"
	"github.com/aretw0/kopernicus/pkg/adapters/mcp"
	"github.com/aretw0/kopernicus/pkg/adapters/memory"
	"github.com/aretw0/kopernicus/pkg/adapters/openai"
	"github.com/aretw0/kopernicus/pkg/adapters/process"
	"github.com/aretw0/kopernicus/pkg/adapters/redis"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/aretw0/kopernicus/pkg/observability"
	"github.com/aretw0/kopernicus/pkg/persistence/middleware"
	"github.com/aretw0/kopernicus/pkg/ports"
)

// Stack is a wired agent plus the resources it owns.
type Stack struct {
	Agent        *kopernicus.Agent
	Store        ports.CheckpointStore
	Capabilities ports.CapabilityProvider
	Metrics      *observability.Metrics

	closers []func() error
}

// Close releases capability servers and store connections.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// BuildOption overrides a component of the stack.
type BuildOption func(*buildOptions)

type buildOptions struct {
	reasoner     ports.ReasoningProvider
	capabilities ports.CapabilityProvider
	skipCaps     bool
}

// WithReasoner replaces the configured reasoning backend.
func WithReasoner(r ports.ReasoningProvider) BuildOption {
	return func(o *buildOptions) {
		o.reasoner = r
	}
}

// WithCapabilities replaces the configured capability servers and tools.
func WithCapabilities(c ports.CapabilityProvider) BuildOption {
	return func(o *buildOptions) {
		o.capabilities = c
	}
}

// InspectOnly builds an agent that can only read and delete sessions: no
// server is dialled, and every reasoning or tool call fails.
func InspectOnly() BuildOption {
	return func(o *buildOptions) {
		o.skipCaps = true
		if o.reasoner == nil {
			o.reasoner = offlineReasoner{}
		}
	}
}

// ErrInspectOnly is returned by reasoning calls of an InspectOnly stack.
var ErrInspectOnly = errors.New("reasoning is disabled in inspection mode")

// OfflineReasoner returns a reasoning provider that always fails with ErrInspectOnly.
func OfflineReasoner() ports.ReasoningProvider {
	return offlineReasoner{}
}

type offlineReasoner struct{}

func (offlineReasoner) ProduceText(context.Context, ports.Prompt) (string, error) {
	return "", ErrInspectOnly
}

func (offlineReasoner) ProduceStructured(context.Context, ports.Prompt, any) error {
	return ErrInspectOnly
}

// Build wires an agent from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...BuildOption) (*Stack, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	stack := &Stack{Metrics: observability.NewMetrics()}
	fail := func(err error) (*Stack, error) {
		_ = stack.Close()
		return nil, err
	}

	store, locker, err := buildStore(cfg, stack)
	if err != nil {
		return fail(err)
	}
	stack.Store = store

	reasoner := o.reasoner
	if reasoner == nil {
		reasoner, err = buildReasoner(cfg, logger)
		if err != nil {
			return fail(err)
		}
	}

	caps := o.capabilities
	switch {
	case caps != nil:
	case o.skipCaps:
		caps = capability.Join()
	default:
		caps, err = buildCapabilities(ctx, cfg, logger, stack)
		if err != nil {
			return fail(err)
		}
	}
	stack.Capabilities = caps

	agentOpts := []kopernicus.Option{
		kopernicus.WithLogger(logger),
		kopernicus.WithStore(store),
		kopernicus.WithLifecycleHooks(domain.Combine(
			observability.LogHooks(logger),
			stack.Metrics.Hooks(),
		)),
		kopernicus.WithMaxIterations(cfg.MaxIterations),
		kopernicus.WithPolicy(kopernicus.Policy{
			FailureThreshold: cfg.Policy.FailureThreshold,
			MinIteration:     cfg.Policy.MinIteration,
			StewardEvery:     cfg.Policy.StewardEvery,
			EvidenceCap:      cfg.Policy.EvidenceCap,
		}),
	}
	if locker != nil {
		agentOpts = append(agentOpts, kopernicus.WithLocker(locker), kopernicus.WithLockTTL(cfg.Store.LockTTL))
	}
	if t := cfg.Tools; t.ResolutionTool != "" || t.NormalizationTool != "" || t.RetryDelay > 0 {
		tc := kopernicus.ToolConfig{
			ResolutionTool:    capability.DefaultResolutionTool,
			NormalizationTool: capability.DefaultNormalizationTool,
			RetryDelay:        capability.DefaultRetryDelay,
		}
		if t.ResolutionTool != "" {
			tc.ResolutionTool = t.ResolutionTool
		}
		if t.NormalizationTool != "" {
			tc.NormalizationTool = t.NormalizationTool
		}
		if t.RetryDelay > 0 {
			tc.RetryDelay = t.RetryDelay
		}
		agentOpts = append(agentOpts, kopernicus.WithToolConfig(tc))
	}

	agent, err := kopernicus.New(reasoner, caps, agentOpts...)
	if err != nil {
		return fail(fmt.Errorf("error initializing agent: %w", err))
	}
	stack.Agent = agent
	return stack, nil
}

// buildStore opens the checkpoint store and wraps it with the privacy middlewares.
func buildStore(cfg *config.Config, stack *Stack) (ports.CheckpointStore, ports.DistributedLocker, error) {
	var (
		store  ports.CheckpointStore
		locker ports.DistributedLocker
	)
	switch cfg.Store.Driver {
	case config.StoreMemory:
		store = memory.NewStore()
	case config.StoreFile:
		store = file.New(cfg.Resolve(cfg.Store.Path))
	case config.StoreRedis:
		rc := cfg.Store.Redis
		redisOpts := []redis.Option{redis.WithTTL(rc.TTL)}
		if rc.Prefix != "" {
			redisOpts = append(redisOpts, redis.WithPrefix(rc.Prefix))
		}
		rs := redis.New(rc.Address, rc.Password, rc.DB, redisOpts...)
		stack.closers = append(stack.closers, rs.Close)
		store = rs
		if cfg.Store.Lock {
			locker = redis.NewLocker(rs.Client(), rs.Prefix())
		}
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	var mws []middleware.Middleware
	if len(cfg.Privacy.RedactKeys) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(cfg.Privacy.RedactKeys))
	}
	if cfg.Privacy.EncryptionKey != "" {
		active, fallback, err := cfg.EncryptionKeys()
		if err != nil {
			return nil, nil, err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	return middleware.Chain(store, mws...), locker, nil
}

func buildReasoner(cfg *config.Config, logger *slog.Logger) (ports.ReasoningProvider, error) {
	if cfg.Reasoning.APIKey == "" && cfg.Reasoning.BaseURL == "" {
		return nil, fmt.Errorf("no reasoning backend configured: set %s or reasoning.base_url", config.EnvAPIKey)
	}
	return openai.New(cfg.Reasoning, openai.WithLogger(logger)), nil
}

// buildCapabilities joins the process tools and the MCP servers. Process tools
// take precedence so a local script can stand in for a remote tool.
func buildCapabilities(ctx context.Context, cfg *config.Config, logger *slog.Logger, stack *Stack) (ports.CapabilityProvider, error) {
	var providers []ports.CapabilityProvider

	if cfg.ToolsFile != "" {
		path := cfg.Resolve(cfg.ToolsFile)
		tools, err := process.LoadTools(path)
		if err != nil {
			return nil, err
		}
		if len(tools) > 0 {
			logger.Info("process tools loaded", "path", path, "count", len(tools))
			procOpts := []process.Option{
				process.WithRegistry(tools),
				process.WithBaseDir(cfg.Resolve(".")),
				process.WithLogger(logger),
			}
			if cfg.Tools.GracePeriod > 0 {
				procOpts = append(procOpts, process.WithGracePeriod(cfg.Tools.GracePeriod))
			}
			providers = append(providers, process.New(procOpts...))
		}
	}

	if len(cfg.Servers) > 0 {
		client, err := mcp.Connect(ctx, cfg.Servers, mcp.WithClientLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to connect capability servers: %w", err)
		}
		stack.closers = append(stack.closers, client.Close)
		providers = append(providers, client)
	}

	if len(providers) == 0 {
		return nil, errors.New("no capabilities configured: add mcp_servers or tools_file")
	}
	return capability.Join(providers...), nil
}
