// Package capability turns one planned research action into one capability invocation.
//
// The adapter asks the reasoning provider which tool serves the action, checks the call
// against the hard constraints, invokes it with a narrow retry and, after a successful
// entity resolution, issues one automatic normalization of the identifiers it found.
// Every attempt yields exactly one evidence record and one step annotation.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/kopernicus/internal/evidence"
	"github.com/aretw0/kopernicus/internal/guard"
	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/aretw0/kopernicus/internal/prompts"
	"github.com/aretw0/kopernicus/internal/reasoning"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/aretw0/kopernicus/pkg/ports"
)

// Defaults of Config.
const (
	DefaultResolutionTool    = "lookup"
	DefaultNormalizationTool = "get_normalized_nodes"
	DefaultRetryDelay        = 3 * time.Second
	DefaultMaxFollowUpIDs    = 5
	DefaultSnippetChars      = 2000
	DefaultFollowUpChars     = 500
)

// Config tunes the adapter.
type Config struct {
	// ResolutionTool is the only tool retried, and the one that triggers the follow-up.
	ResolutionTool string
	// NormalizationTool receives the identifiers found in a resolution result.
	NormalizationTool string
	RetryDelay        time.Duration
	MaxFollowUpIDs    int
	SnippetChars      int
	FollowUpChars     int
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		ResolutionTool:    DefaultResolutionTool,
		NormalizationTool: DefaultNormalizationTool,
		RetryDelay:        DefaultRetryDelay,
		MaxFollowUpIDs:    DefaultMaxFollowUpIDs,
		SnippetChars:      DefaultSnippetChars,
		FollowUpChars:     DefaultFollowUpChars,
	}
}

// Adapter invokes capabilities on behalf of the executor step.
type Adapter struct {
	caps     ports.CapabilityProvider
	reasoner ports.ReasoningProvider
	cfg      Config
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithConfig replaces the configuration. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(a *Adapter) {
		d := DefaultConfig()
		if cfg.ResolutionTool == "" {
			cfg.ResolutionTool = d.ResolutionTool
		}
		if cfg.NormalizationTool == "" {
			cfg.NormalizationTool = d.NormalizationTool
		}
		if cfg.RetryDelay < 0 {
			cfg.RetryDelay = 0
		}
		if cfg.MaxFollowUpIDs <= 0 {
			cfg.MaxFollowUpIDs = d.MaxFollowUpIDs
		}
		if cfg.SnippetChars <= 0 {
			cfg.SnippetChars = d.SnippetChars
		}
		if cfg.FollowUpChars <= 0 {
			cfg.FollowUpChars = d.FollowUpChars
		}
		a.cfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithLifecycleHooks sets the hooks fired around each invocation.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(a *Adapter) {
		a.hooks = hooks
	}
}

// New creates an Adapter.
func New(caps ports.CapabilityProvider, reasoner ports.ReasoningProvider, opts ...Option) *Adapter {
	a := &Adapter{
		caps:     caps,
		reasoner: reasoner,
		cfg:      DefaultConfig(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Config returns the effective configuration.
func (a *Adapter) Config() Config {
	return a.cfg
}

// Outcome is what one action produced. It is folded into the state as-is.
type Outcome struct {
	Evidence  []domain.EvidenceRecord
	PastSteps []domain.PastStep
}

func (o *Outcome) add(r domain.EvidenceRecord, text string) {
	r.Text = text
	o.Evidence = append(o.Evidence, r)
	o.PastSteps = append(o.PastSteps, domain.PastStep{Action: r.Step, Outcome: text})
}

// Choice is the reasoning provider's tool selection for an action.
type Choice struct {
	Tool      string         `json:"tool" jsonschema:"description=Name of the tool to call; empty when no tool fits"`
	Arguments map[string]any `json:"arguments" jsonschema:"description=Tool arguments"`
}

// Execute carries out one action. It never returns an error for capability or reasoning
// failures; those become evidence records. Only context cancellation is returned.
func (a *Adapter) Execute(ctx context.Context, state *domain.ResearchState, action string) (Outcome, error) {
	var out Outcome

	tools, err := a.caps.List(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, ctxErr
		}
		a.logger.Error("listing capabilities failed", "err", err)
		out.add(domain.EvidenceRecord{
			Step:      action,
			Status:    domain.StatusError,
			ErrorType: kindOf(err),
			Error:     err.Error(),
		}, fmt.Sprintf("✗ capabilities unavailable: %v", err))
		return out, nil
	}

	choice, failure := a.choose(ctx, state, action, tools)
	if failure != nil {
		a.logger.Error("tool selection failed", "action", action, "err", failure)
		out.add(domain.EvidenceRecord{
			Step:      action,
			Status:    domain.StatusError,
			ErrorType: domain.ErrorTypeReasoning,
			Error:     reasoning.Message(failure),
		}, fmt.Sprintf("LLM Error: %s", reasoning.Message(failure)))
		return out, nil
	}
	if choice.Tool == "" {
		out.add(domain.EvidenceRecord{
			Step:      action,
			Status:    domain.StatusError,
			ErrorType: domain.ErrorTypeNoToolCall,
			Error:     "no tool call generated",
		}, "No tool call generated")
		return out, nil
	}
	if !slices.ContainsFunc(tools, func(t ports.ToolDescriptor) bool { return t.Name == choice.Tool }) {
		out.add(domain.EvidenceRecord{
			Step:      action,
			Tool:      choice.Tool,
			Args:      choice.Arguments,
			Status:    domain.StatusError,
			ErrorType: domain.ErrorTypeToolNotFound,
			Error:     fmt.Sprintf("Tool %s not available", choice.Tool),
		}, "Tool not found: "+choice.Tool)
		return out, nil
	}

	return a.Call(ctx, state, action, choice.Tool, choice.Arguments, tools)
}

func (a *Adapter) choose(ctx context.Context, state *domain.ResearchState, action string, tools []ports.ToolDescriptor) (Choice, *domain.ReasoningFailure) {
	prompt, err := prompts.Build(prompts.ToolChoice, prompts.Data{
		Action:           action,
		Tools:            tools,
		ResolvedEntities: state.CommunityLog.ResolvedEntities,
	})
	if err != nil {
		return Choice{}, &domain.ReasoningFailure{Step: prompts.ToolChoice, Kind: domain.ReasoningProvider, Err: err}
	}
	res := reasoning.Structured[Choice](ctx, a.reasoner, prompt)
	if !res.OK() {
		return Choice{}, res.Err
	}
	return res.Value, nil
}

// Call runs a chosen tool: policy check, invocation with retry, then the follow-up.
// tools is the advertised tool list used to decide whether the follow-up is available.
func (a *Adapter) Call(ctx context.Context, state *domain.ResearchState, action, tool string, args map[string]any, tools []ports.ToolDescriptor) (Outcome, error) {
	var out Outcome
	if args == nil {
		args = map[string]any{}
	}
	record := domain.EvidenceRecord{Step: action, Tool: tool, Args: args}

	if rej := guard.CheckPolicy(guard.Call{Tool: tool, Args: args}, state.HardConstraints); rej != nil {
		a.logger.Warn(rej.Reason, "session_id", state.SessionID, "tool", tool)
		record.Status = domain.StatusRejected
		record.ErrorType = domain.ErrorTypePolicyRejected
		record.Error = rej.Reason
		out.add(record, rej.Reason)
		a.toolReturn(ctx, state.SessionID, tool, args, record.Status, 0)
		return out, nil
	}

	result, attempts, err := a.invoke(ctx, state.SessionID, tool, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		var capErr *domain.CapabilityError
		errors.As(err, &capErr)
		a.logger.Error("tool error", "tool", tool, "kind", capErr.Kind, "err", capErr.Err)
		record.Status = domain.StatusError
		record.ErrorType = capErr.Kind
		record.Error = fmt.Sprintf("%s: %v", capErr.Kind, capErr.Err)
		out.add(record, fmt.Sprintf("✗ %s: %s", tool, record.Error))
		a.toolReturn(ctx, state.SessionID, tool, args, record.Status, attempts)
		return out, nil
	}

	text := resultText(result)
	record.Status = domain.StatusSuccess
	record.Payload = payloadOf(result)
	out.add(record, fmt.Sprintf("%s %s: %s...", guard.SuccessPrefix, tool, evidence.Snippet(text, a.cfg.SnippetChars)))
	a.logger.Info("tool executed", "tool", tool, "attempts", attempts)
	a.toolReturn(ctx, state.SessionID, tool, args, record.Status, attempts)

	if tool == a.cfg.ResolutionTool {
		if err := a.followUp(ctx, state, action, text, tools, &out); err != nil {
			return Outcome{}, err
		}
	}
	return out, nil
}

// followUp normalizes the identifiers found in a resolution result. It fires at most once.
func (a *Adapter) followUp(ctx context.Context, state *domain.ResearchState, action, text string, tools []ports.ToolDescriptor, out *Outcome) error {
	ids := evidence.Identifiers(text, a.cfg.MaxFollowUpIDs)
	if len(ids) == 0 {
		return nil
	}
	tool := a.cfg.NormalizationTool
	if !slices.ContainsFunc(tools, func(t ports.ToolDescriptor) bool { return t.Name == tool }) {
		a.logger.Debug("normalization tool not offered, skipping follow-up", "tool", tool)
		return nil
	}

	args := map[string]any{"curies": toAny(ids)}
	record := domain.EvidenceRecord{Step: action, Tool: tool, Args: args, Auto: true}

	if rej := guard.CheckPolicy(guard.Call{Tool: tool, Args: args}, state.HardConstraints); rej != nil {
		a.logger.Warn(rej.Reason, "session_id", state.SessionID, "tool", tool)
		record.Status = domain.StatusRejected
		record.ErrorType = domain.ErrorTypePolicyRejected
		record.Error = rej.Reason
		out.add(record, rej.Reason)
		return nil
	}

	a.toolCall(ctx, state.SessionID, tool, args, 1)
	result, err := a.caps.Invoke(ctx, tool, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		kind := kindOf(err)
		a.logger.Warn("auto-normalization failed", "err", err)
		record.Status = domain.StatusError
		record.ErrorType = kind
		record.Error = fmt.Sprintf("%s: %v", kind, err)
		out.add(record, fmt.Sprintf("✗ %s (auto): %s", tool, record.Error))
		a.toolReturn(ctx, state.SessionID, tool, args, record.Status, 1)
		return nil
	}

	record.Status = domain.StatusSuccess
	record.Payload = payloadOf(result)
	out.add(record, fmt.Sprintf("%s %s (auto): %s...", guard.SuccessPrefix, tool, evidence.Snippet(resultText(result), a.cfg.FollowUpChars)))
	a.logger.Info("auto-normalized identifiers", "count", len(ids), "ids", ids)
	a.toolReturn(ctx, state.SessionID, tool, args, record.Status, 1)
	return nil
}

// invoke calls a tool, retrying the resolution tool once after the configured delay.
// Errors are returned as *domain.CapabilityError.
func (a *Adapter) invoke(ctx context.Context, sessionID, tool string, args map[string]any) (*ports.ToolResult, int, error) {
	a.toolCall(ctx, sessionID, tool, args, 1)
	result, err := a.caps.Invoke(ctx, tool, args)
	if err == nil {
		return result, 1, nil
	}
	if tool != a.cfg.ResolutionTool || ctx.Err() != nil {
		return nil, 1, &domain.CapabilityError{Tool: tool, Kind: kindOf(err), Err: err}
	}

	a.logger.Warn("resolution failed, retrying", "tool", tool, "err", err, "delay", a.cfg.RetryDelay)
	if err := sleep(ctx, a.cfg.RetryDelay); err != nil {
		return nil, 1, &domain.CapabilityError{Tool: tool, Kind: kindOf(err), Err: err}
	}
	a.toolCall(ctx, sessionID, tool, args, 2)
	result, err = a.caps.Invoke(ctx, tool, args)
	if err != nil {
		return nil, 2, &domain.CapabilityError{Tool: tool, Kind: kindOf(err), Err: err}
	}
	return result, 2, nil
}

func (a *Adapter) toolCall(ctx context.Context, sessionID, tool string, args map[string]any, attempt int) {
	if a.hooks.OnToolCall == nil {
		return
	}
	a.hooks.OnToolCall(ctx, &domain.ToolEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventToolCall, SessionID: sessionID},
		ToolName:  tool,
		Input:     args,
		Attempt:   attempt,
	})
}

func (a *Adapter) toolReturn(ctx context.Context, sessionID, tool string, args map[string]any, status domain.EvidenceStatus, attempts int) {
	if a.hooks.OnToolReturn == nil {
		return
	}
	a.hooks.OnToolReturn(ctx, &domain.ToolEvent{
		EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventToolReturn, SessionID: sessionID},
		ToolName:  tool,
		Input:     args,
		Status:    status,
		Attempt:   attempts,
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// kindOf classifies a capability error as timeout or execution_error.
func kindOf(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return domain.ErrorTypeTimeout
	}
	return domain.ErrorTypeExecution
}

func resultText(r *ports.ToolResult) string {
	if r == nil {
		return ""
	}
	if r.Text != "" || r.Data == nil {
		return r.Text
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return fmt.Sprint(r.Data)
	}
	return string(b)
}

// payloadOf returns the structured data of a result in JSON-native form, so checkpoints
// reload into the same values. Results without data keep their text.
func payloadOf(r *ports.ToolResult) any {
	if r == nil {
		return nil
	}
	if r.Data == nil {
		if r.Text == "" {
			return nil
		}
		return r.Text
	}
	b, err := json.Marshal(r.Data)
	if err != nil {
		return r.Text
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return r.Text
	}
	return out
}

func toAny(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
