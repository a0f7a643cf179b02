package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// LogHooks returns lifecycle hooks writing one structured record per event.
// Step entries and tool calls are logged at debug level.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepEnter: func(ctx context.Context, e *domain.StepEvent) {
			logger.DebugContext(ctx, "step_enter", "session_id", e.SessionID, "step", e.Step)
		},
		OnStepLeave: func(ctx context.Context, e *domain.StepEvent) {
			if e.Err != nil {
				logger.ErrorContext(ctx, "step_leave", "session_id", e.SessionID, "step", e.Step, "duration", e.Duration, "err", e.Err)
				return
			}
			logger.InfoContext(ctx, "step_leave", "session_id", e.SessionID, "step", e.Step, "duration", e.Duration)
		},
		OnToolCall: func(ctx context.Context, e *domain.ToolEvent) {
			logger.DebugContext(ctx, "tool_call", "session_id", e.SessionID, "tool_name", e.ToolName, "attempt", e.Attempt)
		},
		OnToolReturn: func(ctx context.Context, e *domain.ToolEvent) {
			logger.InfoContext(ctx, "tool_return", "session_id", e.SessionID, "tool_name", e.ToolName, "status", e.Status, "attempts", e.Attempt)
		},
		OnOverride: func(ctx context.Context, e *domain.OverrideEvent) {
			logger.WarnContext(ctx, "loop_override", "session_id", e.SessionID, "decision", e.Decision, "failures", e.Failures)
		},
	}
}
