package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventStepEnter  EventType = "step_enter"
	EventStepLeave  EventType = "step_leave"
	EventToolCall   EventType = "tool_call"
	EventToolReturn EventType = "tool_return"
	EventOverride   EventType = "override"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// StepEvent represents entry or exit from a workflow step.
type StepEvent struct {
	EventBase
	Step     string        `json:"step"`
	Duration time.Duration `json:"duration,omitempty"`
	Err      error         `json:"-"`
}

// ToolEvent represents a capability invocation.
type ToolEvent struct {
	EventBase
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input,omitempty"`
	Status   EvidenceStatus `json:"status,omitempty"`
	Attempt  int            `json:"attempt,omitempty"`
}

// OverrideEvent is emitted when the loop guard overrides the reasoning provider.
type OverrideEvent struct {
	EventBase
	Decision  Decision `json:"decision"`
	Failures  int      `json:"failures"`
	Rationale string   `json:"rationale"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnStepEnter  func(context.Context, *StepEvent)
	OnStepLeave  func(context.Context, *StepEvent)
	OnToolCall   func(context.Context, *ToolEvent)
	OnToolReturn func(context.Context, *ToolEvent)
	OnOverride   func(context.Context, *OverrideEvent)
}

// Combine returns hooks that call every non-nil callback of each input in order.
func Combine(all ...LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnStepEnter: func(ctx context.Context, e *StepEvent) {
			for _, h := range all {
				if h.OnStepEnter != nil {
					h.OnStepEnter(ctx, e)
				}
			}
		},
		OnStepLeave: func(ctx context.Context, e *StepEvent) {
			for _, h := range all {
				if h.OnStepLeave != nil {
					h.OnStepLeave(ctx, e)
				}
			}
		},
		OnToolCall: func(ctx context.Context, e *ToolEvent) {
			for _, h := range all {
				if h.OnToolCall != nil {
					h.OnToolCall(ctx, e)
				}
			}
		},
		OnToolReturn: func(ctx context.Context, e *ToolEvent) {
			for _, h := range all {
				if h.OnToolReturn != nil {
					h.OnToolReturn(ctx, e)
				}
			}
		},
		OnOverride: func(ctx context.Context, e *OverrideEvent) {
			for _, h := range all {
				if h.OnOverride != nil {
					h.OnOverride(ctx, e)
				}
			}
		},
	}
}
