package ports

import (
	"context"
	"errors"
)

// ErrToolNotFound is returned by providers when no tool has the requested name.
var ErrToolNotFound = errors.New("tool not found")

// ToolDescriptor describes one capability offered by a provider.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToolResult is the normalized output of a capability invocation.
type ToolResult struct {
	// Text is the textual rendering of the result.
	Text string
	// Data is the decoded structured payload, when the result carried JSON.
	Data any
}

// CapabilityProvider is the external knowledge service (graph queries, entity resolution).
type CapabilityProvider interface {
	// Invoke calls one tool. A returned error means the call failed.
	Invoke(ctx context.Context, name string, args map[string]any) (*ToolResult, error)

	// List returns the tools currently available.
	List(ctx context.Context) ([]ToolDescriptor, error)
}
