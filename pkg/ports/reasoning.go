package ports

import (
	"context"
	"errors"
)

// ErrMalformedOutput is returned by providers when structured output does not decode.
var ErrMalformedOutput = errors.New("malformed structured output")

// ErrEmptyOutput is returned by providers when the model produced nothing.
var ErrEmptyOutput = errors.New("empty output")

// Prompt is one request to the reasoning provider.
type Prompt struct {
	// Name identifies the call site (e.g. "contract"); used for schema names and logs.
	Name   string
	System string
	User   string
}

// ReasoningProvider plans, interprets and decides. It is treated as unreliable:
// every caller supplies a fallback for a failed call.
type ReasoningProvider interface {
	// ProduceStructured fills out (a pointer to a struct) with output conforming to its JSON schema.
	ProduceStructured(ctx context.Context, prompt Prompt, out any) error

	// ProduceText returns free-form text.
	ProduceText(ctx context.Context, prompt Prompt) (string, error)
}
