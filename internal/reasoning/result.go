// Package reasoning wraps reasoning provider calls into explicit results.
// A call either yields a value or a typed failure, and the caller picks its
// fallback locally with Or / OrElse.
package reasoning

import (
	"context"
	"errors"
	"strings"

	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/aretw0/kopernicus/pkg/ports"
)

// Validator is implemented by structured outputs that can check their own shape.
// A validation error is reported as malformed output.
type Validator interface {
	Validate() error
}

// Result is the value of one reasoning call or its failure.
type Result[T any] struct {
	Value T
	Err   *domain.ReasoningFailure
}

// OK reports whether the call produced a usable value.
func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Or returns the value, or fallback when the call failed.
func (r Result[T]) Or(fallback T) T {
	if r.Err != nil {
		return fallback
	}
	return r.Value
}

// OrElse returns the value, or the output of fallback when the call failed.
func (r Result[T]) OrElse(fallback func(*domain.ReasoningFailure) T) T {
	if r.Err != nil {
		return fallback(r.Err)
	}
	return r.Value
}

// Structured asks the provider for a T.
func Structured[T any](ctx context.Context, p ports.ReasoningProvider, prompt ports.Prompt) Result[T] {
	var out T
	if err := p.ProduceStructured(ctx, prompt, &out); err != nil {
		return Result[T]{Err: Classify(prompt.Name, err)}
	}
	if v, ok := any(&out).(Validator); ok {
		if err := v.Validate(); err != nil {
			return Result[T]{Err: &domain.ReasoningFailure{Step: prompt.Name, Kind: domain.ReasoningMalformed, Err: err}}
		}
	}
	return Result[T]{Value: out}
}

// Text asks the provider for free-form text. Blank output is a failure.
func Text(ctx context.Context, p ports.ReasoningProvider, prompt ports.Prompt) Result[string] {
	out, err := p.ProduceText(ctx, prompt)
	if err != nil {
		return Result[string]{Err: Classify(prompt.Name, err)}
	}
	if strings.TrimSpace(out) == "" {
		return Result[string]{Err: &domain.ReasoningFailure{Step: prompt.Name, Kind: domain.ReasoningEmpty, Err: ports.ErrEmptyOutput}}
	}
	return Result[string]{Value: out}
}

// Classify turns a provider error into a ReasoningFailure for the given step.
func Classify(step string, err error) *domain.ReasoningFailure {
	var rf *domain.ReasoningFailure
	if errors.As(err, &rf) {
		return rf
	}
	kind := domain.ReasoningProvider
	switch {
	case errors.Is(err, ports.ErrMalformedOutput):
		kind = domain.ReasoningMalformed
	case errors.Is(err, ports.ErrEmptyOutput):
		kind = domain.ReasoningEmpty
	}
	return &domain.ReasoningFailure{Step: step, Kind: kind, Err: err}
}

// Message returns the innermost message of a failure, for surfacing to the caller.
func Message(f *domain.ReasoningFailure) string {
	if f == nil {
		return ""
	}
	if f.Err != nil {
		return f.Err.Error()
	}
	return f.Error()
}
