package domain

import (
	"errors"
	"fmt"
)

// ErrSessionNotFound is returned when a session ID cannot be found in the store.
var ErrSessionNotFound = errors.New("session not found")

// ErrPlanTooLong is returned when a delta tries to queue more than one pending action.
var ErrPlanTooLong = errors.New("plan holds at most one pending action")

// ErrContractImmutable is returned when a second answer contract is set within an episode.
var ErrContractImmutable = errors.New("answer contract is already set for this episode")

// ErrUnknownStep is returned when the workflow routes to a step that is not registered.
var ErrUnknownStep = errors.New("unknown step")

// PolicyRejection is a tool call blocked by a hard constraint. It is never retried.
type PolicyRejection struct {
	Tool   string
	Reason string
}

func (e *PolicyRejection) Error() string {
	return e.Reason
}

// CapabilityError is a failed capability invocation.
type CapabilityError struct {
	Tool string
	// Kind is ErrorTypeTimeout or ErrorTypeExecution.
	Kind string
	Err  error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.Kind, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// Reasoning failure kinds.
const (
	ReasoningMalformed = "malformed"
	ReasoningEmpty     = "empty"
	ReasoningProvider  = "provider"
)

// ReasoningFailure is a reasoning provider call that produced no usable output.
// Every call site pairs it with a local fallback.
type ReasoningFailure struct {
	Step string
	Kind string
	Err  error
}

func (e *ReasoningFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reasoning failed in %s (%s)", e.Step, e.Kind)
	}
	return fmt.Sprintf("reasoning failed in %s (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *ReasoningFailure) Unwrap() error {
	return e.Err
}

// FatalSessionError is an unexpected failure escaping a step.
// The turn is aborted and the last checkpoint stays valid.
type FatalSessionError struct {
	SessionID string
	Step      string
	Err       error
}

func (e *FatalSessionError) Error() string {
	return fmt.Sprintf("session %s: step %s: %v", e.SessionID, e.Step, e.Err)
}

func (e *FatalSessionError) Unwrap() error {
	return e.Err
}
