package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent answers each Advance with the next scripted turn.
type fakeAgent struct {
	inputs []string
	turns  []func(emit func(domain.StepDelta) error) (*domain.ResearchState, error)
}

func (f *fakeAgent) Advance(ctx context.Context, sessionID, input string, emit func(domain.StepDelta) error) (*domain.ResearchState, error) {
	f.inputs = append(f.inputs, input)
	i := len(f.inputs) - 1
	if i >= len(f.turns) {
		i = len(f.turns) - 1
	}
	return f.turns[i](emit)
}

func proposal() *domain.ResearchState {
	s := domain.NewState("s1", 10)
	s.PlanProposal = "1. Resolve asthma"
	s.Response = s.PlanProposal
	return s
}

func answered() *domain.ResearchState {
	s := domain.NewState("s1", 10)
	s.Phase = domain.PhaseAnswered
	s.Response = "Albuterol treats asthma."
	return s
}

func reply(s *domain.ResearchState) func(func(domain.StepDelta) error) (*domain.ResearchState, error) {
	return func(func(domain.StepDelta) error) (*domain.ResearchState, error) { return s, nil }
}

func TestRunner_RequiresSession(t *testing.T) {
	r := New(WithInputHandler(NewTextHandler(strings.NewReader(""), &bytes.Buffer{})))
	err := r.Run(context.Background(), &fakeAgent{}, "hi")
	assert.Error(t, err)
}

func TestRunner_ExitsOnQuit(t *testing.T) {
	var out bytes.Buffer
	agent := &fakeAgent{turns: []func(func(domain.StepDelta) error) (*domain.ResearchState, error){reply(proposal())}}
	r := New(
		WithSessionID("s1"),
		WithInputHandler(NewTextHandler(strings.NewReader("quit\n"), &out)),
	)

	require.NoError(t, r.Run(context.Background(), agent, "What treats asthma?"))
	assert.Equal(t, []string{"What treats asthma?"}, agent.inputs)
	assert.Contains(t, out.String(), "1. Resolve asthma")
	assert.Contains(t, out.String(), ApprovalHint)
}

func TestRunner_EndsOnEOF(t *testing.T) {
	agent := &fakeAgent{turns: []func(func(domain.StepDelta) error) (*domain.ResearchState, error){reply(proposal())}}
	r := New(
		WithSessionID("s1"),
		WithInputHandler(NewTextHandler(strings.NewReader("fewer steps\n"), &bytes.Buffer{})),
	)

	require.NoError(t, r.Run(context.Background(), agent, ""))
	assert.Equal(t, []string{"fewer steps"}, agent.inputs)
}

func TestRunner_AutoApproveUntilAnswered(t *testing.T) {
	var out bytes.Buffer
	agent := &fakeAgent{turns: []func(func(domain.StepDelta) error) (*domain.ResearchState, error){
		reply(proposal()),
		func(emit func(domain.StepDelta) error) (*domain.ResearchState, error) {
			decision := domain.DecisionSynthesize
			if err := emit(domain.StepDelta{Step: "decide", Delta: domain.Delta{Decision: &decision}}); err != nil {
				return nil, err
			}
			return answered(), nil
		},
	}}
	r := New(
		WithSessionID("s1"),
		WithAutoApprove(true),
		WithExitOnAnswer(true),
		WithInputHandler(NewTextHandler(strings.NewReader(""), &out)),
	)

	require.NoError(t, r.Run(context.Background(), agent, "What treats asthma?"))
	assert.Equal(t, []string{"What treats asthma?", ApprovalInput}, agent.inputs)
	assert.Contains(t, out.String(), "decision synthesize")
	assert.Contains(t, out.String(), "Albuterol treats asthma.")
}

func TestRunner_FatalErrorIsResumable(t *testing.T) {
	var out bytes.Buffer
	agent := &fakeAgent{turns: []func(func(domain.StepDelta) error) (*domain.ResearchState, error){
		func(func(domain.StepDelta) error) (*domain.ResearchState, error) {
			return nil, &domain.FatalSessionError{SessionID: "s1", Step: "execute", Err: errors.New("boom")}
		},
		reply(answered()),
	}}
	r := New(
		WithSessionID("s1"),
		WithExitOnAnswer(true),
		WithInputHandler(NewTextHandler(strings.NewReader("retry\n"), &out)),
	)

	require.NoError(t, r.Run(context.Background(), agent, "What treats asthma?"))
	assert.Contains(t, out.String(), "[System] Step execute failed: boom.")
	assert.Equal(t, []string{"What treats asthma?", "retry"}, agent.inputs)
}

func TestRunner_OtherErrorsStopTheRun(t *testing.T) {
	sentinel := errors.New("store down")
	agent := &fakeAgent{turns: []func(func(domain.StepDelta) error) (*domain.ResearchState, error){
		func(func(domain.StepDelta) error) (*domain.ResearchState, error) { return nil, sentinel },
	}}
	r := New(
		WithSessionID("s1"),
		WithInputHandler(NewTextHandler(strings.NewReader(""), &bytes.Buffer{})),
	)

	err := r.Run(context.Background(), agent, "What treats asthma?")
	assert.ErrorIs(t, err, sentinel)
}

func TestRunner_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	agent := &fakeAgent{turns: []func(func(domain.StepDelta) error) (*domain.ResearchState, error){
		func(func(domain.StepDelta) error) (*domain.ResearchState, error) {
			cancel()
			return nil, context.Canceled
		},
	}}
	r := New(
		WithSessionID("s1"),
		WithInputHandler(NewTextHandler(strings.NewReader(""), &bytes.Buffer{})),
	)

	err := r.Run(ctx, agent, "What treats asthma?")
	assert.ErrorIs(t, err, context.Canceled)
}
