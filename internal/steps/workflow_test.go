package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/kopernicus/internal/capability"
	"github.com/aretw0/kopernicus/internal/prompts"
	"github.com/aretw0/kopernicus/internal/runtime"
	"github.com/aretw0/kopernicus/internal/testutils"
	"github.com/aretw0/kopernicus/pkg/adapters/memory"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/aretw0/kopernicus/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const asthma = "MONDO:0004979"

func treatsEdges() []any {
	return []any{
		map[string]any{
			"id": "e1",
			"subject": map[string]any{
				"id":       "CHEBI:1",
				"name":     "Drug X",
				"category": []any{"biolink:Drug"},
			},
			"predicate": "biolink:treats",
			"object":    map[string]any{"id": asthma, "name": "asthma"},
		},
	}
}

type harness struct {
	exec     *runtime.Executor
	reasoner *testutils.ScriptedReasoner
	caps     *testutils.FakeCapabilities
}

func newHarness(t *testing.T, opts ...runtime.Option) *harness {
	t.Helper()
	r := testutils.NewScriptedReasoner()
	caps := testutils.NewFakeCapabilities()
	wf := New(r, capability.New(caps, r))
	exec, err := runtime.NewExecutor(wf.Graph(), session.NewManager(memory.NewStore()), opts...)
	require.NoError(t, err)
	return &harness{exec: exec, reasoner: r, caps: caps}
}

func (h *harness) advance(t *testing.T, input string) ([]string, *domain.ResearchState) {
	t.Helper()
	var streamed []string
	state, err := h.exec.Advance(context.Background(), "s1", input, func(sd domain.StepDelta) error {
		streamed = append(streamed, sd.Step)
		return nil
	})
	require.NoError(t, err)
	return streamed, state
}

func (h *harness) scriptNegotiation() {
	h.reasoner.
		On(prompts.QueryValidator, testutils.Value(map[string]any{"is_valid": true})).
		On(prompts.Proposer, testutils.Value("1. Resolve asthma\n2. Fetch treats edges")).
		On(prompts.Gatekeeper, testutils.Value(map[string]any{"decision": "approved"}))
}

func TestWorkflow_GraphIsValid(t *testing.T) {
	wf := New(testutils.NewScriptedReasoner(), capability.New(testutils.NewFakeCapabilities(), nil))
	assert.NoError(t, wf.Graph().Validate())
}

func TestWorkflow_NegotiationSuspendsAtProposal(t *testing.T) {
	h := newHarness(t)
	h.scriptNegotiation()

	streamed, state := h.advance(t, "What treats asthma?")
	assert.Equal(t, []string{Intake, ProposePlan}, streamed)
	assert.Equal(t, domain.PhaseNegotiatingPlan, state.Phase)
	assert.Equal(t, domain.NegotiationProposed, state.Negotiation())
	assert.Equal(t, "What treats asthma?", state.OriginalQuery)
	assert.Equal(t, state.PlanProposal, state.Response)
	assert.Empty(t, state.Cursor)
	assert.Zero(t, h.reasoner.CallCount(prompts.Gatekeeper))
}

func TestWorkflow_FeedbackRevisesPlan(t *testing.T) {
	h := newHarness(t)
	h.reasoner.
		On(prompts.QueryValidator, testutils.Value(map[string]any{"is_valid": true})).
		On(prompts.Proposer,
			testutils.Value("1. Resolve asthma"),
			testutils.Value("1. Resolve asthma\n2. Focus on biologics")).
		On(prompts.Gatekeeper, testutils.Value(map[string]any{"decision": "feedback"}))

	h.advance(t, "What treats asthma?")
	streamed, state := h.advance(t, "focus on biologics")

	assert.Equal(t, []string{Intake, Gatekeeper, ProposePlan}, streamed)
	assert.False(t, state.IsPlanApproved)
	assert.Equal(t, "focus on biologics", state.PlanningFeedback)
	assert.Equal(t, "What treats asthma?", state.OriginalQuery)
	assert.Equal(t, "1. Resolve asthma\n2. Focus on biologics", state.PlanProposal)
	assert.Equal(t, 1, h.reasoner.CallCount(prompts.QueryValidator), "replies to a proposal are not screened")

	last := h.reasoner.Calls()[len(h.reasoner.Calls())-1]
	assert.Contains(t, last.User, "focus on biologics")
	assert.Contains(t, last.User, "1. Resolve asthma")
}

func TestWorkflow_InvalidInputIsRejected(t *testing.T) {
	h := newHarness(t)
	h.reasoner.On(prompts.QueryValidator, testutils.Value(map[string]any{"is_valid": false, "feedback": "Name a disease or drug."}))

	streamed, state := h.advance(t, "hello")
	assert.Equal(t, []string{Intake}, streamed)
	assert.True(t, state.InputRejected)
	assert.Equal(t, "Name a disease or drug.", state.Response)
	assert.Empty(t, state.PlanProposal)
	assert.Empty(t, state.OriginalQuery)
}

func TestWorkflow_ProposerFailureKeepsPlan(t *testing.T) {
	h := newHarness(t)
	h.reasoner.
		On(prompts.QueryValidator, testutils.Value(map[string]any{"is_valid": true})).
		On(prompts.Proposer, testutils.Value("1. Resolve asthma"), testutils.Fail(errors.New("rate limited"))).
		On(prompts.Gatekeeper, testutils.Value(map[string]any{"decision": "feedback"}))

	h.advance(t, "What treats asthma?")
	_, state := h.advance(t, "add more steps")

	assert.Equal(t, "1. Resolve asthma", state.PlanProposal)
	assert.Equal(t, "I encountered an error generating the plan: rate limited. Please try giving a simpler instruction.", state.Response)
}

func TestWorkflow_FullEpisode(t *testing.T) {
	h := newHarness(t)
	h.scriptNegotiation()
	h.reasoner.
		On(prompts.Contract, testutils.Value(map[string]any{
			"query_type":            "treatment",
			"required_entity_types": []string{"Drug"},
			"required_predicates":   []string{"biolink:treats", "biolink:affects"},
			"min_unique_entities":   1,
		})).
		On(prompts.Planner, testutils.Value(map[string]any{"steps": []string{"Resolve asthma", "Fetch edges"}, "strategy": "resolve first"})).
		On(prompts.ToolChoice,
			testutils.Value(map[string]any{"tool": "lookup", "arguments": map[string]any{"query": "asthma"}}),
			testutils.Value(map[string]any{"tool": "get_edges", "arguments": map[string]any{"curie": asthma, "predicate": "biolink:treats"}})).
		On(prompts.Interpreter, testutils.Value(map[string]any{"items": []any{map[string]any{
			"subject_id": "CHEBI:1", "predicate": "biolink:treats", "object_id": asthma,
			"evidence_type": "direct", "strength": 7,
		}}})).
		On(prompts.SchemaAnalyzer, testutils.Value(map[string]any{"patterns": []string{"Drug -[biolink:treats]-> Disease"}})).
		On(prompts.CoverageAnalyzer, testutils.Value(map[string]any{"explored_predicates": []string{"biolink:treats"}, "density_score": 6})).
		On(prompts.LoopDetector, testutils.Value(map[string]any{"is_looping": false, "recommendation": "Continue"})).
		On(prompts.Decision,
			testutils.Value(map[string]any{"control_decision": "explore", "reasoning": "need drugs"}),
			testutils.Value(map[string]any{"control_decision": "synthesize", "reasoning": "Drug X treats asthma"})).
		On(prompts.ExplorationPlanner, testutils.Value(map[string]any{"action": "Fetch treats edges for asthma", "rationale": "contract"})).
		On(prompts.SynthesisPlanner, testutils.Value(map[string]any{"answer_structure": "List drugs"})).
		On(prompts.AnswerGenerator, testutils.Value(map[string]any{
			"answer": "Drug X (CHEBI:1) treats asthma (MONDO:0004979).", "confidence": "medium", "limitations": "None",
		}))
	h.caps.
		Returns("lookup", "asthma "+asthma, nil).
		Returns("get_edges", "1 edge", treatsEdges())

	h.advance(t, "What treats asthma?")
	streamed, state := h.advance(t, "approved")

	assert.Equal(t, []string{
		Intake, Gatekeeper, Contract, Planner,
		Executor, Interpreter, SchemaAnalyzer, CoverageAnalyzer, LoopDetector, Steward, Decision,
		ExplorationPlanner,
		Executor, Interpreter, SchemaAnalyzer, CoverageAnalyzer, LoopDetector, Steward, Decision,
		SynthesisPlanner, AnswerGenerator,
	}, streamed)

	assert.Equal(t, domain.PhaseAnswered, state.Phase)
	assert.Equal(t, 2, state.IterationCount)
	assert.Equal(t, []string{"biolink:treats"}, state.AnswerContract.RequiredPredicates)
	assert.Equal(t, "Drug X (CHEBI:1) treats asthma (MONDO:0004979).\n\n**Confidence**: medium\n", state.Response)
	assert.Empty(t, state.Plan)
	assert.Equal(t, []string{"Drug -[biolink:treats]-> Disease"}, state.SchemaPatterns, "lookup results are not schema-analyzed")

	require.Len(t, state.InterpretedEvidence, 1)
	assert.Equal(t, 5, state.InterpretedEvidence[0].Strength)
	assert.Equal(t, "Fetch treats edges for asthma", state.InterpretedEvidence[0].SourceStep)

	require.NotNil(t, state.CriticalSubgraph)
	assert.Len(t, state.CriticalSubgraph.Nodes, 2)
	require.Len(t, state.CriticalSubgraph.Edges, 1)
	assert.Equal(t, "e1", state.CriticalSubgraph.Edges[0].ID)

	// A blank line after the answer leaves the episode alone.
	answer := state.Response
	streamed, state = h.advance(t, "  ")
	assert.Equal(t, []string{Intake}, streamed)
	assert.Equal(t, domain.PhaseAnswered, state.Phase)
	assert.Zero(t, state.Episode)
	assert.Equal(t, answer, state.Response)
	assert.NotEmpty(t, state.Evidence)
	assert.NotNil(t, state.AnswerContract)
	assert.Len(t, state.CriticalSubgraph.Edges, 1)

	// A new question after the answer resets the episode.
	streamed, state = h.advance(t, "What treats eczema?")
	assert.Equal(t, []string{Reset, Intake, ProposePlan}, streamed)
	assert.Equal(t, 1, state.Episode)
	assert.Equal(t, "What treats eczema?", state.OriginalQuery)
	assert.Empty(t, state.Evidence)
	assert.Empty(t, state.PastSteps)
	assert.Zero(t, state.IterationCount)
	assert.Nil(t, state.AnswerContract)
	assert.Equal(t, domain.PhaseNegotiatingPlan, state.Phase)
}

func TestWorkflow_IterationCeiling(t *testing.T) {
	h := newHarness(t, runtime.WithMaxIterations(2))
	h.scriptNegotiation()
	h.reasoner.
		On(prompts.Planner, testutils.Value(map[string]any{"steps": []string{"Fetch edges"}})).
		On(prompts.ToolChoice, testutils.Value(map[string]any{"tool": "get_edges", "arguments": map[string]any{"curie": asthma}})).
		On(prompts.Decision, testutils.Value(map[string]any{"control_decision": "explore"})).
		On(prompts.ExplorationPlanner, testutils.Value(map[string]any{"action": "Fetch more edges"}))
	h.caps.Returns("get_edges", "No edges found", nil)

	h.advance(t, "What treats asthma?")
	streamed, state := h.advance(t, "approved")

	assert.Equal(t, 2, state.IterationCount)
	assert.Equal(t, 2, h.reasoner.CallCount(prompts.Decision))
	assert.Equal(t, []string{SynthesisPlanner, AnswerGenerator}, streamed[len(streamed)-2:])
	assert.Equal(t, domain.DecisionSynthesize, state.Decision)
	assert.Contains(t, state.DecisionReasoning, "Iteration limit reached.")
	assert.Equal(t, domain.PhaseAnswered, state.Phase)
	assert.Equal(t, "Based on collected evidence: get_edges: No edges found; get_edges: No edges found...", state.Response)
}
