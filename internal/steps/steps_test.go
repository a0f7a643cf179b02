package steps

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/kopernicus/internal/capability"
	"github.com/aretw0/kopernicus/internal/evidence"
	"github.com/aretw0/kopernicus/internal/guard"
	"github.com/aretw0/kopernicus/internal/prompts"
	"github.com/aretw0/kopernicus/internal/testutils"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflow(opts ...Option) (*Workflow, *testutils.ScriptedReasoner) {
	r := testutils.NewScriptedReasoner()
	return New(r, capability.New(testutils.NewFakeCapabilities(), r), opts...), r
}

func treatsContract(n int) *domain.AnswerContract {
	return &domain.AnswerContract{
		QueryType:          "treatment",
		RequiredPredicates: []string{"biolink:treats"},
		MinUniqueEntities:  n,
	}
}

func treats(subject string) domain.InterpretedEvidence {
	return domain.InterpretedEvidence{SubjectID: subject, Predicate: "biolink:treats", ObjectID: asthma, Strength: 4}
}

func failedSteps(n int) []domain.PastStep {
	out := make([]domain.PastStep, n)
	for i := range out {
		out[i] = domain.PastStep{Action: "Fetch edges", Outcome: "✓ get_edges: No edges found..."}
	}
	return out
}

func TestDecide_UnsatisfiedContractBlocksSynthesis(t *testing.T) {
	w, r := newWorkflow()
	r.On(prompts.Decision, testutils.Value(map[string]any{"control_decision": "synthesize", "reasoning": "two drugs found"}))
	state := &domain.ResearchState{
		MaxIterations:       15,
		AnswerContract:      treatsContract(3),
		InterpretedEvidence: []domain.InterpretedEvidence{treats("CHEBI:1"), treats("CHEBI:2"), treats("CHEBI:2")},
		PastSteps:           []domain.PastStep{{Action: "Fetch", Outcome: "✓ get_edges: 2 edges"}},
	}

	d, err := w.decide(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionExplore, *d.Decision)
	assert.True(t, *d.ShouldExploreMore)
	assert.False(t, *d.ShouldTransitionToSynthesis)
	assert.Contains(t, *d.DecisionReasoning, "Contract not satisfied: 2 of 3 required entities.")
	assert.True(t, d.AdvanceIteration)

	p := r.Calls()[0]
	assert.Contains(t, p.User, "Distinct qualifying entities: 2 of 3 required.")
}

func TestDecide_SatisfiedContractSynthesizes(t *testing.T) {
	w, r := newWorkflow()
	r.On(prompts.Decision, testutils.Value(map[string]any{"control_decision": "synthesize", "reasoning": "three drugs"}))
	state := &domain.ResearchState{
		MaxIterations:       15,
		AnswerContract:      treatsContract(3),
		InterpretedEvidence: []domain.InterpretedEvidence{treats("CHEBI:1"), treats("CHEBI:2"), treats("CHEBI:3")},
	}

	d, err := w.decide(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSynthesize, *d.Decision)
	assert.Equal(t, domain.PhaseSynthesizing, *d.Phase)
	assert.Equal(t, "three drugs", *d.DecisionReasoning)
}

func TestDecide_LoopGuardOverridesProvider(t *testing.T) {
	var overrides []*domain.OverrideEvent
	hooks := domain.LifecycleHooks{OnOverride: func(_ context.Context, e *domain.OverrideEvent) { overrides = append(overrides, e) }}
	w, r := newWorkflow(WithLifecycleHooks(hooks))
	r.On(prompts.Decision, testutils.Value(map[string]any{"control_decision": "explore"}))

	t.Run("stop without evidence", func(t *testing.T) {
		state := &domain.ResearchState{IterationCount: 3, MaxIterations: 15, PastSteps: failedSteps(3)}
		d, err := w.decide(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionStop, *d.Decision)
		assert.True(t, *d.ReadyToAnswer)
		assert.Equal(t, "Forced stop: 3 consecutive steps produced no evidence. Escalating to avoid infinite loop.", *d.DecisionReasoning)
	})

	t.Run("synthesize with evidence", func(t *testing.T) {
		state := &domain.ResearchState{
			IterationCount:      4,
			MaxIterations:       15,
			PastSteps:           failedSteps(4),
			InterpretedEvidence: []domain.InterpretedEvidence{treats("CHEBI:1")},
			AnswerContract:      treatsContract(5),
		}
		d, err := w.decide(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, domain.DecisionSynthesize, *d.Decision)
	})

	assert.Zero(t, r.CallCount(prompts.Decision))
	require.Len(t, overrides, 2)
	assert.Equal(t, domain.DecisionStop, overrides[0].Decision)
	assert.Equal(t, 3, overrides[0].Failures)
}

func TestDecide_ProviderFailure(t *testing.T) {
	w, r := newWorkflow()
	r.On(prompts.Decision, testutils.Fail(errors.New("boom")))

	d, err := w.decide(context.Background(), &domain.ResearchState{MaxIterations: 15})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionExplore, *d.Decision)
	assert.Equal(t, "Error in decision making: boom. Defaulting to continue.", *d.DecisionReasoning)

	d, err = w.decide(context.Background(), &domain.ResearchState{IterationCount: 14, MaxIterations: 15})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSynthesize, *d.Decision)
	assert.Equal(t, "Error in decision making: boom. Defaulting to stop.", *d.DecisionReasoning)
}

func TestInterpret_FailureBecomesNegativeKnowledge(t *testing.T) {
	w, r := newWorkflow()
	state := &domain.ResearchState{
		IterationCount: 2,
		Evidence: []domain.EvidenceRecord{{
			Step:   "Fetch",
			Tool:   "get_edges",
			Args:   map[string]any{"curie": asthma, "predicate": "biolink:treats"},
			Status: domain.StatusError,
			Error:  "timeout: deadline exceeded",
		}},
	}

	d, err := w.interpret(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, []domain.NegativeKnowledge{{
		Entity:        asthma,
		Predicate:     "biolink:treats",
		FailureReason: "timeout: deadline exceeded",
		Iteration:     2,
	}}, d.NegativeKnowledge)
	assert.Empty(t, d.InterpretedEvidence)
	assert.Empty(t, r.Calls())

	state.Evidence[0] = domain.EvidenceRecord{Step: "Fetch", Status: domain.StatusRejected}
	d, err = w.interpret(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, domain.NegativeKnowledge{Entity: "unknown", Predicate: "unknown", FailureReason: "Timeout/Error", Iteration: 2}, d.NegativeKnowledge[0])
}

func TestInterpret_OnlyRelationshipResults(t *testing.T) {
	w, r := newWorkflow()
	r.On(prompts.Interpreter, testutils.Value(map[string]any{"items": []any{
		map[string]any{"subject_id": "CHEBI:1", "predicate": "biolink:treats", "object_id": asthma, "evidence_type": "anecdotal", "strength": 0},
	}}))

	lookup := &domain.ResearchState{Evidence: []domain.EvidenceRecord{{Step: "Resolve", Tool: "lookup", Status: domain.StatusSuccess}}}
	d, err := w.interpret(context.Background(), lookup)
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())

	edges := &domain.ResearchState{Evidence: []domain.EvidenceRecord{{Step: "Fetch", Tool: evidence.ToolGetEdges, Status: domain.StatusSuccess}}}
	d, err = w.interpret(context.Background(), edges)
	require.NoError(t, err)
	require.Len(t, d.InterpretedEvidence, 1)
	assert.Equal(t, domain.EvidenceAssociative, d.InterpretedEvidence[0].EvidenceType)
	assert.Equal(t, 1, d.InterpretedEvidence[0].Strength)
	assert.Equal(t, "Fetch", d.InterpretedEvidence[0].SourceStep)
	assert.Equal(t, 1, r.CallCount(prompts.Interpreter))
}

func TestContract(t *testing.T) {
	t.Run("filters predicates", func(t *testing.T) {
		w, r := newWorkflow()
		r.On(prompts.Contract, testutils.Value(map[string]any{
			"query_type":          "treatment",
			"required_predicates": []string{"biolink:related_to"},
		}))
		d, err := w.contract(context.Background(), &domain.ResearchState{OriginalQuery: "What treats asthma?"})
		require.NoError(t, err)
		assert.Equal(t, []string{"biolink:treats"}, d.AnswerContract.RequiredPredicates)
		assert.Equal(t, 1, d.AnswerContract.MinUniqueEntities)
		assert.Equal(t, &domain.HardConstraints{}, d.HardConstraints)
	})

	t.Run("falls back to default", func(t *testing.T) {
		w, r := newWorkflow()
		r.On(prompts.Contract, testutils.Value("not json"))
		d, err := w.contract(context.Background(), &domain.ResearchState{OriginalQuery: "q"})
		require.NoError(t, err)
		assert.Equal(t, evidence.DefaultContract(), *d.AnswerContract)
	})

	t.Run("runs once per episode", func(t *testing.T) {
		w, r := newWorkflow()
		d, err := w.contract(context.Background(), &domain.ResearchState{AnswerContract: treatsContract(1)})
		require.NoError(t, err)
		assert.True(t, d.IsEmpty())
		assert.Empty(t, r.Calls())
	})
}

func TestPlanner_KeepsSingleStep(t *testing.T) {
	w, r := newWorkflow()
	r.On(prompts.Planner, testutils.Value(map[string]any{"steps": []string{"Resolve asthma", "Fetch edges", "Answer"}, "strategy": "depth-first"}))

	d, err := w.planner(context.Background(), &domain.ResearchState{OriginalQuery: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Resolve asthma"}, *d.Plan)
	assert.Equal(t, "depth-first", *d.ExplorationStrategy)

	merged, err := domain.Merge(&domain.ResearchState{}, d)
	require.NoError(t, err)
	assert.Len(t, merged.Plan, 1)
}

func TestExecute_EmptyPlan(t *testing.T) {
	w, _ := newWorkflow()
	d, err := w.execute(context.Background(), &domain.ResearchState{})
	require.NoError(t, err)
	assert.Equal(t, []domain.PastStep{{Action: "ERROR", Outcome: "No plan"}}, d.PastSteps)
	require.Len(t, d.Evidence, 1)
	assert.Equal(t, domain.StatusError, d.Evidence[0].Status)
}

func TestSteward(t *testing.T) {
	looping := domain.LoopReport{IsLooping: true, RepeatedPattern: "same edges", Recommendation: "switch predicate"}
	loopEvidence := []domain.EvidenceRecord{
		{Step: "Fetch", Tool: "get_edges", Args: map[string]any{"curie": asthma, "predicate": "biolink:treats"}, Status: domain.StatusSuccess},
		{Step: "Resolve", Tool: "lookup", Status: domain.StatusSuccess},
	}
	ban := domain.Continuation{Source: asthma, Predicate: "biolink:treats"}

	t.Run("not due", func(t *testing.T) {
		w, r := newWorkflow()
		d, err := w.steward(context.Background(), &domain.ResearchState{PastSteps: failedSteps(2)})
		require.NoError(t, err)
		assert.True(t, d.IsEmpty())
		assert.Empty(t, r.Calls())
	})

	t.Run("loop bans continuation even when provider fails", func(t *testing.T) {
		w, r := newWorkflow()
		r.On(prompts.Steward, testutils.Fail(errors.New("boom")))
		d, err := w.steward(context.Background(), &domain.ResearchState{
			PastSteps:     failedSteps(2),
			LoopDetection: looping,
			Evidence:      loopEvidence,
		})
		require.NoError(t, err)
		require.NotNil(t, d.HardConstraints)
		assert.Equal(t, []domain.Continuation{ban}, d.HardConstraints.ForbiddenContinuations)
		assert.Nil(t, d.CommunityLog)
	})

	t.Run("updates log and novelty", func(t *testing.T) {
		w, r := newWorkflow(WithPolicy(guard.Policy{StewardEvery: 3}))
		r.On(prompts.Steward, testutils.Value(map[string]any{
			"updated_log": map[string]any{
				"resolved_entities": map[string]any{"drug x": "CHEBI:1"},
				"trajectory":        []string{"resolved asthma"},
				"hypotheses":        []any{map[string]any{"id": "h1", "statement": "X treats asthma", "status": "maybe"}},
			},
			"hard_constraints": map[string]any{"forbidden_predicates": []string{"biolink:related_to"}},
			"novelty_signal":   "stuck",
		}))
		state := &domain.ResearchState{
			PastSteps:     failedSteps(3),
			LoopDetection: looping,
			Evidence:      loopEvidence,
			CommunityLog: domain.CommunityLog{
				ResolvedEntities: map[string]string{"asthma": asthma},
				NoveltyBudget:    3,
			},
		}
		d, err := w.steward(context.Background(), state)
		require.NoError(t, err)
		require.NotNil(t, d.CommunityLog)
		assert.Equal(t, map[string]string{"asthma": asthma, "drug x": "CHEBI:1"}, d.CommunityLog.ResolvedEntities)
		assert.Equal(t, 5, d.CommunityLog.NoveltyBudget)
		assert.Equal(t, domain.HypothesisProvisional, d.CommunityLog.Hypotheses[0].Status)
		assert.Equal(t, []string{"biolink:related_to"}, d.HardConstraints.ForbiddenPredicates)
		assert.Equal(t, []domain.Continuation{ban}, d.HardConstraints.ForbiddenContinuations)
		assert.Equal(t, asthma, state.CommunityLog.ResolvedEntities["asthma"], "input state untouched")
		assert.Len(t, state.CommunityLog.ResolvedEntities, 1)
	})

	t.Run("log only accretes", func(t *testing.T) {
		trajectory := make([]string, 8)
		for i := range trajectory {
			trajectory[i] = fmt.Sprintf("step %d", i+1)
		}
		current := domain.CommunityLog{
			Trajectory: trajectory,
			Hypotheses: []domain.Hypothesis{
				{ID: "h1", Statement: "X treats asthma", Status: domain.HypothesisValidated, Support: []string{"edge-1"}},
				{ID: "h2", Statement: "Y binds Z", Status: domain.HypothesisProvisional},
			},
			OpenQuestions:      []string{"Is X approved?"},
			DeprioritizedPaths: []string{"asthma related_to"},
			NoveltyBudget:      5,
		}

		w, r := newWorkflow()
		r.On(prompts.Steward, testutils.Value(map[string]any{
			"updated_log": map[string]any{
				"trajectory": append(append([]string{}, trajectory[3:]...), "step 9"),
				"hypotheses": []any{
					map[string]any{"id": "h2", "status": "Refuted", "support": []string{"edge-7"}},
					map[string]any{"statement": "W modulates Z"},
				},
				"open_questions": []string{" is X  approved? "},
			},
			"novelty_signal": "steady",
		}))
		state := &domain.ResearchState{PastSteps: failedSteps(3), CommunityLog: current}

		d, err := w.steward(context.Background(), state)
		require.NoError(t, err)
		require.NotNil(t, d.CommunityLog)
		got := d.CommunityLog

		assert.Equal(t, append(append([]string{}, trajectory...), "step 9"), got.Trajectory)
		assert.Equal(t, []string{"Is X approved?"}, got.OpenQuestions)
		assert.Equal(t, []string{"asthma related_to"}, got.DeprioritizedPaths)
		require.Len(t, got.Hypotheses, 3)
		assert.Equal(t, current.Hypotheses[0], got.Hypotheses[0], "unmentioned hypotheses are kept")
		assert.Equal(t, domain.HypothesisRefuted, got.Hypotheses[1].Status)
		assert.Equal(t, "Y binds Z", got.Hypotheses[1].Statement)
		assert.Equal(t, []string{"edge-7"}, got.Hypotheses[1].Support)
		assert.Equal(t, domain.Hypothesis{ID: "H3", Statement: "W modulates Z", Status: domain.HypothesisProvisional}, got.Hypotheses[2])
		assert.Equal(t, 5, got.NoveltyBudget)
		assert.Len(t, state.CommunityLog.Hypotheses, 2, "input state untouched")
		assert.Equal(t, domain.HypothesisProvisional, state.CommunityLog.Hypotheses[1].Status)
	})

	t.Run("prompt carries hypothesis ids", func(t *testing.T) {
		view := compact(domain.CommunityLog{Hypotheses: []domain.Hypothesis{{ID: "h1", Statement: "X treats asthma", Status: domain.HypothesisValidated}}})
		assert.Equal(t, []compactHypothesis{{ID: "h1", Statement: "X treats asthma", Status: domain.HypothesisValidated}}, view.Hypotheses)
	})
}

func TestExplorationPlanner(t *testing.T) {
	t.Run("falls back to scouting", func(t *testing.T) {
		w, r := newWorkflow()
		r.On(prompts.ExplorationPlanner, testutils.Value(map[string]any{"action": " "}))
		d, err := w.explorationPlanner(context.Background(), &domain.ResearchState{OriginalQuery: "q"})
		require.NoError(t, err)
		assert.Equal(t, []string{FallbackAction}, *d.Plan)
		assert.Contains(t, *d.PlanningRationale, "Defaulting to scouting due to planning error")
	})

	t.Run("uses identifiers from evidence", func(t *testing.T) {
		w, r := newWorkflow()
		r.On(prompts.ExplorationPlanner, testutils.Value(map[string]any{"action": "Fetch edges for CHEBI:1"}))
		state := &domain.ResearchState{
			OriginalQuery: "q",
			Evidence: []domain.EvidenceRecord{
				{Step: "Fetch", Tool: "get_edges", Status: domain.StatusSuccess, Payload: treatsEdges()},
			},
			LoopDetection: domain.LoopReport{Recommendation: "try biolink:affects"},
			CommunityLog:  domain.CommunityLog{NoveltyBudget: 8},
		}
		d, err := w.explorationPlanner(context.Background(), state)
		require.NoError(t, err)
		assert.Equal(t, []string{"Fetch edges for CHEBI:1"}, *d.Plan)

		p := r.Calls()[0]
		assert.Contains(t, p.User, "CHEBI:1")
		assert.Contains(t, p.User, "try biolink:affects")
		assert.Contains(t, p.User, "speculative")
	})
}

func TestAnswerGenerator(t *testing.T) {
	records := []domain.EvidenceRecord{{Step: "Fetch", Tool: "get_edges", Status: domain.StatusSuccess, Payload: treatsEdges()}}

	t.Run("stop yields insufficient evidence", func(t *testing.T) {
		w, r := newWorkflow()
		d, err := w.answerGenerator(context.Background(), &domain.ResearchState{
			OriginalQuery:     "What treats asthma?",
			Decision:          domain.DecisionStop,
			DecisionReasoning: "Forced stop",
		})
		require.NoError(t, err)
		assert.Contains(t, *d.Response, `I could not gather sufficient evidence to answer "What treats asthma?".`)
		assert.Contains(t, *d.Response, "Forced stop")
		assert.Equal(t, domain.PhaseAnswered, *d.Phase)
		assert.NotNil(t, d.CriticalSubgraph)
		assert.Empty(t, r.Calls())
	})

	t.Run("high confidence omits the label", func(t *testing.T) {
		w, r := newWorkflow()
		r.On(prompts.AnswerGenerator, testutils.Value(map[string]any{"answer": "Drug X (CHEBI:1).", "confidence": "high", "limitations": "small sample"}))
		d, err := w.answerGenerator(context.Background(), &domain.ResearchState{
			OriginalQuery: "q",
			Decision:      domain.DecisionSynthesize,
			Plan:          []string{"Generate answer: List drugs"},
			Evidence:      records,
		})
		require.NoError(t, err)
		assert.Equal(t, "Drug X (CHEBI:1).\n\n**Limitations**: small sample", *d.Response)
		assert.Len(t, d.CriticalSubgraph.Nodes, 2)
		assert.Empty(t, *d.Plan)
		assert.Contains(t, r.Calls()[0].User, "Generate answer: List drugs")
	})

	t.Run("failure falls back to evidence summary and keeps provenance", func(t *testing.T) {
		w, r := newWorkflow()
		r.On(prompts.AnswerGenerator, testutils.Fail(errors.New("boom")))
		d, err := w.answerGenerator(context.Background(), &domain.ResearchState{Decision: domain.DecisionSynthesize, Evidence: records})
		require.NoError(t, err)
		assert.Contains(t, *d.Response, "Based on collected evidence: get_edges:")
		assert.Equal(t, evidence.ExtractSubgraph(records), *d.CriticalSubgraph)
		assert.Len(t, d.CriticalSubgraph.Nodes, 2)
		require.Len(t, d.CriticalSubgraph.Edges, 1)
		assert.Equal(t, "e1", d.CriticalSubgraph.Edges[0].ID)
	})
}

func TestRouting(t *testing.T) {
	assert.Equal(t, Reset, routeEntry(&domain.ResearchState{Phase: domain.PhaseAnswered, Query: "What treats eczema?"}))
	assert.Equal(t, Intake, routeEntry(&domain.ResearchState{Phase: domain.PhaseAnswered, Query: " \n"}))
	assert.Equal(t, Intake, routeEntry(&domain.ResearchState{}))

	assert.Equal(t, ProposePlan, routeIntake(&domain.ResearchState{}))
	assert.Equal(t, Gatekeeper, routeIntake(&domain.ResearchState{PlanProposal: "p"}))
	assert.Equal(t, Contract, routeIntake(&domain.ResearchState{PlanProposal: "p", IsPlanApproved: true}))
	assert.Equal(t, ExplorationPlanner, routeIntake(&domain.ResearchState{PlanProposal: "p", IsPlanApproved: true, AnswerContract: treatsContract(1)}))

	assert.Equal(t, AnswerGenerator, routeDecision(&domain.ResearchState{Decision: domain.DecisionStop}))
	assert.Equal(t, SynthesisPlanner, routeDecision(&domain.ResearchState{Decision: domain.DecisionSynthesize}))
	assert.Equal(t, SynthesisPlanner, routeDecision(&domain.ResearchState{Decision: domain.DecisionExplore, IterationCount: 15, MaxIterations: 15}))
	assert.Equal(t, ExplorationPlanner, routeDecision(&domain.ResearchState{Decision: domain.DecisionExplore, IterationCount: 3, MaxIterations: 15}))
}
