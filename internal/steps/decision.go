package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/kopernicus/internal/evidence"
	"github.com/aretw0/kopernicus/internal/guard"
	"github.com/aretw0/kopernicus/internal/prompts"
	"github.com/aretw0/kopernicus/internal/reasoning"
	"github.com/aretw0/kopernicus/pkg/domain"
)

type decisionOutput struct {
	ControlDecision string `json:"control_decision" jsonschema:"enum=explore,enum=synthesize,enum=stop"`
	EpistemicState  string `json:"epistemic_state,omitempty" jsonschema:"description=sufficient or insufficient"`
	Reasoning       string `json:"reasoning" jsonschema:"description=One or two sentences citing evidence"`
}

// decide closes one exploration cycle. The loop guard overrides the provider, and an
// unsatisfied contract turns a synthesize into explore until the iteration ceiling.
func (w *Workflow) decide(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	maxIterations := s.MaxIterations
	if maxIterations <= 0 {
		maxIterations = domain.DefaultMaxIterations
	}
	atLimit := s.IterationCount+1 >= maxIterations

	if o := w.policy.ForcedDecision(s); o != nil {
		w.logger.Warn(o.Rationale, "session_id", s.SessionID, "decision", o.Decision, "failures", o.Failures)
		if w.hooks.OnOverride != nil {
			w.hooks.OnOverride(ctx, &domain.OverrideEvent{
				EventBase: domain.EventBase{Timestamp: time.Now(), Type: domain.EventOverride, SessionID: s.SessionID},
				Decision:  o.Decision,
				Failures:  o.Failures,
				Rationale: o.Rationale,
			})
		}
		return decisionDelta(o.Decision, o.Rationale), nil
	}

	report := evidence.Sufficiency(s.AnswerContract, s.InterpretedEvidence)
	p, err := prompt(prompts.Decision, prompts.Data{
		Input:               anchor(s),
		Contract:            s.AnswerContract,
		UniqueEntities:      report.UniqueEntities,
		MinUniqueEntities:   report.Required,
		ConsecutiveFailures: guard.ConsecutiveNonProductive(s.PastSteps),
		Iteration:           s.IterationCount,
		MaxIterations:       maxIterations,
		Coverage:            s.CoverageAssessment,
		Loop:                s.LoopDetection,
		Evidence:            indented(s.InterpretedEvidence),
	})
	if err != nil {
		return domain.Delta{}, err
	}

	var decision domain.Decision
	var rationale string
	if res := reasoning.Structured[decisionOutput](ctx, w.reasoner, p); res.OK() {
		decision = domain.ParseDecision(res.Value.ControlDecision)
		rationale = res.Value.Reasoning
		if rationale == "" {
			rationale = "Proceeding with exploration."
		}
	} else {
		w.fallback(res.Err, "explore")
		decision = domain.DecisionExplore
		verb := "continue"
		if atLimit {
			decision, verb = domain.DecisionSynthesize, "stop"
		}
		rationale = fmt.Sprintf("Error in decision making: %s. Defaulting to %s.", reasoning.Message(res.Err), verb)
	}

	if decision == domain.DecisionSynthesize && s.AnswerContract != nil && !report.Satisfied && !atLimit {
		w.logger.Info("contract not satisfied, continuing exploration",
			"session_id", s.SessionID,
			"unique_entities", report.UniqueEntities,
			"required", report.Required,
		)
		decision = domain.DecisionExplore
		rationale = fmt.Sprintf("%s Contract not satisfied: %d of %d required entities.",
			rationale, report.UniqueEntities, report.Required)
	}
	if decision == domain.DecisionExplore && atLimit {
		decision = domain.DecisionSynthesize
		rationale += " Iteration limit reached."
	}

	w.logger.Info("decision", "session_id", s.SessionID, "decision", decision, "iteration", s.IterationCount+1)
	return decisionDelta(decision, rationale), nil
}

func decisionDelta(decision domain.Decision, rationale string) domain.Delta {
	explore := decision == domain.DecisionExplore
	phase := domain.PhaseExploring
	if !explore {
		phase = domain.PhaseSynthesizing
	}
	return domain.Delta{
		Phase:                       domain.Ptr(phase),
		Decision:                    domain.Ptr(decision),
		ShouldExploreMore:           domain.Ptr(explore),
		ShouldTransitionToSynthesis: domain.Ptr(decision == domain.DecisionSynthesize),
		ReadyToAnswer:               domain.Ptr(!explore),
		DecisionReasoning:           domain.Ptr(rationale),
		AdvanceIteration:            true,
	}
}
