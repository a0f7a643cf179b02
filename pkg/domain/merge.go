package domain

import (
	"fmt"
	"slices"
)

// MergePolicy states how a delta field is folded into the state.
type MergePolicy string

const (
	// PolicyOverwrite replaces the current value.
	PolicyOverwrite MergePolicy = "overwrite"
	// PolicyAccumulate concatenates the delta onto the current list.
	PolicyAccumulate MergePolicy = "accumulate"
	// PolicyUnion adds entries not yet present. Nothing is removed.
	PolicyUnion MergePolicy = "union"
	// PolicySetOnce accepts a value only while the field is empty.
	PolicySetOnce MergePolicy = "set_once"
	// PolicyCounter increments by exactly one.
	PolicyCounter MergePolicy = "counter"
)

type fieldRule struct {
	field  string
	policy MergePolicy
	merge  func(dst *ResearchState, d *Delta) error
}

// mergeTable is the single declaration of per-field merge semantics.
var mergeTable = []fieldRule{
	{"phase", PolicyOverwrite, func(s *ResearchState, d *Delta) error { overwrite(&s.Phase, d.Phase); return nil }},
	{"query", PolicyOverwrite, func(s *ResearchState, d *Delta) error { overwrite(&s.Query, d.Query); return nil }},
	{"original_query", PolicyOverwrite, func(s *ResearchState, d *Delta) error { overwrite(&s.OriginalQuery, d.OriginalQuery); return nil }},
	{"input_rejected", PolicyOverwrite, func(s *ResearchState, d *Delta) error { overwrite(&s.InputRejected, d.InputRejected); return nil }},
	{"plan", PolicyOverwrite, mergePlan},
	{"past_steps", PolicyAccumulate, func(s *ResearchState, d *Delta) error { accumulate(&s.PastSteps, d.PastSteps); return nil }},
	{"evidence", PolicyAccumulate, func(s *ResearchState, d *Delta) error { accumulate(&s.Evidence, d.Evidence); return nil }},
	{"schema_patterns", PolicyAccumulate, func(s *ResearchState, d *Delta) error { accumulate(&s.SchemaPatterns, d.SchemaPatterns); return nil }},
	{"interpreted_evidence", PolicyAccumulate, func(s *ResearchState, d *Delta) error {
		accumulate(&s.InterpretedEvidence, d.InterpretedEvidence)
		return nil
	}},
	{"negative_knowledge", PolicyAccumulate, func(s *ResearchState, d *Delta) error {
		accumulate(&s.NegativeKnowledge, d.NegativeKnowledge)
		return nil
	}},
	{"coverage_assessment", PolicyOverwrite, func(s *ResearchState, d *Delta) error {
		overwrite(&s.CoverageAssessment, d.CoverageAssessment)
		return nil
	}},
	{"loop_detection", PolicyOverwrite, func(s *ResearchState, d *Delta) error { overwrite(&s.LoopDetection, d.LoopDetection); return nil }},
	{"should_explore_more", PolicyOverwrite, func(s *ResearchState, d *Delta) error {
		overwrite(&s.ShouldExploreMore, d.ShouldExploreMore)
		return nil
	}},
	{"should_transition_to_synthesis", PolicyOverwrite, func(s *ResearchState, d *Delta) error {
		overwrite(&s.ShouldTransitionToSynthesis, d.ShouldTransitionToSynthesis)
		return nil
	}},
	{"ready_to_answer", PolicyOverwrite, func(s *ResearchState, d *Delta) error { overwrite(&s.ReadyToAnswer, d.ReadyToAnswer); return nil }},
	{"decision", PolicyOverwrite, func(s *ResearchState, d *Delta) error { overwrite(&s.Decision, d.Decision); return nil }},
	{"decision_reasoning", PolicyOverwrite, func(s *ResearchState, d *Delta) error {
		overwrite(&s.DecisionReasoning, d.DecisionReasoning)
		return nil
	}},
	{"exploration_strategy", PolicyOverwrite, func(s *ResearchState, d *Delta) error {
		overwrite(&s.ExplorationStrategy, d.ExplorationStrategy)
		return nil
	}},
	{"planning_rationale", PolicyOverwrite, func(s *ResearchState, d *Delta) error {
		overwrite(&s.PlanningRationale, d.PlanningRationale)
		return nil
	}},
	{"iteration_count", PolicyCounter, func(s *ResearchState, d *Delta) error {
		if d.AdvanceIteration {
			s.IterationCount++
		}
		return nil
	}},
	{"answer_contract", PolicySetOnce, mergeContract},
	{"hard_constraints", PolicyUnion, func(s *ResearchState, d *Delta) error {
		if d.HardConstraints != nil {
			s.HardConstraints = UnionConstraints(s.HardConstraints, *d.HardConstraints)
		}
		return nil
	}},
	{"community_log", PolicyOverwrite, func(s *ResearchState, d *Delta) error {
		if d.CommunityLog != nil {
			s.CommunityLog = d.CommunityLog.Clone()
		}
		return nil
	}},
	{"plan_proposal", PolicyOverwrite, func(s *ResearchState, d *Delta) error { overwrite(&s.PlanProposal, d.PlanProposal); return nil }},
	{"is_plan_approved", PolicyOverwrite, func(s *ResearchState, d *Delta) error { overwrite(&s.IsPlanApproved, d.IsPlanApproved); return nil }},
	{"planning_feedback", PolicyOverwrite, func(s *ResearchState, d *Delta) error {
		overwrite(&s.PlanningFeedback, d.PlanningFeedback)
		return nil
	}},
	{"response", PolicyOverwrite, func(s *ResearchState, d *Delta) error { overwrite(&s.Response, d.Response); return nil }},
	{"critical_subgraph", PolicyOverwrite, func(s *ResearchState, d *Delta) error {
		if d.CriticalSubgraph != nil {
			g := *d.CriticalSubgraph
			s.CriticalSubgraph = &g
		}
		return nil
	}},
}

// Policies returns the merge policy of every state field, keyed by JSON name.
func Policies() map[string]MergePolicy {
	out := make(map[string]MergePolicy, len(mergeTable))
	for _, rule := range mergeTable {
		out[rule.field] = rule.policy
	}
	return out
}

// Merge folds a delta into a copy of the state and returns it.
// On error the input state is left untouched.
func Merge(state *ResearchState, d Delta) (*ResearchState, error) {
	next := state.Clone()
	if d.ResetEpisode {
		next.resetEpisode()
	}
	for _, rule := range mergeTable {
		if err := rule.merge(next, &d); err != nil {
			return nil, fmt.Errorf("merge %s: %w", rule.field, err)
		}
	}
	return next, nil
}

// resetEpisode clears everything scoped to one query while keeping session identity
// and the entities resolved so far.
func (s *ResearchState) resetEpisode() {
	resolved := s.CommunityLog.ResolvedEntities
	budget := s.CommunityLog.NoveltyBudget

	s.Episode++
	s.Phase = PhaseNegotiatingPlan
	s.Query = ""
	s.OriginalQuery = ""
	s.InputRejected = false
	s.Plan = nil
	s.PastSteps = nil
	s.Evidence = nil
	s.SchemaPatterns = nil
	s.InterpretedEvidence = nil
	s.NegativeKnowledge = nil
	s.CoverageAssessment = Coverage{}
	s.LoopDetection = LoopReport{}
	s.ShouldExploreMore = false
	s.ShouldTransitionToSynthesis = false
	s.ReadyToAnswer = false
	s.Decision = ""
	s.DecisionReasoning = ""
	s.ExplorationStrategy = ""
	s.PlanningRationale = ""
	s.IterationCount = 0
	s.AnswerContract = nil
	s.HardConstraints = HardConstraints{}
	s.CommunityLog = CommunityLog{ResolvedEntities: resolved, NoveltyBudget: budget}
	s.PlanProposal = ""
	s.IsPlanApproved = false
	s.PlanningFeedback = ""
	s.Response = ""
	s.CriticalSubgraph = nil
}

func mergePlan(s *ResearchState, d *Delta) error {
	if d.Plan == nil {
		return nil
	}
	if len(*d.Plan) > 1 {
		return fmt.Errorf("%w: got %d actions", ErrPlanTooLong, len(*d.Plan))
	}
	s.Plan = slices.Clone(*d.Plan)
	return nil
}

func mergeContract(s *ResearchState, d *Delta) error {
	if d.AnswerContract == nil {
		return nil
	}
	if s.AnswerContract != nil {
		return ErrContractImmutable
	}
	c := d.AnswerContract.clone()
	s.AnswerContract = &c
	return nil
}

// UnionConstraints returns base extended with every entry of add not already present.
func UnionConstraints(base, add HardConstraints) HardConstraints {
	out := base.clone()
	out.ForbiddenEntities = union(out.ForbiddenEntities, add.ForbiddenEntities)
	out.ForbiddenPredicates = union(out.ForbiddenPredicates, add.ForbiddenPredicates)
	out.ForbiddenContinuations = union(out.ForbiddenContinuations, add.ForbiddenContinuations)
	out.LockedAnchors = union(out.LockedAnchors, add.LockedAnchors)
	return out
}

func overwrite[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func accumulate[T any](dst *[]T, src []T) {
	if len(src) > 0 {
		*dst = append(*dst, src...)
	}
}

func union[T comparable](dst, src []T) []T {
	for _, v := range src {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
