package domain

import "reflect"

// Delta is the typed, partial update a step returns.
// A nil pointer or nil slice means the field was not written.
// Which merge policy applies to each field is declared in merge.go.
type Delta struct {
	// ResetEpisode clears the episode-scoped fields before the rest of the delta is merged.
	ResetEpisode bool `json:"reset_episode,omitempty"`

	Phase         *Phase  `json:"phase,omitempty"`
	Query         *string `json:"query,omitempty"`
	OriginalQuery *string `json:"original_query,omitempty"`
	InputRejected *bool   `json:"input_rejected,omitempty"`

	Plan      *[]string        `json:"plan,omitempty"`
	PastSteps []PastStep       `json:"past_steps,omitempty"`
	Evidence  []EvidenceRecord `json:"evidence,omitempty"`

	SchemaPatterns      []string              `json:"schema_patterns,omitempty"`
	InterpretedEvidence []InterpretedEvidence `json:"interpreted_evidence,omitempty"`
	NegativeKnowledge   []NegativeKnowledge   `json:"negative_knowledge,omitempty"`

	CoverageAssessment *Coverage   `json:"coverage_assessment,omitempty"`
	LoopDetection      *LoopReport `json:"loop_detection,omitempty"`

	ShouldExploreMore           *bool     `json:"should_explore_more,omitempty"`
	ShouldTransitionToSynthesis *bool     `json:"should_transition_to_synthesis,omitempty"`
	ReadyToAnswer               *bool     `json:"ready_to_answer,omitempty"`
	Decision                    *Decision `json:"decision,omitempty"`
	DecisionReasoning           *string   `json:"decision_reasoning,omitempty"`

	ExplorationStrategy *string `json:"exploration_strategy,omitempty"`
	PlanningRationale   *string `json:"planning_rationale,omitempty"`

	// AdvanceIteration completes one decision cycle (iteration_count += 1).
	AdvanceIteration bool `json:"advance_iteration,omitempty"`

	AnswerContract  *AnswerContract  `json:"answer_contract,omitempty"`
	HardConstraints *HardConstraints `json:"hard_constraints,omitempty"`
	CommunityLog    *CommunityLog    `json:"community_log,omitempty"`

	PlanProposal     *string `json:"plan_proposal,omitempty"`
	IsPlanApproved   *bool   `json:"is_plan_approved,omitempty"`
	PlanningFeedback *string `json:"planning_feedback,omitempty"`

	Response         *string   `json:"response,omitempty"`
	CriticalSubgraph *Subgraph `json:"critical_subgraph,omitempty"`
}

// IsEmpty reports whether the delta writes nothing.
func (d Delta) IsEmpty() bool {
	return reflect.ValueOf(d).IsZero()
}

// StepDelta is one element of the per-turn stream: the step that ran and what it wrote.
type StepDelta struct {
	Step  string `json:"step"`
	Delta Delta  `json:"delta"`
}

// Ptr returns a pointer to v. Handy for filling Delta fields.
func Ptr[T any](v T) *T {
	return &v
}
