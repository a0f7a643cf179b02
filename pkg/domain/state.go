package domain

import (
	"maps"
	"slices"
)

// DefaultMaxIterations is the decision-cycle ceiling used when none is configured.
const DefaultMaxIterations = 15

// DefaultNoveltyBudget is the starting novelty budget of a fresh community log.
const DefaultNoveltyBudget = 3

// EvidenceStatus tags the outcome of a capability invocation.
type EvidenceStatus string

const (
	StatusSuccess  EvidenceStatus = "success"
	StatusError    EvidenceStatus = "error"
	StatusRejected EvidenceStatus = "rejected"
)

// Error types attached to non-successful evidence records.
const (
	ErrorTypeTimeout        = "timeout"
	ErrorTypeExecution      = "execution_error"
	ErrorTypeToolNotFound   = "tool_not_found"
	ErrorTypeNoToolCall     = "no_tool_call"
	ErrorTypePolicyRejected = "policy_rejected"
	ErrorTypeReasoning      = "reasoning_failed"
)

// EvidenceRecord is one normalized outcome of a single capability invocation.
type EvidenceRecord struct {
	Step      string         `json:"step"`
	Tool      string         `json:"tool,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Status    EvidenceStatus `json:"status"`
	Payload   any            `json:"payload,omitempty"`
	Text      string         `json:"text,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
	Error     string         `json:"error,omitempty"`
	// Auto marks records produced by a deterministic follow-up rather than a planned action.
	Auto bool `json:"auto,omitempty"`
}

// Succeeded reports whether the record carries a usable payload.
func (r EvidenceRecord) Succeeded() bool {
	return r.Status == StatusSuccess
}

// PastStep is one (action, outcome) annotation in the step log.
type PastStep struct {
	Action  string `json:"action"`
	Outcome string `json:"outcome"`
}

// AnswerContract defines when exploration has gathered enough evidence.
type AnswerContract struct {
	QueryType           string   `json:"query_type"`
	RequiredEntityTypes []string `json:"required_entity_types"`
	RequiredPredicates  []string `json:"required_predicates"`
	MinUniqueEntities   int      `json:"min_unique_entities"`
	MinPathLength       int      `json:"min_path_length,omitempty"`
	MaxPathLength       int      `json:"max_path_length,omitempty"`
}

// RequiresPredicate reports whether the predicate counts towards the contract.
func (c *AnswerContract) RequiresPredicate(predicate string) bool {
	return c != nil && slices.Contains(c.RequiredPredicates, predicate)
}

// EvidenceType classifies how directly an interpreted relation supports the answer.
type EvidenceType string

const (
	EvidenceDirect      EvidenceType = "direct"
	EvidenceMechanistic EvidenceType = "mechanistic"
	EvidenceAssociative EvidenceType = "associative"
)

// InterpretedEvidence is a typed, strength-scored relation extracted from raw evidence.
type InterpretedEvidence struct {
	SubjectID    string       `json:"subject_id"`
	Predicate    string       `json:"predicate"`
	ObjectID     string       `json:"object_id"`
	EvidenceType EvidenceType `json:"evidence_type"`
	Strength     int          `json:"strength"`
	SourceStep   string       `json:"source_step"`
	Rationale    string       `json:"rationale,omitempty"`
}

// NegativeKnowledge records a path that was tried and yielded nothing usable.
type NegativeKnowledge struct {
	Entity        string `json:"entity"`
	Predicate     string `json:"predicate"`
	FailureReason string `json:"failure_reason"`
	Iteration     int    `json:"iteration"`
}

// Continuation is a (source, predicate) pair used to ban a specific expansion.
type Continuation struct {
	Source    string `json:"source"`
	Predicate string `json:"predicate"`
}

// HardConstraints are deterministic guardrails checked before every tool call.
type HardConstraints struct {
	ForbiddenEntities      []string       `json:"forbidden_entities,omitempty"`
	ForbiddenPredicates    []string       `json:"forbidden_predicates,omitempty"`
	ForbiddenContinuations []Continuation `json:"forbidden_continuations,omitempty"`
	LockedAnchors          []string       `json:"locked_anchors,omitempty"`
}

// IsEmpty reports whether no constraint is set.
func (h HardConstraints) IsEmpty() bool {
	return len(h.ForbiddenEntities) == 0 && len(h.ForbiddenPredicates) == 0 &&
		len(h.ForbiddenContinuations) == 0 && len(h.LockedAnchors) == 0
}

// HypothesisStatus is the lifecycle of a steward hypothesis.
type HypothesisStatus string

const (
	HypothesisProvisional HypothesisStatus = "Provisional"
	HypothesisValidated   HypothesisStatus = "Validated"
	HypothesisRefuted     HypothesisStatus = "Refuted"
)

// Hypothesis is a claim the steward tracks across iterations.
type Hypothesis struct {
	ID        string           `json:"id"`
	Statement string           `json:"statement"`
	Status    HypothesisStatus `json:"status"`
	Support   []string         `json:"support,omitempty"`
}

// CommunityLog is the steward-maintained research ledger.
type CommunityLog struct {
	ResolvedEntities   map[string]string `json:"resolved_entities,omitempty"`
	Trajectory         []string          `json:"trajectory,omitempty"`
	DeprioritizedPaths []string          `json:"deprioritized_paths,omitempty"`
	Hypotheses         []Hypothesis      `json:"hypotheses,omitempty"`
	OpenQuestions      []string          `json:"open_questions,omitempty"`
	NoveltyBudget      int               `json:"novelty_budget"`
}

// Coverage is the latest assessment of how much ground exploration covered.
type Coverage struct {
	ExploredPredicates   []string `json:"explored_predicates,omitempty"`
	UnexploredPredicates []string `json:"unexplored_predicates,omitempty"`
	DensityScore         int      `json:"density_score"`
}

// LoopReport is the latest loop detection verdict.
type LoopReport struct {
	IsLooping       bool   `json:"is_looping"`
	RepeatedPattern string `json:"repeated_pattern,omitempty"`
	Recommendation  string `json:"recommendation,omitempty"`
}

// SubgraphNode is a node of the answer provenance graph.
type SubgraphNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// SubgraphEdge is an edge of the answer provenance graph.
type SubgraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
	ID     string `json:"id"`
}

// Subgraph is the provenance artifact attached to a final answer.
type Subgraph struct {
	Nodes []SubgraphNode `json:"nodes"`
	Edges []SubgraphEdge `json:"edges"`
}

// ResearchState is the record threaded through every workflow step of a session.
type ResearchState struct {
	SessionID string `json:"session_id"`
	Episode   int    `json:"episode"`
	Phase     Phase  `json:"phase"`
	// Cursor names the step to run next when a turn was interrupted mid-walk.
	// Empty means the session waits for caller input.
	Cursor string `json:"cursor,omitempty"`
	// Envelope holds the sealed state when a storage middleware encrypts checkpoints.
	Envelope string `json:"envelope,omitempty"`

	Query         string `json:"query"`
	OriginalQuery string `json:"original_query"`
	InputRejected bool   `json:"input_rejected,omitempty"`

	Plan      []string         `json:"plan"`
	PastSteps []PastStep       `json:"past_steps"`
	Evidence  []EvidenceRecord `json:"evidence"`

	SchemaPatterns      []string              `json:"schema_patterns"`
	InterpretedEvidence []InterpretedEvidence `json:"interpreted_evidence"`
	NegativeKnowledge   []NegativeKnowledge   `json:"negative_knowledge"`

	CoverageAssessment Coverage   `json:"coverage_assessment"`
	LoopDetection      LoopReport `json:"loop_detection"`

	ShouldExploreMore           bool     `json:"should_explore_more"`
	ShouldTransitionToSynthesis bool     `json:"should_transition_to_synthesis"`
	ReadyToAnswer               bool     `json:"ready_to_answer"`
	Decision                    Decision `json:"decision,omitempty"`
	DecisionReasoning           string   `json:"decision_reasoning,omitempty"`

	ExplorationStrategy string `json:"exploration_strategy,omitempty"`
	PlanningRationale   string `json:"planning_rationale,omitempty"`

	IterationCount int `json:"iteration_count"`
	MaxIterations  int `json:"max_iterations"`

	AnswerContract  *AnswerContract `json:"answer_contract,omitempty"`
	HardConstraints HardConstraints `json:"hard_constraints"`
	CommunityLog    CommunityLog    `json:"community_log"`

	PlanProposal     string `json:"plan_proposal,omitempty"`
	IsPlanApproved   bool   `json:"is_plan_approved"`
	PlanningFeedback string `json:"planning_feedback,omitempty"`

	Response         string    `json:"response,omitempty"`
	CriticalSubgraph *Subgraph `json:"critical_subgraph,omitempty"`
}

// NewState creates an empty research state for a session.
func NewState(sessionID string, maxIterations int) *ResearchState {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &ResearchState{
		SessionID:     sessionID,
		Phase:         PhaseNegotiatingPlan,
		MaxIterations: maxIterations,
		CommunityLog: CommunityLog{
			NoveltyBudget: DefaultNoveltyBudget,
		},
	}
}

// AtIterationLimit reports whether the decision-cycle ceiling was reached.
func (s *ResearchState) AtIterationLimit() bool {
	limit := s.MaxIterations
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	return s.IterationCount >= limit
}

// Clone returns a copy that shares no mutable collections with s.
func (s *ResearchState) Clone() *ResearchState {
	if s == nil {
		return nil
	}
	c := *s
	c.Plan = slices.Clone(s.Plan)
	c.PastSteps = slices.Clone(s.PastSteps)
	c.Evidence = make([]EvidenceRecord, len(s.Evidence))
	for i, r := range s.Evidence {
		r.Args = maps.Clone(r.Args)
		c.Evidence[i] = r
	}
	if s.Evidence == nil {
		c.Evidence = nil
	}
	c.SchemaPatterns = slices.Clone(s.SchemaPatterns)
	c.InterpretedEvidence = slices.Clone(s.InterpretedEvidence)
	c.NegativeKnowledge = slices.Clone(s.NegativeKnowledge)
	c.CoverageAssessment = s.CoverageAssessment.clone()
	if s.AnswerContract != nil {
		contract := s.AnswerContract.clone()
		c.AnswerContract = &contract
	}
	c.HardConstraints = s.HardConstraints.clone()
	c.CommunityLog = s.CommunityLog.Clone()
	if s.CriticalSubgraph != nil {
		c.CriticalSubgraph = &Subgraph{
			Nodes: slices.Clone(s.CriticalSubgraph.Nodes),
			Edges: slices.Clone(s.CriticalSubgraph.Edges),
		}
	}
	return &c
}

func (c Coverage) clone() Coverage {
	c.ExploredPredicates = slices.Clone(c.ExploredPredicates)
	c.UnexploredPredicates = slices.Clone(c.UnexploredPredicates)
	return c
}

func (c AnswerContract) clone() AnswerContract {
	c.RequiredEntityTypes = slices.Clone(c.RequiredEntityTypes)
	c.RequiredPredicates = slices.Clone(c.RequiredPredicates)
	return c
}

func (h HardConstraints) clone() HardConstraints {
	return HardConstraints{
		ForbiddenEntities:      slices.Clone(h.ForbiddenEntities),
		ForbiddenPredicates:    slices.Clone(h.ForbiddenPredicates),
		ForbiddenContinuations: slices.Clone(h.ForbiddenContinuations),
		LockedAnchors:          slices.Clone(h.LockedAnchors),
	}
}

// Clone returns a deep copy of the log.
func (l CommunityLog) Clone() CommunityLog {
	out := l
	out.ResolvedEntities = maps.Clone(l.ResolvedEntities)
	out.Trajectory = slices.Clone(l.Trajectory)
	out.DeprioritizedPaths = slices.Clone(l.DeprioritizedPaths)
	out.OpenQuestions = slices.Clone(l.OpenQuestions)
	out.Hypotheses = make([]Hypothesis, len(l.Hypotheses))
	for i, h := range l.Hypotheses {
		h.Support = slices.Clone(h.Support)
		out.Hypotheses[i] = h
	}
	if l.Hypotheses == nil {
		out.Hypotheses = nil
	}
	return out
}
