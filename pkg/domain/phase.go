package domain

// Phase is the top-level lifecycle position of a research episode.
type Phase string

const (
	// PhaseNegotiatingPlan is the initial phase: a plan is proposed and refined with the caller.
	PhaseNegotiatingPlan Phase = "negotiating_plan"
	// PhaseExploring runs the plan/execute/interpret/decide loop.
	PhaseExploring Phase = "exploring"
	// PhaseSynthesizing prepares the final answer from collected evidence.
	PhaseSynthesizing Phase = "synthesizing"
	// PhaseAnswered means a response was delivered. The next query resets the episode.
	PhaseAnswered Phase = "answered"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	if p == "" {
		return string(PhaseNegotiatingPlan)
	}
	return string(p)
}

// IsValid reports whether the phase is a known value. The zero value counts
// as negotiating_plan.
func (p Phase) IsValid() bool {
	switch p {
	case "", PhaseNegotiatingPlan, PhaseExploring, PhaseSynthesizing, PhaseAnswered:
		return true
	}
	return false
}

// IsTerminal returns true if the episode has produced its answer.
func (p Phase) IsTerminal() bool {
	return p == PhaseAnswered
}

// NegotiationState is the position of the plan negotiation sub-machine.
type NegotiationState string

const (
	NegotiationNoPlan   NegotiationState = "no_plan"
	NegotiationProposed NegotiationState = "proposed"
	NegotiationApproved NegotiationState = "approved"
)

// Negotiation derives the negotiation sub-state from the state fields.
func (s *ResearchState) Negotiation() NegotiationState {
	switch {
	case s.IsPlanApproved:
		return NegotiationApproved
	case s.PlanProposal != "":
		return NegotiationProposed
	default:
		return NegotiationNoPlan
	}
}

// Approval is the tagged outcome of classifying a caller reply to a plan proposal.
type Approval string

const (
	ApprovalApproved Approval = "approved"
	ApprovalFeedback Approval = "feedback"
)

// ParseApproval maps a classifier label onto an Approval.
// Anything other than an explicit "approved" is feedback.
func ParseApproval(label string) Approval {
	if label == string(ApprovalApproved) {
		return ApprovalApproved
	}
	return ApprovalFeedback
}

// Decision is the control decision taken at the end of an exploration cycle.
type Decision string

const (
	DecisionExplore    Decision = "explore"
	DecisionSynthesize Decision = "synthesize"
	DecisionStop       Decision = "stop"
)

// ParseDecision maps a reasoning label onto a Decision, defaulting to explore.
func ParseDecision(label string) Decision {
	switch Decision(label) {
	case DecisionSynthesize:
		return DecisionSynthesize
	case DecisionStop:
		return DecisionStop
	default:
		return DecisionExplore
	}
}
