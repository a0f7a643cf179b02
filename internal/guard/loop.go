package guard

import (
	"fmt"
	"strings"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// Default loop guard and steward settings.
const (
	DefaultFailureThreshold = 3
	DefaultMinIteration     = 2
	DefaultStewardEvery     = 3
)

// EmptyMarkers are outcome fragments that mark a call as unproductive even though it did not fail.
var EmptyMarkers = []string{
	"No edges found",
	"Found 0 results",
	"Found 0 edge",
	"--[unknown]--> Unknown",
}

// SuccessPrefix starts the outcome text of every successful invocation.
const SuccessPrefix = "✓"

// IsProductive reports whether a step outcome is a success with a non-empty payload.
func IsProductive(outcome string) bool {
	if !strings.HasPrefix(outcome, SuccessPrefix) {
		return false
	}
	for _, m := range EmptyMarkers {
		if strings.Contains(outcome, m) {
			return false
		}
	}
	return true
}

// ConsecutiveNonProductive counts trailing steps that produced no evidence.
func ConsecutiveNonProductive(steps []domain.PastStep) int {
	n := 0
	for i := len(steps) - 1; i >= 0; i-- {
		if IsProductive(steps[i].Outcome) {
			break
		}
		n++
	}
	return n
}

// Policy configures the loop guard and steward cadence.
type Policy struct {
	// FailureThreshold is the number of consecutive non-productive steps that forces termination.
	FailureThreshold int
	// MinIteration is the iteration count that must be exceeded before the guard may fire.
	MinIteration int
	// StewardEvery is the steward cadence, counted in logged steps.
	StewardEvery int
}

// DefaultPolicy returns the stock guard settings.
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold: DefaultFailureThreshold,
		MinIteration:     DefaultMinIteration,
		StewardEvery:     DefaultStewardEvery,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = d.FailureThreshold
	}
	if p.MinIteration < 0 {
		p.MinIteration = d.MinIteration
	}
	if p.StewardEvery <= 0 {
		p.StewardEvery = d.StewardEvery
	}
	return p
}

// Override is a decision forced against the reasoning provider.
type Override struct {
	Decision  domain.Decision
	Failures  int
	Rationale string
}

// ForcedDecision returns the decision the guard imposes, or nil when the provider may decide.
func (p Policy) ForcedDecision(state *domain.ResearchState) *Override {
	p = p.normalized()
	failures := ConsecutiveNonProductive(state.PastSteps)
	if failures < p.FailureThreshold || state.IterationCount <= p.MinIteration {
		return nil
	}
	decision := domain.DecisionStop
	if len(state.InterpretedEvidence) > 0 {
		decision = domain.DecisionSynthesize
	}
	return &Override{
		Decision: decision,
		Failures: failures,
		Rationale: fmt.Sprintf("Forced %s: %d consecutive steps produced no evidence. Escalating to avoid infinite loop.",
			decision, failures),
	}
}

// StewardDue reports whether the steward should update the community log, given the
// number of steps logged so far.
func (p Policy) StewardDue(steps int, looping bool) bool {
	p = p.normalized()
	return looping || steps%p.StewardEvery == 0
}
