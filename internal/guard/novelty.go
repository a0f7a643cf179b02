package guard

import "github.com/aretw0/kopernicus/pkg/domain"

// Novelty budget bounds.
const (
	MinNovelty  = 1
	MaxNovelty  = 10
	NoveltyStep = 2
)

// NoveltyBand names how far exploration may range from direct predicates.
type NoveltyBand string

const (
	BandDirect      NoveltyBand = "direct"
	BandBalanced    NoveltyBand = "balanced"
	BandSpeculative NoveltyBand = "speculative"
)

// BandOf returns the band of a novelty budget.
func BandOf(budget int) NoveltyBand {
	switch b := ClampNovelty(budget); {
	case b <= 3:
		return BandDirect
	case b <= 6:
		return BandBalanced
	default:
		return BandSpeculative
	}
}

// Guidance is the planning hint attached to a band.
func (b NoveltyBand) Guidance() string {
	switch b {
	case BandDirect:
		return "Stay on direct predicates of the anchor entities."
	case BandBalanced:
		return "Direct predicates first, one-hop mechanistic links allowed."
	default:
		return "Indirect and mechanistic paths are allowed when direct ones are exhausted."
	}
}

// ClampNovelty bounds a budget to [MinNovelty, MaxNovelty].
func ClampNovelty(budget int) int {
	return max(MinNovelty, min(MaxNovelty, budget))
}

// NoveltySignal is the steward's reading of the exploration trajectory.
type NoveltySignal string

const (
	SignalSteady   NoveltySignal = "steady"
	SignalStuck    NoveltySignal = "stuck"
	SignalDrifting NoveltySignal = "drifting"
)

// AdjustNovelty moves the budget of a log according to the signal. The input is not modified.
func AdjustNovelty(log domain.CommunityLog, signal NoveltySignal) domain.CommunityLog {
	out := log.Clone()
	switch signal {
	case SignalStuck:
		out.NoveltyBudget += NoveltyStep
	case SignalDrifting:
		out.NoveltyBudget -= NoveltyStep
	}
	out.NoveltyBudget = ClampNovelty(out.NoveltyBudget)
	return out
}

// LoopContinuations turns a looping source into continuation bans for the predicates already tried.
func LoopContinuations(source string, predicates []string) []domain.Continuation {
	if source == "" {
		return nil
	}
	out := make([]domain.Continuation, 0, len(predicates))
	for _, p := range predicates {
		out = append(out, domain.Continuation{Source: source, Predicate: p})
	}
	return out
}
