package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/kopernicus/internal/evidence"
	"github.com/aretw0/kopernicus/internal/guard"
	"github.com/aretw0/kopernicus/internal/prompts"
	"github.com/aretw0/kopernicus/internal/reasoning"
	"github.com/aretw0/kopernicus/pkg/domain"
)

const (
	explorationSummaryChars = 400
	synthesisSummaryChars   = 100
	resolvedFallbackLimit   = 10

	// FallbackAction is planned when the exploration planner fails.
	FallbackAction = "Get edge summary for primary concept"
	// FallbackSynthesisPlan is planned when the synthesis planner fails.
	FallbackSynthesisPlan = "Generate answer with available evidence"
)

type nextAction struct {
	Action    string `json:"action" jsonschema:"description=Single specific action to take next"`
	Rationale string `json:"rationale" jsonschema:"description=Why this step in one sentence"`
}

func (n *nextAction) Validate() error {
	if strings.TrimSpace(n.Action) == "" {
		return errors.New("action is empty")
	}
	return nil
}

type synthesisOutline struct {
	AnswerStructure string   `json:"answer_structure" jsonschema:"description=Sections and points to cover"`
	EvidenceNeeded  []string `json:"evidence_needed,omitempty"`
}

type answerOutput struct {
	Answer      string `json:"answer" jsonschema:"description=Complete answer citing identifiers for every entity"`
	Confidence  string `json:"confidence" jsonschema:"enum=high,enum=medium,enum=low"`
	Limitations string `json:"limitations" jsonschema:"description=What is missing or uncertain, or None"`
}

func (a *answerOutput) Validate() error {
	if strings.TrimSpace(a.Answer) == "" {
		return errors.New("answer is empty")
	}
	return nil
}

func (w *Workflow) explorationPlanner(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	var resolved any = s.CommunityLog.ResolvedEntities
	if len(s.CommunityLog.ResolvedEntities) == 0 {
		ids := evidence.ResolvedFromEvidence(s.Evidence, resolvedFallbackLimit)
		if len(ids) > 0 {
			w.logger.Info("using identifiers from evidence", "session_id", s.SessionID, "count", len(ids))
		}
		resolved = ids
	}
	budget := guard.ClampNovelty(s.CommunityLog.NoveltyBudget)
	band := guard.BandOf(budget)
	strategy := s.DecisionReasoning
	if strategy == "" {
		strategy = "Starting exploration"
	}
	recommendation := s.LoopDetection.Recommendation
	if recommendation == "" {
		recommendation = "Continue"
	}

	p, err := prompt(prompts.ExplorationPlanner, prompts.Data{
		Input:              anchor(s),
		Evidence:           evidence.Summarize(successful(evidence.Prune(s.Evidence, w.evidenceCap)), explorationSummaryChars),
		Contract:           s.AnswerContract,
		ResolvedEntities:   resolved,
		Constraints:        s.HardConstraints,
		NegativeKnowledge:  s.NegativeKnowledge,
		NoveltyBudget:      budget,
		NoveltyBand:        string(band),
		NoveltyGuidance:    band.Guidance(),
		DecisionReasoning:  strategy,
		LoopRecommendation: recommendation,
	})
	if err != nil {
		return domain.Delta{}, err
	}
	res := reasoning.Structured[nextAction](ctx, w.reasoner, p)
	next := res.OrElse(func(f *domain.ReasoningFailure) nextAction {
		w.fallback(f, FallbackAction)
		return nextAction{
			Action:    FallbackAction,
			Rationale: "Defaulting to scouting due to planning error: " + reasoning.Message(f),
		}
	})
	w.logger.Info("next exploration", "session_id", s.SessionID, "action", next.Action)
	return domain.Delta{
		Phase:             domain.Ptr(domain.PhaseExploring),
		Plan:              &[]string{next.Action},
		PlanningRationale: domain.Ptr(next.Rationale),
	}, nil
}

func (w *Workflow) synthesisPlanner(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	p, err := prompt(prompts.SynthesisPlanner, prompts.Data{
		Input:          anchor(s),
		Evidence:       evidence.Summarize(successful(evidence.Prune(s.Evidence, w.evidenceCap)), synthesisSummaryChars),
		SchemaPatterns: uniquePatterns(s.SchemaPatterns),
	})
	if err != nil {
		return domain.Delta{}, err
	}
	plan := FallbackSynthesisPlan
	if res := reasoning.Structured[synthesisOutline](ctx, w.reasoner, p); res.OK() && res.Value.AnswerStructure != "" {
		plan = "Generate answer: " + res.Value.AnswerStructure
	} else if res.Err != nil {
		w.fallback(res.Err, FallbackSynthesisPlan)
	}
	w.logger.Info("synthesis plan created", "session_id", s.SessionID)
	return domain.Delta{
		Phase: domain.Ptr(domain.PhaseSynthesizing),
		Plan:  &[]string{plan},
	}, nil
}

// answerGenerator writes the final response and attaches the provenance subgraph.
// A stop decision yields an insufficient-evidence answer without asking the provider.
func (w *Workflow) answerGenerator(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	subgraph := evidence.ExtractSubgraph(s.Evidence)
	done := func(response string, g domain.Subgraph) domain.Delta {
		return domain.Delta{
			Phase:            domain.Ptr(domain.PhaseAnswered),
			Plan:             &[]string{},
			ReadyToAnswer:    domain.Ptr(true),
			Response:         domain.Ptr(response),
			CriticalSubgraph: &g,
		}
	}

	if s.Decision == domain.DecisionStop {
		w.logger.Info("answering with insufficient evidence", "session_id", s.SessionID)
		return done(insufficient(s), subgraph), nil
	}

	synthesisPlan := "Answer the question"
	if len(s.Plan) > 0 {
		synthesisPlan = s.Plan[len(s.Plan)-1]
	}
	p, err := prompt(prompts.AnswerGenerator, prompts.Data{
		Input:         anchor(s),
		SynthesisPlan: synthesisPlan,
		Evidence:      evidence.ForAnswer(s.Evidence),
	})
	if err != nil {
		return domain.Delta{}, err
	}
	res := reasoning.Structured[answerOutput](ctx, w.reasoner, p)
	if !res.OK() {
		w.fallback(res.Err, "evidence summary")
		return done(evidence.Fallback(s.Evidence), subgraph), nil
	}

	out := res.Value
	var b strings.Builder
	b.WriteString(out.Answer)
	b.WriteString("\n\n")
	if out.Confidence != "high" {
		fmt.Fprintf(&b, "**Confidence**: %s\n", out.Confidence)
	}
	if out.Limitations != "" && out.Limitations != "None" {
		fmt.Fprintf(&b, "**Limitations**: %s", out.Limitations)
	}
	w.logger.Info("answer generated",
		"session_id", s.SessionID,
		"confidence", out.Confidence,
		"nodes", len(subgraph.Nodes),
		"edges", len(subgraph.Edges),
	)
	return done(b.String(), subgraph), nil
}

func insufficient(s *domain.ResearchState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I could not gather sufficient evidence to answer %q.\n\n", anchor(s))
	if s.DecisionReasoning != "" {
		fmt.Fprintf(&b, "**Reason**: %s\n\n", s.DecisionReasoning)
	}
	if len(successful(s.Evidence)) > 0 {
		b.WriteString(evidence.Fallback(s.Evidence))
	}
	return strings.TrimSpace(b.String())
}
