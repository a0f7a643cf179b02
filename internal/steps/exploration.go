package steps

import (
	"context"
	"fmt"

	"github.com/aretw0/kopernicus/internal/evidence"
	"github.com/aretw0/kopernicus/internal/guard"
	"github.com/aretw0/kopernicus/internal/prompts"
	"github.com/aretw0/kopernicus/internal/reasoning"
	"github.com/aretw0/kopernicus/pkg/domain"
)

// interpreterInputChars bounds the raw record shown to the interpreter.
const interpreterInputChars = 5000

type contractOutput struct {
	QueryType           string   `json:"query_type" jsonschema:"enum=treatment,enum=mechanism,enum=association,enum=hypothesis"`
	RequiredEntityTypes []string `json:"required_entity_types" jsonschema:"description=Biolink categories the answer must name"`
	RequiredPredicates  []string `json:"required_predicates" jsonschema:"description=Biolink predicates that count as evidence"`
	MinUniqueEntities   int      `json:"min_unique_entities" jsonschema:"minimum=1"`
	MinPathLength       int      `json:"min_path_length,omitempty"`
	MaxPathLength       int      `json:"max_path_length,omitempty"`
}

func (c *contractOutput) Validate() error {
	if c.QueryType == "" {
		return fmt.Errorf("query_type is required")
	}
	return nil
}

type openingPlan struct {
	Steps    []string `json:"steps" jsonschema:"description=Ordered steps of the initial investigation"`
	Strategy string   `json:"strategy" jsonschema:"description=High-level strategy"`
}

type interpretedItem struct {
	SubjectID    string `json:"subject_id"`
	Predicate    string `json:"predicate"`
	ObjectID     string `json:"object_id"`
	EvidenceType string `json:"evidence_type" jsonschema:"enum=direct,enum=mechanistic,enum=associative"`
	Strength     int    `json:"strength" jsonschema:"minimum=1,maximum=5"`
	Rationale    string `json:"rationale,omitempty"`
}

type interpretation struct {
	Items []interpretedItem `json:"items"`
}

// contract fixes the answer contract once per approved plan.
func (w *Workflow) contract(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	if s.AnswerContract != nil {
		return domain.Delta{}, nil
	}
	p, err := prompt(prompts.Contract, prompts.Data{OriginalQuery: anchor(s), ApprovedPlan: s.PlanProposal})
	if err != nil {
		return domain.Delta{}, err
	}

	var contract domain.AnswerContract
	if res := reasoning.Structured[contractOutput](ctx, w.reasoner, p); res.OK() {
		out := res.Value
		var removed []string
		contract, removed = evidence.Constrain(domain.AnswerContract{
			QueryType:           out.QueryType,
			RequiredEntityTypes: out.RequiredEntityTypes,
			RequiredPredicates:  out.RequiredPredicates,
			MinUniqueEntities:   out.MinUniqueEntities,
			MinPathLength:       out.MinPathLength,
			MaxPathLength:       out.MaxPathLength,
		})
		if len(removed) > 0 {
			w.logger.Warn("removed predicates outside the query type",
				"query_type", contract.QueryType,
				"removed", removed,
			)
		}
	} else {
		w.fallback(res.Err, "default contract")
		contract = evidence.DefaultContract()
	}

	w.logger.Info("answer contract defined",
		"session_id", s.SessionID,
		"query_type", contract.QueryType,
		"predicates", contract.RequiredPredicates,
		"min_unique_entities", contract.MinUniqueEntities,
	)
	d := domain.Delta{
		Phase:           domain.Ptr(domain.PhaseExploring),
		AnswerContract:  &contract,
		HardConstraints: &domain.HardConstraints{},
	}
	if s.OriginalQuery == "" {
		d.OriginalQuery = domain.Ptr(s.Query)
	}
	return d, nil
}

// planner picks the opening action. Only the first step of the returned plan is kept.
func (w *Workflow) planner(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	p, err := prompt(prompts.Planner, prompts.Data{
		OriginalQuery: anchor(s),
		ApprovedPlan:  s.PlanProposal,
		Contract:      s.AnswerContract,
	})
	if err != nil {
		return domain.Delta{}, err
	}
	res := reasoning.Structured[openingPlan](ctx, w.reasoner, p)
	if !res.OK() {
		w.fallback(res.Err, "empty plan")
		return domain.Delta{
			Plan: &[]string{},
			ExplorationStrategy: domain.Ptr("I encountered an error while planning: " + reasoning.Message(res.Err) +
				". Please try checking your input or rephrasing your request."),
		}, nil
	}
	plan := res.Value.Steps
	if len(plan) > 1 {
		plan = plan[:1]
	}
	if plan == nil {
		plan = []string{}
	}
	w.logger.Info("opening plan", "session_id", s.SessionID, "plan", plan, "strategy", res.Value.Strategy)
	return domain.Delta{Plan: &plan, ExplorationStrategy: domain.Ptr(res.Value.Strategy)}, nil
}

// execute runs the pending action through the capability adapter.
func (w *Workflow) execute(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	if len(s.Plan) == 0 {
		w.logger.Error("empty plan in executor", "session_id", s.SessionID)
		return domain.Delta{
			PastSteps: []domain.PastStep{{Action: "ERROR", Outcome: "No plan"}},
			Evidence: []domain.EvidenceRecord{{
				Step:      "ERROR",
				Status:    domain.StatusError,
				ErrorType: domain.ErrorTypeNoToolCall,
				Error:     "No plan",
			}},
		}, nil
	}
	out, err := w.adapter.Execute(ctx, s, s.Plan[0])
	if err != nil {
		return domain.Delta{}, err
	}
	return domain.Delta{Evidence: out.Evidence, PastSteps: out.PastSteps}, nil
}

// interpret turns the latest record into contract evidence or negative knowledge.
func (w *Workflow) interpret(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	last, ok := lastRecord(s)
	if !ok {
		return domain.Delta{}, nil
	}
	if !last.Succeeded() {
		return domain.Delta{NegativeKnowledge: []domain.NegativeKnowledge{negativeKnowledge(last, s.IterationCount)}}, nil
	}
	if !evidence.IsRelationship(last.Tool) {
		return domain.Delta{}, nil
	}

	p, err := prompt(prompts.Interpreter, prompts.Data{
		Contract:     s.AnswerContract,
		LastEvidence: evidence.Truncate(indented(last), interpreterInputChars),
	})
	if err != nil {
		return domain.Delta{}, err
	}
	res := reasoning.Structured[interpretation](ctx, w.reasoner, p)
	if !res.OK() {
		w.fallback(res.Err, "no interpreted evidence")
		return domain.Delta{}, nil
	}
	items := make([]domain.InterpretedEvidence, 0, len(res.Value.Items))
	for _, it := range res.Value.Items {
		if it.SubjectID == "" && it.ObjectID == "" {
			continue
		}
		items = append(items, domain.InterpretedEvidence{
			SubjectID:    it.SubjectID,
			Predicate:    it.Predicate,
			ObjectID:     it.ObjectID,
			EvidenceType: evidence.ParseEvidenceType(it.EvidenceType),
			Strength:     evidence.ClampStrength(it.Strength),
			SourceStep:   last.Step,
			Rationale:    it.Rationale,
		})
	}
	w.logger.Info("evidence interpreted", "session_id", s.SessionID, "items", len(items))
	return domain.Delta{InterpretedEvidence: items}, nil
}

func negativeKnowledge(r domain.EvidenceRecord, iteration int) domain.NegativeKnowledge {
	entity := guard.SourceOf(r.Args)
	if entity == "" {
		entity = "unknown"
	}
	predicate := "unknown"
	if preds := guard.PredicatesOf(r.Args); len(preds) > 0 {
		predicate = preds[0]
	}
	reason := r.Error
	if reason == "" {
		reason = "Timeout/Error"
	}
	return domain.NegativeKnowledge{
		Entity:        entity,
		Predicate:     predicate,
		FailureReason: reason,
		Iteration:     iteration,
	}
}
