package steps

import (
	"context"
	"strings"

	"github.com/aretw0/kopernicus/internal/prompts"
	"github.com/aretw0/kopernicus/internal/reasoning"
	"github.com/aretw0/kopernicus/pkg/domain"
)

// EmptyInputFeedback is the response to a blank question.
const EmptyInputFeedback = "Please enter a research question."

type validation struct {
	IsValid  bool   `json:"is_valid" jsonschema:"description=Whether the input is a specific biomedical research question"`
	Feedback string `json:"feedback" jsonschema:"description=What is missing when the input is not valid"`
}

type approval struct {
	Decision string `json:"decision" jsonschema:"enum=approved,enum=feedback"`
}

// reset starts a new episode for a question asked after an answer was delivered.
func (w *Workflow) reset(_ context.Context, s *domain.ResearchState) (domain.Delta, error) {
	w.logger.Info("starting new episode", "session_id", s.SessionID, "episode", s.Episode+1)
	return domain.Delta{ResetEpisode: true, Query: domain.Ptr(s.Query)}, nil
}

// intake screens a new question. Replies to a pending proposal are never screened.
func (w *Workflow) intake(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	query := strings.TrimSpace(s.Query)
	if query == "" && s.Phase.IsTerminal() {
		return domain.Delta{InputRejected: domain.Ptr(true)}, nil
	}
	if query == "" {
		return domain.Delta{InputRejected: domain.Ptr(true), Response: domain.Ptr(EmptyInputFeedback)}, nil
	}
	if s.Negotiation() != domain.NegotiationNoPlan {
		return domain.Delta{InputRejected: domain.Ptr(false)}, nil
	}

	p, err := prompt(prompts.QueryValidator, prompts.Data{Input: query})
	if err != nil {
		return domain.Delta{}, err
	}
	res := reasoning.Structured[validation](ctx, w.reasoner, p)
	v := res.OrElse(func(f *domain.ReasoningFailure) validation {
		w.fallback(f, "accept input")
		return validation{IsValid: true}
	})
	if !v.IsValid {
		w.logger.Info("input rejected", "session_id", s.SessionID)
		feedback := v.Feedback
		if feedback == "" {
			feedback = EmptyInputFeedback
		}
		return domain.Delta{InputRejected: domain.Ptr(true), Response: domain.Ptr(feedback)}, nil
	}

	d := domain.Delta{InputRejected: domain.Ptr(false)}
	if s.OriginalQuery == "" {
		d.OriginalQuery = domain.Ptr(query)
	}
	return d, nil
}

// proposePlan drafts or revises the plan and hands it to the caller for review.
func (w *Workflow) proposePlan(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	p, err := prompt(prompts.Proposer, prompts.Data{
		OriginalQuery: anchor(s),
		PreviousPlan:  s.PlanProposal,
		Feedback:      s.PlanningFeedback,
	})
	if err != nil {
		return domain.Delta{}, err
	}

	d := domain.Delta{Phase: domain.Ptr(domain.PhaseNegotiatingPlan)}
	if s.OriginalQuery == "" {
		d.OriginalQuery = domain.Ptr(s.Query)
	}

	res := reasoning.Text(ctx, w.reasoner, p)
	if res.Err != nil && res.Err.Kind != domain.ReasoningEmpty {
		w.fallback(res.Err, "keep previous plan")
		d.Response = domain.Ptr("I encountered an error generating the plan: " + reasoning.Message(res.Err) +
			". Please try giving a simpler instruction.")
		return d, nil
	}

	plan := strings.TrimSpace(res.Value)
	if plan == "" {
		w.logger.Warn("empty plan proposal, keeping previous plan", "session_id", s.SessionID)
		plan = s.PlanProposal
		if plan == "" {
			plan = "Error generating updated plan."
		}
	}
	w.logger.Info("plan proposed", "session_id", s.SessionID, "length", len(plan))
	d.PlanProposal = domain.Ptr(plan)
	d.Response = domain.Ptr(plan)
	return d, nil
}

// gatekeeper classifies the caller reply to a proposal.
func (w *Workflow) gatekeeper(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	if s.PlanProposal == "" {
		return domain.Delta{IsPlanApproved: domain.Ptr(false)}, nil
	}
	p, err := prompt(prompts.Gatekeeper, prompts.Data{Input: s.Query, PreviousPlan: s.PlanProposal})
	if err != nil {
		return domain.Delta{}, err
	}
	res := reasoning.Structured[approval](ctx, w.reasoner, p)
	verdict := domain.ApprovalFeedback
	if res.OK() {
		verdict = domain.ParseApproval(res.Value.Decision)
	} else {
		w.fallback(res.Err, "treat reply as feedback")
	}
	w.logger.Info("plan reply classified", "session_id", s.SessionID, "approval", verdict)

	if verdict == domain.ApprovalApproved {
		return domain.Delta{
			Phase:            domain.Ptr(domain.PhaseExploring),
			IsPlanApproved:   domain.Ptr(true),
			PlanningFeedback: domain.Ptr(""),
			Response:         domain.Ptr(""),
		}, nil
	}
	return domain.Delta{
		IsPlanApproved:   domain.Ptr(false),
		PlanningFeedback: domain.Ptr(s.Query),
	}, nil
}
