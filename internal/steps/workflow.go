// Package steps implements the research workflow: plan negotiation, exploration,
// analysis, decision and synthesis, wired into a runtime.Graph.
package steps

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/aretw0/kopernicus/internal/capability"
	"github.com/aretw0/kopernicus/internal/evidence"
	"github.com/aretw0/kopernicus/internal/guard"
	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/aretw0/kopernicus/internal/prompts"
	"github.com/aretw0/kopernicus/internal/runtime"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/aretw0/kopernicus/pkg/ports"
)

// Step names.
const (
	Intake             = "intake"
	Reset              = "reset"
	ProposePlan        = "propose_plan"
	Gatekeeper         = "gatekeeper"
	Contract           = "contract"
	Planner            = "planner"
	Executor           = "executor"
	Interpreter        = "interpreter"
	SchemaAnalyzer     = "schema_analyzer"
	CoverageAnalyzer   = "coverage_analyzer"
	LoopDetector       = "loop_detector"
	Steward            = "steward"
	Decision           = "decision"
	ExplorationPlanner = "exploration_planner"
	SynthesisPlanner   = "synthesis_planner"
	AnswerGenerator    = "answer_generator"
)

// recentWindow is how many trailing steps the analyzers look at.
const recentWindow = 5

// Workflow holds the collaborators shared by every step.
type Workflow struct {
	reasoner    ports.ReasoningProvider
	adapter     *capability.Adapter
	policy      guard.Policy
	evidenceCap int
	logger      *slog.Logger
	hooks       domain.LifecycleHooks
}

// Option configures the Workflow.
type Option func(*Workflow)

// WithPolicy sets the loop guard and steward cadence.
func WithPolicy(p guard.Policy) Option {
	return func(w *Workflow) {
		w.policy = p
	}
}

// WithEvidenceCap bounds the evidence shown to planning prompts.
func WithEvidenceCap(n int) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.evidenceCap = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithLifecycleHooks sets the hooks; the decision step fires OnOverride.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(w *Workflow) {
		w.hooks = hooks
	}
}

// New creates the workflow steps.
func New(reasoner ports.ReasoningProvider, adapter *capability.Adapter, opts ...Option) *Workflow {
	w := &Workflow{
		reasoner:    reasoner,
		adapter:     adapter,
		policy:      guard.DefaultPolicy(),
		evidenceCap: evidence.DefaultCap,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Graph wires the steps.
//
//	entry -> reset (after an answer) | intake
//	intake -> end (rejected) | propose_plan | gatekeeper
//	gatekeeper -> contract (approved) | propose_plan
//	propose_plan -> suspend
//	contract -> planner -> executor -> interpreter -> schema_analyzer -> coverage_analyzer
//	  -> loop_detector -> steward -> decision
//	decision -> exploration_planner -> executor | synthesis_planner -> answer_generator | answer_generator
func (w *Workflow) Graph() *runtime.Graph {
	g := runtime.NewGraph().Add(
		runtime.NewStep(Intake, w.intake),
		runtime.NewStep(Reset, w.reset),
		runtime.NewStep(ProposePlan, w.proposePlan),
		runtime.NewStep(Gatekeeper, w.gatekeeper),
		runtime.NewStep(Contract, w.contract),
		runtime.NewStep(Planner, w.planner),
		runtime.NewStep(Executor, w.execute),
		runtime.NewStep(Interpreter, w.interpret),
		runtime.NewStep(SchemaAnalyzer, w.schemaAnalyzer),
		runtime.NewStep(CoverageAnalyzer, w.coverageAnalyzer),
		runtime.NewStep(LoopDetector, w.loopDetector),
		runtime.NewStep(Steward, w.steward),
		runtime.NewStep(Decision, w.decide),
		runtime.NewStep(ExplorationPlanner, w.explorationPlanner),
		runtime.NewStep(SynthesisPlanner, w.synthesisPlanner),
		runtime.NewStep(AnswerGenerator, w.answerGenerator),
	)

	g.Entry(routeEntry, Reset, Intake)
	g.Edge(Reset, Intake)
	g.Route(Intake, routeIntake, runtime.End, ProposePlan, Gatekeeper, Contract, ExplorationPlanner)
	g.Route(Gatekeeper, routeGatekeeper, Contract, ProposePlan)
	g.Suspend(ProposePlan)

	g.Edge(Contract, Planner)
	g.Edge(Planner, Executor)
	g.Edge(Executor, Interpreter)
	g.Edge(Interpreter, SchemaAnalyzer)
	g.Edge(SchemaAnalyzer, CoverageAnalyzer)
	g.Edge(CoverageAnalyzer, LoopDetector)
	g.Edge(LoopDetector, Steward)
	g.Edge(Steward, Decision)
	g.Route(Decision, routeDecision, ExplorationPlanner, SynthesisPlanner, AnswerGenerator)
	g.Edge(ExplorationPlanner, Executor)
	g.Edge(SynthesisPlanner, AnswerGenerator)
	g.Edge(AnswerGenerator, runtime.End)
	return g
}

// routeEntry starts a new episode only for a real question; blank input after an
// answer goes to intake, which rejects it and leaves the episode intact.
func routeEntry(s *domain.ResearchState) string {
	if s.Phase.IsTerminal() && strings.TrimSpace(s.Query) != "" {
		return Reset
	}
	return Intake
}

func routeIntake(s *domain.ResearchState) string {
	if s.InputRejected {
		return runtime.End
	}
	switch s.Negotiation() {
	case domain.NegotiationNoPlan:
		return ProposePlan
	case domain.NegotiationProposed:
		return Gatekeeper
	}
	if s.AnswerContract == nil {
		return Contract
	}
	return ExplorationPlanner
}

func routeGatekeeper(s *domain.ResearchState) string {
	if s.IsPlanApproved {
		return Contract
	}
	return ProposePlan
}

func routeDecision(s *domain.ResearchState) string {
	switch s.Decision {
	case domain.DecisionStop:
		return AnswerGenerator
	case domain.DecisionSynthesize:
		return SynthesisPlanner
	}
	if s.AtIterationLimit() {
		return SynthesisPlanner
	}
	return ExplorationPlanner
}

// prompt renders a prompt. Template errors are programming errors and abort the turn.
func prompt(name string, data prompts.Data) (ports.Prompt, error) {
	p, err := prompts.Build(name, data)
	if err != nil {
		return ports.Prompt{}, fmt.Errorf("build prompt: %w", err)
	}
	return p, nil
}

func (w *Workflow) fallback(f *domain.ReasoningFailure, what string) {
	w.logger.Warn("reasoning failed, using fallback",
		"step", f.Step,
		"kind", f.Kind,
		"fallback", what,
		"err", f.Err,
	)
}

// anchor is the question the episode is about.
func anchor(s *domain.ResearchState) string {
	if s.OriginalQuery != "" {
		return s.OriginalQuery
	}
	return s.Query
}

func recentSteps(steps []domain.PastStep, n int) []string {
	if len(steps) > n {
		steps = steps[len(steps)-n:]
	}
	out := make([]string, 0, len(steps))
	for _, p := range steps {
		out = append(out, p.Action+" -> "+p.Outcome)
	}
	return out
}

// uniquePatterns drops repeated schema patterns, keeping first-seen order.
func uniquePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func lastRecord(s *domain.ResearchState) (domain.EvidenceRecord, bool) {
	if len(s.Evidence) == 0 {
		return domain.EvidenceRecord{}, false
	}
	return s.Evidence[len(s.Evidence)-1], true
}

func indented(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
