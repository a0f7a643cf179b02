package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/kopernicus/internal/evidence"
	"github.com/aretw0/kopernicus/internal/guard"
	"github.com/aretw0/kopernicus/internal/prompts"
	"github.com/aretw0/kopernicus/internal/reasoning"
	"github.com/aretw0/kopernicus/pkg/domain"
)

const (
	schemaInputChars    = 10000
	fallbackDensity     = 5
	stewardSummaryChars = 200
	// compact log view shown to the steward
	stewardTrajectory = 5
	stewardTail       = 3
)

type schemaOutput struct {
	Patterns      []string `json:"patterns" jsonschema:"description=Patterns such as ChemicalEntity -[biolink:treats]-> Disease"`
	NewPredicates []string `json:"new_predicates_discovered,omitempty"`
}

type coverageOutput struct {
	ExploredPredicates   []string `json:"explored_predicates"`
	UnexploredPredicates []string `json:"unexplored_promising_predicates,omitempty"`
	DensityScore         int      `json:"density_score" jsonschema:"minimum=0,maximum=10"`
}

func (c *coverageOutput) Validate() error {
	if c.DensityScore < 0 || c.DensityScore > 10 {
		return fmt.Errorf("density_score %d out of range 0..10", c.DensityScore)
	}
	return nil
}

type loopOutput struct {
	IsLooping       bool   `json:"is_looping"`
	RepeatedPattern string `json:"repeated_pattern,omitempty"`
	Recommendation  string `json:"recommendation" jsonschema:"description=What must change when looping; Continue otherwise"`
}

type stewardLog struct {
	ResolvedEntities   map[string]string   `json:"resolved_entities,omitempty" jsonschema:"description=Entity name to identifier"`
	Trajectory         []string            `json:"trajectory,omitempty"`
	DeprioritizedPaths []string            `json:"deprioritized_paths,omitempty"`
	Hypotheses         []domain.Hypothesis `json:"hypotheses,omitempty"`
	OpenQuestions      []string            `json:"open_questions,omitempty"`
}

type stewardOutput struct {
	UpdatedLog      stewardLog             `json:"updated_log"`
	HardConstraints domain.HardConstraints `json:"hard_constraints"`
	Signal          string                 `json:"novelty_signal" jsonschema:"enum=steady,enum=stuck,enum=drifting"`
	UpdatesMade     []string               `json:"updates_made,omitempty"`
}

// compactLog is the bounded view of the community log given to the steward.
type compactLog struct {
	ResolvedEntities   map[string]string `json:"resolved_entities"`
	Trajectory         []string          `json:"trajectory"`
	NoveltyBudget      int               `json:"novelty_budget"`
	OpenQuestions      []string          `json:"open_questions"`
	Hypotheses         []compactHypothesis `json:"hypotheses"`
	DeprioritizedPaths []string          `json:"deprioritized_paths"`
}

type compactHypothesis struct {
	ID        string                  `json:"id"`
	Statement string                  `json:"statement"`
	Status    domain.HypothesisStatus `json:"status"`
}

func compact(l domain.CommunityLog) compactLog {
	hyps := make([]compactHypothesis, 0, stewardTail)
	for _, h := range tail(l.Hypotheses, stewardTail) {
		hyps = append(hyps, compactHypothesis{ID: h.ID, Statement: h.Statement, Status: h.Status})
	}
	return compactLog{
		ResolvedEntities:   l.ResolvedEntities,
		Trajectory:         tail(l.Trajectory, stewardTrajectory),
		NoveltyBudget:      l.NoveltyBudget,
		OpenQuestions:      tail(l.OpenQuestions, stewardTail),
		Hypotheses:         hyps,
		DeprioritizedPaths: tail(l.DeprioritizedPaths, stewardTail),
	}
}

func tail[T any](s []T, n int) []T {
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

// skipsSchema reports whether a tool result carries no relationship structure.
func (w *Workflow) skipsSchema(tool string) bool {
	cfg := w.adapter.Config()
	return tool == "" || tool == cfg.ResolutionTool || tool == cfg.NormalizationTool
}

func (w *Workflow) schemaAnalyzer(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	last, ok := lastRecord(s)
	if !ok || w.skipsSchema(last.Tool) {
		return domain.Delta{}, nil
	}
	raw := indented(last)
	if len(raw) > schemaInputChars {
		raw = evidence.Truncate(raw, schemaInputChars) + "...(truncated)"
	}
	p, err := prompt(prompts.SchemaAnalyzer, prompts.Data{LastEvidence: raw})
	if err != nil {
		return domain.Delta{}, err
	}
	res := reasoning.Structured[schemaOutput](ctx, w.reasoner, p)
	if !res.OK() {
		w.fallback(res.Err, "no patterns")
		return domain.Delta{}, nil
	}
	w.logger.Info("schema patterns found", "session_id", s.SessionID, "count", len(res.Value.Patterns))
	return domain.Delta{SchemaPatterns: res.Value.Patterns}, nil
}

func (w *Workflow) coverageAnalyzer(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	p, err := prompt(prompts.CoverageAnalyzer, prompts.Data{
		Input:          anchor(s),
		SchemaPatterns: uniquePatterns(s.SchemaPatterns),
		PastSteps:      recentSteps(s.PastSteps, recentWindow),
	})
	if err != nil {
		return domain.Delta{}, err
	}
	res := reasoning.Structured[coverageOutput](ctx, w.reasoner, p)
	cov := domain.Coverage{DensityScore: fallbackDensity}
	if res.OK() {
		cov = domain.Coverage{
			ExploredPredicates:   res.Value.ExploredPredicates,
			UnexploredPredicates: res.Value.UnexploredPredicates,
			DensityScore:         res.Value.DensityScore,
		}
	} else {
		w.fallback(res.Err, "density 5")
	}
	w.logger.Info("coverage assessed", "session_id", s.SessionID, "density", cov.DensityScore)
	return domain.Delta{CoverageAssessment: &cov}, nil
}

func (w *Workflow) loopDetector(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	p, err := prompt(prompts.LoopDetector, prompts.Data{
		PastSteps:      recentSteps(s.PastSteps, recentWindow),
		SchemaPatterns: uniquePatterns(s.SchemaPatterns),
	})
	if err != nil {
		return domain.Delta{}, err
	}
	report := domain.LoopReport{Recommendation: "Continue"}
	if res := reasoning.Structured[loopOutput](ctx, w.reasoner, p); res.OK() {
		report = domain.LoopReport{
			IsLooping:       res.Value.IsLooping,
			RepeatedPattern: res.Value.RepeatedPattern,
			Recommendation:  res.Value.Recommendation,
		}
		if report.Recommendation == "" {
			report.Recommendation = "Continue"
		}
	} else {
		w.fallback(res.Err, "not looping")
	}
	if report.IsLooping {
		w.logger.Warn("loop detected", "session_id", s.SessionID, "pattern", report.RepeatedPattern)
	}
	return domain.Delta{LoopDetection: &report}, nil
}

// steward maintains the community log on its cadence. When a loop is flagged the
// continuation that produced the last relationship call is banned even if the
// provider fails.
func (w *Workflow) steward(ctx context.Context, s *domain.ResearchState) (domain.Delta, error) {
	looping := s.LoopDetection.IsLooping
	if !w.policy.StewardDue(len(s.PastSteps), looping) {
		w.logger.Debug("steward not due", "session_id", s.SessionID, "steps", len(s.PastSteps))
		return domain.Delta{}, nil
	}

	var bans []domain.Continuation
	if looping {
		bans = loopBans(s.Evidence)
	}

	p, err := prompt(prompts.Steward, prompts.Data{
		CommunityLog: compact(s.CommunityLog),
		PastSteps:    recentSteps(s.PastSteps, recentWindow),
		Evidence:     evidence.Summarize(successful(evidence.Prune(s.Evidence, w.evidenceCap)), stewardSummaryChars),
		Loop:         s.LoopDetection,
	})
	if err != nil {
		return domain.Delta{}, err
	}
	res := reasoning.Structured[stewardOutput](ctx, w.reasoner, p)
	if !res.OK() {
		w.fallback(res.Err, "keep community log")
		if len(bans) == 0 {
			return domain.Delta{}, nil
		}
		return domain.Delta{HardConstraints: &domain.HardConstraints{ForbiddenContinuations: bans}}, nil
	}

	out := res.Value
	log := mergeLog(s.CommunityLog, out.UpdatedLog)
	log = guard.AdjustNovelty(log, guard.NoveltySignal(out.Signal))
	constraints := out.HardConstraints
	constraints.ForbiddenContinuations = append(constraints.ForbiddenContinuations, bans...)

	w.logger.Info("community log updated",
		"session_id", s.SessionID,
		"updates", out.UpdatesMade,
		"novelty_budget", log.NoveltyBudget,
	)
	return domain.Delta{CommunityLog: &log, HardConstraints: &constraints}, nil
}

// mergeLog applies a steward update. The log only accretes: list entries are
// appended once, hypotheses are upserted by ID (falling back to the statement)
// and resolved entities are kept unless re-mapped.
func mergeLog(current domain.CommunityLog, update stewardLog) domain.CommunityLog {
	out := current.Clone()
	for name, id := range update.ResolvedEntities {
		if out.ResolvedEntities == nil {
			out.ResolvedEntities = make(map[string]string)
		}
		out.ResolvedEntities[name] = id
	}
	out.Trajectory = appendNew(out.Trajectory, update.Trajectory)
	out.DeprioritizedPaths = appendNew(out.DeprioritizedPaths, update.DeprioritizedPaths)
	out.OpenQuestions = appendNew(out.OpenQuestions, update.OpenQuestions)
	for _, h := range update.Hypotheses {
		out.Hypotheses = upsertHypothesis(out.Hypotheses, h)
	}
	if out.NoveltyBudget == 0 {
		out.NoveltyBudget = domain.DefaultNoveltyBudget
	}
	return out
}

// appendNew appends the non-blank entries of add that dst does not hold yet.
func appendNew(dst, add []string) []string {
	seen := make(map[string]bool, len(dst)+len(add))
	for _, v := range dst {
		seen[normalizeEntry(v)] = true
	}
	for _, v := range add {
		key := normalizeEntry(v)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		dst = append(dst, strings.TrimSpace(v))
	}
	return dst
}

func normalizeEntry(v string) string {
	return strings.ToLower(strings.Join(strings.Fields(v), " "))
}

// upsertHypothesis updates the hypothesis matching h or appends h. Support only grows.
func upsertHypothesis(hyps []domain.Hypothesis, h domain.Hypothesis) []domain.Hypothesis {
	h.Statement = strings.TrimSpace(h.Statement)
	switch h.Status {
	case domain.HypothesisProvisional, domain.HypothesisValidated, domain.HypothesisRefuted:
	default:
		h.Status = ""
	}
	for i := range hyps {
		same := h.ID != "" && hyps[i].ID == h.ID
		if h.ID == "" && h.Statement != "" {
			same = normalizeEntry(hyps[i].Statement) == normalizeEntry(h.Statement)
		}
		if !same {
			continue
		}
		if h.Statement != "" {
			hyps[i].Statement = h.Statement
		}
		if h.Status != "" {
			hyps[i].Status = h.Status
		}
		hyps[i].Support = appendNew(hyps[i].Support, h.Support)
		return hyps
	}
	if h.Statement == "" {
		return hyps
	}
	if h.ID == "" {
		h.ID = nextHypothesisID(hyps)
	}
	if h.Status == "" {
		h.Status = domain.HypothesisProvisional
	}
	h.Support = appendNew(nil, h.Support)
	return append(hyps, h)
}

func nextHypothesisID(hyps []domain.Hypothesis) string {
	used := make(map[string]bool, len(hyps))
	for _, h := range hyps {
		used[h.ID] = true
	}
	for n := len(hyps) + 1; ; n++ {
		if id := fmt.Sprintf("H%d", n); !used[id] {
			return id
		}
	}
}

// loopBans bans the continuation of the most recent relationship call.
func loopBans(records []domain.EvidenceRecord) []domain.Continuation {
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if !evidence.IsRelationship(r.Tool) {
			continue
		}
		return guard.LoopContinuations(guard.SourceOf(r.Args), guard.PredicatesOf(r.Args))
	}
	return nil
}

func successful(records []domain.EvidenceRecord) []domain.EvidenceRecord {
	out := make([]domain.EvidenceRecord, 0, len(records))
	for _, r := range records {
		if r.Succeeded() {
			out = append(out, r)
		}
	}
	return out
}
