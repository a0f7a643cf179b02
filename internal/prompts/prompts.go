// Package prompts renders the reasoning provider requests of every workflow step.
package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/aretw0/kopernicus/pkg/ports"
)

// Prompt names, one per call site.
const (
	QueryValidator     = "query_validator"
	Proposer           = "proposer"
	Gatekeeper         = "gatekeeper"
	Contract           = "contract"
	Planner            = "planner"
	ToolChoice         = "tool_choice"
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

// Data feeds the templates. Each prompt reads only the fields it needs.
type Data struct {
	Input         string
	OriginalQuery string

	Feedback     string
	PreviousPlan string
	ApprovedPlan string

	Action string
	Tools  []ports.ToolDescriptor

	Contract          any
	Constraints       any
	ResolvedEntities  any
	NegativeKnowledge any
	CommunityLog      any

	Evidence       string
	LastEvidence   string
	PastSteps      []string
	SchemaPatterns []string

	Coverage           any
	Loop               any
	LoopRecommendation string

	Iteration           int
	MaxIterations       int
	UniqueEntities      int
	MinUniqueEntities   int
	ConsecutiveFailures int

	NoveltyBudget   int
	NoveltyBand     string
	NoveltyGuidance string

	DecisionReasoning string
	SynthesisPlan     string
}

const mission = `You are a member of a biomedical discovery team.
The team produces evidence-grounded, scientifically defensible answers to biomedical questions
by exploring a structured knowledge graph.

Every conclusion must be explicitly supported by retrieved evidence and traceable to
specific entities and relations.`

type promptDef struct {
	role string
	user string
}

var definitions = map[string]promptDef{
	QueryValidator: {
		role: "You are the intake officer. Decide whether the input is a specific biomedical research question.",
		user: `Valid inputs name biological entities or relationships ("What treats diabetes?").
Vague or conversational inputs ("hello", "biology") are invalid; explain what is missing in feedback.

Input: "{{.Input}}"

Reply with JSON: {"is_valid": bool, "feedback": string}`,
	},
	Proposer: {
		role: "You are the principal investigator drafting the research plan for the team to approve.",
		user: `Research question (anchor, do not change its intent):
{{.OriginalQuery}}
{{- if .PreviousPlan}}

Current plan:
{{.PreviousPlan}}
{{- end}}
{{- if .Feedback}}

Reviewer feedback to incorporate:
{{.Feedback}}
{{- end}}

Write the complete plan as a short numbered list: entity resolution, edge scouting,
targeted edge fetching and synthesis. Always return the whole plan, never a diff.`,
	},
	Gatekeeper: {
		role: "You are the protocol officer. Classify the reviewer reply to a proposed plan.",
		user: `Proposed plan:
{{.PreviousPlan}}

Reviewer reply: "{{.Input}}"

Answer "approved" only if the reply explicitly accepts the plan as is.
Anything else, including questions and change requests, is "feedback".

Reply with JSON: {"decision": "approved" | "feedback"}`,
	},
	Contract: {
		role: "You are the scientific architect. Define when the question is answered.",
		user: `Question: {{.OriginalQuery}}

Approved plan:
{{.ApprovedPlan}}

Classify the query type (treatment, mechanism, association, hypothesis) and list the
biolink predicates an answer must rely on, the entity types it must name and the
minimum number of distinct entities.

Reply with JSON matching the schema.`,
	},
	Planner: {
		role: "You are the principal investigator choosing the first experiment.",
		user: `Question: {{.OriginalQuery}}

Approved plan:
{{.ApprovedPlan}}

Answer contract:
{{json .Contract}}

Return the ordered steps of the initial investigation and the overall strategy.
Only the first step will run; make it an entity resolution or scouting step.`,
	},
	ToolChoice: {
		role: "You translate one research action into exactly one tool call.",
		user: `Action: {{.Action}}

Available tools:
{{- range .Tools}}
- {{.Name}}: {{.Description}}
{{- if .InputSchema}}
  input: {{json .InputSchema}}
{{- end}}
{{- end}}
{{- if .ResolvedEntities}}

Known identifiers:
{{json .ResolvedEntities}}
{{- end}}

Use exact identifiers (e.g. "MONDO:0005015"), never names glued to identifiers.
A predicate argument is a single string such as "biolink:treats".
Reply with JSON: {"tool": string, "arguments": object}. Use an empty tool when no tool fits.`,
	},
	Interpreter: {
		role: "You are the evidence analyst. Turn raw relationship results into scored evidence.",
		user: `Answer contract:
{{json .Contract}}

Raw evidence:
{{.LastEvidence}}

For each relevant relation give subject_id, predicate, object_id, evidence_type
(direct, mechanistic or associative), strength from 1 to 5 and a one-line rationale.`,
	},
	SchemaAnalyzer: {
		role: "You are the data structure analyst. Extract concrete relationship patterns only.",
		user: `Last tool output:
{{.LastEvidence}}

List every pattern as "SubjectType -[predicate]-> ObjectType",
e.g. "ChemicalEntity -[biolink:treats]-> Disease".`,
	},
	CoverageAnalyzer: {
		role: "You are the research auditor. Coverage means answerability, not breadth.",
		user: `Question: {{.Input}}

Known patterns:
{{range .SchemaPatterns}}- {{.}}
{{end}}
Recent steps:
{{range .PastSteps}}- {{.}}
{{end}}
Score density from 0 to 10: 7-10 the answer can be written now, 4-6 gaps remain,
0-3 core entities or explanations are missing. For treatment questions coverage is low
until drugs were retrieved through a treatment predicate. List the predicates explored
and the promising unexplored ones.`,
	},
	LoopDetector: {
		role: "You are the methods reviewer. Detect unproductive repetition.",
		user: `Recent steps:
{{range .PastSteps}}- {{.}}
{{end}}
Known patterns:
{{range .SchemaPatterns}}- {{.}}
{{end}}
Are the same tools called with the same arguments, the same errors repeating, or three
similar approaches without progress? If so describe the pattern and recommend what
must change; otherwise recommend "Continue".`,
	},
	Steward: {
		role: "You are the alignment coordinator maintaining the team's research log.",
		user: `Current log:
{{json .CommunityLog}}

Recent steps:
{{range .PastSteps}}- {{.}}
{{end}}
Evidence:
{{.Evidence}}

Loop detection:
{{json .Loop}}

Report only additions: new resolved entities (name to identifier), new trajectory entries,
open questions and deprioritized paths. For hypotheses, reuse the id of a listed hypothesis to
change its status or add support; give new hypotheses a new id. Entries you omit are kept.
Add hard constraints only for paths that provably loop.
Signal "stuck" when exploration keeps re-verifying known facts, "drifting" when it strays
from the anchor entities, otherwise "steady".`,
	},
	Decision: {
		role: "You are the research director deciding whether the evidence is sufficient.",
		user: `Question: {{.Input}}

Answer contract:
{{json .Contract}}

Distinct qualifying entities: {{.UniqueEntities}} of {{.MinUniqueEntities}} required.
Consecutive unproductive steps: {{.ConsecutiveFailures}}
Iteration: {{.Iteration}}/{{.MaxIterations}}
Coverage: {{json .Coverage}}
Loop: {{json .Loop}}

Interpreted evidence:
{{.Evidence}}

Decide "explore", "synthesize" or "stop", with one or two sentences of reasoning that cite
evidence. Synthesize only when the evidence alone answers the question.`,
	},
	ExplorationPlanner: {
		role: "You are the field researcher choosing the next experiment to reduce uncertainty.",
		user: `Question: {{.Input}}

Answer contract:
{{json .Contract}}

Resolved entities:
{{json .ResolvedEntities}}

Hard constraints:
{{json .Constraints}}

Failed paths:
{{json .NegativeKnowledge}}

Evidence so far:
{{.Evidence}}

Novelty budget {{.NoveltyBudget}} ({{.NoveltyBand}}): {{.NoveltyGuidance}}
Epistemic status: {{.DecisionReasoning}}
Loop recommendation: {{.LoopRecommendation}}

Choose ONE concrete action. Prefer scouting with an edge summary when the schema is empty.
Never repeat the last step when a loop was flagged.`,
	},
	SynthesisPlanner: {
		role: "You are the senior author structuring the final explanation.",
		user: `Question: {{.Input}}

Evidence summary:
{{.Evidence}}

Known patterns:
{{range .SchemaPatterns}}- {{.}}
{{end}}
Outline the sections of the answer and the evidence items to cite.`,
	},
	AnswerGenerator: {
		role: "You are the lead author writing the final report. Every claim cites evidence.",
		user: `Question: {{.Input}}

Answer plan:
{{.SynthesisPlan}}

Evidence:
{{.Evidence}}

Cite every entity as "Name (PREFIX:ID)" using identifiers exactly as they appear in the
evidence; write "(ID not found)" otherwise and never reuse an identifier for another entity.
Give a confidence (high, medium or low) and the limitations, or "None".`,
	},
}

var funcs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	},
}

var templates = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(definitions))
	for name, s := range definitions {
		out[name] = template.Must(template.New(name).Funcs(funcs).Parse(s.user))
	}
	return out
}()

// Build renders the named prompt.
func Build(name string, data Data) (ports.Prompt, error) {
	tmpl, ok := templates[name]
	if !ok {
		return ports.Prompt{}, fmt.Errorf("unknown prompt %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return ports.Prompt{}, fmt.Errorf("render prompt %s: %w", name, err)
	}
	return ports.Prompt{
		Name:   name,
		System: mission + "\n\n" + definitions[name].role,
		User:   buf.String(),
	}, nil
}

// Names lists every registered prompt.
func Names() []string {
	out := make([]string, 0, len(definitions))
	for name := range definitions {
		out = append(out, name)
	}
	return out
}
