package evidence

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// Limits applied when rendering evidence for the final answer.
const (
	AnswerMaxItems      = 15
	AnswerMaxItemChars  = 2000
	AnswerMaxTotalChars = 30000
)

const truncatedMarker = "\n...(truncated)"

// answerItem is the rendering of one record handed to the answer generator.
type answerItem struct {
	Step string         `json:"step"`
	Tool string         `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`
	Data string         `json:"data,omitempty"`
}

func payloadString(r domain.EvidenceRecord) string {
	if r.Payload == nil {
		return r.Text
	}
	if s, ok := r.Payload.(string); ok {
		return s
	}
	b, err := json.Marshal(r.Payload)
	if err != nil {
		return r.Text
	}
	return string(b)
}

// ForAnswer renders the most recent successful evidence, bounded per item and in total.
func ForAnswer(records []domain.EvidenceRecord) string {
	items := Successful(records, AnswerMaxItems)
	parts := make([]string, 0, len(items))
	for i, r := range items {
		item := answerItem{
			Step: r.Step,
			Tool: r.Tool,
			Args: r.Args,
			Data: Truncate(payloadString(r), AnswerMaxItemChars),
		}
		b, err := json.MarshalIndent(item, "", "  ")
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("Evidence %d:\n%s", i+1, b))
	}
	out := strings.Join(parts, "\n\n")
	if len(out) > AnswerMaxTotalChars {
		out = Truncate(out, AnswerMaxTotalChars) + truncatedMarker
	}
	return out
}

// Summarize renders records as one line each, for planning prompts.
func Summarize(records []domain.EvidenceRecord, itemChars int) string {
	var b strings.Builder
	for _, r := range records {
		switch r.Status {
		case domain.StatusSuccess:
			fmt.Fprintf(&b, "- [%s] %s: %s\n", r.Status, r.Tool, Snippet(payloadString(r), itemChars))
		default:
			fmt.Fprintf(&b, "- [%s] %s: %s\n", r.Status, r.Tool, Snippet(r.Error, itemChars))
		}
	}
	return b.String()
}

// Fallback renders the first successful records when the answer generator fails.
func Fallback(records []domain.EvidenceRecord) string {
	items := Successful(records, 0)
	if len(items) > 2 {
		items = items[:2]
	}
	var texts []string
	for _, r := range items {
		texts = append(texts, fmt.Sprintf("%s: %s", r.Tool, payloadString(r)))
	}
	if len(texts) == 0 {
		return "Based on collected evidence: no successful results were gathered."
	}
	return "Based on collected evidence: " + Truncate(strings.Join(texts, "; "), 500) + "..."
}
