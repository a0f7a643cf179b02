package evidence

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// identifierPattern matches compact identifiers such as MONDO:0005148.
var identifierPattern = regexp.MustCompile(`\b([A-Z][A-Z0-9]+:\d+)\b`)

// Identifiers extracts identifier tokens from text, deduplicated in order of first
// appearance and capped at limit (no cap when limit <= 0).
func Identifiers(text string, limit int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range identifierPattern.FindAllStringSubmatch(text, -1) {
		id := m[1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ResolvedFromEvidence lists identifiers seen in successful evidence, in order of first
// appearance. It reads edge endpoints and node payloads carrying a curie or id, and
// falls back to identifier tokens in the record text.
func ResolvedFromEvidence(records []domain.EvidenceRecord, limit int) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(id string) bool {
		if id == "" {
			return false
		}
		if _, ok := seen[id]; ok {
			return false
		}
		seen[id] = struct{}{}
		out = append(out, id)
		return limit > 0 && len(out) >= limit
	}

	for _, r := range records {
		if !r.Succeeded() {
			continue
		}
		for _, e := range decodeEdges(r.Payload) {
			if add(e.Subject.ID) || add(e.Object.ID) {
				return out
			}
		}
		if n, ok := decodeNode(r.Payload); ok {
			if add(n.Curie) || add(n.ID) {
				return out
			}
		}
		for _, id := range Identifiers(r.Text, 0) {
			if add(id) {
				return out
			}
		}
	}
	return out
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Snippet flattens newlines and truncates, for one-line outcome annotations.
func Snippet(s string, n int) string {
	return Truncate(strings.ReplaceAll(s, "\n", " "), n)
}
