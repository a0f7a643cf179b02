package evidence

import "github.com/aretw0/kopernicus/pkg/domain"

// DefaultCap bounds the evidence shown to downstream reasoning.
const DefaultCap = 20

type signature struct {
	step, tool string
}

// Prune bounds records to limit entries. Under the cap the input is returned unchanged.
// Otherwise successful records come first, then the most recent limit/2, deduplicated
// by (step, tool) and truncated at limit.
func Prune(records []domain.EvidenceRecord, limit int) []domain.EvidenceRecord {
	if limit <= 0 {
		limit = DefaultCap
	}
	if len(records) <= limit {
		return records
	}

	candidates := make([]domain.EvidenceRecord, 0, len(records))
	for _, r := range records {
		if r.Succeeded() {
			candidates = append(candidates, r)
		}
	}
	candidates = append(candidates, records[len(records)-limit/2:]...)

	out := make([]domain.EvidenceRecord, 0, limit)
	seen := make(map[signature]struct{}, limit)
	for _, r := range candidates {
		sig := signature{r.Step, r.Tool}
		if _, ok := seen[sig]; ok {
			continue
		}
		seen[sig] = struct{}{}
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Successful returns the successful records, keeping at most the last n when n > 0.
func Successful(records []domain.EvidenceRecord, n int) []domain.EvidenceRecord {
	var out []domain.EvidenceRecord
	for _, r := range records {
		if r.Succeeded() {
			out = append(out, r)
		}
	}
	if n > 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
