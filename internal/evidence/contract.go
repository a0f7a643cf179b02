// Package evidence implements the answer contract model over collected evidence:
// sufficiency checks, pruning, identifier extraction and the provenance subgraph.
package evidence

import (
	"slices"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// Relationship tools return edge lists and are the only ones interpreted into contract evidence.
const (
	ToolGetEdges        = "get_edges"
	ToolGetEdgesBetween = "get_edges_between"
	ToolGetNode         = "get_node"
)

// IsRelationship reports whether a tool returns relationship-shaped results.
func IsRelationship(tool string) bool {
	return tool == ToolGetEdges || tool == ToolGetEdgesBetween
}

// allowedPredicates restricts the predicates a contract may require for a query type.
// Query types without an entry are unrestricted.
var allowedPredicates = map[string][]string{
	"treatment": {"biolink:treats", "biolink:treats_or_applied_or_studied_to_treat"},
}

// AllowedPredicates returns the allow-list of a query type, or nil when unrestricted.
func AllowedPredicates(queryType string) []string {
	return slices.Clone(allowedPredicates[queryType])
}

// DefaultContract is used when intent classification fails.
func DefaultContract() domain.AnswerContract {
	return domain.AnswerContract{
		QueryType:           "association",
		RequiredEntityTypes: []string{"Entity"},
		RequiredPredicates:  []string{"biolink:related_to"},
		MinUniqueEntities:   1,
	}
}

// Constrain filters the required predicates of c through its query type allow-list.
// When nothing survives, the first allowed predicate is used. It also reports
// which predicates were removed.
func Constrain(c domain.AnswerContract) (domain.AnswerContract, []string) {
	if c.MinUniqueEntities <= 0 {
		c.MinUniqueEntities = 1
	}
	allowed, ok := allowedPredicates[c.QueryType]
	if !ok {
		return c, nil
	}
	var kept, removed []string
	for _, p := range c.RequiredPredicates {
		if slices.Contains(allowed, p) {
			kept = append(kept, p)
		} else {
			removed = append(removed, p)
		}
	}
	if len(kept) == 0 {
		kept = []string{allowed[0]}
	}
	c.RequiredPredicates = kept
	return c, removed
}

// Report is the outcome of a sufficiency check.
type Report struct {
	UniqueEntities int  `json:"unique_entities"`
	Required       int  `json:"required"`
	Satisfied      bool `json:"satisfied"`
}

// Sufficiency counts distinct entities among interpreted evidence whose predicate the
// contract requires. Each item contributes its subject, or its object when the subject
// is empty. A nil contract is never satisfied.
func Sufficiency(contract *domain.AnswerContract, items []domain.InterpretedEvidence) Report {
	if contract == nil {
		return Report{}
	}
	seen := make(map[string]struct{})
	for _, it := range items {
		if !contract.RequiresPredicate(it.Predicate) {
			continue
		}
		id := it.SubjectID
		if id == "" {
			id = it.ObjectID
		}
		if id == "" {
			continue
		}
		seen[id] = struct{}{}
	}
	required := max(contract.MinUniqueEntities, 1)
	return Report{
		UniqueEntities: len(seen),
		Required:       required,
		Satisfied:      len(seen) >= required,
	}
}

// ClampStrength bounds an evidence strength to 1..5.
func ClampStrength(s int) int {
	return max(1, min(5, s))
}

// ParseEvidenceType maps a label onto an EvidenceType, defaulting to associative.
func ParseEvidenceType(label string) domain.EvidenceType {
	switch t := domain.EvidenceType(label); t {
	case domain.EvidenceDirect, domain.EvidenceMechanistic:
		return t
	}
	return domain.EvidenceAssociative
}
