// Package guard holds the deterministic checks that run independently of the
// reasoning provider: hard-constraint enforcement before tool calls, the loop
// guard that forces termination, the novelty budget and the steward cadence.
package guard

import (
	"fmt"
	"slices"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// Call is a tool invocation about to be issued.
type Call struct {
	Tool string
	Args map[string]any
}

// sourceKeys are the argument names that identify the node an expansion starts from,
// in lookup order.
var sourceKeys = []string{"curie", "source_node", "subject", "source"}

// SourceOf returns the node a call expands from, or "" when none is given.
func SourceOf(args map[string]any) string {
	for _, k := range sourceKeys {
		if s, ok := args[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// PredicatesOf returns the predicates a call requests, from "predicate" or "predicates".
func PredicatesOf(args map[string]any) []string {
	var out []string
	if p, ok := args["predicate"].(string); ok && p != "" {
		out = append(out, p)
	}
	out = append(out, stringsOf(args["predicates"])...)
	return out
}

// CheckPolicy validates a call against the hard constraints.
// It returns nil when the call may proceed.
func CheckPolicy(call Call, c domain.HardConstraints) *domain.PolicyRejection {
	if c.IsEmpty() {
		return nil
	}

	source := SourceOf(call.Args)
	for _, predicate := range PredicatesOf(call.Args) {
		if slices.Contains(c.ForbiddenPredicates, predicate) {
			return &domain.PolicyRejection{
				Tool:   call.Tool,
				Reason: fmt.Sprintf("Action blocked: The predicate '%s' is globally forbidden.", predicate),
			}
		}
		if source == "" {
			continue
		}
		if slices.Contains(c.ForbiddenContinuations, domain.Continuation{Source: source, Predicate: predicate}) {
			return &domain.PolicyRejection{
				Tool:   call.Tool,
				Reason: fmt.Sprintf("Action blocked: The path %s --[%s]--> * is forbidden due to loops.", source, predicate),
			}
		}
	}

	if len(c.ForbiddenEntities) > 0 {
		// Deterministic order so the same call always reports the same entity.
		keys := make([]string, 0, len(call.Args))
		for k := range call.Args {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			for _, v := range stringsOf(call.Args[k]) {
				if slices.Contains(c.ForbiddenEntities, v) {
					return &domain.PolicyRejection{
						Tool:   call.Tool,
						Reason: fmt.Sprintf("Action blocked: The entity '%s' is globally forbidden.", v),
					}
				}
			}
		}
	}
	return nil
}

// stringsOf flattens a string or a list of strings. Other values yield nothing.
func stringsOf(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
