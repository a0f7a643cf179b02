package domain

import "slices"

// Topology is a read-only description of the workflow graph, for export and rendering.
type Topology struct {
	// Nodes lists the step names in registration order.
	Nodes []string `json:"nodes"`
	// Edges lists every wire, turn entry first. An empty From is the turn entry and
	// an empty To is the end of the turn.
	Edges []TopologyEdge `json:"edges"`
	// Suspensions lists the steps after which a turn waits for caller input.
	Suspensions []string `json:"suspensions,omitempty"`
}

// TopologyEdge is one wire of the workflow graph.
type TopologyEdge struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Conditional bool   `json:"conditional,omitempty"`
}

// Suspends reports whether the turn stops after the named step.
func (t Topology) Suspends(name string) bool {
	return slices.Contains(t.Suspensions, name)
}
