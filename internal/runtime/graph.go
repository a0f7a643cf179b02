package runtime

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// End is the pseudo-step that finishes a turn.
const End = "__end__"

// Step is one unit of work of the research workflow.
// It reads the state and returns the fields it writes; it never mutates the state.
type Step interface {
	Name() string
	Run(ctx context.Context, state *domain.ResearchState) (domain.Delta, error)
}

// StepFunc adapts a function into a Step.
type StepFunc struct {
	name string
	fn   func(ctx context.Context, state *domain.ResearchState) (domain.Delta, error)
}

// NewStep creates a Step named name that runs fn.
func NewStep(name string, fn func(ctx context.Context, state *domain.ResearchState) (domain.Delta, error)) *StepFunc {
	return &StepFunc{name: name, fn: fn}
}

// Name implements Step.
func (s *StepFunc) Name() string { return s.name }

// Run implements Step.
func (s *StepFunc) Run(ctx context.Context, state *domain.ResearchState) (domain.Delta, error) {
	return s.fn(ctx, state)
}

// Router picks the next step from the state written by the step that just ran.
type Router func(state *domain.ResearchState) string

// ErrInvalidGraph is returned by Validate when the wiring is inconsistent.
var ErrInvalidGraph = errors.New("invalid workflow graph")

type route struct {
	fn      Router
	targets []string
}

// Graph is the static wiring of the workflow: steps, fixed edges, routers and suspension points.
type Graph struct {
	steps   map[string]Step
	order   []string
	edges   map[string]string
	routes  map[string]route
	entry   route
	suspend map[string]bool
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		steps:   make(map[string]Step),
		edges:   make(map[string]string),
		routes:  make(map[string]route),
		suspend: make(map[string]bool),
	}
}

// Add registers steps. Registering a name twice replaces the earlier step.
func (g *Graph) Add(steps ...Step) *Graph {
	for _, s := range steps {
		if _, ok := g.steps[s.Name()]; !ok {
			g.order = append(g.order, s.Name())
		}
		g.steps[s.Name()] = s
	}
	return g
}

// Edge wires a fixed transition.
func (g *Graph) Edge(from, to string) *Graph {
	g.edges[from] = to
	return g
}

// Route wires a conditional transition. targets lists every name fn may return.
func (g *Graph) Route(from string, fn Router, targets ...string) *Graph {
	g.routes[from] = route{fn: fn, targets: targets}
	return g
}

// Entry sets the router picking the first step of a turn.
func (g *Graph) Entry(fn Router, targets ...string) *Graph {
	g.entry = route{fn: fn, targets: targets}
	return g
}

// Suspend marks a step after which the turn ends and the session waits for input.
func (g *Graph) Suspend(names ...string) *Graph {
	for _, n := range names {
		g.suspend[n] = true
	}
	return g
}

// Step returns a registered step.
func (g *Graph) Step(name string) (Step, bool) {
	s, ok := g.steps[name]
	return s, ok
}

// Suspends reports whether the turn pauses after the named step.
func (g *Graph) Suspends(name string) bool {
	return g.suspend[name]
}

// Start picks the first step of a turn.
func (g *Graph) Start(state *domain.ResearchState) (string, error) {
	if g.entry.fn == nil {
		return "", fmt.Errorf("%w: no entry router", ErrInvalidGraph)
	}
	return g.checked("entry", g.entry.fn(state))
}

// Next picks the step following from. Suspension points return End.
func (g *Graph) Next(from string, state *domain.ResearchState) (string, error) {
	if g.suspend[from] {
		return End, nil
	}
	if r, ok := g.routes[from]; ok {
		return g.checked(from, r.fn(state))
	}
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	return End, nil
}

func (g *Graph) checked(from, to string) (string, error) {
	if to == End {
		return End, nil
	}
	if _, ok := g.steps[to]; !ok {
		return "", fmt.Errorf("%w: %q routes to %q", domain.ErrUnknownStep, from, to)
	}
	return to, nil
}

// Validate checks that every wire points at a registered step.
func (g *Graph) Validate() error {
	var errs []error
	known := func(name string) bool {
		_, ok := g.steps[name]
		return ok || name == End
	}
	if g.entry.fn == nil {
		errs = append(errs, errors.New("no entry router"))
	}
	for _, to := range g.entry.targets {
		if !known(to) {
			errs = append(errs, fmt.Errorf("entry targets unknown step %q", to))
		}
	}
	for _, from := range g.sortedKeys() {
		if !known(from) {
			errs = append(errs, fmt.Errorf("wire from unknown step %q", from))
		}
		if to, ok := g.edges[from]; ok && !known(to) {
			errs = append(errs, fmt.Errorf("%q targets unknown step %q", from, to))
		}
		for _, to := range g.routes[from].targets {
			if !known(to) {
				errs = append(errs, fmt.Errorf("%q routes to unknown step %q", from, to))
			}
		}
	}
	for n := range g.suspend {
		if !known(n) {
			errs = append(errs, fmt.Errorf("suspension at unknown step %q", n))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidGraph, errors.Join(errs...))
	}
	return nil
}

func (g *Graph) sortedKeys() []string {
	var keys []string
	for k := range g.edges {
		keys = append(keys, k)
	}
	for k := range g.routes {
		if !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Nodes returns the step names in registration order.
func (g *Graph) Nodes() []string {
	return slices.Clone(g.order)
}

// Edges returns every wire, entry first, then by source step in registration order.
// The entry has an empty From and the end of a turn an empty To.
func (g *Graph) Edges() []domain.TopologyEdge {
	var out []domain.TopologyEdge
	for _, to := range g.entry.targets {
		out = append(out, domain.TopologyEdge{To: endpoint(to), Conditional: len(g.entry.targets) > 1})
	}
	for _, from := range g.order {
		if g.suspend[from] {
			out = append(out, domain.TopologyEdge{From: from})
			continue
		}
		if r, ok := g.routes[from]; ok {
			for _, to := range r.targets {
				out = append(out, domain.TopologyEdge{From: from, To: endpoint(to), Conditional: true})
			}
			continue
		}
		if to, ok := g.edges[from]; ok {
			out = append(out, domain.TopologyEdge{From: from, To: endpoint(to)})
		}
	}
	return out
}

// Topology returns the exported description of the graph.
func (g *Graph) Topology() domain.Topology {
	t := domain.Topology{Nodes: g.Nodes(), Edges: g.Edges()}
	for _, name := range g.order {
		if g.suspend[name] {
			t.Suspensions = append(t.Suspensions, name)
		}
	}
	return t
}

func endpoint(name string) string {
	if name == End {
		return ""
	}
	return name
}
