package graph_test

import (
	"context"
	"strings"
	"testing"

	"github.com/aretw0/kopernicus/internal/presentation/graph"
	"github.com/aretw0/kopernicus/internal/runtime"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func noop(name string) runtime.Step {
	return runtime.NewStep(name, func(context.Context, *domain.ResearchState) (domain.Delta, error) {
		return domain.Delta{}, nil
	})
}

func sample() *runtime.Graph {
	g := runtime.NewGraph().Add(noop("intake"), noop("propose-plan"), noop("end"))
	g.Entry(func(*domain.ResearchState) string { return "intake" }, "intake")
	g.Route("intake", func(*domain.ResearchState) string { return "propose-plan" }, "propose-plan", "end")
	g.Suspend("propose-plan")
	g.Edge("end", runtime.End)
	return g
}

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		overlay  *graph.GraphOverlay
		contains []string
		excludes []string
	}{
		{
			name: "Shapes",
			contains: []string{
				"graph TD\n",
				"start((\"start\"))",
				"intake[\"intake\"]",
				"propose_plan[/\"propose-plan\"/]",
				"finish((\"finish\"))",
			},
		},
		{
			name: "Wires",
			contains: []string{
				"start --> intake",
				"intake -.-> propose_plan",
				"intake -.-> end_step",
				"propose_plan --> finish",
				"end_step --> finish",
			},
		},
		{
			name:    "Overlay",
			overlay: &graph.GraphOverlay{CurrentNode: "propose-plan"},
			contains: []string{
				"classDef current",
				"class propose_plan current;",
			},
		},
		{
			name:     "No Overlay",
			excludes: []string{"classDef"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(sample().Topology(), tt.overlay)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			for _, bad := range tt.excludes {
				assert.False(t, strings.Contains(got, bad), "unexpected %q", bad)
			}
		})
	}
}
