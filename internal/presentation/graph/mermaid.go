package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/kopernicus/pkg/domain"
)

// GraphOverlay contains dynamic state data to visualize on the graph.
type GraphOverlay struct {
	// CurrentNode is the step a suspended or interrupted turn resumes at.
	CurrentNode string
}

const (
	startID  = "start"
	finishID = "finish"
)

// GenerateMermaid produces a Mermaid flowchart of the workflow.
// It applies semantic styling:
// - Turn entry and end: ((Circle))
// - Suspension points (wait for caller input): [/Parallelogram/]
// - Default: [Rectangle]
// Conditional wires are dotted.
func GenerateMermaid(g domain.Topology, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	fmt.Fprintf(&sb, "    %s((\"%s\"))\n", startID, startID)

	for _, name := range g.Nodes {
		opener, closer := "[", "]"
		if g.Suspends(name) {
			opener, closer = "[/", "/]"
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", sanitizeMermaidID(name), opener, name, closer)
	}
	fmt.Fprintf(&sb, "    %s((\"%s\"))\n", finishID, finishID)

	for _, e := range g.Edges {
		arrow := "-->"
		if e.Conditional {
			arrow = "-.->"
		}
		to := finishID
		if e.To != "" {
			to = sanitizeMermaidID(e.To)
		}
		fmt.Fprintf(&sb, "    %s %s %s\n", nodeID(e.From), arrow, to)
	}

	if overlay != nil && overlay.CurrentNode != "" {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text for contrast on both light and dark themes
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.CurrentNode))
	}

	return sb.String()
}

func nodeID(name string) string {
	if name == "" {
		return startID
	}
	return sanitizeMermaidID(name)
}

// sanitizeMermaidID also suffixes ids that collide with Mermaid keywords.
func sanitizeMermaidID(id string) string {
	s := strings.NewReplacer(".", "_", "-", "_", "/", "_", "\\", "_", " ", "_").Replace(id)
	switch strings.ToLower(s) {
	case "end", "graph", "subgraph", startID, finishID:
		return s + "_step"
	}
	return s
}
