package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/kopernicus/pkg/ports"
	"github.com/aretw0/kopernicus/pkg/runner"
)

// ListTools prints the capabilities as a markdown table, rendered when a renderer is given.
func ListTools(ctx context.Context, caps ports.CapabilityProvider, render runner.ContentRenderer, w io.Writer) error {
	tools, err := caps.List(ctx)
	if err != nil {
		return fmt.Errorf("error listing tools: %w", err)
	}
	if len(tools) == 0 {
		fmt.Fprintln(w, "No tools available.")
		return nil
	}

	var sb strings.Builder
	sb.WriteString("| Tool | Description |\n|---|---|\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "| `%s` | %s |\n", t.Name, tableCell(t.Description))
	}
	out := sb.String()
	if render != nil {
		if rendered, err := render(out); err == nil {
			out = rendered
		}
	}
	_, err = io.WriteString(w, out)
	return err
}

// tableCell keeps a description on one table row.
func tableCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}
