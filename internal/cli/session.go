package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/kopernicus/internal/presentation/graph"
	"github.com/aretw0/kopernicus/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Output formats of InspectSession.
const (
	FormatJSON    = "json"
	FormatYAML    = "yaml"
	FormatSummary = "summary"
)

// SessionAgent is the part of the agent the session commands need.
type SessionAgent interface {
	List(ctx context.Context) ([]string, error)
	Snapshot(ctx context.Context, sessionID string) (*domain.ResearchState, error)
	Delete(ctx context.Context, sessionID string) error
	Graph() domain.Topology
}

// ListSessions prints the stored session IDs.
func ListSessions(ctx context.Context, agent SessionAgent, w io.Writer) error {
	sessions, err := agent.List(ctx)
	if err != nil {
		return fmt.Errorf("error listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return nil
	}
	fmt.Fprintln(w, "Sessions:")
	for _, s := range sessions {
		fmt.Fprintln(w, "- "+s)
	}
	return nil
}

// InspectSession prints the state of a session in the given format.
func InspectSession(ctx context.Context, agent SessionAgent, sessionID, format string, w io.Writer) error {
	state, err := agent.Snapshot(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("error loading session '%s': %w", sessionID, err)
	}

	switch strings.ToLower(format) {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	case FormatYAML:
		// Round-trip through JSON so the keys match the checkpoint format.
		data, err := json.Marshal(state)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	case FormatSummary, "":
		return writeSummary(state, w)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func writeSummary(s *domain.ResearchState, w io.Writer) error {
	fmt.Fprintf(w, "Session:    %s (episode %d)\n", s.SessionID, s.Episode)
	fmt.Fprintf(w, "Phase:      %s\n", s.Phase)
	fmt.Fprintf(w, "Plan:       %s\n", s.Negotiation())
	fmt.Fprintf(w, "Iteration:  %d/%d\n", s.IterationCount, s.MaxIterations)
	if s.Cursor != "" {
		fmt.Fprintf(w, "Cursor:     %s\n", s.Cursor)
	}
	if s.Query != "" {
		fmt.Fprintf(w, "Query:      %s\n", s.Query)
	}
	fmt.Fprintf(w, "Evidence:   %d records, %d steps\n", len(s.Evidence), len(s.PastSteps))
	if s.Decision != "" {
		fmt.Fprintf(w, "Decision:   %s\n", s.Decision)
	}
	if s.Response != "" {
		fmt.Fprintf(w, "\n%s\n", s.Response)
	}
	return nil
}

// RemoveSessions deletes every listed session and reports each outcome.
func RemoveSessions(ctx context.Context, agent SessionAgent, ids []string, w io.Writer) error {
	var errs []error
	for _, id := range ids {
		if err := agent.Delete(ctx, id); err != nil {
			fmt.Fprintf(w, "Error removing '%s': %v\n", id, err)
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(w, "Removed session '%s'\n", id)
	}
	return errors.Join(errs...)
}

// ExportGraph writes the workflow as a Mermaid flowchart. With a session ID,
// the step the session will resume from is highlighted.
func ExportGraph(ctx context.Context, agent SessionAgent, sessionID string, w io.Writer) error {
	var overlay *graph.GraphOverlay
	if sessionID != "" {
		state, err := agent.Snapshot(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("error loading session '%s': %w", sessionID, err)
		}
		overlay = &graph.GraphOverlay{CurrentNode: state.Cursor}
	}
	_, err := io.WriteString(w, graph.GenerateMermaid(agent.Graph(), overlay))
	return err
}
