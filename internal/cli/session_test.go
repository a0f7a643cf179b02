package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStack(t *testing.T, ids ...string) *Stack {
	t.Helper()
	stack := buildTest(t, memoryConfig())
	for _, id := range ids {
		state := domain.NewState(id, 4)
		state.Query = "what treats " + id + "?"
		state.Cursor = "planner"
		require.NoError(t, stack.Store.Save(context.Background(), id, state))
	}
	return stack
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, ListSessions(ctx, seededStack(t).Agent, &out))
	assert.Equal(t, "No sessions found.\n", out.String())

	out.Reset()
	require.NoError(t, ListSessions(ctx, seededStack(t, "a", "b").Agent, &out))
	assert.Contains(t, out.String(), "- a\n")
	assert.Contains(t, out.String(), "- b\n")
}

func TestInspectSession(t *testing.T) {
	ctx := context.Background()
	agent := seededStack(t, "s1").Agent

	t.Run("summary", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, InspectSession(ctx, agent, "s1", FormatSummary, &out))
		assert.Contains(t, out.String(), "Session:    s1")
		assert.Contains(t, out.String(), string(domain.PhaseNegotiatingPlan))
		assert.Contains(t, out.String(), "Iteration:  0/4")
		assert.Contains(t, out.String(), "Cursor:     planner")
		assert.Contains(t, out.String(), "what treats s1?")
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, InspectSession(ctx, agent, "s1", FormatJSON, &out))
		var state domain.ResearchState
		require.NoError(t, json.Unmarshal(out.Bytes(), &state))
		assert.Equal(t, "s1", state.SessionID)
		assert.Equal(t, "what treats s1?", state.Query)
	})

	t.Run("yaml uses checkpoint keys", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, InspectSession(ctx, agent, "s1", FormatYAML, &out))
		assert.Contains(t, out.String(), "session_id: s1")
		assert.Contains(t, out.String(), "max_iterations: 4")
	})

	t.Run("unknown format", func(t *testing.T) {
		err := InspectSession(ctx, agent, "s1", "toml", &bytes.Buffer{})
		assert.ErrorContains(t, err, "unknown format")
	})
}

func TestRemoveSessions(t *testing.T) {
	ctx := context.Background()
	agent := seededStack(t, "a", "b").Agent

	var out bytes.Buffer
	require.NoError(t, RemoveSessions(ctx, agent, []string{"a", "b"}, &out))
	assert.Equal(t, "Removed session 'a'\nRemoved session 'b'\n", out.String())

	ids, err := agent.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExportGraph(t *testing.T) {
	ctx := context.Background()
	agent := seededStack(t, "s1").Agent

	var plain bytes.Buffer
	require.NoError(t, ExportGraph(ctx, agent, "", &plain))
	assert.True(t, strings.HasPrefix(plain.String(), "graph TD\n"))
	assert.NotContains(t, plain.String(), "classDef current")

	var overlay bytes.Buffer
	require.NoError(t, ExportGraph(ctx, agent, "s1", &overlay))
	assert.Contains(t, overlay.String(), "class planner current;")
}
