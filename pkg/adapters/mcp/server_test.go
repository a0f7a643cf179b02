package mcp_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/aretw0/kopernicus"
	"github.com/aretw0/kopernicus/internal/prompts"
	"github.com/aretw0/kopernicus/internal/testutils"
	kmcp "github.com/aretw0/kopernicus/pkg/adapters/mcp"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAgent(t *testing.T) *kopernicus.Agent {
	t.Helper()
	reasoner := testutils.NewScriptedReasoner().
		On(prompts.QueryValidator, testutils.Value(map[string]any{"is_valid": true})).
		On(prompts.Proposer, testutils.Value("1. Resolve asthma"))
	agent, err := kopernicus.New(reasoner, testutils.NewFakeCapabilities())
	require.NoError(t, err)
	return agent
}

func connect(t *testing.T, s *kmcp.Server) *client.Client {
	t.Helper()
	c, err := client.NewInProcessClient(s.MCPServer())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	hello := mcp.InitializeRequest{}
	hello.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	hello.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "1"}
	_, err = c.Initialize(ctx, hello)
	require.NoError(t, err)
	return c
}

func call(t *testing.T, c *client.Client, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(context.Background(), req)
	require.NoError(t, err)
	if out != nil && !res.IsError {
		text, ok := mcp.AsTextContent(res.Content[0])
		require.True(t, ok)
		require.NoError(t, json.Unmarshal([]byte(text.Text), out))
	}
	return res
}

func TestServer_ListsTools(t *testing.T) {
	c := connect(t, kmcp.NewServer(newAgent(t)))

	listed, err := c.ListTools(context.Background(), mcp.ListToolsRequest{})
	require.NoError(t, err)

	var names []string
	for _, tool := range listed.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"advance", "snapshot", "list_sessions", "delete_session"}, names)
}

func TestServer_AdvanceAndManageSessions(t *testing.T) {
	c := connect(t, kmcp.NewServer(newAgent(t)))

	var turn kmcp.TurnResult
	res := call(t, c, "advance", map[string]any{"session_id": "s1", "input": "What treats asthma?"}, &turn)
	require.False(t, res.IsError)
	assert.Equal(t, "s1", turn.SessionID)
	assert.Equal(t, []string{"intake", "propose_plan"}, turn.Steps)
	assert.Equal(t, "1. Resolve asthma", turn.Response)
	assert.True(t, turn.AwaitingApproval)

	var snap kmcp.SnapshotResult
	call(t, c, "snapshot", map[string]any{"session_id": "s1"}, &snap)
	require.NotNil(t, snap.State)
	assert.Equal(t, "What treats asthma?", snap.State.OriginalQuery)

	var list kmcp.SessionList
	call(t, c, "list_sessions", nil, &list)
	assert.Equal(t, []string{"s1"}, list.Sessions)

	var deleted kmcp.DeleteResult
	call(t, c, "delete_session", map[string]any{"session_id": "s1"}, &deleted)
	assert.Equal(t, "s1", deleted.Deleted)

	call(t, c, "list_sessions", nil, &list)
	assert.Empty(t, list.Sessions)
}

func TestServer_AdvanceCreatesSession(t *testing.T) {
	c := connect(t, kmcp.NewServer(newAgent(t)))

	var turn kmcp.TurnResult
	call(t, c, "advance", map[string]any{"input": "What treats asthma?"}, &turn)
	assert.NotEmpty(t, turn.SessionID)
}

func TestServer_AdvanceRejectsBadInput(t *testing.T) {
	c := connect(t, kmcp.NewServer(newAgent(t)))

	res := call(t, c, "advance", map[string]any{"input": strings.Repeat("a", 10_000)}, nil)
	assert.True(t, res.IsError)

	res = call(t, c, "advance", map[string]any{"input": "   "}, nil)
	assert.True(t, res.IsError)
}

func TestServer_GraphResource(t *testing.T) {
	c := connect(t, kmcp.NewServer(newAgent(t)))

	req := mcp.ReadResourceRequest{}
	req.Params.URI = kmcp.GraphURI
	res, err := c.ReadResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)

	text, ok := res.Contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Contains(t, text.Text, "graph TD")
	assert.Contains(t, text.Text, "propose_plan[/\"propose_plan\"/]")
}
