package mcp_test

import (
	"context"
	"errors"
	"testing"

	kmcp "github.com/aretw0/kopernicus/pkg/adapters/mcp"
	"github.com/aretw0/kopernicus/pkg/ports"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type treatmentArgs struct {
	Disease string `json:"disease"`
}

type treatments struct {
	Results []map[string]string `json:"results"`
}

// knowledgeServer is a small capability server backing the client tests.
func knowledgeServer(name string) *server.MCPServer {
	s := server.NewMCPServer(name, "1.0.0", server.WithToolCapabilities(true))
	s.AddTool(mcp.NewTool("find_treatments",
		mcp.WithDescription("Drugs treating a disease"),
		mcp.WithString("disease", mcp.Required()),
	), mcp.NewStructuredToolHandler(func(_ context.Context, _ mcp.CallToolRequest, args treatmentArgs) (treatments, error) {
		if args.Disease == "" {
			return treatments{}, errors.New("disease is required")
		}
		return treatments{Results: []map[string]string{{"subject": "albuterol", "predicate": "treats", "object": args.Disease}}}, nil
	}))
	s.AddTool(mcp.NewTool("echo", mcp.WithString("text")), func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(name + ":" + req.GetString("text", "")), nil
	})
	return s
}

func attach(t *testing.T, c *kmcp.Client, name string) {
	t.Helper()
	mc, err := client.NewInProcessClient(knowledgeServer(name))
	require.NoError(t, err)
	require.NoError(t, c.Attach(context.Background(), name, mc))
}

func TestClient_ListAndInvoke(t *testing.T) {
	c := kmcp.NewClient()
	defer c.Close()
	attach(t, c, "graph")

	tools, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "find_treatments", tools[1].Name)
	assert.Equal(t, "Drugs treating a disease", tools[1].Description)
	assert.Contains(t, tools[1].InputSchema["properties"], "disease")

	res, err := c.Invoke(context.Background(), "find_treatments", map[string]any{"disease": "asthma"})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "albuterol")
	data, ok := res.Data.(map[string]any)
	require.True(t, ok)
	assert.Len(t, data["results"], 1)

	res, err = c.Invoke(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "graph:hi", res.Text)
	assert.Nil(t, res.Data)
}

func TestClient_ToolErrors(t *testing.T) {
	c := kmcp.NewClient()
	defer c.Close()
	attach(t, c, "graph")

	_, err := c.Invoke(context.Background(), "find_treatments", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disease is required")

	_, err = c.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ports.ErrToolNotFound)
}

func TestClient_FirstServerWinsDuplicates(t *testing.T) {
	c := kmcp.NewClient()
	defer c.Close()
	attach(t, c, "first")
	attach(t, c, "second")

	tools, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)

	res, err := c.Invoke(context.Background(), "echo", map[string]any{"text": "x"})
	require.NoError(t, err)
	assert.Equal(t, "first:x", res.Text)
}

func TestConnect_NoUsableServer(t *testing.T) {
	_, err := kmcp.Connect(context.Background(), nil)
	assert.Error(t, err)

	_, err = kmcp.Connect(context.Background(), []kmcp.ServerConfig{{Name: "bad", Transport: "carrier-pigeon"}})
	assert.Error(t, err)
}
