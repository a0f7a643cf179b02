package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/kopernicus"
	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/aretw0/kopernicus/pkg/ports"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Transports accepted in ServerConfig.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// ServerConfig describes one capability server.
type ServerConfig struct {
	Name      string            `yaml:"name" json:"name" mapstructure:"name"`
	Transport string            `yaml:"transport" json:"transport,omitempty" mapstructure:"transport"`
	Command   string            `yaml:"command" json:"command,omitempty" mapstructure:"command"`
	Args      []string          `yaml:"args" json:"args,omitempty" mapstructure:"args"`
	Env       map[string]string `yaml:"env" json:"env,omitempty" mapstructure:"env"`
	URL       string            `yaml:"url" json:"url,omitempty" mapstructure:"url"`
}

// transport infers the transport when it is not set: a command means stdio, a URL means http.
func (c ServerConfig) transport() string {
	if c.Transport != "" {
		return strings.ToLower(c.Transport)
	}
	if c.Command != "" {
		return TransportStdio
	}
	return TransportHTTP
}

type connection struct {
	name   string
	client *client.Client
}

// Client is a capability provider over one or more MCP servers. Tools are routed
// to the server that advertised them; when two servers offer the same name the
// first one attached wins.
type Client struct {
	mu     sync.RWMutex
	conns  []*connection
	routes map[string]*connection
	tools  []ports.ToolDescriptor
	logger *slog.Logger
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client with no servers attached.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		routes: make(map[string]*connection),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials every configured server. Servers that fail to connect are skipped
// with a warning; it fails only when none is usable.
func Connect(ctx context.Context, servers []ServerConfig, opts ...ClientOption) (*Client, error) {
	c := NewClient(opts...)
	var errs []error
	for _, s := range servers {
		mc, err := dial(s)
		if err == nil {
			err = c.Attach(ctx, s.Name, mc)
		}
		if err != nil {
			c.logger.Warn("capability server unavailable", "server", s.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	if len(c.conns) == 0 {
		if len(errs) == 0 {
			return nil, errors.New("no capability servers configured")
		}
		return nil, errors.Join(errs...)
	}
	return c, nil
}

func dial(s ServerConfig) (*client.Client, error) {
	switch s.transport() {
	case TransportStdio:
		if s.Command == "" {
			return nil, errors.New("stdio transport requires a command")
		}
		env := make([]string, 0, len(s.Env))
		for k, v := range s.Env {
			env = append(env, k+"="+v)
		}
		sort.Strings(env)
		return client.NewStdioMCPClient(s.Command, env, s.Args...)
	case TransportSSE:
		return client.NewSSEMCPClient(s.URL)
	case TransportHTTP:
		if s.URL == "" {
			return nil, errors.New("http transport requires a url")
		}
		return client.NewStreamableHttpClient(s.URL)
	default:
		return nil, fmt.Errorf("unknown transport %q", s.Transport)
	}
}

// Attach starts and initializes an MCP client and registers the tools it offers.
func (c *Client) Attach(ctx context.Context, name string, mc *client.Client) error {
	if err := mc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	hello := mcp.InitializeRequest{}
	hello.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	hello.Params.ClientInfo = mcp.Implementation{Name: "kopernicus", Version: kopernicus.Version}
	if _, err := mc.Initialize(ctx, hello); err != nil {
		_ = mc.Close()
		return fmt.Errorf("failed to initialize: %w", err)
	}
	listed, err := mc.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mc.Close()
		return fmt.Errorf("failed to list tools: %w", err)
	}

	conn := &connection{name: name, client: mc}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns = append(c.conns, conn)
	for _, t := range listed.Tools {
		if prev, ok := c.routes[t.Name]; ok {
			c.logger.Warn("duplicate tool ignored", "tool", t.Name, "server", name, "kept", prev.name)
			continue
		}
		c.routes[t.Name] = conn
		c.tools = append(c.tools, descriptor(t))
	}
	c.logger.Info("capability server attached", "server", name, "tools", len(listed.Tools))
	return nil
}

func descriptor(t mcp.Tool) ports.ToolDescriptor {
	var schema map[string]any
	if t.RawInputSchema != nil {
		_ = json.Unmarshal(t.RawInputSchema, &schema)
	} else if b, err := json.Marshal(t.InputSchema); err == nil {
		_ = json.Unmarshal(b, &schema)
	}
	return ports.ToolDescriptor{Name: t.Name, Description: t.Description, InputSchema: schema}
}

// List implements ports.CapabilityProvider.
func (c *Client) List(context.Context) ([]ports.ToolDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ports.ToolDescriptor, len(c.tools))
	copy(out, c.tools)
	return out, nil
}

// Invoke implements ports.CapabilityProvider. A result flagged as an error is
// returned as an error carrying its text.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]any) (*ports.ToolResult, error) {
	c.mu.RLock()
	conn, ok := c.routes[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrToolNotFound, name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := conn.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", conn.name, name, err)
	}

	text := textOf(res)
	if res.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, errors.New(text)
	}
	out := &ports.ToolResult{Text: text, Data: res.StructuredContent}
	if out.Data == nil {
		out.Data = decodeJSON(text)
	}
	return out, nil
}

// Close disconnects every server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, conn := range c.conns {
		if err := conn.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", conn.name, err))
		}
	}
	c.conns = nil
	c.routes = make(map[string]*connection)
	c.tools = nil
	return errors.Join(errs...)
}

func textOf(res *mcp.CallToolResult) string {
	var parts []string
	for _, content := range res.Content {
		if t, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// decodeJSON returns the JSON object or array encoded in text, or nil.
func decodeJSON(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err != nil {
		return nil
	}
	return v
}
