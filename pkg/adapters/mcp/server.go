package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/kopernicus"
	"github.com/aretw0/kopernicus/internal/logging"
	"github.com/aretw0/kopernicus/internal/presentation/graph"
	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/aretw0/kopernicus/pkg/runner"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// GraphURI is the resource holding the workflow graph as a Mermaid flowchart.
const GraphURI = "kopernicus://graph"

// Agent defines the interface required by the MCP server to drive research sessions.
type Agent interface {
	Advance(ctx context.Context, sessionID, input string, emit func(domain.StepDelta) error) (*domain.ResearchState, error)
	Snapshot(ctx context.Context, sessionID string) (*domain.ResearchState, error)
	Delete(ctx context.Context, sessionID string) error
	List(ctx context.Context) ([]string, error)
	Graph() domain.Topology
}

// AdvanceArgs are the arguments of the advance tool.
type AdvanceArgs struct {
	SessionID string `json:"session_id,omitempty"`
	Input     string `json:"input"`
}

// SessionArgs name one session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// TurnResult is the outcome of one advance call.
type TurnResult struct {
	SessionID        string       `json:"session_id" jsonschema_description:"Session to pass back on the next call"`
	Steps            []string     `json:"steps" jsonschema_description:"Workflow steps completed during the turn"`
	Phase            domain.Phase `json:"phase" jsonschema_description:"Research phase after the turn"`
	Response         string       `json:"response,omitempty" jsonschema_description:"Plan proposal or final answer"`
	AwaitingApproval bool         `json:"awaiting_approval" jsonschema_description:"True when the plan proposal waits for approval or feedback"`
	Iteration        int          `json:"iteration" jsonschema_description:"Completed exploration cycles"`
}

// SnapshotResult wraps the full state of a session.
type SnapshotResult struct {
	State *domain.ResearchState `json:"state"`
}

// SessionList lists stored sessions.
type SessionList struct {
	Sessions []string `json:"sessions"`
}

// DeleteResult confirms a deletion.
type DeleteResult struct {
	Deleted string `json:"deleted"`
}

// Server exposes a research agent as an MCP server.
type Server struct {
	agent     Agent
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// ServerOption configures the Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(agent Agent, opts ...ServerOption) *Server {
	s := &Server{
		agent:  agent,
		logger: logging.NewNop(),
		mcpServer: server.NewMCPServer("kopernicus", strings.TrimSpace(kopernicus.Version),
			server.WithToolCapabilities(true),
			server.WithResourceCapabilities(false, false),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server, for in-process clients.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// HTTPHandler returns the streamable HTTP transport, to be mounted on a router.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("advance",
		mcp.WithDescription("Advance a research session by one turn. Start with a question, then answer the plan proposal with feedback or approval."),
		mcp.WithString("input", mcp.Required(), mcp.Description("Question, plan feedback or approval")),
		mcp.WithString("session_id", mcp.Description("Session to continue. A new session is created when omitted.")),
		mcp.WithOutputSchema[TurnResult](),
	), mcp.NewStructuredToolHandler(s.handleAdvance))

	s.mcpServer.AddTool(mcp.NewTool("snapshot",
		mcp.WithDescription("Return the full research state of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), mcp.NewStructuredToolHandler(s.handleSnapshot))

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List stored research sessions."),
		mcp.WithOutputSchema[SessionList](),
	), mcp.NewStructuredToolHandler(s.handleList))

	s.mcpServer.AddTool(mcp.NewTool("delete_session",
		mcp.WithDescription("Delete a research session and its checkpoint."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[DeleteResult](),
	), mcp.NewStructuredToolHandler(s.handleDelete))
}

func (s *Server) handleAdvance(ctx context.Context, _ mcp.CallToolRequest, args AdvanceArgs) (TurnResult, error) {
	clean, err := runner.SanitizeInput(args.Input)
	if err != nil {
		s.logger.Warn("MCP advance: input rejected", "err", err, "size", len(args.Input))
		return TurnResult{}, fmt.Errorf("input rejected: %w", err)
	}
	if strings.TrimSpace(clean) == "" {
		return TurnResult{}, errors.New("input is required")
	}
	id := args.SessionID
	if id == "" {
		id = kopernicus.NewSessionID()
	}

	var steps []string
	state, err := s.agent.Advance(ctx, id, clean, func(sd domain.StepDelta) error {
		steps = append(steps, sd.Step)
		return nil
	})
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{
		SessionID:        id,
		Steps:            steps,
		Phase:            state.Phase,
		Response:         state.Response,
		AwaitingApproval: !state.InputRejected && state.Negotiation() == domain.NegotiationProposed,
		Iteration:        state.IterationCount,
	}, nil
}

func (s *Server) handleSnapshot(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (SnapshotResult, error) {
	if args.SessionID == "" {
		return SnapshotResult{}, errors.New("session_id is required")
	}
	state, err := s.agent.Snapshot(ctx, args.SessionID)
	if err != nil {
		return SnapshotResult{}, err
	}
	return SnapshotResult{State: state}, nil
}

func (s *Server) handleList(ctx context.Context, _ mcp.CallToolRequest, _ struct{}) (SessionList, error) {
	ids, err := s.agent.List(ctx)
	if err != nil {
		return SessionList{}, err
	}
	if ids == nil {
		ids = []string{}
	}
	return SessionList{Sessions: ids}, nil
}

func (s *Server) handleDelete(ctx context.Context, _ mcp.CallToolRequest, args SessionArgs) (DeleteResult, error) {
	if args.SessionID == "" {
		return DeleteResult{}, errors.New("session_id is required")
	}
	if err := s.agent.Delete(ctx, args.SessionID); err != nil {
		return DeleteResult{}, err
	}
	return DeleteResult{Deleted: args.SessionID}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(GraphURI, "Research Workflow Graph",
		mcp.WithMIMEType("text/vnd.mermaid"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      GraphURI,
				MIMEType: "text/vnd.mermaid",
				Text:     graph.GenerateMermaid(s.agent.Graph(), nil),
			},
		}, nil
	})
}
