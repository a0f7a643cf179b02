package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aretw0/kopernicus/internal/cli"
	"github.com/aretw0/kopernicus/pkg/adapters/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes the research agent as an MCP server, so other agents can run
research sessions as tools (advance, snapshot, list_sessions, delete_session).

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP.
- http: Uses the streamable HTTP transport on /mcp.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")
		baseURL, _ := cmd.Flags().GetString("base-url")

		// Logs go to stderr, so they never corrupt JSON-RPC on stdout.
		stack, logger, err := loadStack(cmd, false)
		if err != nil {
			return err
		}
		defer stack.Close()

		srv := mcp.NewServer(stack.Agent, mcp.WithServerLogger(logger))

		switch transport {
		case "stdio":
			logger.Info("starting kopernicus MCP server (stdio)")
			return srv.ServeStdio()
		case "sse":
			sigCtx := cli.NewSignalContext(cmd.Context())
			defer sigCtx.Cancel()
			if baseURL == "" {
				baseURL = "http://localhost" + addr
			}
			err := srv.ServeSSE(sigCtx, addr, baseURL)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("MCP server stopped gracefully")
			return nil
		case "http":
			sigCtx := cli.NewSignalContext(cmd.Context())
			defer sigCtx.Cancel()
			return serveStreamable(sigCtx, srv, addr, logger.Info)
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse, http", transport)
		}
	},
}

func serveStreamable(ctx context.Context, srv *mcp.Server, addr string, info func(string, ...any)) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", srv.HTTPHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		info("MCP server listening (streamable HTTP)", "address", addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringP("transport", "t", "stdio", "Transport: stdio, sse or http")
	mcpCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on (sse, http)")
	mcpCmd.Flags().String("base-url", "", "Public base URL announced by the SSE transport")
}
