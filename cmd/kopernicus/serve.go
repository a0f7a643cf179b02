package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aretw0/kopernicus/internal/cli"
	httpAdapter "github.com/aretw0/kopernicus/pkg/adapters/http"
	"github.com/aretw0/kopernicus/pkg/adapters/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Serves the research agent over HTTP:

  /sessions/{id}/advance  one turn, streamed as JSON lines
  /sessions/{id}/events   server-sent events of a session
  /mcp                    Model Context Protocol (streamable HTTP)
  /metrics                Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		stack, logger, err := loadStack(cmd, false)
		if err != nil {
			return err
		}
		defer stack.Close()

		mcpServer := mcp.NewServer(stack.Agent, mcp.WithServerLogger(logger))
		handler := httpAdapter.NewHandler(stack.Agent,
			httpAdapter.WithLogger(logger),
			httpAdapter.WithMount("/metrics", stack.Metrics.Handler()),
			httpAdapter.WithMount("/mcp", mcpServer.HTTPHandler()),
		)
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		g, ctx := errgroup.WithContext(sigCtx)
		g.Go(func() error {
			logger.Info("kopernicus server listening", "address", addr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Info("shutting down server", "signal", sigCtx.Signal())

			// Give outstanding turns a deadline; their checkpoints keep them resumable.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				return srv.Close()
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("kopernicus server stopped gracefully")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("addr", "a", ":8080", "Address to listen on")
}
