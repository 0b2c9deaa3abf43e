package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/marchuk/docdeck/internal/api"
	"github.com/marchuk/docdeck/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		handler := api.NewHandler(api.Deps{
			Client: a.client,
			Token:  a.cfg.Server.Token,
		})

		addr := fmt.Sprintf("127.0.0.1:%d", a.cfg.Server.Port)
		srv := &http.Server{
			Addr:    addr,
			Handler: handler,
		}

		// In local mode the server also drains the processing queue.
		if a.cfg.Pipeline.Local {
			runner := pipeline.NewRunner(a.store, pipeline.RunnerConfig{
				StepDelay:   a.cfg.Pipeline.StepDelay(),
				FailureRate: a.cfg.Pipeline.FailureRate,
				Seed:        a.cfg.Pipeline.Seed,
			})
			go runner.Run(ctx)
		}

		errCh := make(chan error, 1)
		go func() {
			fmt.Fprintf(os.Stderr, "docdeck listening on %s\n", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "shutting down...")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if a.cfg.Pipeline.Local {
			runner := pipeline.NewRunner(a.store, pipeline.RunnerConfig{
				StepDelay:   a.cfg.Pipeline.StepDelay(),
				FailureRate: a.cfg.Pipeline.FailureRate,
				Seed:        a.cfg.Pipeline.Seed,
			})
			go runner.Run(ctx)
		}

		mcpSrv := api.NewMCPServer(a.client, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
