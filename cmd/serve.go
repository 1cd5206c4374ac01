package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayurtrace/ayurtrace/internal/app"
	"github.com/ayurtrace/ayurtrace/internal/config"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the AyurTrace HTTP API",
		Long: `Starts the AyurTrace API on the specified port.

The classifier model server, the LLM provider and the ledger are connected at
startup. If the contract descriptor is missing the ledger routes answer with an
error body while classification and advice keep working.`,
		Example: `  # Start server on default port 8000
  ayurtrace serve

  # Start server on custom port against a local sqlite ledger
  AYURTRACE_LEDGER=sqlite ayurtrace serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					slog.Error("Failed to close ledger", "err", err)
				}
			}()

			addr := ":" + port
			server := &http.Server{
				Addr:    addr,
				Handler: a.Handler(),
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("AyurTrace API available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8000", "Port to listen on")

	return cmd
}
