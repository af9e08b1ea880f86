package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lehigh-university-libraries/retoucher/internal/config"
	"github.com/lehigh-university-libraries/retoucher/internal/generation"
	"github.com/lehigh-university-libraries/retoucher/internal/handlers"
	"github.com/lehigh-university-libraries/retoucher/internal/images"
	"github.com/lehigh-university-libraries/retoucher/internal/storage"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the editing API server",
		Long: `Starts the Retoucher HTTP API on the specified port.

Images are uploaded to create editing sessions; each session is then driven
through tool, mask, generate, preview and commit requests. Generation is done
by the providers named in the config file (Gemini, OpenAI or Ollama).`,
		Example: `  # Start server on default port 8888
  retoucher serve

  # Start server on custom port with a config file
  retoucher serve --port 3000 --config ./retoucher.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			backend, err := generation.NewFromConfig(cfg.Providers)
			if err != nil {
				return err
			}

			workflows, err := storage.OpenWorkflows(cfg.Storage.WorkflowDB)
			if err != nil {
				return fmt.Errorf("failed to open workflow library: %w", err)
			}
			defer workflows.Close()

			sessions := storage.New()
			defer sessions.CloseAll()

			maxUpload := cfg.Server.MaxUploadMB << 20
			handler := handlers.New(handlers.Config{
				Sessions:       sessions,
				Workflows:      workflows,
				Backend:        backend,
				Fetcher:        images.NewFetcher(maxUpload),
				Options:        cfg.SessionOptions(),
				MaxUploadBytes: maxUpload,
			})

			addr := ":" + cfg.Server.Port
			server := &http.Server{
				Addr:    addr,
				Handler: handler.Routes(),
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Retoucher API available", "addr", addr, "url", "http://localhost"+addr)
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

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")

	return cmd
}
