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

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/portfolioqa/internal/usecase/classify"
	chiTransport "github.com/kailas-cloud/portfolioqa/internal/transport/chi"
	"github.com/kailas-cloud/portfolioqa/internal/version"
)

var serveWarm bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Starts the chat API on the configured port.
The index is loaded or built on the first question unless --warm is set.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWarm, "warm", false, "load or build the index before accepting requests")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, envName)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	logger := a.logger
	logger.Info("Starting portfolioqa API server",
		zap.String("commit", version.Commit),
		zap.String("env", a.env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("index_backend", cfg.Index.Backend),
		zap.String("index_path", cfg.Index.Path),
		zap.Bool("cache", a.store != nil),
		zap.Bool("analytics", a.analytics.Enabled()),
	)

	if serveWarm {
		info, err := a.qa.Warm(ctx)
		if err != nil {
			return fmt.Errorf("warm index: %w", err)
		}
		logger.Info("Index ready", zap.String("backend", info.Backend), zap.Int("documents", info.Documents))
	}

	server := chiTransport.NewServer(a.qa, a.analytics, classify.NewKeyword(), a.usage, a.health,
		chiTransport.Options{
			APIKeys:           cfg.Auth.APIKeys,
			ContactURL:        cfg.Prompt.ContactURL,
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}
