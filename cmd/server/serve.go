package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/warp/clockd/api"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Example: `
  clockd serve
  clockd serve --config ./clockd.yaml
  CLOCKD_SERVER_PORT=9090 clockd serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		}()

		router := api.NewRouter(a.handler, api.RouterOptions{
			Tokens:      a.tokens,
			CORSOrigins: cfg.Server.CORSOrigins,
			Limiter:     api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
			Idempotency: a.idempotency,
			Logger:      logger,
		})
		server := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  4 * cfg.Server.ReadTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server starting",
				zap.Int("port", cfg.Server.Port),
				zap.String("database", cfg.Database.Driver),
			)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	},
}
