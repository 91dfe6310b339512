package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/septivank/webill/internal/auth"
	"github.com/septivank/webill/internal/config"
	"github.com/septivank/webill/internal/db"
	"github.com/septivank/webill/internal/httpapi"
	"github.com/septivank/webill/internal/mq"
	"github.com/septivank/webill/internal/service"
	"github.com/septivank/webill/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runForever(fx.New(
			coreModule,
			fx.Provide(ProvideTokenVerifier, ProvideHandler),
			fx.Invoke(requireRabbitMQ, ensureBucket, startHTTPServer),
		))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// ProvideHandler creates the API handler with a database health check
func ProvideHandler(svc *service.Service, verifier *auth.TokenVerifier, pool *db.Pool, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) *httpapi.Handler {
	return httpapi.NewHandler(svc, verifier, healthCheck(pool, conn), cfg.Storage.ImageMaxBytes, logger)
}

func healthCheck(pool *db.Pool, conn *mq.Connection) httpapi.HealthCheck {
	return func(ctx context.Context) error {
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if conn != nil {
			if err := conn.Healthy(); err != nil {
				return fmt.Errorf("broker: %w", err)
			}
		}
		return nil
	}
}

func ensureBucket(lc fx.Lifecycle, s3 *storage.S3ObjectStorage) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s3.EnsureBucket(ctx)
		},
	})
}

func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, handler *httpapi.Handler, logger *zap.Logger) {
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler.Router(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			logger.Info("http server listening", zap.String("addr", server.Addr))
			go func() {
				if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
			defer cancel()
			logger.Info("http server shutting down")
			return server.Shutdown(shutdownCtx)
		},
	})
}
