package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/webill/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pool is an alias for pgxpool.Pool
type Pool = pgxpool.Pool

const (
	pingAttempts = 5
	pingBackoff  = time.Second
)

// PoolConfig translates the database settings into a pgxpool config.
// applicationName shows up in pg_stat_activity.
func PoolConfig(cfg config.DatabaseConfig, applicationName string) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		pc.HealthCheckPeriod = cfg.HealthCheckPeriod
	}
	if applicationName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return pc, nil
}

// NewPool creates the reading and billing store's connection pool. The
// broker or the HTTP server may come up before postgres does, so startup
// retries the first ping a few times before failing the app.
func NewPool(lc fx.Lifecycle, logger *zap.Logger, cfg config.DatabaseConfig, applicationName string) (*pgxpool.Pool, error) {
	pc, err := PoolConfig(cfg, applicationName)
	if err != nil {
		return nil, err
	}
	target := MaskPassword(cfg.URL)
	logger = logger.With(zap.String("database", target))

	pool, err := pgxpool.NewWithConfig(context.Background(), pc)
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to create connection pool: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := waitForDatabase(ctx, pool, logger); err != nil {
				return fmt.Errorf("[DATABASE CONNECTION FAILED] cannot reach database at %s: %w", target, err)
			}
			logger.Info("database pool ready",
				zap.Int32("max_conns", pc.MaxConns),
				zap.Int32("min_conns", pc.MinConns),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pool.Close()
			logger.Info("database pool closed")
			return nil
		},
	})

	return pool, nil
}

func waitForDatabase(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		logger.Warn("database ping failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == pingAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pingBackoff * time.Duration(attempt)):
		}
	}
	return err
}

// MaskPassword masks the password in a database URL for logging
func MaskPassword(databaseURL string) string {
	if databaseURL == "" {
		return "<empty>"
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
