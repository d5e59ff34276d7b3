package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pool is an alias for pgxpool.Pool
type Pool = pgxpool.Pool

const (
	initialRetryDelay = 2 * time.Second
	maxRetryDelay     = 30 * time.Second
)

// NewPool creates a new PostgreSQL connection pool. Connectivity is
// established on start with exponential backoff, retrying until the pool is
// reachable or the start context is cancelled.
func NewPool(lc fx.Lifecycle, logger *zap.Logger, databaseURL string) (*pgxpool.Pool, error) {
	logger.Info("initializing database connection pool")

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			delay := initialRetryDelay
			for {
				err := pool.Ping(ctx)
				if err == nil {
					logger.Info("database connection established")
					return nil
				}
				logger.Warn("database connect failed, retrying",
					zap.Error(err),
					zap.Duration("retry_in", delay),
					zap.String("url", maskPassword(databaseURL)))

				select {
				case <-ctx.Done():
					return fmt.Errorf("database connect cancelled: %w", ctx.Err())
				case <-time.After(delay):
				}
				delay *= 2
				if delay > maxRetryDelay {
					delay = maxRetryDelay
				}
			}
		},
		OnStop: func(ctx context.Context) error {
			pool.Close()
			logger.Info("database connection closed")
			return nil
		},
	})

	return pool, nil
}

// maskPassword masks the password in database URL for logging
func maskPassword(url string) string {
	if len(url) == 0 {
		return "<empty>"
	}
	start := 0
	for i := 0; i < len(url); i++ {
		if url[i] == ':' && i > 0 && url[i-1] != '/' {
			start = i + 1
		}
		if url[i] == '@' && start > 0 {
			return url[:start] + "***" + url[i:]
		}
	}
	return url
}
