package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/kabu-market/internal/config"
)

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// ConnectWithRetry calls Connect until it succeeds, retries attempts have
// failed, or ctx is done. Waits between attempts grow exponentially up to
// maxWait.
func ConnectWithRetry(ctx context.Context, cfg config.DBConfig, retries int, maxWait time.Duration, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backoffCfg := backoff.NewExponentialBackOff()
	if maxWait > 0 {
		backoffCfg.MaxInterval = maxWait
		if backoffCfg.InitialInterval > maxWait {
			backoffCfg.InitialInterval = maxWait
		}
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		pool, err := Connect(ctx, cfg)
		if err == nil {
			return pool, nil
		}
		lastErr = err

		if attempt == retries {
			break
		}

		sleep := backoffCfg.NextBackOff()
		if sleep == backoff.Stop {
			sleep = backoffCfg.MaxInterval
		}
		logger.Warn("database connect failed, retrying",
			"attempt", attempt+1,
			"backoff", sleep,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}

	return nil, fmt.Errorf("connect after %d attempts: %w", retries+1, lastErr)
}
