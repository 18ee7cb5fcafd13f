// Package store persists player balances and the market state singleton.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/kabu-market/internal/config"
	"github.com/rickgao/kabu-market/internal/database"
	"github.com/rickgao/kabu-market/internal/model"
)

var (
	// ErrRaceLost is returned when a compare-and-swap finds a different
	// last update day than the caller expected.
	ErrRaceLost = errors.New("market state changed concurrently")

	// ErrNegativeQuantity is returned by Set for quantities below zero.
	ErrNegativeQuantity = errors.New("quantity must be >= 0")

	// ErrInsufficientQuantity is returned by Debit when the player holds
	// less than the requested amount.
	ErrInsufficientQuantity = errors.New("insufficient quantity")
)

// Balances is the per-player kabu balance store.
type Balances interface {
	// Get returns the player's quantity, 0 if the player has no record.
	Get(ctx context.Context, id model.PlayerID) (int64, error)

	// Set replaces the player's quantity.
	Set(ctx context.Context, id model.PlayerID, qty int64) error

	// Adjust adds delta to the player's quantity, clamping at 0, and
	// returns the new quantity. Applied as a single statement.
	Adjust(ctx context.Context, id model.PlayerID, delta int64) (int64, error)

	// Debit subtracts amount from the player's quantity only if the
	// quantity covers it, and returns the new quantity. Otherwise nothing
	// changes and ErrInsufficientQuantity is returned. amount must be > 0.
	Debit(ctx context.Context, id model.PlayerID, amount int64) (int64, error)

	// ClearAll deletes every balance.
	ClearAll(ctx context.Context) error

	// TopN returns up to n holdings with quantity > 0, largest first.
	TopN(ctx context.Context, n int) ([]model.Holding, error)
}

// MarketStates is the market state singleton store.
type MarketStates interface {
	// Read returns the stored state, or model.DefaultMarketState if none
	// has been written.
	Read(ctx context.Context) (model.MarketState, error)

	// Write replaces all three fields unconditionally.
	Write(ctx context.Context, s model.MarketState) error

	// CompareAndSwap replaces the state only if its LastUpdateDay still
	// equals expectedDay. Returns ErrRaceLost otherwise.
	CompareAndSwap(ctx context.Context, expectedDay int, next model.MarketState) error
}

// Store combines both stores with the transactional period reset.
type Store interface {
	Balances
	MarketStates

	// ResetPeriod performs CompareAndSwap and clears all balances in one
	// transaction. On ErrRaceLost no balance is touched.
	ResetPeriod(ctx context.Context, expectedDay int, next model.MarketState) error

	Ping(ctx context.Context) error
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store, state will not survive restarts")
		return NewMemory(), nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info("sqlite store opened", "path", cfg.SQLite.Path)
		return NewSQLite(db), nil

	case config.DriverPostgres:
		if cfg.AutoMigrate {
			if err := database.Migrate(ctx, database.BuildConnString(cfg.Postgres), logger); err != nil {
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pool, err := database.ConnectWithRetry(ctx, cfg.Postgres, cfg.ConnectRetries, cfg.ConnectMaxWait.Std(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("postgres store connected",
			"host", cfg.Postgres.Host,
			"database", cfg.Postgres.Name,
		)
		return NewPostgres(pool), nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
