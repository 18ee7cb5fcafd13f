package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rickgao/kabu-market/internal/model"
)

const (
	sqliteGetBalanceSQL = `SELECT quantity FROM kabu_balances WHERE player_id = ?`
	sqliteSetBalanceSQL = `
INSERT INTO kabu_balances (player_id, quantity, updated_at)
VALUES (?, ?, ?)
ON CONFLICT (player_id) DO UPDATE SET
    quantity = excluded.quantity,
    updated_at = excluded.updated_at`
	sqliteAdjustBalanceSQL = `
INSERT INTO kabu_balances (player_id, quantity, updated_at)
VALUES (?, MAX(?, 0), ?)
ON CONFLICT (player_id) DO UPDATE SET
    quantity = MAX(kabu_balances.quantity + ?, 0),
    updated_at = excluded.updated_at
RETURNING quantity`
	sqliteDebitBalanceSQL = `
UPDATE kabu_balances
SET quantity = quantity - ?, updated_at = ?
WHERE player_id = ? AND quantity >= ?
RETURNING quantity`
	sqliteClearBalancesSQL = `DELETE FROM kabu_balances`
	sqliteTopSQL           = `
SELECT player_id, quantity FROM kabu_balances
WHERE quantity > 0
ORDER BY quantity DESC
LIMIT ?`
	sqliteReadStateSQL  = `SELECT price, delta, last_update_day FROM kabu_market_state WHERE id = 1`
	sqliteWriteStateSQL = `
INSERT INTO kabu_market_state (id, price, delta, last_update_day, updated_at)
VALUES (1, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    price = excluded.price,
    delta = excluded.delta,
    last_update_day = excluded.last_update_day,
    updated_at = excluded.updated_at`
	sqliteSwapStateSQL = `
UPDATE kabu_market_state
SET price = ?, delta = ?, last_update_day = ?, updated_at = ?
WHERE id = 1 AND last_update_day = ?`
)

type holdingRow struct {
	PlayerID string `db:"player_id"`
	Quantity int64  `db:"quantity"`
}

type stateRow struct {
	Price         int64 `db:"price"`
	Delta         int64 `db:"delta"`
	LastUpdateDay int   `db:"last_update_day"`
}

// SQLite persists the market in an embedded SQLite database.
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite wraps a database opened with database.OpenSQLite.
func NewSQLite(db *sqlx.DB) *SQLite {
	return &SQLite{db: db}
}

func (s *SQLite) Get(ctx context.Context, id model.PlayerID) (int64, error) {
	var qty int64
	err := s.db.GetContext(ctx, &qty, sqliteGetBalanceSQL, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return qty, nil
}

func (s *SQLite) Set(ctx context.Context, id model.PlayerID, qty int64) error {
	if qty < 0 {
		return ErrNegativeQuantity
	}
	if _, err := s.db.ExecContext(ctx, sqliteSetBalanceSQL, id.String(), qty, nowMicro()); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func (s *SQLite) Adjust(ctx context.Context, id model.PlayerID, delta int64) (int64, error) {
	var qty int64
	if err := s.db.GetContext(ctx, &qty, sqliteAdjustBalanceSQL, id.String(), delta, nowMicro(), delta); err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return qty, nil
}

func (s *SQLite) Debit(ctx context.Context, id model.PlayerID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit %d: amount must be > 0", amount)
	}
	var qty int64
	err := s.db.GetContext(ctx, &qty, sqliteDebitBalanceSQL, amount, nowMicro(), id.String(), amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInsufficientQuantity
	}
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	return qty, nil
}

func (s *SQLite) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteClearBalancesSQL); err != nil {
		return fmt.Errorf("clear balances: %w", err)
	}
	return nil
}

func (s *SQLite) TopN(ctx context.Context, n int) ([]model.Holding, error) {
	if n <= 0 {
		return nil, nil
	}

	var rows []holdingRow
	if err := s.db.SelectContext(ctx, &rows, sqliteTopSQL, n); err != nil {
		return nil, fmt.Errorf("top balances: %w", err)
	}

	holdings := make([]model.Holding, 0, len(rows))
	for _, r := range rows {
		id, err := model.ParsePlayerID(r.PlayerID)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, model.Holding{Player: id, Quantity: r.Quantity})
	}
	return holdings, nil
}

func (s *SQLite) Read(ctx context.Context) (model.MarketState, error) {
	var row stateRow
	err := s.db.GetContext(ctx, &row, sqliteReadStateSQL)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultMarketState(), nil
	}
	if err != nil {
		return model.MarketState{}, fmt.Errorf("read market state: %w", err)
	}
	return model.MarketState{Price: row.Price, Delta: row.Delta, LastUpdateDay: row.LastUpdateDay}, nil
}

func (s *SQLite) Write(ctx context.Context, st model.MarketState) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqliteWriteStateSQL, st.Price, st.Delta, st.LastUpdateDay, nowMicro()); err != nil {
		return fmt.Errorf("write market state: %w", err)
	}
	return nil
}

func (s *SQLite) CompareAndSwap(ctx context.Context, expectedDay int, next model.MarketState) error {
	if err := next.Validate(); err != nil {
		return err
	}
	return swapState(ctx, s.db, expectedDay, next)
}

func (s *SQLite) ResetPeriod(ctx context.Context, expectedDay int, next model.MarketState) error {
	if err := next.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	if err := swapState(ctx, tx, expectedDay, next); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, sqliteClearBalancesSQL); err != nil {
		return fmt.Errorf("clear balances: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func swapState(ctx context.Context, ex sqlx.ExecerContext, expectedDay int, next model.MarketState) error {
	res, err := ex.ExecContext(ctx, sqliteSwapStateSQL, next.Price, next.Delta, next.LastUpdateDay, nowMicro(), expectedDay)
	if err != nil {
		return fmt.Errorf("swap market state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap market state: %w", err)
	}
	if n == 0 {
		return ErrRaceLost
	}
	return nil
}

func nowMicro() int64 {
	return time.Now().UnixMicro()
}
