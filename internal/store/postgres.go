package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/kabu-market/internal/model"
)

var errNilPool = errors.New("postgres store: nil pool")

const (
	pgGetBalanceSQL = `SELECT quantity FROM kabu_balances WHERE player_id = $1`
	pgSetBalanceSQL = `
INSERT INTO kabu_balances (player_id, quantity, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (player_id) DO UPDATE SET
    quantity = EXCLUDED.quantity,
    updated_at = NOW()`
	pgAdjustBalanceSQL = `
INSERT INTO kabu_balances (player_id, quantity, updated_at)
VALUES ($1, GREATEST($2::bigint, 0), NOW())
ON CONFLICT (player_id) DO UPDATE SET
    quantity = GREATEST(kabu_balances.quantity + $2::bigint, 0),
    updated_at = NOW()
RETURNING quantity`
	pgDebitBalanceSQL = `
UPDATE kabu_balances
SET quantity = quantity - $2, updated_at = NOW()
WHERE player_id = $1 AND quantity >= $2
RETURNING quantity`
	pgClearBalancesSQL = `DELETE FROM kabu_balances`
	pgTopSQL           = `
SELECT player_id, quantity FROM kabu_balances
WHERE quantity > 0
ORDER BY quantity DESC
LIMIT $1`
	pgReadStateSQL  = `SELECT price, delta, last_update_day FROM kabu_market_state WHERE id = 1`
	pgWriteStateSQL = `
INSERT INTO kabu_market_state (id, price, delta, last_update_day, updated_at)
VALUES (1, $1, $2, $3, NOW())
ON CONFLICT (id) DO UPDATE SET
    price = EXCLUDED.price,
    delta = EXCLUDED.delta,
    last_update_day = EXCLUDED.last_update_day,
    updated_at = NOW()`
	pgSwapStateSQL = `
UPDATE kabu_market_state
SET price = $1, delta = $2, last_update_day = $3, updated_at = NOW()
WHERE id = 1 AND last_update_day = $4`
)

// Postgres persists the market in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres store backed by the provided pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (s *Postgres) Get(ctx context.Context, id model.PlayerID) (int64, error) {
	if s.pool == nil {
		return 0, errNilPool
	}
	var qty int64
	err := s.pool.QueryRow(ctx, pgGetBalanceSQL, id).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return qty, nil
}

func (s *Postgres) Set(ctx context.Context, id model.PlayerID, qty int64) error {
	if s.pool == nil {
		return errNilPool
	}
	if qty < 0 {
		return ErrNegativeQuantity
	}
	if _, err := s.pool.Exec(ctx, pgSetBalanceSQL, id, qty); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func (s *Postgres) Adjust(ctx context.Context, id model.PlayerID, delta int64) (int64, error) {
	if s.pool == nil {
		return 0, errNilPool
	}
	var qty int64
	if err := s.pool.QueryRow(ctx, pgAdjustBalanceSQL, id, delta).Scan(&qty); err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	return qty, nil
}

func (s *Postgres) Debit(ctx context.Context, id model.PlayerID, amount int64) (int64, error) {
	if s.pool == nil {
		return 0, errNilPool
	}
	if amount <= 0 {
		return 0, fmt.Errorf("debit %d: amount must be > 0", amount)
	}
	var qty int64
	err := s.pool.QueryRow(ctx, pgDebitBalanceSQL, id, amount).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientQuantity
	}
	if err != nil {
		return 0, fmt.Errorf("debit balance: %w", err)
	}
	return qty, nil
}

func (s *Postgres) ClearAll(ctx context.Context) error {
	if s.pool == nil {
		return errNilPool
	}
	if _, err := s.pool.Exec(ctx, pgClearBalancesSQL); err != nil {
		return fmt.Errorf("clear balances: %w", err)
	}
	return nil
}

func (s *Postgres) TopN(ctx context.Context, n int) ([]model.Holding, error) {
	if s.pool == nil {
		return nil, errNilPool
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, pgTopSQL, n)
	if err != nil {
		return nil, fmt.Errorf("top balances: %w", err)
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		if err := rows.Scan(&h.Player, &h.Quantity); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holdings: %w", err)
	}
	return holdings, nil
}

func (s *Postgres) Read(ctx context.Context) (model.MarketState, error) {
	if s.pool == nil {
		return model.MarketState{}, errNilPool
	}
	var st model.MarketState
	err := s.pool.QueryRow(ctx, pgReadStateSQL).Scan(&st.Price, &st.Delta, &st.LastUpdateDay)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DefaultMarketState(), nil
	}
	if err != nil {
		return model.MarketState{}, fmt.Errorf("read market state: %w", err)
	}
	return st, nil
}

func (s *Postgres) Write(ctx context.Context, st model.MarketState) error {
	if s.pool == nil {
		return errNilPool
	}
	if err := st.Validate(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, pgWriteStateSQL, st.Price, st.Delta, st.LastUpdateDay); err != nil {
		return fmt.Errorf("write market state: %w", err)
	}
	return nil
}

func (s *Postgres) CompareAndSwap(ctx context.Context, expectedDay int, next model.MarketState) error {
	if s.pool == nil {
		return errNilPool
	}
	if err := next.Validate(); err != nil {
		return err
	}
	return pgSwapState(ctx, s.pool, expectedDay, next)
}

func (s *Postgres) ResetPeriod(ctx context.Context, expectedDay int, next model.MarketState) error {
	if s.pool == nil {
		return errNilPool
	}
	if err := next.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := pgSwapState(ctx, tx, expectedDay, next); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, pgClearBalancesSQL); err != nil {
		return fmt.Errorf("clear balances: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	if s.pool == nil {
		return errNilPool
	}
	return s.pool.Ping(ctx)
}

func (s *Postgres) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func pgSwapState(ctx context.Context, ex pgExecer, expectedDay int, next model.MarketState) error {
	tag, err := ex.Exec(ctx, pgSwapStateSQL, next.Price, next.Delta, next.LastUpdateDay, expectedDay)
	if err != nil {
		return fmt.Errorf("swap market state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRaceLost
	}
	return nil
}
