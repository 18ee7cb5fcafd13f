// Package market is the query and administration surface over the price
// engine and the balance store.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/kabu-market/internal/model"
	"github.com/rickgao/kabu-market/internal/pricing"
	"github.com/rickgao/kabu-market/internal/store"
)

// Leaderboard limits.
const (
	DefaultTopN = 5
	MaxTopN     = 100
)

// ErrInvalidQuantity is returned by SetBalance for negative quantities.
var ErrInvalidQuantity = errors.New("quantity must be >= 0")

// Welcome is the greeting data shown to a returning holder.
type Welcome struct {
	Holdings int64  `json:"holdings"`
	Price    int64  `json:"price"`
	Delta    *int64 `json:"delta,omitempty"` // nil on period boundary days
}

// Market combines read access to state and balances with the admin
// overrides.
type Market struct {
	store  store.Store
	engine *pricing.Engine
	logger *slog.Logger
}

// New creates a Market.
func New(st store.Store, engine *pricing.Engine, logger *slog.Logger) *Market {
	if logger == nil {
		logger = slog.Default()
	}
	return &Market{store: st, engine: engine, logger: logger}
}

// State returns the current market state.
func (m *Market) State(ctx context.Context) (model.MarketState, error) {
	return m.store.Read(ctx)
}

// CurrentPrice returns the current price.
func (m *Market) CurrentPrice(ctx context.Context) (int64, error) {
	s, err := m.store.Read(ctx)
	if err != nil {
		return 0, err
	}
	return s.Price, nil
}

// CurrentDelta returns the change applied by the last ordinary evaluation.
func (m *Market) CurrentDelta(ctx context.Context) (int64, error) {
	s, err := m.store.Read(ctx)
	if err != nil {
		return 0, err
	}
	return s.Delta, nil
}

// BalanceOf returns the player's holdings, 0 if none.
func (m *Market) BalanceOf(ctx context.Context, id model.PlayerID) (int64, error) {
	return m.store.Get(ctx, id)
}

// TopN returns the largest holders. n <= 0 means DefaultTopN; n is capped
// at MaxTopN.
func (m *Market) TopN(ctx context.Context, n int) ([]model.Holding, error) {
	if n <= 0 {
		n = DefaultTopN
	}
	if n > MaxTopN {
		n = MaxTopN
	}
	return m.store.TopN(ctx, n)
}

// DaysUntilNextBoundary counts days from today until the next period
// boundary.
func (m *Market) DaysUntilNextBoundary() int {
	return pricing.DaysUntilBoundary(m.engine.Today())
}

// Welcome returns the greeting for a holder. ok is false when the player
// holds nothing.
func (m *Market) Welcome(ctx context.Context, id model.PlayerID) (w Welcome, ok bool, err error) {
	qty, err := m.store.Get(ctx, id)
	if err != nil {
		return Welcome{}, false, err
	}
	if qty <= 0 {
		return Welcome{}, false, nil
	}

	s, err := m.store.Read(ctx)
	if err != nil {
		return Welcome{}, false, err
	}

	w = Welcome{Holdings: qty, Price: s.Price}
	if !pricing.IsBoundaryDay(m.engine.Today().Day()) {
		delta := s.Delta
		w.Delta = &delta
	}
	return w, true, nil
}

// ForceEvaluate runs the evaluation for day immediately. Day 0 means
// today. The day gate still applies.
func (m *Market) ForceEvaluate(ctx context.Context, day int) (pricing.Result, error) {
	if day == 0 {
		day = m.engine.Today().Day()
	}
	res, err := m.engine.Evaluate(ctx, day)
	if err != nil {
		return res, err
	}
	m.logger.Info("forced evaluation", "day", day, "outcome", res.Outcome)
	return res, nil
}

// OverridePrice sets the price and zeroes the delta.
func (m *Market) OverridePrice(ctx context.Context, price int64) (model.MarketState, error) {
	return m.engine.OverridePrice(ctx, price)
}

// OverrideDelta sets the displayed delta.
func (m *Market) OverrideDelta(ctx context.Context, delta int64) (model.MarketState, error) {
	return m.engine.OverrideDelta(ctx, delta)
}

// Restore replaces the whole market state, including the last update day.
// Intended for recovering from a bad evaluation.
func (m *Market) Restore(ctx context.Context, s model.MarketState) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := m.store.Write(ctx, s); err != nil {
		return fmt.Errorf("restore market state: %w", err)
	}
	m.logger.Warn("market state restored",
		"price", s.Price,
		"delta", s.Delta,
		"day", s.LastUpdateDay,
	)
	return nil
}

// AdjustBalance adds delta to the player's holdings, clamping at 0.
//
// Admin adjustments do not take the exchange's per-player lock, so they can
// land between the steps of a trade. A sell then fails its conditional
// debit instead of paying out, but a negative delta racing a buy may clamp.
func (m *Market) AdjustBalance(ctx context.Context, id model.PlayerID, delta int64) (int64, error) {
	qty, err := m.store.Adjust(ctx, id, delta)
	if err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}
	m.logger.Info("balance adjusted", "player", id, "delta", delta, "quantity", qty)
	return qty, nil
}

// SetBalance replaces the player's holdings.
func (m *Market) SetBalance(ctx context.Context, id model.PlayerID, qty int64) error {
	if qty < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if err := m.store.Set(ctx, id, qty); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	m.logger.Info("balance set", "player", id, "quantity", qty)
	return nil
}

// ClearAllBalances deletes every holding. Like AdjustBalance it is not
// serialized with trades.
func (m *Market) ClearAllBalances(ctx context.Context) error {
	if err := m.store.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear balances: %w", err)
	}
	m.logger.Warn("all balances cleared")
	return nil
}

// Ping checks the store.
func (m *Market) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}
