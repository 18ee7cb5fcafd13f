// Package exchange buys and sells kabu against the ledger at the current
// market price.
//
// Every trade moves currency first for buys and holdings first for sells,
// so a failure before the second step leaves the player no worse off. A
// failure after the first step cannot be undone and is reported as an
// *InconsistencyError.
//
// Sells debit holdings conditionally, so units wiped by a period reset are
// never paid out. With a PeriodGuard set, a reset also cannot land inside
// a trade at all.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rickgao/kabu-market/internal/ledger"
	"github.com/rickgao/kabu-market/internal/model"
	"github.com/rickgao/kabu-market/internal/store"
	"github.com/shopspring/decimal"
)

// Defaults.
const (
	DefaultUnitSize    = 100
	DefaultLockTimeout = 5 * time.Second
)

var (
	// ErrInvalidAmount is returned for amounts that are not a positive
	// multiple of the unit size.
	ErrInvalidAmount = errors.New("amount must be a positive multiple of the unit size")

	// ErrInsufficientFunds is returned when the ledger cannot cover a buy.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds

	// ErrInsufficientHoldings is returned when a sell exceeds the holdings.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrContention is returned when another trade for the same player held
	// the lock past the lock timeout. Retryable.
	ErrContention = errors.New("player busy, try again")
)

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// InconsistencyError means the first half of a trade committed and the
// second half failed. Operators must reconcile it by hand.
type InconsistencyError struct {
	Player model.PlayerID
	Side   Side
	Amount int64
	Total  decimal.Decimal
	Cause  error
}

func (e *InconsistencyError) Error() string {
	if e.Side == SideBuy {
		return fmt.Sprintf("buy %d for %s: payment taken but holdings not credited to %s: %v",
			e.Amount, e.Total, e.Player, e.Cause)
	}
	return fmt.Sprintf("sell %d for %s: holdings removed but payment not deposited to %s: %v",
		e.Amount, e.Total, e.Player, e.Cause)
}

func (e *InconsistencyError) Unwrap() error {
	return e.Cause
}

// Receipt describes a completed trade.
type Receipt struct {
	ID       uuid.UUID       `json:"id"`
	Player   model.PlayerID  `json:"player"`
	Side     Side            `json:"side"`
	Amount   int64           `json:"amount"`
	Price    int64           `json:"price"`
	Total    decimal.Decimal `json:"total"`
	Holdings int64           `json:"holdings"`
}

// Recorder observes trades, typically for metrics.
type Recorder interface {
	RecordTrade(side, result string, units int64)
	RecordInconsistency(side string)
}

// PeriodGuard holds off period resets. *pricing.Engine implements it.
type PeriodGuard interface {
	HoldPeriod() func()
}

// Exchange executes trades.
type Exchange struct {
	balances    store.Balances
	states      store.MarketStates
	ledger      ledger.Ledger
	unit        int64
	lockTimeout time.Duration
	locks       *keyedLocks
	guard       PeriodGuard
	recorder    Recorder
	logger      *slog.Logger
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithUnitSize sets the trade unit. Values below 1 are ignored.
func WithUnitSize(unit int64) Option {
	return func(e *Exchange) {
		if unit > 0 {
			e.unit = unit
		}
	}
}

// WithLockTimeout sets how long a trade waits for the player's lock.
func WithLockTimeout(d time.Duration) Option {
	return func(e *Exchange) {
		if d > 0 {
			e.lockTimeout = d
		}
	}
}

// WithPeriodGuard makes every trade hold g for its duration.
func WithPeriodGuard(g PeriodGuard) Option {
	return func(e *Exchange) {
		e.guard = g
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Exchange) {
		e.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exchange) {
		e.logger = logger
	}
}

// New creates an exchange over the given stores and ledger.
func New(balances store.Balances, states store.MarketStates, l ledger.Ledger, opts ...Option) *Exchange {
	e := &Exchange{
		balances:    balances,
		states:      states,
		ledger:      l,
		unit:        DefaultUnitSize,
		lockTimeout: DefaultLockTimeout,
		locks:       newKeyedLocks(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// UnitSize returns the trade unit.
func (e *Exchange) UnitSize() int64 {
	return e.unit
}

// Buy purchases amount kabu at the current price.
func (e *Exchange) Buy(ctx context.Context, id model.PlayerID, amount int64) (Receipt, error) {
	r, err := e.buy(ctx, id, amount)
	e.record(SideBuy, amount, err)
	return r, err
}

// Sell sells amount kabu at the current price.
func (e *Exchange) Sell(ctx context.Context, id model.PlayerID, amount int64) (Receipt, error) {
	r, err := e.sell(ctx, id, amount)
	e.record(SideSell, amount, err)
	return r, err
}

func (e *Exchange) buy(ctx context.Context, id model.PlayerID, amount int64) (Receipt, error) {
	if err := e.checkAmount(amount); err != nil {
		return Receipt{}, err
	}

	release, err := e.locks.acquire(ctx, id, e.lockTimeout)
	if err != nil {
		return Receipt{}, err
	}
	defer release()
	defer e.holdPeriod()()

	price, err := e.price(ctx)
	if err != nil {
		return Receipt{}, err
	}
	total := cost(amount, price)

	ok, err := e.ledger.CanAfford(ctx, id, total)
	if err != nil {
		return Receipt{}, fmt.Errorf("check funds: %w", err)
	}
	if !ok {
		return Receipt{}, ErrInsufficientFunds
	}

	if err := e.ledger.Withdraw(ctx, id, total); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return Receipt{}, ErrInsufficientFunds
		}
		return Receipt{}, fmt.Errorf("withdraw: %w", err)
	}

	holdings, err := e.balances.Adjust(ctx, id, amount)
	if err != nil {
		ierr := &InconsistencyError{Player: id, Side: SideBuy, Amount: amount, Total: total, Cause: err}
		e.logger.Error("trade left inconsistent", "player", id, "side", SideBuy, "amount", amount, "total", total, "error", err)
		return Receipt{}, ierr
	}

	return e.receipt(id, SideBuy, amount, price, total, holdings), nil
}

func (e *Exchange) sell(ctx context.Context, id model.PlayerID, amount int64) (Receipt, error) {
	if err := e.checkAmount(amount); err != nil {
		return Receipt{}, err
	}

	release, err := e.locks.acquire(ctx, id, e.lockTimeout)
	if err != nil {
		return Receipt{}, err
	}
	defer release()
	defer e.holdPeriod()()

	price, err := e.price(ctx)
	if err != nil {
		return Receipt{}, err
	}
	total := cost(amount, price)

	holdings, err := e.balances.Debit(ctx, id, amount)
	if errors.Is(err, store.ErrInsufficientQuantity) {
		return Receipt{}, ErrInsufficientHoldings
	}
	if err != nil {
		return Receipt{}, fmt.Errorf("debit holdings: %w", err)
	}

	if err := e.ledger.Deposit(ctx, id, total); err != nil {
		ierr := &InconsistencyError{Player: id, Side: SideSell, Amount: amount, Total: total, Cause: err}
		e.logger.Error("trade left inconsistent", "player", id, "side", SideSell, "amount", amount, "total", total, "error", err)
		return Receipt{}, ierr
	}

	return e.receipt(id, SideSell, amount, price, total, holdings), nil
}

func (e *Exchange) holdPeriod() func() {
	if e.guard == nil {
		return func() {}
	}
	return e.guard.HoldPeriod()
}

func (e *Exchange) checkAmount(amount int64) error {
	if amount <= 0 || amount%e.unit != 0 {
		return fmt.Errorf("%w: %d (unit %d)", ErrInvalidAmount, amount, e.unit)
	}
	return nil
}

func (e *Exchange) price(ctx context.Context) (int64, error) {
	s, err := e.states.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("read market state: %w", err)
	}
	return s.Price, nil
}

func (e *Exchange) receipt(id model.PlayerID, side Side, amount, price int64, total decimal.Decimal, holdings int64) Receipt {
	r := Receipt{
		ID:       uuid.New(),
		Player:   id,
		Side:     side,
		Amount:   amount,
		Price:    price,
		Total:    total,
		Holdings: holdings,
	}
	e.logger.Info("trade executed",
		"trade", r.ID,
		"player", id,
		"side", side,
		"amount", amount,
		"price", price,
		"total", total,
		"holdings", holdings,
	)
	return r
}

func (e *Exchange) record(side Side, amount int64, err error) {
	if e.recorder == nil {
		return
	}
	var ierr *InconsistencyError
	if errors.As(err, &ierr) {
		e.recorder.RecordInconsistency(string(side))
	}
	e.recorder.RecordTrade(string(side), resultOf(err), amount)
}

// resultOf maps a trade error to a short label.
func resultOf(err error) string {
	var ierr *InconsistencyError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ierr):
		return "inconsistent"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, ErrContention):
		return "contention"
	default:
		return "error"
	}
}

func cost(amount, price int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(price))
}
