// Package ledger moves currency for kabu trades.
//
// The ledger itself lives outside this process. Client talks to it over
// HTTP; Memory is an in-process stand-in for tests and single-node setups.
package ledger

import (
	"context"
	"errors"

	"github.com/rickgao/kabu-market/internal/model"
	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds is returned by Withdraw when the account cannot
// cover the amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrInvalidAmount is returned for zero or negative amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// Ledger is the currency capability consumed by exchange operations.
type Ledger interface {
	CanAfford(ctx context.Context, id model.PlayerID, amount decimal.Decimal) (bool, error)
	Withdraw(ctx context.Context, id model.PlayerID, amount decimal.Decimal) error
	Deposit(ctx context.Context, id model.PlayerID, amount decimal.Decimal) error
}
