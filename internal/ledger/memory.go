package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rickgao/kabu-market/internal/model"
	"github.com/shopspring/decimal"
)

// Memory is an in-process ledger. Accounts not yet seen start with the
// configured opening balance.
type Memory struct {
	mu       sync.Mutex
	accounts map[model.PlayerID]decimal.Decimal
	opening  decimal.Decimal
}

// NewMemory creates a ledger where every new account opens with opening.
func NewMemory(opening decimal.Decimal) *Memory {
	return &Memory{
		accounts: make(map[model.PlayerID]decimal.Decimal),
		opening:  opening,
	}
}

// Balance returns the account balance.
func (m *Memory) Balance(_ context.Context, id model.PlayerID) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(id), nil
}

// Fund sets the account balance.
func (m *Memory) Fund(id model.PlayerID, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = amount
}

func (m *Memory) CanAfford(_ context.Context, id model.PlayerID, amount decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(id).GreaterThanOrEqual(amount), nil
}

func (m *Memory) Withdraw(_ context.Context, id model.PlayerID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balanceLocked(id)
	if bal.LessThan(amount) {
		return ErrInsufficientFunds
	}
	m.accounts[id] = bal.Sub(amount)
	return nil
}

func (m *Memory) Deposit(_ context.Context, id model.PlayerID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[id] = m.balanceLocked(id).Add(amount)
	return nil
}

func (m *Memory) balanceLocked(id model.PlayerID) decimal.Decimal {
	bal, ok := m.accounts[id]
	if !ok {
		return m.opening
	}
	return bal
}
