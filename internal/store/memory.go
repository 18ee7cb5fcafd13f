package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rickgao/kabu-market/internal/model"
)

// Memory is an in-process Store. It is used by tests and single-run tools.
type Memory struct {
	mu       sync.RWMutex
	balances map[model.PlayerID]int64
	state    model.MarketState
}

// NewMemory creates an empty store holding the default market state.
func NewMemory() *Memory {
	return &Memory{
		balances: make(map[model.PlayerID]int64),
		state:    model.DefaultMarketState(),
	}
}

func (m *Memory) Get(_ context.Context, id model.PlayerID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[id], nil
}

func (m *Memory) Set(_ context.Context, id model.PlayerID, qty int64) error {
	if qty < 0 {
		return ErrNegativeQuantity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[id] = qty
	return nil
}

func (m *Memory) Adjust(_ context.Context, id model.PlayerID, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	qty := max(m.balances[id]+delta, 0)
	m.balances[id] = qty
	return qty, nil
}

func (m *Memory) Debit(_ context.Context, id model.PlayerID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit %d: amount must be > 0", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	qty := m.balances[id]
	if qty < amount {
		return 0, ErrInsufficientQuantity
	}
	m.balances[id] = qty - amount
	return qty - amount, nil
}

func (m *Memory) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.balances)
	return nil
}

func (m *Memory) TopN(_ context.Context, n int) ([]model.Holding, error) {
	if n <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	holdings := make([]model.Holding, 0, len(m.balances))
	for id, qty := range m.balances {
		if qty > 0 {
			holdings = append(holdings, model.Holding{Player: id, Quantity: qty})
		}
	}
	m.mu.RUnlock()

	sort.Slice(holdings, func(i, j int) bool {
		return holdings[i].Quantity > holdings[j].Quantity
	})
	if len(holdings) > n {
		holdings = holdings[:n]
	}
	return holdings, nil
}

func (m *Memory) Read(_ context.Context) (model.MarketState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

func (m *Memory) Write(_ context.Context, s model.MarketState) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
	return nil
}

func (m *Memory) CompareAndSwap(_ context.Context, expectedDay int, next model.MarketState) error {
	if err := next.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.LastUpdateDay != expectedDay {
		return ErrRaceLost
	}
	m.state = next
	return nil
}

func (m *Memory) ResetPeriod(_ context.Context, expectedDay int, next model.MarketState) error {
	if err := next.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.LastUpdateDay != expectedDay {
		return ErrRaceLost
	}
	m.state = next
	clear(m.balances)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
