package model

import (
	"fmt"

	"github.com/google/uuid"
)

// PlayerID identifies a balance holder.
type PlayerID = uuid.UUID

// ParsePlayerID parses the canonical UUID form of a player ID.
func ParsePlayerID(s string) (PlayerID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse player id %q: %w", s, err)
	}
	return id, nil
}

// Defaults for a market that has never been evaluated.
const (
	DefaultPrice = 100
	DefaultDelta = 0
	DefaultDay   = 1
)

// -----------------------------------------------------------------------------
// Market State
// -----------------------------------------------------------------------------

// MarketState is the singleton price record.
type MarketState struct {
	Price         int64 // Current price (>= 1)
	Delta         int64 // Signed change applied by the last evaluation (display only)
	LastUpdateDay int   // Day of month the engine last set Price (1-31)
}

// DefaultMarketState returns the state of an uninitialized market.
func DefaultMarketState() MarketState {
	return MarketState{
		Price:         DefaultPrice,
		Delta:         DefaultDelta,
		LastUpdateDay: DefaultDay,
	}
}

// Validate reports whether s can be persisted.
func (s MarketState) Validate() error {
	if s.Price < 1 {
		return fmt.Errorf("price must be >= 1, got %d", s.Price)
	}
	if s.LastUpdateDay < 1 || s.LastUpdateDay > 31 {
		return fmt.Errorf("last update day must be between 1 and 31, got %d", s.LastUpdateDay)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Balances
// -----------------------------------------------------------------------------

// Holding is a player's kabu balance.
type Holding struct {
	Player   PlayerID `json:"player"`
	Quantity int64    `json:"quantity"`
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// PriceEvent is emitted once per applied evaluation.
type PriceEvent struct {
	Price       int64 `json:"price"`
	Delta       int64 `json:"delta"`
	PeriodReset bool  `json:"period_reset"`
	Day         int   `json:"day"`
	At          int64 `json:"at"` // µs since epoch
}
