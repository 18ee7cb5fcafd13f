// Package model defines shared data types used across the kabu market.
//
// Conventions:
//   - Prices and deltas: integer currency units per kabu
//   - Quantities: integer kabu units, never negative once persisted
//   - Timestamps: int64 microseconds since Unix epoch
//   - IDs: uuid.UUID for players
package model
