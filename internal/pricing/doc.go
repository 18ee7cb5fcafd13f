// Package pricing implements the kabu price engine.
//
// The engine is evaluated with a calendar day:
//   - on days 1 and 16 the period resets: balances are wiped and a fresh
//     opening price is drawn
//   - on every other day the price moves by a random percentage
//   - a day already applied is a no-op
//
// Writes are compare-and-swap on the last applied day, so concurrent
// evaluations in one process or several apply at most once per day.
// Within a process, a reset waits for every HoldPeriod holder to finish.
package pricing
