// Package scheduler drives the price engine on a timer.
//
// The Scheduler:
//   - Waits a short startup delay, then ticks once
//   - Ticks again on every interval
//   - Bounds each tick with a timeout
//   - Logs failures; the next tick retries the same day
package scheduler
