// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Current price and delta
//   - Evaluation outcomes
//   - Trades by side and result, units traded, inconsistencies
//   - Broadcast subscribers
//   - HTTP request counts and latencies
package metrics
