// Package database opens the durable stores behind the kabu market.
//
// Two backends are supported:
//   - PostgreSQL via pgxpool, schema managed by golang-migrate
//   - SQLite (pure Go) via sqlx, schema created on open
package database
