package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kabu_balances (
	player_id TEXT PRIMARY KEY,
	quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS kabu_balances_quantity_idx ON kabu_balances (quantity DESC);

CREATE TABLE IF NOT EXISTS kabu_market_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	price INTEGER NOT NULL CHECK (price >= 1),
	delta INTEGER NOT NULL,
	last_update_day INTEGER NOT NULL CHECK (last_update_day BETWEEN 1 AND 31),
	updated_at INTEGER NOT NULL
);

INSERT OR IGNORE INTO kabu_market_state (id, price, delta, last_update_day, updated_at)
VALUES (1, 100, 0, 1, 0);
`

// OpenSQLite opens or creates a SQLite database at path and ensures the
// schema exists.
func OpenSQLite(path string) (*sqlx.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single writer connection keeps transactions from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}
