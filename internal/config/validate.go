package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Validate checks that all required fields are set and values are valid.
func (c *KabuConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	case DriverSQLite:
		if c.Database.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be one of postgres, sqlite, memory, got %q", c.Database.Driver)
	}
	if c.Database.ConnectRetries < 0 {
		return errors.New("database.connect_retries must be >= 0")
	}

	if c.Market.UnitSize < 1 {
		return errors.New("market.unit_size must be >= 1")
	}
	if c.Market.LockTimeout <= 0 {
		return errors.New("market.lock_timeout must be > 0")
	}
	if _, err := c.Market.Location(); err != nil {
		return fmt.Errorf("market.time_zone: %w", err)
	}

	if c.Scheduler.StartupDelay < 0 {
		return errors.New("scheduler.startup_delay must be >= 0")
	}
	if c.Scheduler.Interval.Std() < time.Second {
		return fmt.Errorf("scheduler.interval must be >= 1s, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.TickTimeout <= 0 {
		return errors.New("scheduler.tick_timeout must be > 0")
	}

	if err := c.Ledger.validate(); err != nil {
		return err
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must be >= 0")
	}
	if c.Server.RateBurst < 1 {
		return errors.New("server.rate_burst must be >= 1")
	}

	if c.Broadcast.QueueSize < 1 {
		return errors.New("broadcast.queue_size must be >= 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (l *LedgerConfig) validate() error {
	switch l.Driver {
	case LedgerHTTP:
		if l.BaseURL == "" {
			return errors.New("ledger.base_url is required for the http driver")
		}
		if l.PrivateKeyPath != "" && l.APIKey == "" {
			return errors.New("ledger.api_key is required when ledger.private_key_path is set")
		}
	case LedgerMemory:
		bal, err := decimal.NewFromString(l.StartingBalance)
		if err != nil {
			return fmt.Errorf("ledger.starting_balance: %w", err)
		}
		if bal.IsNegative() {
			return fmt.Errorf("ledger.starting_balance must be >= 0, got %s", l.StartingBalance)
		}
	default:
		return fmt.Errorf("ledger.driver must be http or memory, got %q", l.Driver)
	}
	if l.MaxRetries < 0 {
		return errors.New("ledger.max_retries must be >= 0")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
