package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDatabaseDriver  = DriverSQLite
	DefaultSQLitePath      = "data/kabu.db"
	DefaultConnectRetries  = 5
	DefaultConnectMaxWait  = 30 * time.Second
	DefaultDBPort          = 5432
	DefaultDBSSLMode       = "prefer"
	DefaultMaxConns        = 10
	DefaultMinConns        = 2
	DefaultUnitSize        = 100
	DefaultLockTimeout     = 5 * time.Second
	DefaultStartupDelay    = 10 * time.Second
	DefaultTickInterval    = 30 * time.Minute
	DefaultTickTimeout     = 30 * time.Second
	DefaultLedgerDriver    = LedgerHTTP
	DefaultLedgerTimeout   = 30 * time.Second
	DefaultLedgerRetries   = 3
	DefaultLedgerBackoff   = time.Second
	DefaultStartingBalance = "0"
	DefaultServerAddr      = ":8080"
	DefaultRateBurst       = 20
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultQueueSize       = 16
	DefaultBroadcastWrite  = 10 * time.Second
	DefaultPingInterval    = 30 * time.Second
	DefaultMetricsPath     = "/metrics"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultLogMaxSizeMB    = 100
	DefaultLogMaxBackups   = 3
	DefaultLogMaxAgeDays   = 28
)

func (c *KabuConfig) applyDefaults() {
	// Database defaults
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}
	if c.Database.ConnectRetries == 0 {
		c.Database.ConnectRetries = DefaultConnectRetries
	}
	if c.Database.ConnectMaxWait == 0 {
		c.Database.ConnectMaxWait = Duration(DefaultConnectMaxWait)
	}
	applyDBDefaults(&c.Database.Postgres)

	// Market defaults
	if c.Market.UnitSize == 0 {
		c.Market.UnitSize = DefaultUnitSize
	}
	if c.Market.LockTimeout == 0 {
		c.Market.LockTimeout = Duration(DefaultLockTimeout)
	}

	// Scheduler defaults
	if c.Scheduler.StartupDelay == 0 {
		c.Scheduler.StartupDelay = Duration(DefaultStartupDelay)
	}
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = Duration(DefaultTickInterval)
	}
	if c.Scheduler.TickTimeout == 0 {
		c.Scheduler.TickTimeout = Duration(DefaultTickTimeout)
	}

	// Ledger defaults
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = DefaultLedgerDriver
	}
	if c.Ledger.Timeout == 0 {
		c.Ledger.Timeout = Duration(DefaultLedgerTimeout)
	}
	if c.Ledger.MaxRetries == 0 {
		c.Ledger.MaxRetries = DefaultLedgerRetries
	}
	if c.Ledger.RetryBackoff == 0 {
		c.Ledger.RetryBackoff = Duration(DefaultLedgerBackoff)
	}
	if c.Ledger.StartingBalance == "" {
		c.Ledger.StartingBalance = DefaultStartingBalance
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = DefaultRateBurst
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}

	// Broadcast defaults
	if c.Broadcast.QueueSize == 0 {
		c.Broadcast.QueueSize = DefaultQueueSize
	}
	if c.Broadcast.WriteTimeout == 0 {
		c.Broadcast.WriteTimeout = Duration(DefaultBroadcastWrite)
	}
	if c.Broadcast.PingInterval == 0 {
		c.Broadcast.PingInterval = Duration(DefaultPingInterval)
	}

	// Metrics defaults
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
