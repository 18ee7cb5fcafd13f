package config

import "time"

// KabuConfig is the root configuration for a kabu market instance.
type KabuConfig struct {
	Instance  InstanceConfig  `yaml:"instance" toml:"instance"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Market    MarketConfig    `yaml:"market" toml:"market"`
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Ledger    LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Broadcast BroadcastConfig `yaml:"broadcast" toml:"broadcast"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id" toml:"id"`
}

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig selects and configures the durable store.
type DatabaseConfig struct {
	Driver         string       `yaml:"driver" toml:"driver"` // postgres, sqlite or memory
	Postgres       DBConfig     `yaml:"postgres" toml:"postgres"`
	SQLite         SQLiteConfig `yaml:"sqlite" toml:"sqlite"`
	ConnectRetries int          `yaml:"connect_retries" toml:"connect_retries"`
	ConnectMaxWait Duration     `yaml:"connect_max_wait" toml:"connect_max_wait"`
	AutoMigrate    bool         `yaml:"auto_migrate" toml:"auto_migrate"`
}

// DBConfig holds a single PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Name     string `yaml:"name" toml:"name"`
	User     string `yaml:"user" toml:"user"`
	Password string `yaml:"password" toml:"password"`
	SSLMode  string `yaml:"ssl_mode" toml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns" toml:"max_conns"`
	MinConns int    `yaml:"min_conns" toml:"min_conns"`
}

// SQLiteConfig holds the embedded database file location.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// MarketConfig holds trading rules and the calendar used by the engine.
type MarketConfig struct {
	UnitSize    int64    `yaml:"unit_size" toml:"unit_size"`
	LockTimeout Duration `yaml:"lock_timeout" toml:"lock_timeout"`
	TimeZone    string   `yaml:"time_zone" toml:"time_zone"`
	Seed        uint64   `yaml:"seed" toml:"seed"` // 0 = seeded from the system
}

// Location resolves TimeZone. An empty zone means the local zone.
func (m MarketConfig) Location() (*time.Location, error) {
	if m.TimeZone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(m.TimeZone)
}

// SchedulerConfig holds the tick timer settings.
type SchedulerConfig struct {
	StartupDelay Duration `yaml:"startup_delay" toml:"startup_delay"`
	Interval     Duration `yaml:"interval" toml:"interval"`
	TickTimeout  Duration `yaml:"tick_timeout" toml:"tick_timeout"`
}

// Ledger drivers.
const (
	LedgerHTTP   = "http"
	LedgerMemory = "memory"
)

// LedgerConfig holds the currency ledger settings.
type LedgerConfig struct {
	Driver          string   `yaml:"driver" toml:"driver"` // http or memory
	BaseURL         string   `yaml:"base_url" toml:"base_url"`
	APIKey          string   `yaml:"api_key" toml:"api_key"`                   // key ID (LEDGER-ACCESS-KEY header)
	PrivateKeyPath  string   `yaml:"private_key_path" toml:"private_key_path"` // RSA private key PEM file, optional
	Timeout         Duration `yaml:"timeout" toml:"timeout"`
	MaxRetries      int      `yaml:"max_retries" toml:"max_retries"`
	RetryBackoff    Duration `yaml:"retry_backoff" toml:"retry_backoff"`
	StartingBalance string   `yaml:"starting_balance" toml:"starting_balance"` // memory driver only
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr            string   `yaml:"addr" toml:"addr"`
	CORSOrigins     []string `yaml:"cors_origins" toml:"cors_origins"`
	AdminToken      string   `yaml:"admin_token" toml:"admin_token"` // empty disables admin routes
	RateLimit       float64  `yaml:"rate_limit" toml:"rate_limit"`   // requests per second per client, 0 = unlimited
	RateBurst       int      `yaml:"rate_burst" toml:"rate_burst"`
	ReadTimeout     Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// BroadcastConfig holds websocket broadcast settings.
type BroadcastConfig struct {
	QueueSize    int      `yaml:"queue_size" toml:"queue_size"`
	WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout"`
	PingInterval Duration `yaml:"ping_interval" toml:"ping_interval"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Disabled bool   `yaml:"disabled" toml:"disabled"`
	Path     string `yaml:"path" toml:"path"`
}

// LoggingConfig holds process logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format     string `yaml:"format" toml:"format"` // text or json
	File       string `yaml:"file" toml:"file"`     // optional rotating log file
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}
