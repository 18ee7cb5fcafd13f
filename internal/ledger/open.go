package ledger

import (
	"fmt"
	"log/slog"

	"github.com/rickgao/kabu-market/internal/auth"
	"github.com/rickgao/kabu-market/internal/config"
	"github.com/shopspring/decimal"
)

// Open builds the ledger selected by cfg.Driver.
func Open(cfg config.LedgerConfig, logger *slog.Logger) (Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case config.LedgerMemory:
		opening, err := decimal.NewFromString(cfg.StartingBalance)
		if err != nil {
			return nil, fmt.Errorf("starting balance: %w", err)
		}
		logger.Warn("using in-memory ledger; balances are not persisted", "starting_balance", opening)
		return NewMemory(opening), nil

	case config.LedgerHTTP:
		opts := []ClientOption{
			WithLogger(logger),
			WithTimeout(cfg.Timeout.Std()),
			WithRetries(cfg.MaxRetries, cfg.RetryBackoff.Std()),
		}
		if cfg.PrivateKeyPath != "" {
			creds, err := auth.LoadCredentials(cfg.APIKey, cfg.PrivateKeyPath)
			if err != nil {
				return nil, fmt.Errorf("ledger credentials: %w", err)
			}
			opts = append(opts, WithSigner(creds))
		}
		return NewClient(cfg.BaseURL, cfg.APIKey, opts...), nil

	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}
