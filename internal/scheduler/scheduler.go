package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/kabu-market/internal/pricing"
)

// Ticker evaluates the market for the current day.
type Ticker interface {
	Tick(ctx context.Context) (pricing.Result, error)
}

// TickerFunc is a function adapter for Ticker.
type TickerFunc func(ctx context.Context) (pricing.Result, error)

func (f TickerFunc) Tick(ctx context.Context) (pricing.Result, error) {
	return f(ctx)
}

// Config holds scheduler configuration.
type Config struct {
	StartupDelay time.Duration // Delay before the first tick (default: 10s)
	Interval     time.Duration // Time between ticks (default: 30m)
	TickTimeout  time.Duration // Per-tick timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StartupDelay: 10 * time.Second,
		Interval:     30 * time.Minute,
		TickTimeout:  30 * time.Second,
	}
}

// Scheduler calls a Ticker periodically.
type Scheduler struct {
	cfg    Config
	ticker Ticker
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Scheduler. Zero config fields take their defaults.
func New(cfg Config, ticker Ticker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = def.TickTimeout
	}
	if cfg.StartupDelay < 0 {
		cfg.StartupDelay = 0
	}
	return &Scheduler{
		cfg:    cfg,
		ticker: ticker,
		logger: logger,
	}
}

// Start begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)

	s.logger.Info("market scheduler started",
		"startup_delay", s.cfg.StartupDelay,
		"interval", s.cfg.Interval,
	)

	return nil
}

// Stop gracefully shuts down the scheduler. An in-flight tick is
// cancelled through its context.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("market scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	if s.cfg.StartupDelay > 0 {
		timer := time.NewTimer(s.cfg.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one bounded evaluation.
func (s *Scheduler) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.ticker.Tick(ctx)
	if err != nil {
		s.logger.Error("market tick failed",
			"error", err,
			"duration", time.Since(start),
		)
		return
	}

	s.logger.Debug("market tick complete",
		"outcome", res.Outcome,
		"price", res.State.Price,
		"day", res.State.LastUpdateDay,
		"duration", time.Since(start),
	)
}
