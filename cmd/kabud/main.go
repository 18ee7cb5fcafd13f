package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/rickgao/kabu-market/internal/broadcast"
	"github.com/rickgao/kabu-market/internal/config"
	"github.com/rickgao/kabu-market/internal/exchange"
	"github.com/rickgao/kabu-market/internal/ledger"
	"github.com/rickgao/kabu-market/internal/logging"
	"github.com/rickgao/kabu-market/internal/market"
	"github.com/rickgao/kabu-market/internal/metrics"
	"github.com/rickgao/kabu-market/internal/model"
	"github.com/rickgao/kabu-market/internal/pricing"
	"github.com/rickgao/kabu-market/internal/scheduler"
	"github.com/rickgao/kabu-market/internal/server"
	"github.com/rickgao/kabu-market/internal/store"
	"github.com/rickgao/kabu-market/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/kabud.yaml", "path to config file (.yaml or .toml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "kabud:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()
	logger = logger.With("instance", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting kabud", append(version.Attrs(), "config", configPath)...)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	loc, err := cfg.Market.Location()
	if err != nil {
		return fmt.Errorf("market time zone: %w", err)
	}

	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	led, err := ledger.Open(cfg.Ledger, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	var (
		m          *metrics.Metrics
		metricsH   http.Handler
		hubOptions []broadcast.HubOption
	)
	if !cfg.Metrics.Disabled {
		reg := metrics.NewRegistry()
		m = metrics.New(reg)
		metricsH = metrics.Handler(reg)
		hubOptions = append(hubOptions, broadcast.WithSubscriberGauge(m.SetSubscribers))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		hubOptions = append(hubOptions, broadcast.WithCheckOrigin(originChecker(cfg.Server.CORSOrigins)))
	}

	hub := broadcast.NewHub(broadcast.HubConfig{
		QueueSize:    cfg.Broadcast.QueueSize,
		WriteTimeout: cfg.Broadcast.WriteTimeout.Std(),
		PingInterval: cfg.Broadcast.PingInterval.Std(),
	}, logger, hubOptions...)

	notifier := broadcast.NewFanout(logger, hub, broadcast.NewLogNotifier(logger))

	engineOpts := []pricing.Option{
		pricing.WithLogger(logger),
		pricing.WithLocation(loc),
		pricing.WithNotifier(notifier),
	}
	exchangeOpts := []exchange.Option{
		exchange.WithLogger(logger),
		exchange.WithUnitSize(cfg.Market.UnitSize),
		exchange.WithLockTimeout(cfg.Market.LockTimeout.Std()),
	}
	if m != nil {
		engineOpts = append(engineOpts, pricing.WithRecorder(m))
		exchangeOpts = append(exchangeOpts, exchange.WithRecorder(m))
	}

	engine := pricing.NewEngine(st, randomSource(cfg.Market.Seed), engineOpts...)
	mkt := market.New(st, engine, logger)
	ex := exchange.New(st, st, led, append(exchangeOpts, exchange.WithPeriodGuard(engine))...)

	// Seed the broadcast snapshot and gauges with the stored state.
	state, err := st.Read(ctx)
	if err != nil {
		return fmt.Errorf("read market state: %w", err)
	}
	hub.Prime(model.PriceEvent{
		Price: state.Price,
		Delta: state.Delta,
		Day:   state.LastUpdateDay,
		At:    time.Now().UnixMicro(),
	})
	if m != nil {
		m.RecordState(state.Price, state.Delta)
	}
	logger.Info("market state loaded",
		"price", state.Price,
		"delta", state.Delta,
		"last_update_day", state.LastUpdateDay,
		"time_zone", loc.String(),
	)

	srv := server.New(cfg.Server, server.Deps{
		Market:         mkt,
		Exchange:       ex,
		Stream:         hub,
		Metrics:        m,
		MetricsHandler: metricsH,
		MetricsPath:    cfg.Metrics.Path,
	}, logger)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		StartupDelay: cfg.Scheduler.StartupDelay.Std(),
		Interval:     cfg.Scheduler.Interval.Std(),
		TickTimeout:  cfg.Scheduler.TickTimeout.Std(),
	}, engine, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	logger.Info("kabud running",
		"addr", srv.Addr(),
		"days_until_boundary", mkt.DaysUntilNextBoundary(),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("broadcast hub close", "error", err)
	}

	logger.Info("kabud stopped")
	return nil
}

func randomSource(seed uint64) pricing.Source {
	if seed == 0 {
		return pricing.SystemSource()
	}
	return pricing.NewSource(seed)
}

// originChecker allows websocket upgrades from the configured origins.
func originChecker(origins []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(origins, "*") {
			return true
		}
		if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
			return true
		}
		return slices.Contains(origins, origin)
	}
}
