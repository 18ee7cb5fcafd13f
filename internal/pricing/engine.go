package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/kabu-market/internal/model"
	"github.com/rickgao/kabu-market/internal/store"
)

var (
	// ErrInvalidDay is returned for days outside 1..31.
	ErrInvalidDay = errors.New("day must be between 1 and 31")

	// ErrInvalidPrice is returned by OverridePrice for prices below 1.
	ErrInvalidPrice = errors.New("price must be >= 1")
)

// overrideAttempts bounds the read-then-swap loop of admin overrides.
const overrideAttempts = 5

// Outcome describes what an evaluation did.
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"   // day already applied
	OutcomeReset    Outcome = "reset"     // period boundary applied
	OutcomeUpdated  Outcome = "updated"   // ordinary move applied
	OutcomeRaceLost Outcome = "race_lost" // another writer applied the day first
)

// Result is returned by Evaluate and Tick.
type Result struct {
	Outcome  Outcome
	Previous model.MarketState
	State    model.MarketState // state after the evaluation; Previous when nothing was applied
	Event    *model.PriceEvent // nil unless a new state was applied
}

// Applied reports whether the evaluation wrote a new state.
func (r Result) Applied() bool {
	return r.Outcome == OutcomeReset || r.Outcome == OutcomeUpdated
}

// Notifier receives one event per applied evaluation.
type Notifier interface {
	Notify(ctx context.Context, event model.PriceEvent) error
}

// Recorder observes engine activity, typically for metrics.
type Recorder interface {
	RecordEvaluation(outcome string)
	RecordState(price, delta int64)
}

// Engine decides and applies the daily price change.
type Engine struct {
	store    store.Store
	src      Source
	notifier Notifier
	recorder Recorder
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger

	mu sync.Mutex

	// period is held exclusively while a reset commits and shared by
	// callers of HoldPeriod.
	period sync.RWMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithLocation sets the time zone Tick reads the calendar day in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		e.loc = loc
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an engine over st drawing from src.
func NewEngine(st store.Store, src Source, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		src:    src,
		loc:    time.Local,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// HoldPeriod keeps this engine from resetting the period until the
// returned func is called. Ordinary daily moves are not blocked.
func (e *Engine) HoldPeriod() func() {
	e.period.RLock()
	return e.period.RUnlock
}

// Today returns the current calendar time in the engine's zone.
func (e *Engine) Today() time.Time {
	return e.now().In(e.loc)
}

// Tick evaluates the current calendar day.
func (e *Engine) Tick(ctx context.Context) (Result, error) {
	return e.Evaluate(ctx, e.Today().Day())
}

// Evaluate applies day's change unless day was already applied.
//
// A persistence failure is returned and leaves the stored state untouched,
// so the next evaluation of the same day retries. Losing a compare-and-swap
// to another writer is not an error.
func (e *Engine) Evaluate(ctx context.Context, day int) (Result, error) {
	if day < 1 || day > 31 {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidDay, day)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.store.Read(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read market state: %w", err)
	}

	if cur.LastUpdateDay == day {
		e.record(OutcomeSkipped)
		e.logger.Debug("market already evaluated today", "day", day, "price", cur.Price)
		return Result{Outcome: OutcomeSkipped, Previous: cur, State: cur}, nil
	}

	var (
		next    model.MarketState
		outcome Outcome
	)
	if IsBoundaryDay(day) {
		outcome = OutcomeReset
		next = model.MarketState{Price: OpeningPrice(e.src), Delta: 0, LastUpdateDay: day}
		e.period.Lock()
		err = e.store.ResetPeriod(ctx, cur.LastUpdateDay, next)
		e.period.Unlock()
	} else {
		outcome = OutcomeUpdated
		move := DailyMove(e.src, cur.Price)
		if move.Rescued {
			e.logger.Warn("price move rescued",
				"previous", cur.Price,
				"percent", move.Percent,
				"price", move.Price,
			)
		}
		next = model.MarketState{Price: move.Price, Delta: move.Delta, LastUpdateDay: day}
		err = e.store.CompareAndSwap(ctx, cur.LastUpdateDay, next)
	}

	if errors.Is(err, store.ErrRaceLost) {
		e.record(OutcomeRaceLost)
		e.logger.Info("market evaluation lost race", "day", day, "expected_day", cur.LastUpdateDay)
		return Result{Outcome: OutcomeRaceLost, Previous: cur, State: cur}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("persist market state: %w", err)
	}

	e.record(outcome)
	if e.recorder != nil {
		e.recorder.RecordState(next.Price, next.Delta)
	}

	event := model.PriceEvent{
		Price:       next.Price,
		Delta:       next.Delta,
		PeriodReset: outcome == OutcomeReset,
		Day:         day,
		At:          e.now().UnixMicro(),
	}

	e.logger.Info("market evaluated",
		"outcome", outcome,
		"day", day,
		"price", next.Price,
		"delta", next.Delta,
		"previous_price", cur.Price,
	)

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, event); err != nil {
			e.logger.Warn("price event notification failed", "error", err)
		}
	}

	return Result{Outcome: outcome, Previous: cur, State: next, Event: &event}, nil
}

// OverridePrice sets the price and zeroes the delta. The last update day is
// preserved, so the day's automatic evaluation still runs.
func (e *Engine) OverridePrice(ctx context.Context, price int64) (model.MarketState, error) {
	if price < 1 {
		return model.MarketState{}, fmt.Errorf("%w: %d", ErrInvalidPrice, price)
	}
	return e.override(ctx, "price", func(cur model.MarketState) model.MarketState {
		return model.MarketState{Price: price, Delta: 0, LastUpdateDay: cur.LastUpdateDay}
	})
}

// OverrideDelta sets the displayed delta. Price and last update day are
// preserved.
func (e *Engine) OverrideDelta(ctx context.Context, delta int64) (model.MarketState, error) {
	return e.override(ctx, "delta", func(cur model.MarketState) model.MarketState {
		return model.MarketState{Price: cur.Price, Delta: delta, LastUpdateDay: cur.LastUpdateDay}
	})
}

func (e *Engine) override(ctx context.Context, field string, apply func(model.MarketState) model.MarketState) (model.MarketState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for attempt := 1; attempt <= overrideAttempts; attempt++ {
		cur, err := e.store.Read(ctx)
		if err != nil {
			return model.MarketState{}, fmt.Errorf("read market state: %w", err)
		}

		next := apply(cur)
		err = e.store.CompareAndSwap(ctx, cur.LastUpdateDay, next)
		if errors.Is(err, store.ErrRaceLost) {
			e.logger.Debug("override raced with evaluation, retrying", "field", field, "attempt", attempt)
			continue
		}
		if err != nil {
			return model.MarketState{}, fmt.Errorf("override %s: %w", field, err)
		}

		if e.recorder != nil {
			e.recorder.RecordState(next.Price, next.Delta)
		}
		e.logger.Info("market state overridden",
			"field", field,
			"price", next.Price,
			"delta", next.Delta,
			"day", next.LastUpdateDay,
		)
		return next, nil
	}

	return model.MarketState{}, fmt.Errorf("override %s: %w", field, store.ErrRaceLost)
}

func (e *Engine) record(o Outcome) {
	if e.recorder != nil {
		e.recorder.RecordEvaluation(string(o))
	}
}
