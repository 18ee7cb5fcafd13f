package pricing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rickgao/kabu-market/internal/model"
	"github.com/rickgao/kabu-market/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.PriceEvent
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, e model.PriceEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	price    int64
}

func (r *countingRecorder) RecordEvaluation(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = make(map[string]int)
	}
	r.outcomes[outcome]++
}

func (r *countingRecorder) RecordState(price, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.price = price
}

// failingStore fails every market state write.
type failingStore struct {
	*store.Memory
}

var errDiskFull = errors.New("disk full")

func (f failingStore) CompareAndSwap(context.Context, int, model.MarketState) error {
	return errDiskFull
}

func (f failingStore) ResetPeriod(context.Context, int, model.MarketState) error {
	return errDiskFull
}

func newEngine(t *testing.T, st store.Store, src Source, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return NewEngine(st, src, opts...)
}

func seedState(t *testing.T, st store.Store, s model.MarketState) {
	t.Helper()
	if err := st.Write(context.Background(), s); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func TestEngine_PeriodReset(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedState(t, st, model.MarketState{Price: 100, Delta: 0, LastUpdateDay: 31})

	holders := []uuid.UUID{uuid.New(), uuid.New()}
	for _, id := range holders {
		if err := st.Set(ctx, id, 500); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	notifier := &recordingNotifier{}
	e := newEngine(t, st, newScripted(t, 1, 90, 4), WithNotifier(notifier))

	res, err := e.Evaluate(ctx, 1)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	want := model.MarketState{Price: 86, Delta: 0, LastUpdateDay: 1}
	if res.Outcome != OutcomeReset {
		t.Errorf("Outcome = %q, want %q", res.Outcome, OutcomeReset)
	}
	if res.State != want {
		t.Errorf("State = %+v, want %+v", res.State, want)
	}
	got, _ := st.Read(ctx)
	if got != want {
		t.Errorf("stored state = %+v, want %+v", got, want)
	}
	for _, id := range holders {
		if qty, _ := st.Get(ctx, id); qty != 0 {
			t.Errorf("balance after reset = %d, want 0", qty)
		}
	}

	if notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.count())
	}
	ev := notifier.events[0]
	if ev.Price != 86 || ev.Delta != 0 || !ev.PeriodReset || ev.Day != 1 {
		t.Errorf("event = %+v, want price 86, delta 0, period reset on day 1", ev)
	}
}

func TestEngine_DefaultStateOnDayOneIsApplied(t *testing.T) {
	// A fresh market records day 1 as already applied.
	ctx := context.Background()
	st := store.NewMemory()
	e := newEngine(t, st, newScripted(t))

	res, err := e.Evaluate(ctx, 1)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Errorf("Outcome = %q, want %q", res.Outcome, OutcomeSkipped)
	}
	if got, _ := st.Read(ctx); got != model.DefaultMarketState() {
		t.Errorf("state = %+v, want default", got)
	}
}

func TestEngine_OrdinaryUpdate(t *testing.T) {
	tests := []struct {
		name  string
		start model.MarketState
		day   int
		draws []int64
		want  model.MarketState
	}{
		{
			name:  "small rise",
			start: model.MarketState{Price: 200, Delta: 0, LastUpdateDay: 5},
			day:   6,
			draws: []int64{10, 3, 1},
			want:  model.MarketState{Price: 206, Delta: 6, LastUpdateDay: 6},
		},
		{
			name:  "fall truncates toward zero",
			start: model.MarketState{Price: 5, Delta: 0, LastUpdateDay: 5},
			day:   6,
			draws: []int64{46, 40, 0},
			want:  model.MarketState{Price: 3, Delta: -2, LastUpdateDay: 6},
		},
		{
			name:  "rescue",
			start: model.MarketState{Price: 10, Delta: 0, LastUpdateDay: 20},
			day:   21,
			draws: []int64{50, 100, 0},
			want:  model.MarketState{Price: 334, Delta: 334, LastUpdateDay: 21},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := store.NewMemory()
			seedState(t, st, tt.start)
			holder := uuid.New()
			if err := st.Set(ctx, holder, 300); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			notifier := &recordingNotifier{}
			e := newEngine(t, st, newScripted(t, tt.draws...), WithNotifier(notifier))

			res, err := e.Evaluate(ctx, tt.day)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if res.Outcome != OutcomeUpdated {
				t.Errorf("Outcome = %q, want %q", res.Outcome, OutcomeUpdated)
			}
			if got, _ := st.Read(ctx); got != tt.want {
				t.Errorf("stored state = %+v, want %+v", got, tt.want)
			}
			if qty, _ := st.Get(ctx, holder); qty != 300 {
				t.Errorf("balance = %d, want 300 (ordinary days keep balances)", qty)
			}
			if notifier.count() != 1 {
				t.Fatalf("notifications = %d, want 1", notifier.count())
			}
			ev := notifier.events[0]
			if ev.PeriodReset || ev.Price != tt.want.Price || ev.Delta != tt.want.Delta {
				t.Errorf("event = %+v, want price %d delta %d", ev, tt.want.Price, tt.want.Delta)
			}
		})
	}
}

func TestEngine_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedState(t, st, model.MarketState{Price: 200, Delta: 0, LastUpdateDay: 5})

	src := newScripted(t, 10, 3, 1)
	notifier := &recordingNotifier{}
	e := newEngine(t, st, src, WithNotifier(notifier))

	first, err := e.Evaluate(ctx, 6)
	if err != nil {
		t.Fatalf("first Evaluate failed: %v", err)
	}
	second, err := e.Evaluate(ctx, 6)
	if err != nil {
		t.Fatalf("second Evaluate failed: %v", err)
	}

	if first.Outcome != OutcomeUpdated {
		t.Errorf("first Outcome = %q, want %q", first.Outcome, OutcomeUpdated)
	}
	if second.Outcome != OutcomeSkipped {
		t.Errorf("second Outcome = %q, want %q", second.Outcome, OutcomeSkipped)
	}
	if second.Event != nil {
		t.Error("skipped evaluation should carry no event")
	}
	if src.used() != 3 {
		t.Errorf("draws used = %d, want 3", src.used())
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
}

func TestEngine_ConcurrentEvaluate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedState(t, st, model.MarketState{Price: 120, Delta: 0, LastUpdateDay: 9})

	notifier := &recordingNotifier{}
	rec := &countingRecorder{}
	e := newEngine(t, st, NewSource(1), WithNotifier(notifier), WithRecorder(rec))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Evaluate(ctx, 10); err != nil {
				t.Errorf("Evaluate failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
	if rec.outcomes[string(OutcomeUpdated)] != 1 {
		t.Errorf("updated outcomes = %d, want 1", rec.outcomes[string(OutcomeUpdated)])
	}
	if rec.outcomes[string(OutcomeSkipped)] != 19 {
		t.Errorf("skipped outcomes = %d, want 19", rec.outcomes[string(OutcomeSkipped)])
	}
}

func TestEngine_SharedStoreAcrossEngines(t *testing.T) {
	// Two engines over one store stand in for two processes.
	ctx := context.Background()
	st := store.NewMemory()
	seedState(t, st, model.MarketState{Price: 120, Delta: 0, LastUpdateDay: 15})
	holder := uuid.New()
	if err := st.Set(ctx, holder, 900); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	notifier := &recordingNotifier{}
	engines := []*Engine{
		newEngine(t, st, NewSource(1), WithNotifier(notifier)),
		newEngine(t, st, NewSource(2), WithNotifier(notifier)),
	}

	var wg sync.WaitGroup
	results := make([]Result, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := engines[i%2].Evaluate(ctx, 16)
			if err != nil {
				t.Errorf("Evaluate failed: %v", err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		if r.Applied() {
			applied++
		} else if r.Outcome != OutcomeSkipped && r.Outcome != OutcomeRaceLost {
			t.Errorf("unexpected outcome %q", r.Outcome)
		}
	}
	if applied != 1 {
		t.Errorf("applied evaluations = %d, want 1", applied)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
	if got, _ := st.Read(ctx); got.LastUpdateDay != 16 {
		t.Errorf("LastUpdateDay = %d, want 16", got.LastUpdateDay)
	}
}

func TestEngine_RaceLostLeavesStateAlone(t *testing.T) {
	ctx := context.Background()
	st := &racingStore{Memory: store.NewMemory()}
	seedState(t, st, model.MarketState{Price: 120, Delta: 0, LastUpdateDay: 3})

	notifier := &recordingNotifier{}
	e := newEngine(t, st, newScripted(t, 10, 3, 1), WithNotifier(notifier))

	res, err := e.Evaluate(ctx, 4)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Outcome != OutcomeRaceLost {
		t.Errorf("Outcome = %q, want %q", res.Outcome, OutcomeRaceLost)
	}
	if notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0", notifier.count())
	}
}

// racingStore simulates another writer applying the day between read and swap.
type racingStore struct {
	*store.Memory
}

func (r *racingStore) CompareAndSwap(ctx context.Context, expectedDay int, next model.MarketState) error {
	if err := r.Memory.Write(ctx, model.MarketState{Price: 130, Delta: 10, LastUpdateDay: next.LastUpdateDay}); err != nil {
		return err
	}
	return r.Memory.CompareAndSwap(ctx, expectedDay, next)
}

func TestEngine_PersistenceFailure(t *testing.T) {
	for _, day := range []int{16, 17} {
		ctx := context.Background()
		mem := store.NewMemory()
		seedState(t, mem, model.MarketState{Price: 150, Delta: 5, LastUpdateDay: 15})
		holder := uuid.New()
		if err := mem.Set(ctx, holder, 200); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		notifier := &recordingNotifier{}
		e := newEngine(t, failingStore{mem}, NewSource(3), WithNotifier(notifier))

		if _, err := e.Evaluate(ctx, day); !errors.Is(err, errDiskFull) {
			t.Errorf("day %d: Evaluate error = %v, want %v", day, err, errDiskFull)
		}
		if got, _ := mem.Read(ctx); got.LastUpdateDay != 15 || got.Price != 150 {
			t.Errorf("day %d: state = %+v, want unchanged", day, got)
		}
		if qty, _ := mem.Get(ctx, holder); qty != 200 {
			t.Errorf("day %d: balance = %d, want 200", day, qty)
		}
		if notifier.count() != 0 {
			t.Errorf("day %d: notifications = %d, want 0", day, notifier.count())
		}
	}
}

func TestEngine_NotifierErrorIsNotFatal(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedState(t, st, model.MarketState{Price: 200, Delta: 0, LastUpdateDay: 5})

	notifier := &recordingNotifier{err: errors.New("subscriber gone")}
	e := newEngine(t, st, newScripted(t, 10, 3, 1), WithNotifier(notifier))

	res, err := e.Evaluate(ctx, 6)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Errorf("Outcome = %q, want %q", res.Outcome, OutcomeUpdated)
	}
}

func TestEngine_InvalidDay(t *testing.T) {
	e := newEngine(t, store.NewMemory(), newScripted(t))
	for _, day := range []int{0, -1, 32} {
		if _, err := e.Evaluate(context.Background(), day); !errors.Is(err, ErrInvalidDay) {
			t.Errorf("Evaluate(%d) error = %v, want %v", day, err, ErrInvalidDay)
		}
	}
}

func TestEngine_Tick(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedState(t, st, model.MarketState{Price: 200, Delta: 0, LastUpdateDay: 5})

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	// 2026-03-05 22:00 UTC is already the 6th in Tokyo.
	clock := func() time.Time { return time.Date(2026, 3, 5, 22, 0, 0, 0, time.UTC) }
	e := newEngine(t, st, newScripted(t, 10, 3, 1), WithClock(clock), WithLocation(tokyo))

	res, err := e.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.State.LastUpdateDay != 6 {
		t.Errorf("LastUpdateDay = %d, want 6", res.State.LastUpdateDay)
	}
	if res.Event == nil || res.Event.At != clock().UnixMicro() {
		t.Errorf("Event = %+v, want timestamp from clock", res.Event)
	}
}

func TestEngine_Overrides(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedState(t, st, model.MarketState{Price: 200, Delta: 6, LastUpdateDay: 6})
	e := newEngine(t, st, newScripted(t, 10, 3, 1))

	got, err := e.OverridePrice(ctx, 500)
	if err != nil {
		t.Fatalf("OverridePrice failed: %v", err)
	}
	if want := (model.MarketState{Price: 500, Delta: 0, LastUpdateDay: 6}); got != want {
		t.Errorf("OverridePrice() = %+v, want %+v", got, want)
	}

	got, err = e.OverrideDelta(ctx, -40)
	if err != nil {
		t.Fatalf("OverrideDelta failed: %v", err)
	}
	if want := (model.MarketState{Price: 500, Delta: -40, LastUpdateDay: 6}); got != want {
		t.Errorf("OverrideDelta() = %+v, want %+v", got, want)
	}

	if _, err := e.OverridePrice(ctx, 0); !errors.Is(err, ErrInvalidPrice) {
		t.Errorf("OverridePrice(0) error = %v, want %v", err, ErrInvalidPrice)
	}

	// Overrides do not consume the automatic evaluation of a new day.
	res, err := e.Evaluate(ctx, 7)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if want := (model.MarketState{Price: 515, Delta: 15, LastUpdateDay: 7}); res.State != want {
		t.Errorf("State = %+v, want %+v", res.State, want)
	}
}

func TestEngine_OverrideSameDayKeepsGate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedState(t, st, model.MarketState{Price: 200, Delta: 0, LastUpdateDay: 5})
	e := newEngine(t, st, newScripted(t))

	if _, err := e.OverridePrice(ctx, 250); err != nil {
		t.Fatalf("OverridePrice failed: %v", err)
	}
	res, err := e.Evaluate(ctx, 5)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res.Outcome != OutcomeSkipped {
		t.Errorf("Outcome = %q, want %q", res.Outcome, OutcomeSkipped)
	}
	if res.State.Price != 250 {
		t.Errorf("Price = %d, want 250", res.State.Price)
	}
}

func TestEngine_HoldPeriod(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedState(t, st, model.MarketState{Price: 100, Delta: 0, LastUpdateDay: 14})
	e := newEngine(t, st, NewSource(3))

	release := e.HoldPeriod()

	// Ordinary days go through while the period is held.
	res, err := e.Evaluate(ctx, 15)
	if err != nil {
		t.Fatalf("Evaluate(15) failed: %v", err)
	}
	if res.Outcome != OutcomeUpdated {
		t.Errorf("Evaluate(15) outcome = %s, want %s", res.Outcome, OutcomeUpdated)
	}

	done := make(chan Result, 1)
	go func() {
		res, err := e.Evaluate(ctx, 16)
		if err != nil {
			t.Errorf("Evaluate(16) failed: %v", err)
		}
		done <- res
	}()

	select {
	case res := <-done:
		t.Fatalf("reset applied while held: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case res := <-done:
		if res.Outcome != OutcomeReset {
			t.Errorf("Evaluate(16) outcome = %s, want %s", res.Outcome, OutcomeReset)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reset did not run after release")
	}
}
