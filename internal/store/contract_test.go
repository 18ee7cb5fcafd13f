package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rickgao/kabu-market/internal/model"
)

// runStoreContract exercises behaviour every Store backend must share.
// newStore must return an empty store holding the default market state.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get defaults to zero", func(t *testing.T) {
		s := newStore(t)
		qty, err := s.Get(ctx, uuid.New())
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if qty != 0 {
			t.Errorf("Get() = %d, want 0", qty)
		}
	})

	t.Run("set is an idempotent upsert", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()
		for range 2 {
			if err := s.Set(ctx, id, 300); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
		}
		qty, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if qty != 300 {
			t.Errorf("Get() = %d, want 300", qty)
		}
	})

	t.Run("set rejects negative quantity", func(t *testing.T) {
		s := newStore(t)
		if err := s.Set(ctx, uuid.New(), -1); !errors.Is(err, ErrNegativeQuantity) {
			t.Errorf("Set(-1) error = %v, want %v", err, ErrNegativeQuantity)
		}
	})

	t.Run("adjust clamps at zero", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()

		steps := []struct {
			delta int64
			want  int64
		}{
			{300, 300},
			{-100, 200},
			{-500, 0},
			{100, 100},
		}
		for _, step := range steps {
			got, err := s.Adjust(ctx, id, step.delta)
			if err != nil {
				t.Fatalf("Adjust(%d) failed: %v", step.delta, err)
			}
			if got != step.want {
				t.Errorf("Adjust(%d) = %d, want %d", step.delta, got, step.want)
			}
		}

		got, err := s.Adjust(ctx, uuid.New(), -5)
		if err != nil {
			t.Fatalf("Adjust on new player failed: %v", err)
		}
		if got != 0 {
			t.Errorf("Adjust(-5) on new player = %d, want 0", got)
		}
	})

	t.Run("debit only when covered", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()
		if err := s.Set(ctx, id, 300); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		got, err := s.Debit(ctx, id, 100)
		if err != nil {
			t.Fatalf("Debit(100) failed: %v", err)
		}
		if got != 200 {
			t.Errorf("Debit(100) = %d, want 200", got)
		}

		if _, err := s.Debit(ctx, id, 300); !errors.Is(err, ErrInsufficientQuantity) {
			t.Errorf("Debit(300) error = %v, want %v", err, ErrInsufficientQuantity)
		}
		if qty, _ := s.Get(ctx, id); qty != 200 {
			t.Errorf("Get() after rejected debit = %d, want 200", qty)
		}

		got, err = s.Debit(ctx, id, 200)
		if err != nil || got != 0 {
			t.Errorf("Debit(200) = %d, %v, want 0", got, err)
		}

		if _, err := s.Debit(ctx, uuid.New(), 100); !errors.Is(err, ErrInsufficientQuantity) {
			t.Errorf("Debit on new player error = %v, want %v", err, ErrInsufficientQuantity)
		}
		if _, err := s.Debit(ctx, id, 0); err == nil {
			t.Error("Debit(0) should fail")
		}
	})

	t.Run("debit after reset is rejected", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()
		if err := s.Set(ctx, id, 300); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		cur, err := s.Read(ctx)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		next := model.MarketState{Price: 90, Delta: 0, LastUpdateDay: cur.LastUpdateDay%31 + 1}
		if err := s.ResetPeriod(ctx, cur.LastUpdateDay, next); err != nil {
			t.Fatalf("ResetPeriod failed: %v", err)
		}
		if _, err := s.Debit(ctx, id, 300); !errors.Is(err, ErrInsufficientQuantity) {
			t.Errorf("Debit after reset error = %v, want %v", err, ErrInsufficientQuantity)
		}
	})

	t.Run("concurrent debit never overdraws", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()
		if err := s.Set(ctx, id, 1000); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Debit(ctx, id, 100)
				switch {
				case err == nil:
					mu.Lock()
					ok++
					mu.Unlock()
				case !errors.Is(err, ErrInsufficientQuantity):
					t.Errorf("Debit failed: %v", err)
				}
			}()
		}
		wg.Wait()

		if ok != 10 {
			t.Errorf("successful debits = %d, want 10", ok)
		}
		if qty, _ := s.Get(ctx, id); qty != 0 {
			t.Errorf("Get() = %d, want 0", qty)
		}
	})

	t.Run("concurrent adjust", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Adjust(ctx, id, 100); err != nil {
					t.Errorf("Adjust failed: %v", err)
				}
			}()
		}
		wg.Wait()

		qty, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if qty != 2000 {
			t.Errorf("Get() = %d, want 2000", qty)
		}
	})

	t.Run("top n", func(t *testing.T) {
		s := newStore(t)
		quantities := []int64{500, 100, 0, 900, 300, 700, 200}
		for _, q := range quantities {
			if err := s.Set(ctx, uuid.New(), q); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
		}

		top, err := s.TopN(ctx, 5)
		if err != nil {
			t.Fatalf("TopN failed: %v", err)
		}
		want := []int64{900, 700, 500, 300, 200}
		if len(top) != len(want) {
			t.Fatalf("len(TopN) = %d, want %d", len(top), len(want))
		}
		for i, h := range top {
			if h.Quantity != want[i] {
				t.Errorf("TopN[%d].Quantity = %d, want %d", i, h.Quantity, want[i])
			}
		}

		all, err := s.TopN(ctx, 100)
		if err != nil {
			t.Fatalf("TopN failed: %v", err)
		}
		if len(all) != 6 {
			t.Errorf("len(TopN(100)) = %d, want 6 (zero balances excluded)", len(all))
		}

		none, err := s.TopN(ctx, 0)
		if err != nil {
			t.Fatalf("TopN(0) failed: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("len(TopN(0)) = %d, want 0", len(none))
		}
	})

	t.Run("clear all", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()
		if err := s.Set(ctx, id, 400); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := s.ClearAll(ctx); err != nil {
			t.Fatalf("ClearAll failed: %v", err)
		}
		qty, err := s.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if qty != 0 {
			t.Errorf("Get() after ClearAll = %d, want 0", qty)
		}
	})

	t.Run("read defaults", func(t *testing.T) {
		s := newStore(t)
		st, err := s.Read(ctx)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if st != model.DefaultMarketState() {
			t.Errorf("Read() = %+v, want %+v", st, model.DefaultMarketState())
		}
	})

	t.Run("write replaces triple", func(t *testing.T) {
		s := newStore(t)
		want := model.MarketState{Price: 3, Delta: -2, LastUpdateDay: 6}
		if err := s.Write(ctx, want); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		got, err := s.Read(ctx)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if got != want {
			t.Errorf("Read() = %+v, want %+v", got, want)
		}

		if err := s.Write(ctx, model.MarketState{Price: 0, LastUpdateDay: 6}); err == nil {
			t.Error("Write with price 0 should fail")
		}
	})

	t.Run("compare and swap", func(t *testing.T) {
		s := newStore(t)
		next := model.MarketState{Price: 206, Delta: 6, LastUpdateDay: 6}

		if err := s.CompareAndSwap(ctx, 5, next); !errors.Is(err, ErrRaceLost) {
			t.Errorf("CompareAndSwap(stale) error = %v, want %v", err, ErrRaceLost)
		}
		st, _ := s.Read(ctx)
		if st != model.DefaultMarketState() {
			t.Errorf("state after lost swap = %+v, want unchanged", st)
		}

		if err := s.CompareAndSwap(ctx, 1, next); err != nil {
			t.Fatalf("CompareAndSwap failed: %v", err)
		}
		st, _ = s.Read(ctx)
		if st != next {
			t.Errorf("Read() = %+v, want %+v", st, next)
		}

		if err := s.CompareAndSwap(ctx, 1, next); !errors.Is(err, ErrRaceLost) {
			t.Errorf("second CompareAndSwap error = %v, want %v", err, ErrRaceLost)
		}
	})

	t.Run("reset period clears balances", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()
		if err := s.Set(ctx, id, 1200); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		next := model.MarketState{Price: 86, Delta: 0, LastUpdateDay: 16}
		if err := s.ResetPeriod(ctx, 1, next); err != nil {
			t.Fatalf("ResetPeriod failed: %v", err)
		}

		st, _ := s.Read(ctx)
		if st != next {
			t.Errorf("Read() = %+v, want %+v", st, next)
		}
		qty, _ := s.Get(ctx, id)
		if qty != 0 {
			t.Errorf("balance after reset = %d, want 0", qty)
		}
	})

	t.Run("lost reset keeps balances", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()
		if err := s.Set(ctx, id, 1200); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		err := s.ResetPeriod(ctx, 15, model.MarketState{Price: 86, LastUpdateDay: 16})
		if !errors.Is(err, ErrRaceLost) {
			t.Fatalf("ResetPeriod(stale) error = %v, want %v", err, ErrRaceLost)
		}

		qty, _ := s.Get(ctx, id)
		if qty != 1200 {
			t.Errorf("balance after lost reset = %d, want 1200", qty)
		}
		st, _ := s.Read(ctx)
		if st != model.DefaultMarketState() {
			t.Errorf("state after lost reset = %+v, want unchanged", st)
		}
	})

	t.Run("concurrent swaps have one winner", func(t *testing.T) {
		s := newStore(t)

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := range 10 {
			wg.Add(1)
			go func(price int64) {
				defer wg.Done()
				err := s.CompareAndSwap(ctx, 1, model.MarketState{Price: price, LastUpdateDay: 2})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else if !errors.Is(err, ErrRaceLost) {
					t.Errorf("CompareAndSwap error = %v", err)
				}
			}(int64(100 + i))
		}
		wg.Wait()

		if wins != 1 {
			t.Errorf("winners = %d, want 1", wins)
		}
	})
}
