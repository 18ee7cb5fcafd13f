package broadcast

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rickgao/kabu-market/internal/model"
)

func TestFanout(t *testing.T) {
	var delivered atomic.Int32
	ok := NotifierFunc(func(context.Context, model.PriceEvent) error {
		delivered.Add(1)
		return nil
	})
	errBoom := errors.New("boom")
	failing := NotifierFunc(func(context.Context, model.PriceEvent) error {
		return errBoom
	})
	panicking := NotifierFunc(func(context.Context, model.PriceEvent) error {
		panic("bad notifier")
	})

	f := NewFanout(quietLogger(), ok, nil, failing, panicking, ok)
	if f.Len() != 4 {
		t.Errorf("Len() = %d, want 4", f.Len())
	}

	err := f.Notify(context.Background(), model.PriceEvent{Price: 100})
	if delivered.Load() != 2 {
		t.Errorf("delivered = %d, want 2", delivered.Load())
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("error = %v, want it to wrap %v", err, errBoom)
	}
	if err == nil || !strings.Contains(err.Error(), "panicked: bad notifier") {
		t.Errorf("error = %v, want panic report", err)
	}
}

func TestFanout_Empty(t *testing.T) {
	if err := NewFanout(nil).Notify(context.Background(), model.PriceEvent{}); err != nil {
		t.Errorf("Notify() = %v, want nil", err)
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := n.Notify(context.Background(), model.PriceEvent{Price: 206, Delta: 6, Day: 6}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if err := n.Notify(context.Background(), model.PriceEvent{Price: 86, PeriodReset: true, Day: 1}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"kabu price changed", "delta=6", "kabu period opened", "price=86"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
