package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/kabu-market/internal/model"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Fanout delivers each event to every notifier concurrently. A notifier
// that fails or panics does not stop delivery to the others.
type Fanout struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewFanout creates a Fanout over the non-nil notifiers.
func NewFanout(logger *slog.Logger, notifiers ...Notifier) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Fanout{logger: logger}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	return f
}

// Len returns the number of notifiers.
func (f *Fanout) Len() int {
	return len(f.notifiers)
}

// Notify delivers event to all notifiers and joins their errors.
func (f *Fanout) Notify(ctx context.Context, event model.PriceEvent) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   conc.WaitGroup
	)

	for i, n := range f.notifiers {
		wg.Go(func() {
			var pc panics.Catcher
			var err error
			pc.Try(func() {
				err = n.Notify(ctx, event)
			})
			if r := pc.Recovered(); r != nil {
				err = fmt.Errorf("notifier %d panicked: %v", i, r.Value)
				f.logger.Error("notifier panicked", "index", i, "panic", r.Value)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	return errors.Join(errs...)
}
