package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rickgao/kabu-market/internal/model"
	"golang.org/x/sync/semaphore"
)

// keyedLocks holds one weight-1 semaphore per player with waiters.
// Entries are dropped once nobody holds or waits on them.
type keyedLocks struct {
	mu      sync.Mutex
	entries map[model.PlayerID]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{entries: make(map[model.PlayerID]*lockEntry)}
}

// acquire locks id, waiting at most timeout. It returns ErrContention when
// the timeout expires and the parent context's error when that ends first.
func (k *keyedLocks) acquire(ctx context.Context, id model.PlayerID, timeout time.Duration) (func(), error) {
	k.mu.Lock()
	ent, ok := k.entries[id]
	if !ok {
		ent = &lockEntry{sem: semaphore.NewWeighted(1)}
		k.entries[id] = ent
	}
	ent.refs++
	k.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ent.sem.Acquire(waitCtx, 1); err != nil {
		k.unref(id, ent)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrContention
		}
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			ent.sem.Release(1)
			k.unref(id, ent)
		})
	}, nil
}

func (k *keyedLocks) unref(id model.PlayerID, ent *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()
	ent.refs--
	if ent.refs == 0 {
		delete(k.entries, id)
	}
}

// size returns the number of tracked players.
func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
