package pricing

import (
	"math/rand/v2"
	"sync"
)

// Source supplies uniform random integers.
type Source interface {
	// Between returns a uniform integer in [lo, hi].
	Between(lo, hi int64) int64
}

type pcgSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSource returns a deterministic Source seeded with seed.
func NewSource(seed uint64) Source {
	return &pcgSource{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *pcgSource) Between(lo, hi int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo + s.rng.Int64N(hi-lo+1)
}

type systemSource struct{}

// SystemSource returns a Source backed by the runtime-seeded global generator.
func SystemSource() Source {
	return systemSource{}
}

func (systemSource) Between(lo, hi int64) int64 {
	return lo + rand.Int64N(hi-lo+1)
}
