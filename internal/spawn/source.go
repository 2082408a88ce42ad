package spawn

import "math/rand"

// Source yields uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Uniform maps one draw from src onto [lo, hi].
func Uniform(src Source, lo, hi float64) float64 {
	return lo + src.Float64()*(hi-lo)
}

// NewSeeded returns a reproducible pseudo-random source.
func NewSeeded(seed int64) Source {
	return rand.New(rand.NewSource(seed))
}

// Sequence replays a fixed list of unit draws, wrapping around at the end.
// It makes spawns bit-for-bit reproducible. Like the Spawner that draws from
// it, a Sequence is not safe for concurrent use.
type Sequence struct {
	draws []float64
	next  int
}

// NewSequence copies draws so later mutation by the caller has no effect.
func NewSequence(draws ...float64) *Sequence {
	if len(draws) == 0 {
		draws = []float64{0.5}
	}
	return &Sequence{draws: append([]float64(nil), draws...)}
}

// Float64 returns the next draw in the sequence.
func (s *Sequence) Float64() float64 {
	value := s.draws[s.next]
	s.next = (s.next + 1) % len(s.draws)
	return value
}

// Consumed reports how many draws have been served modulo the sequence length.
func (s *Sequence) Consumed() int {
	return s.next
}
