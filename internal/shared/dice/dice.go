// Package dice is the one place game code draws random numbers from, so
// tests can swap in a seeded or scripted source.
package dice

import (
	"math/rand/v2"
	"sync"
	"time"
)

type Source interface {
	IntN(n int) int
	Float64() float64
}

// Roller is safe for concurrent use.
type Roller struct {
	mu  sync.Mutex
	src Source
}

func New(src Source) *Roller {
	return &Roller{src: src}
}

func NewRandom() *Roller {
	seed := uint64(time.Now().UnixNano())
	return New(rand.New(rand.NewPCG(seed, seed>>17|1)))
}

func Seeded(seed uint64) *Roller {
	return New(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// IntN returns a value in [0, n). n <= 0 yields 0.
func (r *Roller) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.IntN(n)
}

func (r *Roller) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src.Float64()
}

// Between returns a value in [lo, hi].
func (r *Roller) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.IntN(hi-lo+1)
}

func (r *Roller) D20() int  { return r.Between(1, 20) }
func (r *Roller) D100() int { return r.Between(1, 100) }

// Chance reports true with probability p.
func (r *Roller) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	return r.Float64() < p
}

// Duration returns a value in [lo, hi] with second granularity.
func (r *Roller) Duration(lo, hi time.Duration) time.Duration {
	return time.Duration(r.Between(int(lo/time.Second), int(hi/time.Second))) * time.Second
}

// Script replays fixed values, cycling when exhausted. Ints are returned
// as IntN results (clamped into range), so Between(1, 100) with Ints {29}
// yields 30.
type Script struct {
	Ints   []int
	Floats []float64

	i, f int
}

func (s *Script) IntN(n int) int {
	if len(s.Ints) == 0 {
		return 0
	}
	v := s.Ints[s.i%len(s.Ints)]
	s.i++
	return min(max(v, 0), n-1)
}

func (s *Script) Float64() float64 {
	if len(s.Floats) == 0 {
		return 0
	}
	v := s.Floats[s.f%len(s.Floats)]
	s.f++
	return v
}
