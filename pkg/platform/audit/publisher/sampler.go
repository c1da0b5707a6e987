package publisher

import (
	"math/rand/v2"
	"sync"
)

// Sampler thins out high-volume operations events. Compliance and security
// events are never sampled.
type Sampler struct {
	mu           sync.RWMutex
	defaultRate  float64
	rateByAction map[string]float64
	rand         func() float64
}

// NewSampler creates a sampler with the given default rate, clamped to [0, 1].
func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{
		defaultRate:  clampRate(defaultRate),
		rateByAction: make(map[string]float64),
		rand:         rand.Float64,
	}
}

// Keep reports whether an event with this action should be published.
func (s *Sampler) Keep(action string) bool {
	rate := s.rateFor(action)
	if rate >= 1 {
		return true
	}
	return s.rand() < rate
}

// SetRate overrides the rate for one action.
func (s *Sampler) SetRate(action string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByAction[action] = clampRate(rate)
}

func (s *Sampler) rateFor(action string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rateByAction[action]; ok {
		return rate
	}
	return s.defaultRate
}

func clampRate(rate float64) float64 {
	return min(max(rate, 0), 1)
}
