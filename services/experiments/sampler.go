package experiments

import (
	"sync"

	"github.com/avaprime/spooky-logic/internal/stats"
)

// Sampler sizes experiments per domain from the variance of past scores.
// Noisier domains need more samples.
type Sampler struct {
	mu      sync.RWMutex
	baseN   int
	history map[string][]float64
}

// NewSampler creates a sampler with the given base sample size (20 when <= 0)
func NewSampler(baseN int) *Sampler {
	if baseN <= 0 {
		baseN = 20
	}
	return &Sampler{baseN: baseN, history: make(map[string][]float64)}
}

// Record adds a score to a domain's history
func (s *Sampler) Record(domain string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[domain] = append(s.history[domain], score)
}

// RequiredSamples returns the sample size for a domain
func (s *Sampler) RequiredSamples(domain string) int {
	s.mu.RLock()
	hist := s.history[domain]
	s.mu.RUnlock()
	return RequiredSamples(hist, s.baseN)
}

// RequiredSamples computes int(baseN * max(1, var*50)) where var is the
// population variance of scores, or 0.1 for a single score.
func RequiredSamples(scores []float64, baseN int) int {
	if len(scores) == 0 {
		return baseN
	}
	variance := 0.1
	if len(scores) > 1 {
		variance = stats.PopulationVariance(scores)
	}
	k := variance * 50
	if k < 1 {
		k = 1
	}
	return int(float64(baseN) * k)
}
