package capabilities

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"
)

const (
	DefaultCanaryRate   = 0.02
	DefaultMinSuccess   = 20
	DefaultFailRatioMax = 0.1
)

// CanaryStats counts canary outcomes
type CanaryStats struct {
	Success int `json:"success"`
	Fail    int `json:"fail"`
}

// Quarantined is a capability held back to a small canary share of traffic
type Quarantined struct {
	CapabilityID string      `json:"id"`
	Reason       string      `json:"reason"`
	InsertedAt   time.Time   `json:"inserted_at"`
	CanaryRate   float64     `json:"rate"`
	Stats        CanaryStats `json:"stats"`
}

// QuarantineManager tracks quarantined capabilities and their canary results
type QuarantineManager struct {
	mu     sync.RWMutex
	caps   map[string]*Quarantined
	random func() float64
	now    func() time.Time
}

// NewQuarantineManager creates an empty QuarantineManager
func NewQuarantineManager() *QuarantineManager {
	return &QuarantineManager{
		caps:   make(map[string]*Quarantined),
		random: rand.Float64,
		now:    time.Now,
	}
}

// Add quarantines a capability, resetting any previous stats.
// A non-positive rate uses DefaultCanaryRate.
func (m *QuarantineManager) Add(id, reason string, canaryRate float64) Quarantined {
	if canaryRate <= 0 {
		canaryRate = DefaultCanaryRate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	q := &Quarantined{
		CapabilityID: id,
		Reason:       reason,
		InsertedAt:   m.now().UTC(),
		CanaryRate:   canaryRate,
	}
	m.caps[id] = q
	return *q
}

// Remove releases a capability and returns it
func (m *QuarantineManager) Remove(id string) (Quarantined, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.caps[id]
	if !ok {
		return Quarantined{}, false
	}
	delete(m.caps, id)
	return *q, true
}

// Get returns a quarantined capability
func (m *QuarantineManager) Get(id string) (Quarantined, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.caps[id]
	if !ok {
		return Quarantined{}, false
	}
	return *q, true
}

// List returns all quarantined capabilities ordered by id
func (m *QuarantineManager) List() []Quarantined {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Quarantined, 0, len(m.caps))
	for _, q := range m.caps {
		out = append(out, *q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CapabilityID < out[j].CapabilityID })
	return out
}

// ShouldRouteCanary samples the canary rate; false when not quarantined
func (m *QuarantineManager) ShouldRouteCanary(id string) bool {
	m.mu.RLock()
	q, ok := m.caps[id]
	var rate float64
	if ok {
		rate = q.CanaryRate
	}
	m.mu.RUnlock()

	if !ok {
		return false
	}
	return m.random() < rate
}

// Report records a canary outcome. Unknown ids are ignored.
func (m *QuarantineManager) Report(id string, success bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.caps[id]
	if !ok {
		return false
	}
	if success {
		q.Stats.Success++
	} else {
		q.Stats.Fail++
	}
	return true
}

// ReadyToPromote requires at least minSuccess successful canaries and a
// failure ratio no greater than failRatioMax
func (m *QuarantineManager) ReadyToPromote(id string, minSuccess int, failRatioMax float64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.caps[id]
	if !ok {
		return false
	}
	total := q.Stats.Success + q.Stats.Fail
	if q.Stats.Success < minSuccess || total == 0 {
		return false
	}
	ratio := float64(q.Stats.Fail) / float64(total)
	return ratio <= failRatioMax
}
