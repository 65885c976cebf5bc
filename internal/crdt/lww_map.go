// Package crdt provides state-based conflict-free replicated data types used to
// converge governance state between control plane replicas.
package crdt

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Entry is a single register of an LWWMap: the value plus the timestamp
// (seconds since the Unix epoch) of the write that produced it.
type Entry[V any] struct {
	Value V       `json:"value"`
	TS    float64 `json:"ts"`
}

// LWWMap is a last-writer-wins map. Local writes always overwrite; merges
// keep the remote register only when its timestamp is strictly newer, so a
// tie keeps the local value.
type LWWMap[V any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[V]
	now     func() time.Time
}

// NewLWWMap creates an empty map.
func NewLWWMap[V any]() *LWWMap[V] {
	return &LWWMap[V]{
		entries: make(map[string]Entry[V]),
		now:     time.Now,
	}
}

// Now returns the current wall clock as fractional epoch seconds.
func Now() float64 {
	return toSeconds(time.Now())
}

func toSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Put stores value under key. A zero ts is replaced with the current time.
func (m *LWWMap[V]) Put(key string, value V, ts float64) {
	if ts == 0 {
		ts = toSeconds(m.now())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = Entry[V]{Value: value, TS: ts}
}

// Get returns the value stored under key.
func (m *LWWMap[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	return e.Value, ok
}

// GetEntry returns the value and its timestamp.
func (m *LWWMap[V]) GetEntry(key string) (Entry[V], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	return e, ok
}

// Len returns the number of keys.
func (m *LWWMap[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Keys returns the keys in ascending order.
func (m *LWWMap[V]) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge folds other into m and reports how many keys changed.
func (m *LWWMap[V]) Merge(other *LWWMap[V]) int {
	if other == nil || other == m {
		return 0
	}
	return m.MergeEntries(other.Entries())
}

// MergeEntries folds a raw entry set (for example a decoded peer snapshot) into m.
func (m *LWWMap[V]) MergeEntries(entries map[string]Entry[V]) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := 0
	for k, remote := range entries {
		local, ok := m.entries[k]
		if !ok || remote.TS > local.TS {
			m.entries[k] = remote
			changed++
		}
	}
	return changed
}

// Entries returns a copy of every register including timestamps.
func (m *LWWMap[V]) Entries() map[string]Entry[V] {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Entry[V], len(m.entries))
	for k, e := range m.entries {
		out[k] = e
	}
	return out
}

// ToMap returns the plain key/value view without timestamps.
func (m *LWWMap[V]) ToMap() map[string]V {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]V, len(m.entries))
	for k, e := range m.entries {
		out[k] = e.Value
	}
	return out
}

// MarshalJSON encodes the map as {"key": {"value": ..., "ts": ...}}.
func (m *LWWMap[V]) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Entries())
}

// UnmarshalJSON replaces the contents of m with the encoded entries.
func (m *LWWMap[V]) UnmarshalJSON(data []byte) error {
	var entries map[string]Entry[V]
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	if entries == nil {
		entries = make(map[string]Entry[V])
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = entries
	if m.now == nil {
		m.now = time.Now
	}
	return nil
}
