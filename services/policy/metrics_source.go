package policy

import (
	"context"
	"sync"
	"time"

	rules "github.com/avaprime/spooky-logic/internal/policy"
)

const defaultRetention = 24 * time.Hour

// RunMetrics aggregates playbook run results into time series.
// It implements MetricsSource.
type RunMetrics struct {
	mu        sync.RWMutex
	accuracy  []rules.Point
	latency   []rules.Point
	cost      []rules.Point
	failures  []rules.Point
	retention time.Duration
	now       func() time.Time
}

// NewRunMetrics creates an empty RunMetrics keeping one day of samples
func NewRunMetrics() *RunMetrics {
	return &RunMetrics{retention: defaultRetention, now: time.Now}
}

// Observe records one run. Failed runs only count toward the failure rate.
func (m *RunMetrics) Observe(score float64, latencyMs int64, costUSD float64, ok bool) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	failed := 1.0
	if ok {
		failed = 0
		m.accuracy = append(m.accuracy, rules.Point{TS: now, Value: score})
		m.latency = append(m.latency, rules.Point{TS: now, Value: float64(latencyMs)})
		m.cost = append(m.cost, rules.Point{TS: now, Value: costUSD})
	}
	m.failures = append(m.failures, rules.Point{TS: now, Value: failed})
	m.pruneLocked(now)
}

// CurrentMetrics returns the series accuracy, avg_latency, cost_per_request
// and failure_rate plus the scalars daily_cost and request_count
func (m *RunMetrics) CurrentMetrics(ctx context.Context) (rules.Metrics, error) {
	now := m.now()

	m.mu.Lock()
	m.pruneLocked(now)
	metrics := rules.Metrics{
		"accuracy":         append([]rules.Point(nil), m.accuracy...),
		"avg_latency":      append([]rules.Point(nil), m.latency...),
		"cost_per_request": append([]rules.Point(nil), m.cost...),
		"failure_rate":     append([]rules.Point(nil), m.failures...),
		"request_count":    len(m.failures),
	}
	daily := 0.0
	for _, p := range m.cost {
		daily += p.Value
	}
	metrics["daily_cost"] = daily
	m.mu.Unlock()

	return metrics, nil
}

func (m *RunMetrics) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.retention)
	m.accuracy = prune(m.accuracy, cutoff)
	m.latency = prune(m.latency, cutoff)
	m.cost = prune(m.cost, cutoff)
	m.failures = prune(m.failures, cutoff)
}

func prune(points []rules.Point, cutoff time.Time) []rules.Point {
	i := 0
	for i < len(points) && !points[i].TS.After(cutoff) {
		i++
	}
	return points[i:]
}
