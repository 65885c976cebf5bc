package federation

import (
	"math"
	"sort"
	"time"

	"github.com/avaprime/spooky-logic/internal/stats"
	"github.com/avaprime/spooky-logic/services"
)

// Aggregation methods for ClusterSummary
const (
	MethodMean   = "mean"
	MethodMedian = "median"
	MethodSum    = "sum"
)

// Cluster health states
const (
	HealthInactive                 = "inactive"
	HealthInsufficientParticipants = "insufficient_participants"
	HealthWarmingUp                = "warming_up"
	HealthHealthy                  = "healthy"
)

// Drift severities
const (
	SeverityNone   = "none"
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

const (
	DefaultDriftThreshold = 0.1
	recentWindow          = 10
	inactiveAfter         = time.Hour
	minParticipants       = 2
	warmupSamples         = 10
)

type cluster struct {
	id           string
	status       string
	createdAt    time.Time
	lastUpdate   time.Time
	sampleCount  int
	participants map[string]bool
}

func newCluster(id string, now time.Time) *cluster {
	return &cluster{
		id:           id,
		status:       "active",
		createdAt:    now,
		lastUpdate:   now,
		participants: make(map[string]bool),
	}
}

func (c *cluster) record(participant string, now time.Time) {
	c.sampleCount++
	c.lastUpdate = now
	c.participants[participant] = true
}

// ClusterInfo describes a registered cluster
type ClusterInfo struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	LastUpdate       time.Time `json:"last_update"`
	SampleCount      int       `json:"sample_count"`
	ParticipantCount int       `json:"participant_count"`
}

// ConvergenceMetrics track how far a cluster's rounds have progressed
type ConvergenceMetrics struct {
	RoundsCompleted        int     `json:"rounds_completed"`
	ConvergenceRate        float64 `json:"convergence_rate"`
	ParticipantConsistency float64 `json:"participant_consistency"`
}

// ClusterSummary aggregates the feature vectors reported by a cluster
type ClusterSummary struct {
	ClusterID          string             `json:"cluster_id"`
	AggregationMethod  string             `json:"aggregation_method"`
	TotalSamples       int                `json:"total_samples"`
	ParticipantCount   int                `json:"participant_count"`
	AggregatedFeatures []float64          `json:"aggregated_features"`
	Convergence        ConvergenceMetrics `json:"convergence_metrics"`
	LastUpdated        time.Time          `json:"last_updated"`
	SummaryTimestamp   time.Time          `json:"summary_timestamp"`
}

// ClusterDriftReport compares a cluster's recent features with its history
type ClusterDriftReport struct {
	ClusterID        string    `json:"cluster_id"`
	DriftDetected    bool      `json:"drift_detected"`
	DriftSeverity    string    `json:"drift_severity"`
	DriftScore       float64   `json:"drift_score"`
	AffectedFeatures []int     `json:"affected_features"`
	Recommendations  []string  `json:"recommendations"`
	DetectedAt       time.Time `json:"detection_timestamp"`
}

// HealthMetrics are the activity measures behind a health status
type HealthMetrics struct {
	UptimeHours       float64 `json:"uptime_hours"`
	ParticipationRate float64 `json:"participation_rate"`
	SampleFrequency   float64 `json:"sample_frequency"`
}

// ClusterHealth reports whether a cluster is actively contributing
type ClusterHealth struct {
	ClusterID          string        `json:"cluster_id"`
	Status             string        `json:"status"`
	ParticipantCount   int           `json:"participant_count"`
	ActiveParticipants int           `json:"active_participants"`
	TotalSamples       int           `json:"total_samples"`
	LastActivity       time.Time     `json:"last_activity"`
	Metrics            HealthMetrics `json:"health_metrics"`
	CheckedAt          time.Time     `json:"health_timestamp"`
}

// Clusters lists the registered clusters by id
func (a *Aggregator) Clusters() []ClusterInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]ClusterInfo, 0, len(a.clusters))
	for _, c := range a.clusters {
		out = append(out, c.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *cluster) info() ClusterInfo {
	return ClusterInfo{
		ID:               c.id,
		Status:           c.status,
		CreatedAt:        c.createdAt,
		LastUpdate:       c.lastUpdate,
		SampleCount:      c.sampleCount,
		ParticipantCount: len(c.participants),
	}
}

// clusterSamples returns a copy of the cluster registry entry and its
// samples in arrival order
func (a *Aggregator) clusterSamples(id string) (cluster, []ClusterSample, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	c, ok := a.clusters[id]
	if !ok {
		return cluster{}, nil, services.NewNotFound("Cluster not found", id)
	}
	snapshot := *c
	snapshot.participants = make(map[string]bool, len(c.participants))
	for p := range c.participants {
		snapshot.participants[p] = true
	}

	var samples []ClusterSample
	for _, s := range a.samples {
		if s.ClusterID == id {
			samples = append(samples, s)
		}
	}
	return snapshot, samples, nil
}

// ClusterSummary aggregates each feature position across the cluster's
// samples with mean, median or sum. The feature count follows the first
// sample; shorter vectors skip the missing positions.
func (a *Aggregator) ClusterSummary(id, method string) (*ClusterSummary, error) {
	if method == "" {
		method = MethodMean
	}
	if method != MethodMean && method != MethodMedian && method != MethodSum {
		return nil, services.NewValidation("aggregation method must be mean, median or sum")
	}

	c, samples, err := a.clusterSamples(id)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, services.NewNotFound("No samples found for cluster", id)
	}

	features := make([]float64, len(samples[0].Features))
	for i := range features {
		values := featureColumn(samples, i)
		switch method {
		case MethodMedian:
			features[i] = stats.Median(values)
		case MethodSum:
			features[i] = stats.Sum(values)
		default:
			features[i] = stats.Mean(values)
		}
	}

	return &ClusterSummary{
		ClusterID:          id,
		AggregationMethod:  method,
		TotalSamples:       len(samples),
		ParticipantCount:   len(c.participants),
		AggregatedFeatures: features,
		Convergence: ConvergenceMetrics{
			RoundsCompleted:        len(samples),
			ConvergenceRate:        math.Min(1, float64(len(samples))/100),
			ParticipantConsistency: float64(len(c.participants)) / float64(max(1, c.sampleCount)),
		},
		LastUpdated:      c.lastUpdate,
		SummaryTimestamp: a.now().UTC(),
	}, nil
}

func featureColumn(samples []ClusterSample, i int) []float64 {
	var values []float64
	for _, s := range samples {
		if i < len(s.Features) {
			values = append(values, s.Features[i])
		}
	}
	return values
}

// ClusterDrift compares the last ten samples' feature means with the older
// samples. A feature drifts when its relative mean difference exceeds the
// threshold (DefaultDriftThreshold when non-positive).
func (a *Aggregator) ClusterDrift(id string, threshold float64) (*ClusterDriftReport, error) {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	_, samples, err := a.clusterSamples(id)
	if err != nil {
		return nil, err
	}

	report := &ClusterDriftReport{
		ClusterID:        id,
		DriftSeverity:    SeverityNone,
		AffectedFeatures: []int{},
		DetectedAt:       a.now().UTC(),
	}
	if len(samples) < 2 {
		report.Recommendations = []string{"Collect more samples for drift detection"}
		return report, nil
	}

	split := max(0, len(samples)-recentWindow)
	recent, older := samples[split:], samples[:split]
	if len(older) > 0 {
		for i := range recent[0].Features {
			rv, ov := featureColumn(recent, i), featureColumn(older, i)
			if len(rv) == 0 || len(ov) == 0 {
				continue
			}
			olderMean := stats.Mean(ov)
			drift := math.Abs(stats.Mean(rv)-olderMean) / (math.Abs(olderMean) + 1e-6)
			if drift > threshold {
				report.DriftDetected = true
				report.AffectedFeatures = append(report.AffectedFeatures, i)
				report.DriftScore = math.Max(report.DriftScore, drift)
			}
		}
	}

	switch {
	case report.DriftScore > 0.5:
		report.DriftSeverity = SeverityHigh
	case report.DriftScore > 0.2:
		report.DriftSeverity = SeverityMedium
	case report.DriftScore > 0.1:
		report.DriftSeverity = SeverityLow
	}

	if report.DriftDetected {
		report.Recommendations = []string{
			"Consider retraining the federated model",
			"Investigate data quality in affected participants",
			"Implement adaptive learning rates",
		}
	} else {
		report.Recommendations = []string{"No immediate action required"}
	}
	return report, nil
}

// ClusterHealth classifies a cluster by its activity over the last hour
func (a *Aggregator) ClusterHealth(id string) (*ClusterHealth, error) {
	c, samples, err := a.clusterSamples(id)
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()
	idle := now.Sub(c.lastUpdate)

	status := HealthHealthy
	switch {
	case idle > inactiveAfter:
		status = HealthInactive
	case len(c.participants) < minParticipants:
		status = HealthInsufficientParticipants
	case c.sampleCount < warmupSamples:
		status = HealthWarmingUp
	}

	active := make(map[string]bool)
	recent := 0
	for _, s := range samples {
		if now.Sub(s.receivedAt) < inactiveAfter {
			recent++
			active[s.ParticipantID] = true
		}
	}

	return &ClusterHealth{
		ClusterID:          id,
		Status:             status,
		ParticipantCount:   len(c.participants),
		ActiveParticipants: len(active),
		TotalSamples:       c.sampleCount,
		LastActivity:       c.lastUpdate,
		Metrics: HealthMetrics{
			UptimeHours:       now.Sub(c.createdAt).Hours(),
			ParticipationRate: float64(len(active)) / float64(max(1, len(c.participants))),
			SampleFrequency:   float64(recent) / math.Max(1, idle.Hours()),
		},
		CheckedAt: now,
	}, nil
}
