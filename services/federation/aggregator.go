// Package federation aggregates experiment samples reported by many
// clusters into global arm comparisons and watches clusters for drift.
package federation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/internal/stats"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// MinSamplesPerArm gates the global summary
	MinSamplesPerArm = 10
	// MinDriftSamples gates cross-cluster drift detection
	MinDriftSamples = 5
	// DefaultZThreshold flags clusters whose mean is this many deviations out
	DefaultZThreshold = 2.5

	unknownParticipant = "unknown"
)

// ClusterSample is one result reported by a cluster
type ClusterSample struct {
	ClusterID     string    `json:"cluster_id" validate:"required,max=100"`
	Tenant        string    `json:"tenant" validate:"required"`
	Arm           string    `json:"arm" validate:"required"`
	Score         float64   `json:"score" validate:"gte=0,lte=1"`
	Cost          float64   `json:"cost" validate:"gte=0"`
	LatencyMs     float64   `json:"latency_ms" validate:"gte=0"`
	TS            float64   `json:"ts,omitempty"`
	ParticipantID string    `json:"participant_id,omitempty"`
	Features      []float64 `json:"features,omitempty"`

	id         string
	receivedAt time.Time
}

// IngestResult acknowledges an ingested sample
type IngestResult struct {
	SampleID           string    `json:"sample_id"`
	ClusterID          string    `json:"cluster_id"`
	Status             string    `json:"status"`
	ClusterSampleCount int       `json:"cluster_sample_count"`
	ParticipantCount   int       `json:"participant_count"`
	IngestedAt         time.Time `json:"ingested_at"`
}

// ArmStats are the means of one arm
type ArmStats struct {
	N         int     `json:"n"`
	Score     float64 `json:"score"`
	Cost      float64 `json:"cost"`
	LatencyMs float64 `json:"latency_ms"`
}

// ClusterResult compares the two arms inside one cluster
type ClusterResult struct {
	A      ArmStats `json:"a"`
	B      ArmStats `json:"b"`
	Uplift float64  `json:"uplift"`
}

// GlobalSummary compares two arms of a tenant across all clusters
type GlobalSummary struct {
	Ready                 bool                     `json:"ready"`
	Tenant                string                   `json:"tenant"`
	ArmA                  string                   `json:"arm_a"`
	ArmB                  string                   `json:"arm_b"`
	NA                    int                      `json:"n_a"`
	NB                    int                      `json:"n_b"`
	GlobalA               *ArmStats                `json:"global_a,omitempty"`
	GlobalB               *ArmStats                `json:"global_b,omitempty"`
	Uplift                float64                  `json:"uplift"`
	CostDelta             float64                  `json:"cost_delta"`
	LatencyDelta          float64                  `json:"latency_delta"`
	ClusterResults        map[string]ClusterResult `json:"cluster_results,omitempty"`
	ParticipatingClusters int                      `json:"participating_clusters"`
	TotalSamples          int                      `json:"total_samples"`
}

// Outlier is a cluster whose mean score is far from the rest
type Outlier struct {
	ClusterID string  `json:"cluster_id"`
	Mean      float64 `json:"mean"`
	Z         float64 `json:"z"`
	Samples   int     `json:"samples"`
}

// DriftReport is the result of cross-cluster drift detection
type DriftReport struct {
	EnoughData  bool      `json:"enough_data"`
	GlobalMean  float64   `json:"global_mean"`
	GlobalStdev float64   `json:"global_stdev"`
	Outliers    []Outlier `json:"outliers"`
}

// Aggregator collects cluster samples. It also keeps the cluster registry.
type Aggregator struct {
	mu       sync.RWMutex
	samples  []ClusterSample
	clusters map[string]*cluster
	seq      int

	now    func() time.Time
	logger *zap.Logger
}

// NewAggregator creates an empty Aggregator
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{
		clusters: make(map[string]*cluster),
		now:      time.Now,
		logger:   logger,
	}
}

// Ingest stores a sample, creating its cluster on first sight
func (a *Aggregator) Ingest(sample ClusterSample) IngestResult {
	now := a.now().UTC()
	if sample.TS == 0 {
		sample.TS = float64(now.UnixNano()) / 1e9
	}
	if sample.ParticipantID == "" {
		sample.ParticipantID = unknownParticipant
	}
	sample.Features = append([]float64(nil), sample.Features...)
	sample.receivedAt = now

	a.mu.Lock()
	defer a.mu.Unlock()

	a.seq++
	sample.id = fmt.Sprintf("sample-%d", a.seq)
	a.samples = append(a.samples, sample)

	c, ok := a.clusters[sample.ClusterID]
	if !ok {
		c = newCluster(sample.ClusterID, now)
		a.clusters[sample.ClusterID] = c
		a.logger.Info("federation cluster registered", zap.String("cluster_id", sample.ClusterID))
	}
	c.record(sample.ParticipantID, now)

	return IngestResult{
		SampleID:           sample.id,
		ClusterID:          sample.ClusterID,
		Status:             "accepted",
		ClusterSampleCount: c.sampleCount,
		ParticipantCount:   len(c.participants),
		IngestedAt:         now,
	}
}

// Len is the number of stored samples
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.samples)
}

func (a *Aggregator) selectSamples(keep func(ClusterSample) bool) []ClusterSample {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []ClusterSample
	for _, s := range a.samples {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// SummarizeGlobal compares arms a and b of a tenant over every cluster.
// Each arm needs MinSamplesPerArm samples before the summary is ready.
func (a *Aggregator) SummarizeGlobal(ctx context.Context, tenant, armA, armB string) (GlobalSummary, error) {
	var sa, sb []ClusterSample
	for _, s := range a.selectSamples(func(s ClusterSample) bool { return s.Tenant == tenant }) {
		switch s.Arm {
		case armA:
			sa = append(sa, s)
		case armB:
			sb = append(sb, s)
		}
	}

	summary := GlobalSummary{Tenant: tenant, ArmA: armA, ArmB: armB, NA: len(sa), NB: len(sb)}
	if len(sa) < MinSamplesPerArm || len(sb) < MinSamplesPerArm {
		return summary, nil
	}

	ga, gb := armStats(sa), armStats(sb)
	summary.Ready = true
	summary.GlobalA, summary.GlobalB = &ga, &gb
	summary.Uplift = gb.Score - ga.Score
	summary.CostDelta = gb.Cost - ga.Cost
	summary.LatencyDelta = gb.LatencyMs - ga.LatencyMs
	summary.TotalSamples = len(sa) + len(sb)

	byCluster := make(map[string][2][]ClusterSample)
	for _, s := range sa {
		pair := byCluster[s.ClusterID]
		pair[0] = append(pair[0], s)
		byCluster[s.ClusterID] = pair
	}
	for _, s := range sb {
		pair := byCluster[s.ClusterID]
		pair[1] = append(pair[1], s)
		byCluster[s.ClusterID] = pair
	}
	ids := make([]string, 0, len(byCluster))
	for id := range byCluster {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]ClusterResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		pair := byCluster[id]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ra, rb := armStats(pair[0]), armStats(pair[1])
			results[i] = ClusterResult{A: ra, B: rb}
			if ra.N > 0 && rb.N > 0 {
				results[i].Uplift = rb.Score - ra.Score
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return GlobalSummary{}, err
	}

	summary.ClusterResults = make(map[string]ClusterResult, len(ids))
	for i, id := range ids {
		summary.ClusterResults[id] = results[i]
	}
	summary.ParticipatingClusters = len(ids)
	return summary, nil
}

func armStats(samples []ClusterSample) ArmStats {
	if len(samples) == 0 {
		return ArmStats{}
	}
	scores := make([]float64, len(samples))
	costs := make([]float64, len(samples))
	latencies := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = s.Score
		costs[i] = s.Cost
		latencies[i] = s.LatencyMs
	}
	return ArmStats{
		N:         len(samples),
		Score:     stats.Mean(scores),
		Cost:      stats.Mean(costs),
		LatencyMs: stats.Mean(latencies),
	}
}

// DetectClusterDrift scores every sample of an arm against the mean and
// population deviation of all its samples. Clusters owning a sample with
// |z| above zThresh are outliers, reported with their mean score and most
// extreme z. A non-positive zThresh uses DefaultZThreshold.
func (a *Aggregator) DetectClusterDrift(tenant, arm string, zThresh float64) DriftReport {
	if zThresh <= 0 {
		zThresh = DefaultZThreshold
	}
	samples := a.selectSamples(func(s ClusterSample) bool { return s.Tenant == tenant && s.Arm == arm })
	if len(samples) < MinDriftSamples {
		return DriftReport{EnoughData: false, Outliers: []Outlier{}}
	}

	all := make([]float64, len(samples))
	byCluster := make(map[string][]float64)
	for i, s := range samples {
		all[i] = s.Score
		byCluster[s.ClusterID] = append(byCluster[s.ClusterID], s.Score)
	}

	global := stats.Mean(all)
	sd := stats.PopulationStdDev(all)
	if sd == 0 {
		sd = 1e-6
	}

	flagged := make(map[string]*Outlier)
	for _, s := range samples {
		z := (s.Score - global) / sd
		if math.Abs(z) <= zThresh {
			continue
		}
		o, ok := flagged[s.ClusterID]
		if !ok {
			o = &Outlier{ClusterID: s.ClusterID, Mean: stats.Mean(byCluster[s.ClusterID])}
			flagged[s.ClusterID] = o
		}
		o.Samples++
		if math.Abs(z) > math.Abs(o.Z) {
			o.Z = z
		}
	}

	report := DriftReport{EnoughData: true, GlobalMean: global, GlobalStdev: sd, Outliers: make([]Outlier, 0, len(flagged))}
	for _, o := range flagged {
		report.Outliers = append(report.Outliers, *o)
	}
	sort.Slice(report.Outliers, func(i, j int) bool { return report.Outliers[i].ClusterID < report.Outliers[j].ClusterID })

	if len(report.Outliers) > 0 {
		a.logger.Warn("cluster drift detected",
			zap.String("tenant", tenant),
			zap.String("arm", arm),
			zap.Int("outliers", len(report.Outliers)))
	}
	return report
}
