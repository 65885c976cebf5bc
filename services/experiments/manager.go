package experiments

import (
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/internal/stats"
	"github.com/avaprime/spooky-logic/services"
	"go.uber.org/zap"
)

// Default arms compared when a summary request names none
const (
	DefaultArmA = "control_single_pass"
	DefaultArmB = "variant_debate_tools"
)

// Result is one recorded outcome of an experiment arm
type Result struct {
	Arm       string    `json:"arm"`
	Score     float64   `json:"score"`
	Cost      float64   `json:"cost"`
	LatencyMs float64   `json:"latency_ms"`
	Domain    string    `json:"domain,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Summary compares arm b against arm a
type Summary struct {
	Experiment       string  `json:"experiment"`
	ArmA             string  `json:"arm_a"`
	ArmB             string  `json:"arm_b"`
	Ready            bool    `json:"ready"`
	NA               int     `json:"n_a"`
	NB               int     `json:"n_b"`
	ScoreA           float64 `json:"score_a"`
	ScoreB           float64 `json:"score_b"`
	Uplift           float64 `json:"uplift"`
	CostDelta        float64 `json:"cost_delta"`
	LatencyDelta     float64 `json:"latency_delta"`
	TStat            float64 `json:"t_stat"`
	DF               float64 `json:"df"`
	RecommendPromote bool    `json:"recommend_promote"`
}

// Config holds the promotion guard
type Config struct {
	PromoteUplift float64
	MaxCostDelta  float64
	MinN          int
}

// DefaultConfig returns the standard promotion guard
func DefaultConfig() Config {
	return Config{PromoteUplift: 0.03, MaxCostDelta: 0.10, MinN: 10}
}

type armKey struct {
	experiment string
	arm        string
}

// Manager keeps A/B results in memory and decides promotions
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	data   map[armKey][]Result
	now    func() time.Time
	logger *zap.Logger
}

// NewManager creates a manager. Zero config fields fall back to the defaults.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	def := DefaultConfig()
	if cfg.PromoteUplift == 0 {
		cfg.PromoteUplift = def.PromoteUplift
	}
	if cfg.MaxCostDelta == 0 {
		cfg.MaxCostDelta = def.MaxCostDelta
	}
	if cfg.MinN <= 0 {
		cfg.MinN = def.MinN
	}
	return &Manager{
		cfg:    cfg,
		data:   make(map[armKey][]Result),
		now:    time.Now,
		logger: logger,
	}
}

// Record appends a result to an arm
func (m *Manager) Record(experiment, arm string, score, cost, latencyMs float64) error {
	if experiment == "" || arm == "" {
		return services.NewValidation("experiment and arm are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := armKey{experiment: experiment, arm: arm}
	m.data[key] = append(m.data[key], Result{
		Arm:       arm,
		Score:     score,
		Cost:      cost,
		LatencyMs: latencyMs,
		Timestamp: m.now(),
	})

	m.logger.Debug("experiment result recorded",
		zap.String("experiment", experiment),
		zap.String("arm", arm),
		zap.Float64("score", score))
	return nil
}

// Count returns the number of results recorded for an arm
func (m *Manager) Count(experiment, arm string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[armKey{experiment: experiment, arm: arm}])
}

// Summarize compares arm b against arm a. Until both arms hold MinN results
// the summary is not ready.
func (m *Manager) Summarize(experiment, a, b string) Summary {
	if a == "" {
		a = DefaultArmA
	}
	if b == "" {
		b = DefaultArmB
	}

	m.mu.RLock()
	resA := append([]Result(nil), m.data[armKey{experiment, a}]...)
	resB := append([]Result(nil), m.data[armKey{experiment, b}]...)
	m.mu.RUnlock()

	return Compare(experiment, a, b, resA, resB, m.cfg)
}

// Compare builds a summary from two result sets
func Compare(experiment, a, b string, resA, resB []Result, cfg Config) Summary {
	s := Summary{
		Experiment: experiment,
		ArmA:       a,
		ArmB:       b,
		NA:         len(resA),
		NB:         len(resB),
	}
	if s.NA < cfg.MinN || s.NB < cfg.MinN {
		return s
	}

	scoresA, costA, latA := columns(resA)
	scoresB, costB, latB := columns(resB)

	s.Ready = true
	s.ScoreA = stats.Mean(scoresA)
	s.ScoreB = stats.Mean(scoresB)
	s.Uplift = s.ScoreB - s.ScoreA
	s.CostDelta = stats.Mean(costB) - stats.Mean(costA)
	s.LatencyDelta = stats.Mean(latB) - stats.Mean(latA)

	welch := stats.WelchTTest(scoresB, scoresA)
	s.TStat = welch.T
	s.DF = welch.DF
	s.RecommendPromote = s.Uplift > cfg.PromoteUplift && s.CostDelta <= cfg.MaxCostDelta
	return s
}

func columns(rs []Result) (scores, costs, latencies []float64) {
	scores = make([]float64, len(rs))
	costs = make([]float64, len(rs))
	latencies = make([]float64, len(rs))
	for i, r := range rs {
		scores[i] = r.Score
		costs[i] = r.Cost
		latencies[i] = r.LatencyMs
	}
	return scores, costs, latencies
}

// BootstrapRequest carries aligned samples for a stratified bootstrap
type BootstrapRequest struct {
	ScoresA    []float64 `json:"scores_a" validate:"required,min=1"`
	ScoresB    []float64 `json:"scores_b" validate:"required,min=1"`
	Strata     []int     `json:"strata" validate:"required,min=1"`
	Iterations int       `json:"iters" validate:"omitempty,min=10,max=100000"`
}

// Bootstrap runs a stratified bootstrap of the uplift of b over a
func Bootstrap(req BootstrapRequest) (stats.BootstrapResult, error) {
	res, err := stats.StratifiedBootstrapUplift(req.ScoresA, req.ScoresB, req.Strata, req.Iterations, stats.DefaultBootstrapSeed)
	if err != nil {
		return stats.BootstrapResult{}, services.NewValidation("bootstrap requires aligned, non-empty samples")
	}
	return res, nil
}
