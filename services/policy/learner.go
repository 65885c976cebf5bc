package policy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	rules "github.com/avaprime/spooky-logic/internal/policy"
	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/repositories"
	"go.uber.org/zap"
)

const learnerAlpha = rules.SuccessAlpha

// Effectiveness is the exponentially weighted record of a rule
type Effectiveness struct {
	SuccessRate    float64   `json:"success_rate"`
	AvgImprovement float64   `json:"avg_improvement"`
	ExecutionCount int       `json:"execution_count"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Suggestions are adjustments proposed for a rule
type Suggestions struct {
	IncreaseThresholds        bool `json:"increase_thresholds,omitempty"`
	IncreaseCooldown          bool `json:"increase_cooldown,omitempty"`
	ConsiderAlternativeAction bool `json:"consider_alternative_action,omitempty"`
}

// Learner tracks how well each rule performs. Executions are persisted
// through store when one is configured.
type Learner struct {
	mu            sync.RWMutex
	effectiveness map[string]*Effectiveness
	history       []*models.PolicyExecution
	store         repositories.PolicyExecutionRepository
	now           func() time.Time
	logger        *zap.Logger
}

// NewLearner creates a Learner. store may be nil.
func NewLearner(store repositories.PolicyExecutionRepository, logger *zap.Logger) *Learner {
	return &Learner{
		effectiveness: make(map[string]*Effectiveness),
		store:         store,
		now:           time.Now,
		logger:        logger,
	}
}

// Record stores an outcome and updates the rule's moving averages
func (l *Learner) Record(ctx context.Context, outcome *Outcome) {
	exec := &models.PolicyExecution{
		RuleName:    outcome.Rule,
		Action:      string(outcome.Action),
		Success:     outcome.Success,
		Improvement: outcome.Improvement,
		Error:       outcome.Error,
		ExecutedAt:  l.now().UTC(),
	}
	if outcome.Baseline != nil {
		exec.BaselineMetrics, _ = json.Marshal(scalars(outcome.Baseline, exec.ExecutedAt))
	}
	if outcome.New != nil {
		exec.NewMetrics, _ = json.Marshal(scalars(outcome.New, exec.ExecutedAt))
	}

	if l.store != nil {
		if err := l.store.Record(ctx, exec); err != nil {
			l.logger.Warn("failed to persist policy execution", zap.String("rule", outcome.Rule), zap.Error(err))
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		l.history = append(l.history, exec)
	}

	stats, ok := l.effectiveness[outcome.Rule]
	if !ok {
		stats = &Effectiveness{}
		l.effectiveness[outcome.Rule] = stats
	}
	success := 0.0
	if outcome.Success {
		success = 1.0
	}
	stats.ExecutionCount++
	stats.SuccessRate = (1-learnerAlpha)*stats.SuccessRate + learnerAlpha*success
	stats.AvgImprovement = (1-learnerAlpha)*stats.AvgImprovement + learnerAlpha*outcome.Improvement
	stats.LastUpdated = exec.ExecutedAt
}

// Effectiveness returns the record of a rule
func (l *Learner) Effectiveness(rule string) (Effectiveness, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats, ok := l.effectiveness[rule]
	if !ok {
		return Effectiveness{}, false
	}
	return *stats, true
}

// All returns every rule's record
func (l *Learner) All() map[string]Effectiveness {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]Effectiveness, len(l.effectiveness))
	for k, v := range l.effectiveness {
		out[k] = *v
	}
	return out
}

// History returns the in-memory executions of a rule, newest first, or the
// persisted ones when a store is configured
func (l *Learner) History(ctx context.Context, rule string, limit int) ([]*models.PolicyExecution, error) {
	if l.store != nil {
		return l.store.ListByRule(ctx, rule, limit)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*models.PolicyExecution
	for i := len(l.history) - 1; i >= 0; i-- {
		if l.history[i].RuleName == rule {
			out = append(out, l.history[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// Suggest proposes adjustments: a success rate below 0.3 raises thresholds
// and cooldown, an average improvement below 0.1 flags the action
func (l *Learner) Suggest(rule *rules.Rule) Suggestions {
	stats, ok := l.Effectiveness(rule.Name)
	if !ok {
		return Suggestions{}
	}

	var s Suggestions
	if stats.SuccessRate < 0.3 {
		s.IncreaseThresholds = true
		s.IncreaseCooldown = true
	}
	if stats.AvgImprovement < 0.1 {
		s.ConsiderAlternativeAction = true
	}
	return s
}

func scalars(m rules.Metrics, now time.Time) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if f, ok := rules.Scalar(v, now); ok {
			out[k] = f
		}
	}
	return out
}
