package orchestration

import (
	"context"
	"sync"
	"time"

	rules "github.com/avaprime/spooky-logic/internal/policy"
	"github.com/avaprime/spooky-logic/services/policy"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// PolicyEngine is the part of the policy engine the adaptive loop drives
type PolicyEngine interface {
	Evaluate(ctx context.Context) ([]*rules.Rule, error)
	Execute(ctx context.Context, rule *rules.Rule) *policy.Outcome
	AdaptRules(ctx context.Context) []string
}

// CycleReport summarises one adaptive cycle
type CycleReport struct {
	Triggered []string          `json:"triggered"`
	Outcomes  []*policy.Outcome `json:"outcomes"`
	Adapted   []string          `json:"adapted"`
}

// AdaptiveLoop periodically evaluates the policy rules and executes the
// triggered ones with bounded concurrency
type AdaptiveLoop struct {
	engine        PolicyEngine
	interval      time.Duration
	maxConcurrent int64
	logger        *zap.Logger
}

// NewAdaptiveLoop creates a loop running every interval with at most
// maxConcurrent executions in flight
func NewAdaptiveLoop(engine PolicyEngine, interval time.Duration, maxConcurrent int, logger *zap.Logger) *AdaptiveLoop {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &AdaptiveLoop{
		engine:        engine,
		interval:      interval,
		maxConcurrent: int64(maxConcurrent),
		logger:        logger,
	}
}

// Cycle evaluates the rules, executes the triggered ones and adapts rule
// parameters from the learner's suggestions
func (l *AdaptiveLoop) Cycle(ctx context.Context) (*CycleReport, error) {
	triggered, err := l.engine.Evaluate(ctx)
	if err != nil {
		return nil, err
	}

	report := &CycleReport{Triggered: make([]string, len(triggered))}
	outcomes := make([]*policy.Outcome, len(triggered))
	sem := semaphore.NewWeighted(l.maxConcurrent)
	var wg sync.WaitGroup

	for i, rule := range triggered {
		report.Triggered[i] = rule.Name
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, rule *rules.Rule) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = l.engine.Execute(ctx, rule)
		}(i, rule)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o != nil {
			report.Outcomes = append(report.Outcomes, o)
		}
	}
	report.Adapted = l.engine.AdaptRules(ctx)

	if len(triggered) > 0 {
		l.logger.Info("adaptive cycle finished",
			zap.Int("triggered", len(triggered)),
			zap.Int("executed", len(report.Outcomes)),
			zap.Strings("adapted", report.Adapted))
	}
	return report, nil
}

// Run cycles every interval until ctx is cancelled
func (l *AdaptiveLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Cycle(ctx); err != nil {
				l.logger.Error("adaptive cycle failed", zap.Error(err))
			}
		}
	}
}
