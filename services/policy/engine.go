// Package policy runs adaptive policy rules against live run metrics.
package policy

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/internal/observability"
	rules "github.com/avaprime/spooky-logic/internal/policy"
	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/services/eventbus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultSettle is how long an execution waits before re-reading metrics
const DefaultSettle = 30 * time.Second

// MetricsSource supplies the current metrics snapshot
type MetricsSource interface {
	CurrentMetrics(ctx context.Context) (rules.Metrics, error)
}

// Orchestrator is the target of adaptation actions
type Orchestrator interface {
	SwapAgent(ctx context.Context, agentType, replacement string) (map[string]interface{}, error)
	EnableDebateMode(ctx context.Context, taskTypes []string) (map[string]interface{}, error)
	UpdateRoutingRules(ctx context.Context, rules map[string]interface{}) (map[string]interface{}, error)
	ScaleResources(ctx context.Context, factor float64) (map[string]interface{}, error)
	EnableCaching(ctx context.Context, cacheTypes []string) (map[string]interface{}, error)
	UpdateValidationStrategy(ctx context.Context, strategy string) (map[string]interface{}, error)
	UpdatePrompts(ctx context.Context, updates map[string]string) (map[string]interface{}, error)
	IntegrateExternalCapability(ctx context.Context, capability map[string]interface{}) (map[string]interface{}, error)
}

// Outcome is the result of executing a rule
type Outcome struct {
	Rule            string                 `json:"rule"`
	Action          rules.Action           `json:"action"`
	Success         bool                   `json:"success"`
	Improvement     float64                `json:"improvement_score"`
	DurationSeconds float64                `json:"execution_time_seconds"`
	Baseline        rules.Metrics          `json:"-"`
	New             rules.Metrics          `json:"-"`
	Details         map[string]interface{} `json:"details,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// RuleView is a rule with its learned effectiveness
type RuleView struct {
	rules.Rule
	SuccessRate   float64        `json:"success_rate"`
	Effectiveness *Effectiveness `json:"effectiveness,omitempty"`
}

type actionHandler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// Engine evaluates rules and executes their adaptations
type Engine struct {
	mu       sync.Mutex
	rules    []*rules.Rule
	source   MetricsSource
	orch     Orchestrator
	learner  *Learner
	handlers map[rules.Action]actionHandler

	publisher eventbus.Publisher
	metrics   *observability.Metrics
	settle    time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewEngine creates an Engine with the default settle time
func NewEngine(source MetricsSource, orch Orchestrator, learner *Learner, publisher eventbus.Publisher, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	e := &Engine{
		source:    source,
		orch:      orch,
		learner:   learner,
		publisher: publisher,
		metrics:   metrics,
		settle:    DefaultSettle,
		now:       time.Now,
		logger:    logger,
	}
	e.handlers = map[rules.Action]actionHandler{
		rules.ActionSwapAgent:           e.swapAgent,
		rules.ActionEnableDebateMode:    e.enableDebateMode,
		rules.ActionAdjustRouting:       e.adjustRouting,
		rules.ActionScaleResources:      e.scaleResources,
		rules.ActionEnableCaching:       e.enableCaching,
		rules.ActionModifyValidation:    e.modifyValidation,
		rules.ActionUpdatePrompts:       e.updatePrompts,
		rules.ActionIntegrateCapability: e.integrateCapability,
	}
	return e
}

// SetSettle overrides the wait between action and measurement
func (e *Engine) SetSettle(d time.Duration) {
	e.settle = d
}

type rulesFile struct {
	Policies []*rules.Rule `yaml:"policies"`
}

// ParseRules decodes a YAML document with a top level policies list
func ParseRules(data []byte) ([]*rules.Rule, error) {
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy rules: %w", err)
	}
	for _, r := range file.Policies {
		r.ApplyDefaults()
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Policies, nil
}

// LoadFromYAML adds every rule of the file at path
func (e *Engine) LoadFromYAML(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read policy rules: %w", err)
	}
	parsed, err := ParseRules(raw)
	if err != nil {
		return 0, err
	}
	for _, r := range parsed {
		if err := e.AddRule(r); err != nil {
			return 0, err
		}
	}
	e.logger.Info("policy rules loaded", zap.String("path", path), zap.Int("count", len(parsed)))
	return len(parsed), nil
}

// AddRule registers a rule, replacing one with the same name
func (e *Engine) AddRule(r *rules.Rule) error {
	r.ApplyDefaults()
	if err := r.Validate(); err != nil {
		return services.NewValidation(err.Error())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, existing := range e.rules {
		if existing.Name == r.Name {
			e.rules[i] = r
			return nil
		}
	}
	e.rules = append(e.rules, r)
	return nil
}

// Rules lists the rules with their effectiveness, ordered by priority
func (e *Engine) Rules() []RuleView {
	e.mu.Lock()
	views := make([]RuleView, 0, len(e.rules))
	for _, r := range e.rules {
		views = append(views, RuleView{Rule: *r, SuccessRate: r.SuccessRate()})
	}
	e.mu.Unlock()

	for i := range views {
		if eff, ok := e.learner.Effectiveness(views[i].Name); ok {
			views[i].Effectiveness = &eff
		}
	}
	sort.SliceStable(views, func(i, j int) bool { return views[i].Priority > views[j].Priority })
	return views
}

// Evaluate returns the triggered rules whose success rate meets their
// confidence threshold, or whose retry is due, highest priority first
func (e *Engine) Evaluate(ctx context.Context) ([]*rules.Rule, error) {
	metrics, err := e.source.CurrentMetrics(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to read metrics", err)
	}
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var triggered []*rules.Rule
	for _, r := range e.rules {
		if !r.ShouldExecute(metrics, now) {
			continue
		}
		if !r.Confident(now) {
			e.logger.Warn("policy triggered but success rate too low",
				zap.String("rule", r.Name),
				zap.Float64("success_rate", r.SuccessRate()))
			continue
		}
		e.logger.Info("policy triggered", zap.String("rule", r.Name))
		triggered = append(triggered, r)
	}

	sort.SliceStable(triggered, func(i, j int) bool { return triggered[i].Priority > triggered[j].Priority })
	return triggered, nil
}

// ExecuteByName executes the named rule regardless of its conditions
func (e *Engine) ExecuteByName(ctx context.Context, name string) (*Outcome, error) {
	e.mu.Lock()
	var rule *rules.Rule
	for _, r := range e.rules {
		if r.Name == name {
			rule = r
			break
		}
	}
	e.mu.Unlock()

	if rule == nil {
		return nil, services.NewNotFound("policy rule not found", name)
	}
	return e.Execute(ctx, rule), nil
}

// Execute runs the rule's action, waits for metrics to settle and scores
// the change. A failed action scores -1.
func (e *Engine) Execute(ctx context.Context, rule *rules.Rule) *Outcome {
	start := e.now()
	outcome := &Outcome{Rule: rule.Name, Action: rule.Action}

	err := e.execute(ctx, rule, outcome)
	if err != nil {
		outcome.Success = false
		outcome.Improvement = -1
		outcome.Error = err.Error()
		e.logger.Error("policy execution failed", zap.String("rule", rule.Name), zap.Error(err))
	} else {
		outcome.Success = true
		e.logger.Info("policy executed",
			zap.String("rule", rule.Name),
			zap.Float64("improvement", outcome.Improvement))
	}
	outcome.DurationSeconds = e.now().Sub(start).Seconds()

	e.mu.Lock()
	rule.MarkExecuted(e.now(), outcome.Success)
	e.mu.Unlock()

	e.learner.Record(ctx, outcome)
	if e.metrics != nil {
		e.metrics.IncAdaptation(rule.Name, outcome.Success)
	}
	if e.publisher != nil {
		event := eventbus.NewEvent(eventbus.EventPolicyRuleExecuted, "policy", map[string]interface{}{
			"rule":        rule.Name,
			"action":      string(rule.Action),
			"success":     outcome.Success,
			"improvement": outcome.Improvement,
		})
		if err := e.publisher.Publish(ctx, event); err != nil {
			e.logger.Warn("failed to publish policy event", zap.String("rule", rule.Name), zap.Error(err))
		}
	}
	return outcome
}

func (e *Engine) execute(ctx context.Context, rule *rules.Rule, outcome *Outcome) error {
	baseline, err := e.source.CurrentMetrics(ctx)
	if err != nil {
		return fmt.Errorf("baseline metrics: %w", err)
	}
	outcome.Baseline = baseline

	handler, ok := e.handlers[rule.Action]
	if !ok {
		return fmt.Errorf("no handler for action %s", rule.Action)
	}
	details, err := handler(ctx, rule.Parameters)
	if err != nil {
		return err
	}
	outcome.Details = details

	if e.settle > 0 {
		timer := time.NewTimer(e.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	updated, err := e.source.CurrentMetrics(ctx)
	if err != nil {
		return fmt.Errorf("new metrics: %w", err)
	}
	outcome.New = updated
	outcome.Improvement = Improvement(baseline, updated, rule.Action, e.now())
	return nil
}

// Improvement scores a metric change for an action, clamped to [-1, 1].
// Agent swaps score accuracy gain, debate mode accuracy gain less a tenth
// of the cost increase, scaling and caching the relative latency drop.
func Improvement(baseline, updated rules.Metrics, action rules.Action, now time.Time) float64 {
	get := func(m rules.Metrics, key string) (float64, bool) {
		v, ok := m[key]
		if !ok {
			return 0, false
		}
		return rules.Scalar(v, now)
	}

	improvement := 0.0
	switch action {
	case rules.ActionSwapAgent:
		b, okB := get(baseline, "accuracy")
		n, okN := get(updated, "accuracy")
		if okB && okN {
			improvement = n - b
		}
	case rules.ActionEnableDebateMode:
		bAcc, _ := get(baseline, "accuracy")
		nAcc, _ := get(updated, "accuracy")
		bCost, _ := get(baseline, "cost_per_request")
		nCost, _ := get(updated, "cost_per_request")
		improvement = (nAcc - bAcc) - (nCost-bCost)*0.1
	case rules.ActionScaleResources, rules.ActionEnableCaching:
		b, okB := get(baseline, "avg_latency")
		n, okN := get(updated, "avg_latency")
		if okB && okN && b != 0 {
			improvement = (b - n) / b
		}
	}
	return math.Max(-1, math.Min(1, improvement))
}

// AdaptRules applies the learner's suggestions: thresholds grow by 10% and
// the cooldown doubles up to eight hours. It returns the adjusted rules.
func (e *Engine) AdaptRules(ctx context.Context) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var adjusted []string
	for _, r := range e.rules {
		s := e.learner.Suggest(r)
		if s.IncreaseThresholds {
			r.ScaleThresholds(1.1)
		}
		if s.IncreaseCooldown {
			r.CooldownMinutes = min(r.CooldownMinutes*2, rules.MaxCooldownMinutes)
		}
		if s.IncreaseThresholds || s.IncreaseCooldown {
			adjusted = append(adjusted, r.Name)
			e.logger.Info("policy rule adapted",
				zap.String("rule", r.Name),
				zap.Int("cooldown_minutes", r.CooldownMinutes))
		}
	}
	return adjusted
}

// Effectiveness returns the learner's records
func (e *Engine) Effectiveness() map[string]Effectiveness {
	return e.learner.All()
}

// Learner returns the engine's learner
func (e *Engine) Learner() *Learner {
	return e.learner
}
