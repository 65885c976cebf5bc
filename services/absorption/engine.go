package absorption

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	rules "github.com/avaprime/spooky-logic/internal/policy"
	"github.com/avaprime/spooky-logic/services"
	"github.com/avaprime/spooky-logic/services/eventbus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config tunes the intake pipeline
type Config struct {
	// minimum mean accuracy improvement over the baseline to integrate
	IntegrationThreshold float64
	TrialPeriod          time.Duration
	MaxParallelTests     int
	TestRetention        time.Duration
	EvaluateInterval     time.Duration
}

// DefaultConfig returns the default pipeline settings
func DefaultConfig() Config {
	return Config{
		IntegrationThreshold: 0.8,
		TrialPeriod:          7 * 24 * time.Hour,
		MaxParallelTests:     3,
		TestRetention:        30 * 24 * time.Hour,
		EvaluateInterval:     time.Hour,
	}
}

// Integrator registers an integrated capability with the orchestrator
type Integrator interface {
	IntegrateExternalCapability(ctx context.Context, capability map[string]interface{}) (map[string]interface{}, error)
}

// RuleSink accepts the monitoring rule created for an integrated capability
type RuleSink interface {
	AddRule(r *rules.Rule) error
}

// Deps are the collaborators of the Engine. Baseline, Rules and Publisher
// are optional.
type Deps struct {
	Prober     Prober
	Baseline   Baseline
	Integrator Integrator
	Rules      RuleSink
	Publisher  eventbus.Publisher
}

// Engine tracks capabilities from intake to integration
type Engine struct {
	cfg  Config
	deps Deps

	mu         sync.RWMutex
	caps       map[string]*Spec
	tests      map[string][]TestResult
	integrated map[string]bool

	now    func() time.Time
	logger *zap.Logger
}

// NewEngine creates a new Engine
func NewEngine(cfg Config, deps Deps, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.IntegrationThreshold <= 0 {
		cfg.IntegrationThreshold = def.IntegrationThreshold
	}
	if cfg.TrialPeriod <= 0 {
		cfg.TrialPeriod = def.TrialPeriod
	}
	if cfg.MaxParallelTests <= 0 {
		cfg.MaxParallelTests = def.MaxParallelTests
	}
	if cfg.TestRetention <= 0 {
		cfg.TestRetention = def.TestRetention
	}
	if cfg.EvaluateInterval <= 0 {
		cfg.EvaluateInterval = def.EvaluateInterval
	}

	return &Engine{
		cfg:        cfg,
		deps:       deps,
		caps:       make(map[string]*Spec),
		tests:      make(map[string][]TestResult),
		integrated: make(map[string]bool),
		now:        time.Now,
		logger:     logger,
	}
}

// AddCapability registers a capability by hand. Re-adding an id restarts
// its intake.
func (e *Engine) AddCapability(ctx context.Context, spec Spec) (Spec, error) {
	if spec.ID == "" || spec.Name == "" {
		return Spec{}, services.NewValidation("capability id and name are required")
	}
	if spec.Provider == "" {
		spec.Provider = "manual"
	}
	if spec.IntegrationMethod == "" {
		spec.IntegrationMethod = "api"
	}
	spec.Status = StatusDiscovered
	spec.DiscoveredAt = e.now().UTC()
	spec.LastTested = nil

	e.mu.Lock()
	e.caps[spec.ID] = &spec
	delete(e.integrated, spec.ID)
	e.mu.Unlock()

	e.logger.Info("capability added",
		zap.String("capability_id", spec.ID),
		zap.String("name", spec.Name),
		zap.String("type", string(spec.Type)))
	return spec, nil
}

// Get returns a copy of a capability
func (e *Engine) Get(id string) (Spec, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	spec, ok := e.caps[id]
	if !ok {
		return Spec{}, services.NewNotFound("capability not found", id)
	}
	return *spec, nil
}

// TestCapability runs the task suite for the capability's task types. A run
// without errors moves the capability to its trial period; any failed task
// rejects it.
func (e *Engine) TestCapability(ctx context.Context, id string) (TestResult, error) {
	e.mu.Lock()
	spec, ok := e.caps[id]
	if !ok {
		e.mu.Unlock()
		return TestResult{}, services.NewNotFound("capability not found", id)
	}
	spec.Status = StatusTesting
	probe := *spec
	e.mu.Unlock()

	tasks := TasksFor(probe.TaskTypes)
	answers, latencies, errs := e.runTasks(ctx, tasks, func(ctx context.Context, t Task) (string, error) {
		return e.deps.Prober.Probe(ctx, &probe, t)
	})

	result := TestResult{
		CapabilityID: id,
		Tasks:        len(tasks),
		Success:      len(errs) == 0,
		Accuracy:     Accuracy(tasks, answers),
		Errors:       errs,
		TestedAt:     e.now().UTC(),
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	if len(latencies) > 0 {
		result.LatencyMs = float64(total.Milliseconds()) / float64(len(latencies))
	}

	if e.deps.Baseline != nil {
		baseline, _, baseErrs := e.runTasks(ctx, tasks, func(ctx context.Context, t Task) (string, error) {
			return e.deps.Baseline.Answer(ctx, t)
		})
		for _, msg := range baseErrs {
			e.logger.Warn("baseline failed on task", zap.String("capability_id", id), zap.String("error", msg))
		}
		baseAcc := Accuracy(tasks, baseline)
		result.Baseline = &BaselineComparison{
			AccuracyImprovement: result.Accuracy - baseAcc,
			CapabilityAccuracy:  result.Accuracy,
			BaselineAccuracy:    baseAcc,
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	spec, ok = e.caps[id]
	if !ok {
		return result, services.NewNotFound("capability removed during test", id)
	}
	tested := result.TestedAt
	spec.LastTested = &tested
	if result.Success {
		spec.Status = StatusTrialPeriod
	} else {
		spec.Status = StatusRejected
	}
	e.tests[id] = append(e.tests[id], result)

	e.logger.Info("capability tested",
		zap.String("capability_id", id),
		zap.Bool("success", result.Success),
		zap.Float64("accuracy", result.Accuracy),
		zap.String("status", string(spec.Status)))
	return result, nil
}

// runTasks answers every task with at most MaxParallelTests in flight.
// Answers keep the task order; failed tasks leave an empty answer.
func (e *Engine) runTasks(ctx context.Context, tasks []Task, answer func(context.Context, Task) (string, error)) ([]string, []time.Duration, []string) {
	answers := make([]string, len(tasks))
	latencies := make([]time.Duration, len(tasks))
	failures := make([]error, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallelTests)
	for i, task := range tasks {
		g.Go(func() error {
			start := time.Now()
			out, err := answer(gctx, task)
			latencies[i] = time.Since(start)
			if err != nil {
				failures[i] = err
				return nil
			}
			answers[i] = out
			return nil
		})
	}
	_ = g.Wait()

	var errs []string
	for i, err := range failures {
		if err != nil {
			errs = append(errs, fmt.Sprintf("task %d (%s): %v", i, tasks[i].Type, err))
		}
	}
	return answers, latencies, errs
}

// Evaluate decides a capability whose trial period has elapsed: integrate
// when the mean accuracy improvement of the tests since the trial began
// reaches the threshold, reject otherwise. Capabilities outside their trial
// are returned unchanged.
func (e *Engine) Evaluate(ctx context.Context, id string, now time.Time) (Status, error) {
	e.mu.Lock()
	spec, ok := e.caps[id]
	if !ok {
		e.mu.Unlock()
		return "", services.NewNotFound("capability not found", id)
	}
	if spec.Status != StatusTrialPeriod || spec.LastTested == nil {
		status := spec.Status
		e.mu.Unlock()
		return status, nil
	}
	trialStart := *spec.LastTested
	if now.Sub(trialStart) < e.cfg.TrialPeriod {
		e.mu.Unlock()
		return StatusTrialPeriod, nil
	}

	var recent []TestResult
	for _, t := range e.tests[id] {
		if !t.TestedAt.Before(trialStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) == 0 {
		spec.Status = StatusRejected
		e.mu.Unlock()
		return StatusRejected, nil
	}

	var sum float64
	for _, t := range recent {
		if t.Baseline != nil {
			sum += t.Baseline.AccuracyImprovement
		}
	}
	avg := sum / float64(len(recent))
	if avg < e.cfg.IntegrationThreshold {
		spec.Status = StatusRejected
		e.mu.Unlock()
		e.logger.Info("capability rejected after trial",
			zap.String("capability_id", id), zap.Float64("avg_improvement", avg))
		return StatusRejected, nil
	}
	e.mu.Unlock()

	if err := e.integrate(ctx, id); err != nil {
		return StatusRejected, err
	}
	return StatusIntegrated, nil
}

// EvaluateAll evaluates every capability in its trial period
func (e *Engine) EvaluateAll(ctx context.Context, now time.Time) map[string]Status {
	e.mu.RLock()
	var ids []string
	for id, spec := range e.caps {
		if spec.Status == StatusTrialPeriod {
			ids = append(ids, id)
		}
	}
	e.mu.RUnlock()
	sort.Strings(ids)

	decided := make(map[string]Status, len(ids))
	for _, id := range ids {
		status, err := e.Evaluate(ctx, id, now)
		if err != nil {
			e.logger.Error("failed to evaluate capability", zap.String("capability_id", id), zap.Error(err))
		}
		decided[id] = status
	}
	return decided
}

// ForceIntegrate integrates a capability regardless of its test history
func (e *Engine) ForceIntegrate(ctx context.Context, id string) (Spec, error) {
	e.mu.RLock()
	_, ok := e.caps[id]
	e.mu.RUnlock()
	if !ok {
		return Spec{}, services.NewNotFound("capability not found", id)
	}
	if err := e.integrate(ctx, id); err != nil {
		return Spec{}, err
	}
	return e.Get(id)
}

func (e *Engine) integrate(ctx context.Context, id string) error {
	e.mu.RLock()
	spec, ok := e.caps[id]
	if !ok {
		e.mu.RUnlock()
		return services.NewNotFound("capability not found", id)
	}
	integration := map[string]interface{}{
		"capability_id":       spec.ID,
		"name":                spec.Name,
		"type":                string(spec.Type),
		"endpoint":            spec.Endpoint,
		"task_types":          append([]string(nil), spec.TaskTypes...),
		"auth_method":         spec.AuthMethod,
		"integration_method":  spec.IntegrationMethod,
		"performance_metrics": summarize(e.tests[id]),
	}
	e.mu.RUnlock()

	if _, err := e.deps.Integrator.IntegrateExternalCapability(ctx, integration); err != nil {
		e.setStatus(id, StatusRejected)
		return services.WrapExternal("failed to integrate capability", err)
	}

	e.mu.Lock()
	if spec, ok := e.caps[id]; ok {
		spec.Status = StatusIntegrated
		e.integrated[id] = true
	}
	e.mu.Unlock()

	if e.deps.Rules != nil {
		if err := e.deps.Rules.AddRule(MonitoringRule(id)); err != nil {
			e.logger.Warn("failed to add monitoring rule", zap.String("capability_id", id), zap.Error(err))
		}
	}
	if e.deps.Publisher != nil {
		event := eventbus.NewEvent(eventbus.EventCapabilityIntegrate, "absorption", map[string]interface{}{
			"capability_id": id,
			"name":          integration["name"],
			"endpoint":      integration["endpoint"],
		})
		if err := e.deps.Publisher.Publish(ctx, event); err != nil {
			e.logger.Warn("failed to publish integration event", zap.String("capability_id", id), zap.Error(err))
		}
	}

	e.logger.Info("capability integrated", zap.String("capability_id", id))
	return nil
}

// MonitoringRule watches an integrated capability's success rate and pulls
// it from routing when it degrades
func MonitoringRule(id string) *rules.Rule {
	return &rules.Rule{
		Name:    "monitor_" + id,
		Trigger: rules.TriggerPerformanceDegradation,
		Conditions: []rules.Condition{{
			Metric:     "capabilities." + id + ".success_rate",
			Operator:   "<",
			Threshold:  0.8,
			TimeWindow: "2h",
		}},
		Action: rules.ActionAdjustRouting,
		Parameters: map[string]interface{}{
			"capability_id": id,
			"routing_rules": map[string]interface{}{
				"disabled_capability": id,
			},
		},
		Priority: 6,
	}
}

func (e *Engine) setStatus(id string, status Status) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if spec, ok := e.caps[id]; ok {
		spec.Status = status
	}
}

// Remove drops a capability and its test history
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.caps[id]; !ok {
		return services.NewNotFound("capability not found", id)
	}
	delete(e.caps, id)
	delete(e.tests, id)
	delete(e.integrated, id)
	return nil
}

// Deprecate marks a capability for removal at the next maintenance
func (e *Engine) Deprecate(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	spec, ok := e.caps[id]
	if !ok {
		return services.NewNotFound("capability not found", id)
	}
	spec.Status = StatusDeprecated
	delete(e.integrated, id)
	return nil
}

// Endpoint resolves the endpoint of an integrated capability
func (e *Engine) Endpoint(id string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.integrated[id] {
		return "", false
	}
	spec := e.caps[id]
	return spec.Endpoint, spec.Endpoint != ""
}

// Maintenance drops test results older than the retention and removes
// deprecated capabilities. It returns the number of capabilities removed.
func (e *Engine) Maintenance(now time.Time) int {
	cutoff := now.Add(-e.cfg.TestRetention)

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, tests := range e.tests {
		kept := tests[:0]
		for _, t := range tests {
			if t.TestedAt.After(cutoff) {
				kept = append(kept, t)
			}
		}
		e.tests[id] = kept
	}

	removed := 0
	for id, spec := range e.caps {
		if spec.Status == StatusDeprecated {
			delete(e.caps, id)
			delete(e.tests, id)
			delete(e.integrated, id)
			removed++
		}
	}
	e.logger.Info("absorption maintenance complete", zap.Int("removed", removed))
	return removed
}

// Status reports the pipeline: counts per status, the ten most recent
// discoveries, capabilities under test or trial and the top five performers.
func (e *Engine) Status() Report {
	e.mu.RLock()
	defer e.mu.RUnlock()

	report := Report{
		TotalDiscovered: len(e.caps),
		StatusBreakdown: make(map[Status]int, len(AllStatuses)),
		IntegratedCount: len(e.integrated),
		Recent:          []Discovery{},
		TopPerformers:   []Performer{},
		Pipeline:        []PipelineEntry{},
	}
	for _, s := range AllStatuses {
		report.StatusBreakdown[s] = 0
	}

	all := make([]*Spec, 0, len(e.caps))
	for _, spec := range e.caps {
		all = append(all, spec)
		report.StatusBreakdown[spec.Status]++
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].DiscoveredAt.Equal(all[j].DiscoveredAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].DiscoveredAt.After(all[j].DiscoveredAt)
	})

	for i, spec := range all {
		if i < 10 {
			report.Recent = append(report.Recent, Discovery{
				ID:           spec.ID,
				Name:         spec.Name,
				Provider:     spec.Provider,
				DiscoveredAt: spec.DiscoveredAt,
				Status:       spec.Status,
			})
		}
		if spec.Status == StatusTesting || spec.Status == StatusTrialPeriod {
			report.Pipeline = append(report.Pipeline, PipelineEntry{
				ID:          spec.ID,
				Name:        spec.Name,
				Status:      spec.Status,
				Performance: summarize(e.tests[spec.ID]),
			})
		}
		if p, ok := performer(spec, e.tests[spec.ID]); ok {
			report.TopPerformers = append(report.TopPerformers, p)
		}
	}

	sort.SliceStable(report.TopPerformers, func(i, j int) bool {
		return report.TopPerformers[i].PerformanceScore > report.TopPerformers[j].PerformanceScore
	})
	if len(report.TopPerformers) > 5 {
		report.TopPerformers = report.TopPerformers[:5]
	}
	return report
}

// Run evaluates trials and performs maintenance every EvaluateInterval
// until ctx is done
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.EvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.now()
			e.EvaluateAll(ctx, now)
			e.Maintenance(now)
		}
	}
}

func summarize(tests []TestResult) PerformanceSummary {
	var s PerformanceSummary
	if len(tests) == 0 {
		return s
	}
	s.TotalTests = len(tests)

	var latency, accuracy float64
	var last time.Time
	for _, t := range tests {
		if t.TestedAt.After(last) {
			last = t.TestedAt
		}
		if !t.Success {
			continue
		}
		s.SuccessfulTests++
		latency += t.LatencyMs
		accuracy += t.Accuracy
	}
	s.SuccessRate = float64(s.SuccessfulTests) / float64(s.TotalTests)
	if s.SuccessfulTests > 0 {
		s.AvgLatencyMs = latency / float64(s.SuccessfulTests)
		s.AvgAccuracy = accuracy / float64(s.SuccessfulTests)
	}
	s.LastTestedAt = &last
	return s
}

func performer(spec *Spec, tests []TestResult) (Performer, bool) {
	successful, compared := 0, 0
	var improvement float64
	for _, t := range tests {
		if !t.Success {
			continue
		}
		successful++
		if t.Baseline != nil {
			compared++
			improvement += t.Baseline.AccuracyImprovement
		}
	}
	if successful == 0 {
		return Performer{}, false
	}

	p := Performer{
		ID:          spec.ID,
		Name:        spec.Name,
		Provider:    spec.Provider,
		SuccessRate: float64(successful) / float64(len(tests)),
		Status:      spec.Status,
	}
	if compared > 0 {
		p.PerformanceScore = improvement / float64(compared)
	}
	return p, true
}
