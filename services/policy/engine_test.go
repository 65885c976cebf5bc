package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avaprime/spooky-logic/internal/observability"
	rules "github.com/avaprime/spooky-logic/internal/policy"
	"github.com/avaprime/spooky-logic/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) SwapAgent(ctx context.Context, agentType, replacement string) (map[string]interface{}, error) {
	args := m.Called(agentType, replacement)
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockOrchestrator) EnableDebateMode(ctx context.Context, taskTypes []string) (map[string]interface{}, error) {
	args := m.Called(taskTypes)
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockOrchestrator) UpdateRoutingRules(ctx context.Context, r map[string]interface{}) (map[string]interface{}, error) {
	args := m.Called(r)
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockOrchestrator) ScaleResources(ctx context.Context, factor float64) (map[string]interface{}, error) {
	args := m.Called(factor)
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockOrchestrator) EnableCaching(ctx context.Context, cacheTypes []string) (map[string]interface{}, error) {
	args := m.Called(cacheTypes)
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockOrchestrator) UpdateValidationStrategy(ctx context.Context, strategy string) (map[string]interface{}, error) {
	args := m.Called(strategy)
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockOrchestrator) UpdatePrompts(ctx context.Context, updates map[string]string) (map[string]interface{}, error) {
	args := m.Called(updates)
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func (m *MockOrchestrator) IntegrateExternalCapability(ctx context.Context, capability map[string]interface{}) (map[string]interface{}, error) {
	args := m.Called(capability)
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

// sequenceSource returns its snapshots in order, repeating the last one
type sequenceSource struct {
	snapshots []rules.Metrics
	calls     int
	err       error
}

func (s *sequenceSource) CurrentMetrics(ctx context.Context) (rules.Metrics, error) {
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls
	if i >= len(s.snapshots) {
		i = len(s.snapshots) - 1
	}
	s.calls++
	return s.snapshots[i], nil
}

var testNow = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestEngine(source MetricsSource, orch Orchestrator) *Engine {
	e := NewEngine(source, orch, NewLearner(nil, zap.NewNop()), nil, observability.NewMetrics(), zap.NewNop())
	e.SetSettle(0)
	e.now = func() time.Time { return testNow }
	return e
}

const samplePolicies = `
policies:
  - name: cost_threshold_breach
    trigger: cost_threshold
    conditions:
      - metric: daily_cost
        operator: ">"
        threshold: 500.0
    action: adjust_routing
    parameters:
      routing_rules:
        prefer_lightweight_models: true
    priority: 9
  - name: latency_spike_caching
    trigger: latency_spike
    conditions:
      - metric: avg_latency
        operator: ">"
        threshold: 2000
    action: enable_caching
`

func TestParseRules(t *testing.T) {
	parsed, err := ParseRules([]byte(samplePolicies))
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	assert.Equal(t, 9, parsed[0].Priority)
	assert.Equal(t, rules.DefaultPriority, parsed[1].Priority)
	assert.Equal(t, rules.DefaultCooldownMinutes, parsed[1].CooldownMinutes)
	assert.Equal(t, rules.ActionEnableCaching, parsed[1].Action)

	_, err = ParseRules([]byte("policies:\n  - name: x\n    trigger: nope\n    action: swap_agent\n"))
	assert.Error(t, err)

	_, err = ParseRules([]byte("policies: {"))
	assert.Error(t, err)
}

func TestEngine_LoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicies), 0o644))

	e := newTestEngine(&sequenceSource{}, new(MockOrchestrator))
	n, err := e.LoadFromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	views := e.Rules()
	require.Len(t, views, 2)
	assert.Equal(t, "cost_threshold_breach", views[0].Name)
	assert.Equal(t, 1.0, views[0].SuccessRate)
}

func TestEngine_Evaluate(t *testing.T) {
	source := &sequenceSource{snapshots: []rules.Metrics{{"daily_cost": 600.0, "avg_latency": 2500.0}}}
	e := newTestEngine(source, new(MockOrchestrator))
	parsed, err := ParseRules([]byte(samplePolicies))
	require.NoError(t, err)
	for _, r := range parsed {
		require.NoError(t, e.AddRule(r))
	}

	t.Run("sorted by priority", func(t *testing.T) {
		triggered, err := e.Evaluate(context.Background())
		require.NoError(t, err)
		require.Len(t, triggered, 2)
		assert.Equal(t, "cost_threshold_breach", triggered[0].Name)
	})

	t.Run("low success rate is skipped", func(t *testing.T) {
		parsed[1].Executions = 4
		parsed[1].Confidence = 0.4
		triggered, err := e.Evaluate(context.Background())
		require.NoError(t, err)
		require.Len(t, triggered, 1)
		assert.Equal(t, "cost_threshold_breach", triggered[0].Name)
	})

	t.Run("metrics failure", func(t *testing.T) {
		e := newTestEngine(&sequenceSource{err: errors.New("down")}, new(MockOrchestrator))
		_, err := e.Evaluate(context.Background())
		assert.True(t, services.IsInternalError(err))
	})
}

func TestEngine_Execute(t *testing.T) {
	t.Run("caching improvement from latency", func(t *testing.T) {
		source := &sequenceSource{snapshots: []rules.Metrics{
			{"avg_latency": 2000.0},
			{"avg_latency": 1500.0},
		}}
		orch := new(MockOrchestrator)
		orch.On("EnableCaching", []string{"embeddings", "responses"}).
			Return(map[string]interface{}{"cache_types": 2}, nil)

		e := newTestEngine(source, orch)
		rule := &rules.Rule{Name: "cache", Trigger: rules.TriggerLatencySpike, Action: rules.ActionEnableCaching}
		require.NoError(t, e.AddRule(rule))

		outcome := e.Execute(context.Background(), rule)
		assert.True(t, outcome.Success)
		assert.InDelta(t, 0.25, outcome.Improvement, 1e-9)
		assert.Equal(t, 1, rule.ExecutionCountToday)
		require.NotNil(t, rule.LastExecuted)

		eff, ok := e.Learner().Effectiveness("cache")
		require.True(t, ok)
		assert.InDelta(t, 0.2, eff.SuccessRate, 1e-9)
		assert.InDelta(t, 0.05, eff.AvgImprovement, 1e-9)
		orch.AssertExpectations(t)
	})

	t.Run("handler failure scores minus one", func(t *testing.T) {
		source := &sequenceSource{snapshots: []rules.Metrics{{}}}
		e := newTestEngine(source, new(MockOrchestrator))
		rule := &rules.Rule{
			Name:       "swap",
			Trigger:    rules.TriggerAccuracyDrop,
			Action:     rules.ActionSwapAgent,
			Parameters: map[string]interface{}{"agent_type": "math"},
		}
		require.NoError(t, e.AddRule(rule))

		outcome := e.Execute(context.Background(), rule)
		assert.False(t, outcome.Success)
		assert.Equal(t, -1.0, outcome.Improvement)
		assert.Contains(t, outcome.Error, "replacement")
		assert.InDelta(t, 0.8, rule.SuccessRate(), 1e-9)
		assert.Nil(t, rule.LastExecuted)
		assert.Equal(t, 0, rule.ExecutionCountToday)
	})

	t.Run("settle wait honours cancellation", func(t *testing.T) {
		source := &sequenceSource{snapshots: []rules.Metrics{{}}}
		orch := new(MockOrchestrator)
		orch.On("ScaleResources", 1.5).Return(map[string]interface{}{}, nil)
		e := newTestEngine(source, orch)
		e.SetSettle(time.Hour)
		rule := &rules.Rule{Name: "scale", Trigger: rules.TriggerResourceConstraint, Action: rules.ActionScaleResources}
		require.NoError(t, e.AddRule(rule))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		outcome := e.Execute(ctx, rule)
		assert.False(t, outcome.Success)
		assert.Contains(t, outcome.Error, "context canceled")
	})
}

func TestEngine_ExecuteByName(t *testing.T) {
	source := &sequenceSource{snapshots: []rules.Metrics{{}}}
	orch := new(MockOrchestrator)
	orch.On("UpdateValidationStrategy", "strict").Return(map[string]interface{}{}, nil)
	e := newTestEngine(source, orch)
	require.NoError(t, e.AddRule(&rules.Rule{
		Name:       "validation",
		Trigger:    rules.TriggerAccuracyDrop,
		Action:     rules.ActionModifyValidation,
		Parameters: map[string]interface{}{"strategy": "strict"},
	}))

	outcome, err := e.ExecuteByName(context.Background(), "validation")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "strict", outcome.Details["validation_strategy"])

	_, err = e.ExecuteByName(context.Background(), "missing")
	assert.True(t, services.IsNotFoundError(err))
}

func TestEngine_AdaptRules(t *testing.T) {
	source := &sequenceSource{snapshots: []rules.Metrics{{}}}
	e := newTestEngine(source, new(MockOrchestrator))
	rule := &rules.Rule{
		Name:            "swap",
		Trigger:         rules.TriggerAccuracyDrop,
		Action:          rules.ActionSwapAgent,
		CooldownMinutes: 300,
		Conditions:      []rules.Condition{{Metric: "accuracy", Operator: "<", Threshold: 0.8}},
	}
	require.NoError(t, e.AddRule(rule))

	// missing parameters make every execution fail
	e.Execute(context.Background(), rule)

	adjusted := e.AdaptRules(context.Background())
	assert.Equal(t, []string{"swap"}, adjusted)
	assert.Equal(t, rules.MaxCooldownMinutes, rule.CooldownMinutes)
	assert.InDelta(t, 0.88, rule.Conditions[0].Threshold, 1e-9)
}

func TestImprovement(t *testing.T) {
	tests := []struct {
		name     string
		baseline rules.Metrics
		updated  rules.Metrics
		action   rules.Action
		want     float64
	}{
		{"swap agent", rules.Metrics{"accuracy": 0.7}, rules.Metrics{"accuracy": 0.8}, rules.ActionSwapAgent, 0.1},
		{"swap agent missing", rules.Metrics{}, rules.Metrics{"accuracy": 0.8}, rules.ActionSwapAgent, 0},
		{
			"debate weighs cost",
			rules.Metrics{"accuracy": 0.7, "cost_per_request": 0.1},
			rules.Metrics{"accuracy": 0.8, "cost_per_request": 0.6},
			rules.ActionEnableDebateMode,
			0.05,
		},
		{"latency worse", rules.Metrics{"avg_latency": 100.0}, rules.Metrics{"avg_latency": 300.0}, rules.ActionScaleResources, -1},
		{"other actions", rules.Metrics{"accuracy": 0.1}, rules.Metrics{"accuracy": 0.9}, rules.ActionAdjustRouting, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Improvement(tt.baseline, tt.updated, tt.action, testNow), 1e-9)
		})
	}
}

func TestEngine_Evaluate_AfterFailure(t *testing.T) {
	latency := rules.Metrics{"avg_latency": 2500.0}
	newRule := func() *rules.Rule {
		return &rules.Rule{
			Name:       "latency_caching",
			Trigger:    rules.TriggerLatencySpike,
			Action:     rules.ActionEnableCaching,
			Conditions: []rules.Condition{{Metric: "avg_latency", Operator: ">", Threshold: 2000.0}},
		}
	}

	t.Run("one failure then success keeps triggering", func(t *testing.T) {
		orch := new(MockOrchestrator)
		orch.On("EnableCaching", []string{"embeddings", "responses"}).
			Return(map[string]interface{}(nil), errors.New("cache unavailable")).Once()
		orch.On("EnableCaching", []string{"embeddings", "responses"}).
			Return(map[string]interface{}{"cache_types": 2}, nil)

		e := newTestEngine(&sequenceSource{snapshots: []rules.Metrics{latency}}, orch)
		rule := newRule()
		require.NoError(t, e.AddRule(rule))
		ctx := context.Background()

		assert.False(t, e.Execute(ctx, rule).Success)

		triggered, err := e.Evaluate(ctx)
		require.NoError(t, err)
		require.Len(t, triggered, 1)
		assert.True(t, e.Execute(ctx, triggered[0]).Success)

		triggered, err = e.Evaluate(ctx)
		require.NoError(t, err)
		assert.Empty(t, triggered, "cooldown after success")

		for day := 2; day <= 6; day += 2 {
			later := testNow.Add(time.Duration(day) * 24 * time.Hour)
			e.now = func() time.Time { return later }
			triggered, err = e.Evaluate(ctx)
			require.NoError(t, err)
			require.Len(t, triggered, 1, "day %d", day)
			assert.True(t, e.Execute(ctx, triggered[0]).Success)
		}
		orch.AssertExpectations(t)
	})

	t.Run("repeated failures retried after cooldown", func(t *testing.T) {
		orch := new(MockOrchestrator)
		orch.On("EnableCaching", []string{"embeddings", "responses"}).
			Return(map[string]interface{}(nil), errors.New("cache unavailable"))

		e := newTestEngine(&sequenceSource{snapshots: []rules.Metrics{latency}}, orch)
		rule := newRule()
		require.NoError(t, e.AddRule(rule))
		ctx := context.Background()

		e.Execute(ctx, rule)
		e.Execute(ctx, rule)
		assert.Less(t, rule.SuccessRate(), rule.ConfidenceThreshold)

		triggered, err := e.Evaluate(ctx)
		require.NoError(t, err)
		assert.Empty(t, triggered)

		later := testNow.Add(time.Duration(rule.CooldownMinutes) * time.Minute)
		e.now = func() time.Time { return later }
		triggered, err = e.Evaluate(ctx)
		require.NoError(t, err)
		assert.Len(t, triggered, 1)
	})
}
