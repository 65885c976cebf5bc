package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/avaprime/spooky-logic/config"
	"github.com/avaprime/spooky-logic/models"
	"github.com/avaprime/spooky-logic/services/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: "test",
		Governance: config.GovernanceConfig{
			UseMemory:        true,
			PolicyConfigPath: "../config/policies.yaml",
			EnableLearning:   true,
			SyncInterval:     time.Minute,
			NodeID:           "node-test",
		},
		Providers: config.ProvidersConfig{
			UseFake:     true,
			CallTimeout: time.Second,
		},
		OPA: config.OPAConfig{
			URL:       "http://127.0.0.1:1",
			Timeout:   time.Second,
			CacheTTL:  time.Minute,
			CacheSize: 10,
		},
		Orchestration: config.OrchestrationConfig{
			BudgetMaxUSD:             0.25,
			PlaybookDir:              "../playbooks",
			RouterOverlayPath:        "../config/router.yaml",
			Workers:                  2,
			QueueSize:                10,
			RunTimeout:               5 * time.Second,
			AdaptiveInterval:         time.Minute,
			MaxConcurrentAdaptations: 1,
			MaxInjectionRisk:         0.75,
		},
		Experiments: config.ExperimentsConfig{PromoteUplift: 0.03, MaxCostDelta: 0.1, MinN: 10},
		Rollback: config.RollbackConfig{
			Stages:   []float64{0.5, 1.0},
			Interval: time.Minute,
		},
		EventBus:    config.EventBusConfig{Backend: "none"},
		Auth:        config.AuthConfig{Issuer: "spooky-logic"},
		RateLimit:   config.RateLimitConfig{Enabled: true, RPS: 10, Burst: 10},
		Supplychain: config.SupplychainConfig{CosignBin: "cosign", ToolTimeout: time.Second},
		Marketplace: config.MarketplaceConfig{
			InstallDir:  t.TempDir(),
			HTTPTimeout: time.Second,
		},
		Observability: config.ObservabilityConfig{ServiceName: "spooky-logic-test", LogLevel: "debug"},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("in-memory wiring", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.Nil(t, deps.RepoFactory)
		assert.NotNil(t, deps.Governance)
		assert.Nil(t, deps.Syncer)
		assert.NotNil(t, deps.Orchestrator)
		assert.NotNil(t, deps.Absorption)
		assert.NotNil(t, deps.Marketplace)
		assert.NotNil(t, deps.RateLimiter)
		assert.Nil(t, deps.ExperimentsStore)
		assert.False(t, deps.AuthMiddleware.Enabled())
		assert.Len(t, deps.PolicyEngine.Rules(), 4)

		components := deps.Components()
		assert.Equal(t, "memory", components["governance_store"])
		assert.Equal(t, "none", components["event_bus"])
	})

	t.Run("sqlite governance store", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Governance.UseMemory = false
		cfg.Governance.DatabaseURL = "sqlite://" + filepath.Join(t.TempDir(), "governance.db")

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.Equal(t, "sqlite", deps.Components()["governance_store"])
	})

	t.Run("missing optional files", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Governance.PolicyConfigPath = filepath.Join(t.TempDir(), "absent.yaml")
		cfg.Orchestration.RouterOverlayPath = filepath.Join(t.TempDir(), "absent.yaml")
		cfg.Governance.EnableCRDT = true
		cfg.Auth.JWTSecret = "secret"

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.Empty(t, deps.PolicyEngine.Rules())
		assert.NotNil(t, deps.Syncer)
		assert.True(t, deps.AuthMiddleware.Enabled())
	})

	t.Run("missing provider map", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Providers.UseFake = false
		cfg.Providers.MapPath = filepath.Join(t.TempDir(), "providers.yaml")

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize orchestration")
	})
}

func TestDependencies_HandleEvent(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer deps.Close(ctx)

	tests := []struct {
		name       string
		event      eventbus.Event
		capability string
		wantPlan   bool
	}{
		{
			name: "suspend starts rollback",
			event: eventbus.NewEvent(eventbus.EventGovernanceExecuted, "node-b", map[string]interface{}{
				"proposal_id":   "prop-1",
				"capability_id": "cap-suspended",
				"action":        string(models.ProposalActionSuspend),
			}),
			capability: "cap-suspended",
			wantPlan:   true,
		},
		{
			name: "other actions ignored",
			event: eventbus.NewEvent(eventbus.EventGovernanceExecuted, "node-b", map[string]interface{}{
				"proposal_id":   "prop-2",
				"capability_id": "cap-configured",
				"action":        string(models.ProposalActionConfigure),
			}),
			capability: "cap-configured",
		},
		{
			name: "other events ignored",
			event: eventbus.NewEvent(eventbus.EventRunCompleted, "node-b", map[string]interface{}{
				"capability_id": "cap-run",
				"action":        string(models.ProposalActionSuspend),
			}),
			capability: "cap-run",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, deps.HandleEvent(ctx, tt.event))

			plan, err := deps.Rollback.Status(ctx, tt.capability)
			if !tt.wantPlan {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, plan.Active)
			assert.Equal(t, []float64{0.5, 1.0}, plan.Stages)
		})
	}
}

func TestDependencies_StartClose(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	deps.Start(ctx)
	assert.NoError(t, deps.Close(ctx))
}
