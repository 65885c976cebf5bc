package tenants

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/avaprime/spooky-logic/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{TenantID: "acme"}
	cfg.ApplyDefaults()

	assert.Equal(t, "control_single_pass", cfg.PlaybookControl)
	assert.Equal(t, "variant_debate_tools", cfg.PlaybookVariant)
	assert.Equal(t, 0.25, cfg.BudgetMaxUSD)
	assert.Equal(t, 3, cfg.RiskThreshold)
	assert.Equal(t, 0.1, cfg.AbsorbSampleRate)
	assert.Equal(t, 20, cfg.ABMinSamples)
	assert.Equal(t, PromoteGuard{Uplift: 0.03, MaxCostDelta: 0.1}, cfg.PromoteGuard)
}

func TestConductor_ChoosePlaybook(t *testing.T) {
	c := NewConductor(Config{TenantID: "acme"}, nil, zap.NewNop())

	assert.Equal(t, "control_single_pass", c.ChoosePlaybook(2))
	assert.Equal(t, "variant_debate_tools", c.ChoosePlaybook(3))

	c.EnableTrial()
	assert.Equal(t, "variant_debate_tools", c.ChoosePlaybook(0))
	assert.True(t, c.State().TrialEnabled)
}

func TestConductor_MaybePromote(t *testing.T) {
	tests := []struct {
		name         string
		control      [2]float64
		variant      [2]float64
		n            int
		wantNil      bool
		wantPromoted bool
	}{
		{"not enough samples", [2]float64{0.7, 0.01}, [2]float64{0.8, 0.01}, 19, true, false},
		{"variant wins", [2]float64{0.7, 0.01}, [2]float64{0.8, 0.02}, 20, false, true},
		{"uplift too small", [2]float64{0.7, 0.01}, [2]float64{0.72, 0.01}, 20, false, false},
		{"too expensive", [2]float64{0.7, 0.01}, [2]float64{0.9, 0.5}, 20, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewMetrics()
			c := NewConductor(Config{TenantID: "acme"}, metrics, zap.NewNop())
			c.EnableTrial()
			for i := 0; i < tt.n; i++ {
				c.RecordResult(ArmControl, tt.control[0], tt.control[1])
				c.RecordResult(ArmVariant, tt.variant[0], tt.variant[1])
			}

			p := c.MaybePromote()
			if tt.wantNil {
				assert.Nil(t, p)
				assert.False(t, c.Summarize().Ready)
				return
			}
			require.NotNil(t, p)
			assert.Equal(t, tt.wantPromoted, p.Promoted)
			assert.Equal(t, tt.n, p.NControl)

			state := c.State()
			assert.Equal(t, tt.n, state.VariantWins)
			if tt.wantPromoted {
				assert.Equal(t, "variant_debate_tools", state.ActivePlaybook)
				assert.False(t, state.TrialEnabled)
				assert.NotNil(t, state.LastPromotion)
			} else {
				assert.Equal(t, "control_single_pass", state.ActivePlaybook)
			}
		})
	}
}

func TestConductor_ArmFor(t *testing.T) {
	c := NewConductor(Config{TenantID: "acme", PlaybookVariant: "v2"}, nil, zap.NewNop())
	assert.Equal(t, ArmVariant, c.ArmFor("v2"))
	assert.Equal(t, ArmControl, c.ArmFor("control_single_pass"))

	c.RecordResult("other", 0.5, 0)
	assert.Equal(t, 1, c.State().ControlWins)
}

type MockPackLoader struct {
	mock.Mock
}

func (m *MockPackLoader) LoadTenantPack(ctx context.Context, tenantID string, rego []byte) (bool, error) {
	args := m.Called(tenantID, string(rego))
	return args.Bool(0), args.Error(1)
}

func TestRegistry_Register(t *testing.T) {
	packs := new(MockPackLoader)
	packs.On("LoadTenantPack", "acme", "package tenant_acme").Return(true, nil)
	packs.On("LoadTenantPack", "broken", mock.Anything).Return(false, services.WrapExternal("policy engine unavailable", errors.New("refused")))

	r := NewRegistry(packs, nil, zap.NewNop())
	ctx := context.Background()

	res, err := r.Register(ctx, RegisterRequest{Config: Config{TenantID: "acme"}, PolicyPack: "package tenant_acme"})
	require.NoError(t, err)
	require.NotNil(t, res.PolicyLoaded)
	assert.True(t, *res.PolicyLoaded)
	assert.Equal(t, "control_single_pass", res.Tenant.ActivePlaybook)

	_, err = r.Register(ctx, RegisterRequest{Config: Config{TenantID: "broken"}, PolicyPack: "x"})
	assert.True(t, services.IsExternalError(err))

	_, err = r.Register(ctx, RegisterRequest{})
	assert.True(t, services.IsValidationError(err))

	_, err = r.Get("missing")
	assert.True(t, services.IsNotFoundError(err))

	states := r.List()
	require.Len(t, states, 2)
	assert.Equal(t, "acme", states[0].TenantID)
	packs.AssertExpectations(t)
}

func TestRegistry_RecordAndPromote(t *testing.T) {
	r := NewRegistry(nil, nil, zap.NewNop())
	_, err := r.Register(context.Background(), RegisterRequest{Config: Config{TenantID: "acme", ABMinSamples: 2}})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := r.RecordResult("acme", ResultRequest{Arm: ArmControl, Score: 0.6, Cost: 0.01})
		require.NoError(t, err)
		_, err = r.RecordResult("acme", ResultRequest{Arm: ArmVariant, Score: 0.8, Cost: 0.01})
		require.NoError(t, err)
	}

	p, err := r.Promote("acme")
	require.NoError(t, err)
	assert.True(t, p.Promoted)
	assert.InDelta(t, 0.2, p.Uplift, 1e-9)

	_, err = r.Promote("nobody")
	assert.True(t, services.IsNotFoundError(err))

	early := NewRegistry(nil, nil, zap.NewNop())
	_, err = early.Register(context.Background(), RegisterRequest{Config: Config{TenantID: "new"}})
	require.NoError(t, err)
	p, err = early.Promote("new")
	require.NoError(t, err)
	assert.False(t, p.Promoted)
	assert.False(t, p.Ready)
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	content := `
tenants:
  - tenant_id: acme
    risk_threshold: 4
  - tenant_id: globex
    playbook_variant: variant_fast
    promote_guard:
      uplift: 0.05
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := NewRegistry(nil, nil, zap.NewNop())
	n, err := r.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	acme, err := r.Get("acme")
	require.NoError(t, err)
	assert.Equal(t, "control_single_pass", acme.ChoosePlaybook(3))
	assert.Equal(t, "variant_debate_tools", acme.ChoosePlaybook(4))

	globex, err := r.Get("globex")
	require.NoError(t, err)
	assert.Equal(t, 0.05, globex.Config().PromoteGuard.Uplift)
	assert.Equal(t, 0.1, globex.Config().PromoteGuard.MaxCostDelta)
}
