package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestState_Actions(t *testing.T) {
	ctx := context.Background()
	router := NewRouter(nil, zap.NewNop())
	s := NewState(router, zap.NewNop())

	_, err := s.SwapAgent(ctx, "math", "enhanced_math_model")
	require.NoError(t, err)
	agent, ok := s.Agent("math")
	require.True(t, ok)
	assert.Equal(t, "enhanced_math_model", agent)

	_, err = s.SwapAgent(ctx, "", "x")
	assert.Error(t, err)

	_, err = s.EnableDebateMode(ctx, []string{"reasoning", "analysis"})
	require.NoError(t, err)
	assert.Equal(t, PlaybookDebate, router.SelectPlaybook(0))

	res, err := s.ScaleResources(ctx, 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, res["scale_factor"])
	_, err = s.ScaleResources(ctx, 0)
	assert.Error(t, err)

	_, err = s.UpdateRoutingRules(ctx, map[string]interface{}{"cost_weight": 0.4})
	require.NoError(t, err)
	_, err = s.EnableCaching(ctx, []string{"responses", "embeddings"})
	require.NoError(t, err)
	_, err = s.UpdateValidationStrategy(ctx, "enhanced")
	require.NoError(t, err)
	_, err = s.UpdatePrompts(ctx, map[string]string{"solver": "Think step by step."})
	require.NoError(t, err)
	_, err = s.IntegrateExternalCapability(ctx, map[string]interface{}{
		"name":       "wolfram",
		"task_types": []interface{}{"math"},
	})
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, []string{"analysis", "reasoning"}, snap.DebateTaskTypes)
	assert.Equal(t, []string{"embeddings", "responses"}, snap.CacheTypes)
	assert.Equal(t, "enhanced", snap.ValidationStrategy)
	assert.Equal(t, 0.4, snap.RoutingRules["cost_weight"])
	assert.Len(t, snap.ExternalCapabilities, 1)

	tools := router.ExternalTools()
	require.Len(t, tools, 1)
	assert.Equal(t, []string{"math"}, tools[0].Capabilities)

	prompt, ok := s.PromptOverride("solver")
	require.True(t, ok)
	assert.Equal(t, "Think step by step.", prompt)
}
