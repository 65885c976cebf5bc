package policy

import (
	"context"
	"fmt"
)

func (e *Engine) swapAgent(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	agentType, _ := params["agent_type"].(string)
	replacement, _ := params["replacement"].(string)
	if agentType == "" || replacement == "" {
		return nil, fmt.Errorf("swap_agent requires agent_type and replacement")
	}
	result, err := e.orch.SwapAgent(ctx, agentType, replacement)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"swapped_agent": agentType, "new_agent": replacement, "result": result}, nil
}

func (e *Engine) enableDebateMode(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	taskTypes := stringList(params["task_types"], []string{"reasoning", "analysis"})
	result, err := e.orch.EnableDebateMode(ctx, taskTypes)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"enabled_debate_for": taskTypes, "result": result}, nil
}

func (e *Engine) adjustRouting(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	routingRules, _ := params["routing_rules"].(map[string]interface{})
	if routingRules == nil {
		routingRules = map[string]interface{}{}
	}
	result, err := e.orch.UpdateRoutingRules(ctx, routingRules)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"updated_routing": routingRules, "result": result}, nil
}

func (e *Engine) scaleResources(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	factor := 1.5
	switch v := params["scale_factor"].(type) {
	case float64:
		factor = v
	case int:
		factor = float64(v)
	}
	result, err := e.orch.ScaleResources(ctx, factor)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"scale_factor": factor, "result": result}, nil
}

func (e *Engine) enableCaching(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	cacheTypes := stringList(params["cache_types"], []string{"embeddings", "responses"})
	result, err := e.orch.EnableCaching(ctx, cacheTypes)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"enabled_caching": cacheTypes, "result": result}, nil
}

func (e *Engine) modifyValidation(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	strategy, _ := params["strategy"].(string)
	if strategy == "" {
		strategy = "enhanced"
	}
	result, err := e.orch.UpdateValidationStrategy(ctx, strategy)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"validation_strategy": strategy, "result": result}, nil
}

func (e *Engine) updatePrompts(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	updates := map[string]string{}
	if raw, ok := params["prompt_updates"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				updates[k] = s
			}
		}
	}
	result, err := e.orch.UpdatePrompts(ctx, updates)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"updated_prompts": updates, "result": result}, nil
}

func (e *Engine) integrateCapability(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
	capability, _ := params["capability_config"].(map[string]interface{})
	if capability == nil {
		capability = map[string]interface{}{}
	}
	result, err := e.orch.IntegrateExternalCapability(ctx, capability)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"integrated_capability": capability, "result": result}, nil
}

func stringList(v interface{}, fallback []string) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
