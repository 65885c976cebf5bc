package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// StateSnapshot is a copy of the adaptive routing state
type StateSnapshot struct {
	Agents               map[string]string        `json:"agents"`
	DebateTaskTypes      []string                 `json:"debate_task_types"`
	RoutingRules         map[string]interface{}   `json:"routing_rules"`
	ScaleFactor          float64                  `json:"scale_factor"`
	CacheTypes           []string                 `json:"cache_types"`
	ValidationStrategy   string                   `json:"validation_strategy"`
	PromptOverrides      map[string]string        `json:"prompt_overrides"`
	ExternalCapabilities []map[string]interface{} `json:"external_capabilities"`
}

// State is the routing configuration the adaptive policy engine acts on.
// Its methods are the policy action targets.
type State struct {
	mu                 sync.RWMutex
	router             *Router
	agents             map[string]string
	debateTaskTypes    map[string]bool
	routingRules       map[string]interface{}
	scaleFactor        float64
	cacheTypes         map[string]bool
	validationStrategy string
	promptOverrides    map[string]string
	externalCaps       []map[string]interface{}
	logger             *zap.Logger
}

// NewState creates the routing state. router may be nil.
func NewState(router *Router, logger *zap.Logger) *State {
	return &State{
		router:             router,
		agents:             make(map[string]string),
		debateTaskTypes:    make(map[string]bool),
		routingRules:       make(map[string]interface{}),
		scaleFactor:        1.0,
		cacheTypes:         make(map[string]bool),
		validationStrategy: "standard",
		promptOverrides:    make(map[string]string),
		logger:             logger,
	}
}

// SwapAgent replaces the model serving an agent type
func (s *State) SwapAgent(ctx context.Context, agentType, replacement string) (map[string]interface{}, error) {
	if agentType == "" || replacement == "" {
		return nil, fmt.Errorf("swap_agent requires agent_type and replacement")
	}

	s.mu.Lock()
	previous := s.agents[agentType]
	s.agents[agentType] = replacement
	s.mu.Unlock()

	s.logger.Info("agent swapped",
		zap.String("agent_type", agentType),
		zap.String("previous", previous),
		zap.String("replacement", replacement))
	return map[string]interface{}{"previous": previous, "replacement": replacement}, nil
}

// EnableDebateMode turns on debate for task types and enables the debate
// playbook trial on the router
func (s *State) EnableDebateMode(ctx context.Context, taskTypes []string) (map[string]interface{}, error) {
	s.mu.Lock()
	for _, t := range taskTypes {
		s.debateTaskTypes[t] = true
	}
	s.mu.Unlock()

	if s.router != nil {
		s.router.EnableTrial(PlaybookDebate)
	}
	return map[string]interface{}{"task_types": taskTypes}, nil
}

// UpdateRoutingRules merges rules into the routing rules
func (s *State) UpdateRoutingRules(ctx context.Context, rules map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	for k, v := range rules {
		s.routingRules[k] = v
	}
	n := len(s.routingRules)
	s.mu.Unlock()

	return map[string]interface{}{"rule_count": n}, nil
}

// ScaleResources multiplies the resource scale factor
func (s *State) ScaleResources(ctx context.Context, factor float64) (map[string]interface{}, error) {
	if factor <= 0 {
		return nil, fmt.Errorf("scale factor must be positive, got %v", factor)
	}

	s.mu.Lock()
	s.scaleFactor *= factor
	current := s.scaleFactor
	s.mu.Unlock()

	return map[string]interface{}{"scale_factor": current}, nil
}

// EnableCaching turns on the given caches
func (s *State) EnableCaching(ctx context.Context, cacheTypes []string) (map[string]interface{}, error) {
	s.mu.Lock()
	for _, c := range cacheTypes {
		s.cacheTypes[c] = true
	}
	s.mu.Unlock()

	return map[string]interface{}{"cache_types": cacheTypes}, nil
}

// UpdateValidationStrategy sets the validation strategy
func (s *State) UpdateValidationStrategy(ctx context.Context, strategy string) (map[string]interface{}, error) {
	s.mu.Lock()
	previous := s.validationStrategy
	s.validationStrategy = strategy
	s.mu.Unlock()

	return map[string]interface{}{"previous": previous, "strategy": strategy}, nil
}

// UpdatePrompts overrides agent prompts
func (s *State) UpdatePrompts(ctx context.Context, updates map[string]string) (map[string]interface{}, error) {
	s.mu.Lock()
	for k, v := range updates {
		s.promptOverrides[k] = v
	}
	s.mu.Unlock()

	return map[string]interface{}{"updated": len(updates)}, nil
}

// IntegrateExternalCapability adds a capability to the routing pool
func (s *State) IntegrateExternalCapability(ctx context.Context, capability map[string]interface{}) (map[string]interface{}, error) {
	s.mu.Lock()
	s.externalCaps = append(s.externalCaps, capability)
	n := len(s.externalCaps)
	s.mu.Unlock()

	if s.router != nil {
		if name, _ := capability["name"].(string); name != "" {
			s.router.RegisterExternalTool(ToolManifest{
				Name:         name,
				Capabilities: stringSlice(capability["task_types"]),
				Metadata:     capability,
			})
		}
	}
	return map[string]interface{}{"external_capabilities": n}, nil
}

// PromptOverride returns the override for an agent prompt, if any
func (s *State) PromptOverride(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.promptOverrides[key]
	return v, ok
}

// Agent returns the model serving an agent type, if swapped
func (s *State) Agent(agentType string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.agents[agentType]
	return v, ok
}

// Snapshot returns a copy of the state
func (s *State) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StateSnapshot{
		Agents:               make(map[string]string, len(s.agents)),
		DebateTaskTypes:      keys(s.debateTaskTypes),
		RoutingRules:         make(map[string]interface{}, len(s.routingRules)),
		ScaleFactor:          s.scaleFactor,
		CacheTypes:           keys(s.cacheTypes),
		ValidationStrategy:   s.validationStrategy,
		PromptOverrides:      make(map[string]string, len(s.promptOverrides)),
		ExternalCapabilities: append([]map[string]interface{}(nil), s.externalCaps...),
	}
	for k, v := range s.agents {
		snap.Agents[k] = v
	}
	for k, v := range s.routingRules {
		snap.RoutingRules[k] = v
	}
	for k, v := range s.promptOverrides {
		snap.PromptOverrides[k] = v
	}
	return snap
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func stringSlice(v interface{}) []string {
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
		return out
	}
	return nil
}
