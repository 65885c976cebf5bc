// Package routing selects playbooks and model candidates and keeps the
// learned routing weights.
package routing

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	PlaybookControl = "control_single_pass"
	PlaybookDebate  = "variant_debate_tools"

	// DefaultCandidate is chosen when the overlay lists no candidates for a role
	DefaultCandidate = "gpt4o_mini"

	debateRiskThreshold = 3
)

// Overlay maps roles to the model candidates they may use
type Overlay struct {
	Roles map[string]RoleOverlay `yaml:"roles" json:"roles"`
}

// RoleOverlay lists the candidates of one role
type RoleOverlay struct {
	Candidates []string `yaml:"candidates" json:"candidates"`
}

// LoadOverlay reads an overlay YAML file
func LoadOverlay(path string) (*Overlay, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read router overlay: %w", err)
	}
	var overlay Overlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("failed to parse router overlay: %w", err)
	}
	return &overlay, nil
}

// ToolManifest describes an external tool registered with the router
type ToolManifest struct {
	Name         string                 `json:"name" validate:"required"`
	Capabilities []string               `json:"capabilities" validate:"required,min=1"`
	Endpoint     string                 `json:"endpoint,omitempty" validate:"omitempty,url"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Router picks the playbook for a task and the candidate for a role
type Router struct {
	mu      sync.RWMutex
	trials  map[string]bool
	tools   []ToolManifest
	overlay *Overlay
	random  func(n int) int
	logger  *zap.Logger
}

// NewRouter creates a Router. overlay may be nil.
func NewRouter(overlay *Overlay, logger *zap.Logger) *Router {
	if overlay == nil {
		overlay = &Overlay{}
	}
	return &Router{
		trials:  make(map[string]bool),
		overlay: overlay,
		random:  rand.IntN,
		logger:  logger,
	}
}

// SelectPlaybook returns the debate playbook when its trial is enabled or
// the risk is high, and the single pass playbook otherwise
func (r *Router) SelectPlaybook(risk int) string {
	r.mu.RLock()
	debateTrial := r.trials[PlaybookDebate]
	r.mu.RUnlock()

	if debateTrial || risk >= debateRiskThreshold {
		return PlaybookDebate
	}
	return PlaybookControl
}

// EnableTrial turns on the trial flag of a playbook
func (r *Router) EnableTrial(name string) {
	r.mu.Lock()
	r.trials[name] = true
	r.mu.Unlock()
	r.logger.Info("playbook trial enabled", zap.String("playbook", name))
}

// Trials lists the enabled trial flags
func (r *Router) Trials() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.trials))
	for name := range r.trials {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RegisterExternalTool records an external tool manifest
func (r *Router) RegisterExternalTool(manifest ToolManifest) {
	r.mu.Lock()
	r.tools = append(r.tools, manifest)
	r.mu.Unlock()
	r.logger.Info("external tool registered",
		zap.String("name", manifest.Name),
		zap.Strings("capabilities", manifest.Capabilities))
}

// ExternalTools returns the registered tool manifests
func (r *Router) ExternalTools() []ToolManifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ToolManifest(nil), r.tools...)
}

// ChooseCandidate picks a random overlay candidate for role
func (r *Router) ChooseCandidate(role string) string {
	r.mu.RLock()
	candidates := r.overlay.Roles[role].Candidates
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return DefaultCandidate
	}
	return candidates[r.random(len(candidates))]
}
