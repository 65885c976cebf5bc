// Package tenants runs a per tenant meta conductor: it picks the playbook
// for each run, tracks control and variant results and promotes the variant
// when it wins by enough.
package tenants

import (
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/avaprime/spooky-logic/internal/stats"
	"github.com/avaprime/spooky-logic/services/routing"
	"go.uber.org/zap"
)

// Experiment arms tracked per tenant
const (
	ArmControl = "control"
	ArmVariant = "variant"
)

// PromoteGuard is the uplift a variant needs to be promoted and the cost
// increase it may bring
type PromoteGuard struct {
	Uplift       float64 `yaml:"uplift" json:"uplift"`
	MaxCostDelta float64 `yaml:"max_cost_delta" json:"max_cost_delta"`
}

// Config describes a tenant
type Config struct {
	TenantID         string       `yaml:"tenant_id" json:"tenant_id" validate:"required,identifier"`
	PlaybookControl  string       `yaml:"playbook_control" json:"playbook_control"`
	PlaybookVariant  string       `yaml:"playbook_variant" json:"playbook_variant"`
	BudgetMaxUSD     float64      `yaml:"budget_max_usd" json:"budget_max_usd" validate:"gte=0"`
	RiskThreshold    int          `yaml:"risk_threshold" json:"risk_threshold" validate:"gte=0,lte=5"`
	AbsorbSampleRate float64      `yaml:"absorb_sample_rate" json:"absorb_sample_rate" validate:"gte=0,lte=1"`
	ABMinSamples     int          `yaml:"ab_min_samples" json:"ab_min_samples" validate:"gte=0"`
	PromoteGuard     PromoteGuard `yaml:"promote_guard" json:"promote_guard"`
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.PlaybookControl == "" {
		c.PlaybookControl = routing.PlaybookControl
	}
	if c.PlaybookVariant == "" {
		c.PlaybookVariant = routing.PlaybookDebate
	}
	if c.BudgetMaxUSD == 0 {
		c.BudgetMaxUSD = 0.25
	}
	if c.RiskThreshold == 0 {
		c.RiskThreshold = 3
	}
	if c.AbsorbSampleRate == 0 {
		c.AbsorbSampleRate = 0.1
	}
	if c.ABMinSamples == 0 {
		c.ABMinSamples = 20
	}
	if c.PromoteGuard.Uplift == 0 {
		c.PromoteGuard.Uplift = 0.03
	}
	if c.PromoteGuard.MaxCostDelta == 0 {
		c.PromoteGuard.MaxCostDelta = 0.1
	}
}

// State is the conductor's routing state
type State struct {
	TenantID       string     `json:"tenant_id"`
	ActivePlaybook string     `json:"active_playbook"`
	TrialEnabled   bool       `json:"trial_enabled"`
	VariantWins    int        `json:"variant_wins"`
	ControlWins    int        `json:"control_wins"`
	LastPromotion  *time.Time `json:"last_promotion,omitempty"`
}

// Summary compares the variant arm against control
type Summary struct {
	Ready     bool    `json:"ready"`
	Uplift    float64 `json:"uplift,omitempty"`
	CostDelta float64 `json:"cost_delta,omitempty"`
	NControl  int     `json:"n_control"`
	NVariant  int     `json:"n_variant"`
}

// Promotion is the outcome of a promotion attempt
type Promotion struct {
	Promoted bool `json:"promoted"`
	Summary
}

type result struct {
	score float64
	cost  float64
	ts    time.Time
}

// Conductor is the adaptive controller of one tenant
type Conductor struct {
	cfg     Config
	mu      sync.RWMutex
	state   State
	results map[string][]result
	metrics *observability.Metrics
	now     func() time.Time
	logger  *zap.Logger
}

// NewConductor creates a conductor running the control playbook
func NewConductor(cfg Config, metrics *observability.Metrics, logger *zap.Logger) *Conductor {
	cfg.ApplyDefaults()
	return &Conductor{
		cfg: cfg,
		state: State{
			TenantID:       cfg.TenantID,
			ActivePlaybook: cfg.PlaybookControl,
		},
		results: map[string][]result{ArmControl: nil, ArmVariant: nil},
		metrics: metrics,
		now:     time.Now,
		logger:  logger.With(zap.String("tenant", cfg.TenantID)),
	}
}

// Config returns the tenant configuration
func (c *Conductor) Config() Config {
	return c.cfg
}

// ChoosePlaybook returns the variant when a trial is running or risk reaches
// the tenant threshold, the control otherwise
func (c *Conductor) ChoosePlaybook(risk int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state.TrialEnabled || risk >= c.cfg.RiskThreshold {
		return c.cfg.PlaybookVariant
	}
	return c.cfg.PlaybookControl
}

// ArmFor maps a playbook name to the arm it belongs to
func (c *Conductor) ArmFor(playbook string) string {
	if playbook == c.cfg.PlaybookVariant {
		return ArmVariant
	}
	return ArmControl
}

// RecordResult stores a run outcome. Arms other than variant count as
// control.
func (c *Conductor) RecordResult(arm string, score, cost float64) {
	if arm != ArmVariant {
		arm = ArmControl
	}

	c.mu.Lock()
	c.results[arm] = append(c.results[arm], result{score: score, cost: cost, ts: c.now()})
	if arm == ArmVariant {
		c.state.VariantWins++
	} else {
		c.state.ControlWins++
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncTenantResult(c.cfg.TenantID, arm)
	}
}

// Summarize compares the arms once both hold ABMinSamples results
func (c *Conductor) Summarize() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summarizeLocked()
}

func (c *Conductor) summarizeLocked() Summary {
	control, variant := c.results[ArmControl], c.results[ArmVariant]
	s := Summary{NControl: len(control), NVariant: len(variant)}
	if len(control) < c.cfg.ABMinSamples || len(variant) < c.cfg.ABMinSamples {
		return s
	}

	cs, cc := columns(control)
	vs, vc := columns(variant)
	s.Ready = true
	s.Uplift = stats.Mean(vs) - stats.Mean(cs)
	s.CostDelta = stats.Mean(vc) - stats.Mean(cc)
	return s
}

// MaybePromote makes the variant the active playbook when the summary clears
// the promote guard. It returns nil while there is not enough data.
func (c *Conductor) MaybePromote() *Promotion {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.summarizeLocked()
	if !s.Ready {
		return nil
	}
	if s.Uplift > c.cfg.PromoteGuard.Uplift && s.CostDelta <= c.cfg.PromoteGuard.MaxCostDelta {
		now := c.now()
		c.state.ActivePlaybook = c.cfg.PlaybookVariant
		c.state.TrialEnabled = false
		c.state.LastPromotion = &now
		c.logger.Info("variant promoted",
			zap.String("playbook", c.cfg.PlaybookVariant),
			zap.Float64("uplift", s.Uplift),
			zap.Float64("cost_delta", s.CostDelta))
		return &Promotion{Promoted: true, Summary: s}
	}
	return &Promotion{Promoted: false, Summary: s}
}

// EnableTrial routes every run to the variant until the next promotion
func (c *Conductor) EnableTrial() {
	c.mu.Lock()
	c.state.TrialEnabled = true
	c.mu.Unlock()
}

// State returns a copy of the routing state
func (c *Conductor) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func columns(rs []result) (scores, costs []float64) {
	scores = make([]float64, len(rs))
	costs = make([]float64, len(rs))
	for i, r := range rs {
		scores[i] = r.score
		costs[i] = r.cost
	}
	return scores, costs
}
