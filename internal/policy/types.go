package policy

import (
	"fmt"
	"time"
)

// Trigger categorizes why a rule exists
type Trigger string

const (
	TriggerPerformanceDegradation Trigger = "performance_degradation"
	TriggerCostThreshold          Trigger = "cost_threshold"
	TriggerFailurePattern         Trigger = "failure_pattern"
	TriggerAccuracyDrop           Trigger = "accuracy_drop"
	TriggerLatencySpike           Trigger = "latency_spike"
	TriggerResourceConstraint     Trigger = "resource_constraint"
	TriggerExperimentSuccess      Trigger = "experiment_success"
)

// Action is the adaptation a rule performs
type Action string

const (
	ActionSwapAgent           Action = "swap_agent"
	ActionEnableDebateMode    Action = "enable_debate_mode"
	ActionAdjustRouting       Action = "adjust_routing"
	ActionScaleResources      Action = "scale_resources"
	ActionEnableCaching       Action = "enable_caching"
	ActionModifyValidation    Action = "modify_validation"
	ActionUpdatePrompts       Action = "update_prompts"
	ActionIntegrateCapability Action = "integrate_capability"
)

var validTriggers = map[Trigger]bool{
	TriggerPerformanceDegradation: true,
	TriggerCostThreshold:          true,
	TriggerFailurePattern:         true,
	TriggerAccuracyDrop:           true,
	TriggerLatencySpike:           true,
	TriggerResourceConstraint:     true,
	TriggerExperimentSuccess:      true,
}

var validActions = map[Action]bool{
	ActionSwapAgent:           true,
	ActionEnableDebateMode:    true,
	ActionAdjustRouting:       true,
	ActionScaleResources:      true,
	ActionEnableCaching:       true,
	ActionModifyValidation:    true,
	ActionUpdatePrompts:       true,
	ActionIntegrateCapability: true,
}

// Rule defaults
const (
	DefaultPriority            = 5
	DefaultCooldownMinutes     = 60
	DefaultMaxExecutionsPerDay = 10
	DefaultConfidence          = 0.7
	DefaultMinSamples          = 5
	MaxCooldownMinutes         = 480

	// SuccessAlpha weights the newest outcome in a rule's success rate
	SuccessAlpha = 0.2
)

// Point is one sample of a metric time series
type Point struct {
	TS    time.Time `json:"timestamp"`
	Value float64   `json:"value"`
}

// Metrics is a snapshot of named metrics. Values are numbers, strings,
// lists or []Point time series.
type Metrics map[string]interface{}

// Condition compares one metric against a threshold
type Condition struct {
	Metric     string      `yaml:"metric" json:"metric"`
	Operator   string      `yaml:"operator" json:"operator"`
	Threshold  interface{} `yaml:"threshold" json:"threshold"`
	TimeWindow string      `yaml:"time_window,omitempty" json:"time_window,omitempty"`
	MinSamples int         `yaml:"min_samples,omitempty" json:"min_samples,omitempty"`
}

// Rule is an adaptive policy
type Rule struct {
	Name                string                 `yaml:"name" json:"name"`
	Trigger             Trigger                `yaml:"trigger" json:"trigger"`
	Conditions          []Condition            `yaml:"conditions" json:"conditions"`
	Action              Action                 `yaml:"action" json:"action"`
	Parameters          map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Priority            int                    `yaml:"priority,omitempty" json:"priority"`
	CooldownMinutes     int                    `yaml:"cooldown_minutes,omitempty" json:"cooldown_minutes"`
	MaxExecutionsPerDay int                    `yaml:"max_executions_per_day,omitempty" json:"max_executions_per_day"`
	ConfidenceThreshold float64                `yaml:"confidence_threshold,omitempty" json:"confidence_threshold"`

	LastExecuted        *time.Time `yaml:"-" json:"last_executed,omitempty"`
	LastFailed          *time.Time `yaml:"-" json:"last_failed,omitempty"`
	ExecutionCountToday int        `yaml:"-" json:"execution_count_today"`
	Executions          int        `yaml:"-" json:"executions"`
	Successes           int        `yaml:"-" json:"successes"`
	Confidence          float64    `yaml:"-" json:"-"`

	countDay string
}

// ApplyDefaults fills unset fields with the rule defaults
func (r *Rule) ApplyDefaults() {
	if r.Priority == 0 {
		r.Priority = DefaultPriority
	}
	if r.CooldownMinutes == 0 {
		r.CooldownMinutes = DefaultCooldownMinutes
	}
	if r.MaxExecutionsPerDay == 0 {
		r.MaxExecutionsPerDay = DefaultMaxExecutionsPerDay
	}
	if r.ConfidenceThreshold == 0 {
		r.ConfidenceThreshold = DefaultConfidence
	}
	if r.Parameters == nil {
		r.Parameters = map[string]interface{}{}
	}
	for i := range r.Conditions {
		if r.Conditions[i].MinSamples == 0 {
			r.Conditions[i].MinSamples = DefaultMinSamples
		}
	}
}

// Validate checks the trigger, action and conditions
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if !validTriggers[r.Trigger] {
		return fmt.Errorf("rule %s: unknown trigger %q", r.Name, r.Trigger)
	}
	if !validActions[r.Action] {
		return fmt.Errorf("rule %s: unknown action %q", r.Name, r.Action)
	}
	for _, c := range r.Conditions {
		if c.Metric == "" {
			return fmt.Errorf("rule %s: condition without metric", r.Name)
		}
		if !validOperators[c.Operator] {
			return fmt.Errorf("rule %s: unknown operator %q", r.Name, c.Operator)
		}
	}
	return nil
}

// SuccessRate is the exponentially weighted success of the rule's
// executions, starting from 1 before any run
func (r *Rule) SuccessRate() float64 {
	if r.Executions == 0 {
		return 1.0
	}
	return r.Confidence
}
