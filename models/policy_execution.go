package models

import (
	"encoding/json"
	"time"
)

// PolicyExecution records one run of an adaptive policy rule
type PolicyExecution struct {
	ID              int64           `json:"id,omitempty" db:"id"`
	RuleName        string          `json:"rule_name" db:"rule_name"`
	Action          string          `json:"action" db:"action"`
	Success         bool            `json:"success" db:"success"`
	Improvement     float64         `json:"improvement" db:"improvement"`
	BaselineMetrics json.RawMessage `json:"baseline_metrics,omitempty" db:"baseline_metrics"`
	NewMetrics      json.RawMessage `json:"new_metrics,omitempty" db:"new_metrics"`
	Error           string          `json:"error,omitempty" db:"error"`
	ExecutedAt      time.Time       `json:"executed_at" db:"executed_at"`
}

// TableName returns the table name for the PolicyExecution model
func (PolicyExecution) TableName() string {
	return "policy_executions"
}

// PolicyRuleStats aggregates executions of a single rule
type PolicyRuleStats struct {
	RuleName       string     `json:"rule_name"`
	Executions     int        `json:"executions"`
	Successes      int        `json:"successes"`
	AvgImprovement float64    `json:"avg_improvement"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`
}
