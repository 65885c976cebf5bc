package models

import "time"

// Experiment is a named A/B comparison between playbook arms
type Experiment struct {
	Name      string    `json:"name" db:"name"`
	Arms      []string  `json:"arms" db:"arms"`
	Domain    string    `json:"domain" db:"domain"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Experiment model
func (Experiment) TableName() string {
	return "experiments"
}

// ExperimentSample is a single observed outcome of one arm
type ExperimentSample struct {
	ID         int64     `json:"id,omitempty" db:"id"`
	Experiment string    `json:"experiment" db:"experiment"`
	Arm        string    `json:"arm" db:"arm"`
	Score      float64   `json:"score" db:"score"`
	Cost       float64   `json:"cost" db:"cost"`
	LatencyMs  float64   `json:"latency_ms" db:"latency_ms"`
	Domain     string    `json:"domain" db:"domain"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the ExperimentSample model
func (ExperimentSample) TableName() string {
	return "experiment_samples"
}
