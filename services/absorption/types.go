// Package absorption takes external capabilities (hosted models, tool APIs,
// plugins) through testing and a trial period before integrating them into
// the routing pool.
package absorption

import (
	"time"
)

// CapabilityType is the kind of external capability
type CapabilityType string

const (
	TypeLLMAPI        CapabilityType = "llm_api"
	TypeToolAPI       CapabilityType = "tool_api"
	TypeModelHub      CapabilityType = "model_hub"
	TypePlugin        CapabilityType = "plugin"
	TypeMicroservice  CapabilityType = "microservice"
	TypeKnowledgeBase CapabilityType = "knowledge_base"
)

// Status is where a capability sits in the intake pipeline
type Status string

const (
	StatusDiscovered  Status = "discovered"
	StatusTesting     Status = "testing"
	StatusTrialPeriod Status = "trial_period"
	StatusIntegrated  Status = "integrated"
	StatusRejected    Status = "rejected"
	StatusDeprecated  Status = "deprecated"
)

// AllStatuses in pipeline order
var AllStatuses = []Status{
	StatusDiscovered, StatusTesting, StatusTrialPeriod,
	StatusIntegrated, StatusRejected, StatusDeprecated,
}

// Spec describes an external capability
type Spec struct {
	ID                string                 `json:"id" validate:"required"`
	Name              string                 `json:"name" validate:"required"`
	Type              CapabilityType         `json:"type" validate:"required,oneof=llm_api tool_api model_hub plugin microservice knowledge_base"`
	Endpoint          string                 `json:"endpoint,omitempty" validate:"omitempty,url"`
	APIKeyRequired    bool                   `json:"api_key_required"`
	TaskTypes         []string               `json:"task_types,omitempty"`
	Description       string                 `json:"description,omitempty"`
	Provider          string                 `json:"provider,omitempty"`
	AuthMethod        string                 `json:"auth_method,omitempty"`
	IntegrationMethod string                 `json:"integration_method,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`

	Status       Status     `json:"status"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	LastTested   *time.Time `json:"last_tested,omitempty"`
}

// BaselineComparison compares a capability's accuracy with the in-house agent
type BaselineComparison struct {
	AccuracyImprovement float64 `json:"accuracy_improvement"`
	CapabilityAccuracy  float64 `json:"new_capability_accuracy"`
	BaselineAccuracy    float64 `json:"baseline_accuracy"`
}

// TestResult is one run of the test suite against a capability
type TestResult struct {
	CapabilityID string              `json:"capability_id"`
	Tasks        int                 `json:"tasks"`
	Success      bool                `json:"success"`
	LatencyMs    float64             `json:"latency_ms"`
	Accuracy     float64             `json:"accuracy_score"`
	Errors       []string            `json:"errors,omitempty"`
	Baseline     *BaselineComparison `json:"baseline_comparison,omitempty"`
	TestedAt     time.Time           `json:"test_timestamp"`
}

// PerformanceSummary aggregates the test history of a capability
type PerformanceSummary struct {
	TotalTests      int        `json:"total_tests"`
	SuccessfulTests int        `json:"successful_tests"`
	SuccessRate     float64    `json:"success_rate"`
	AvgLatencyMs    float64    `json:"avg_latency_ms"`
	AvgAccuracy     float64    `json:"avg_accuracy"`
	LastTestedAt    *time.Time `json:"last_test_timestamp,omitempty"`
}

// Discovery is an entry of the recent discoveries list
type Discovery struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Provider     string    `json:"provider"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Status       Status    `json:"status"`
}

// PipelineEntry is a capability still under test or trial
type PipelineEntry struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Status      Status             `json:"status"`
	Performance PerformanceSummary `json:"performance_summary"`
}

// Performer ranks a capability by its mean accuracy improvement
type Performer struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Provider         string  `json:"provider"`
	PerformanceScore float64 `json:"performance_score"`
	SuccessRate      float64 `json:"success_rate"`
	Status           Status  `json:"status"`
}

// Report is the state of the intake pipeline
type Report struct {
	TotalDiscovered int             `json:"total_discovered"`
	StatusBreakdown map[Status]int  `json:"status_breakdown"`
	IntegratedCount int             `json:"integrated_count"`
	Recent          []Discovery     `json:"recent_discoveries"`
	TopPerformers   []Performer     `json:"top_performing_capabilities"`
	Pipeline        []PipelineEntry `json:"integration_pipeline"`
}
