package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/avaprime/spooky-logic/internal/observability"
	"go.uber.org/zap"
)

// Executor runs a capability against a payload
type Executor interface {
	Execute(ctx context.Context, capabilityID string, payload map[string]interface{}) (map[string]interface{}, error)
}

// CanaryResult is returned when a request was routed to the canary
type CanaryResult struct {
	Canary bool                   `json:"canary"`
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// CanaryController routes a share of traffic to quarantined capabilities
// and feeds the outcome back into the QuarantineManager
type CanaryController struct {
	qm       *QuarantineManager
	executor Executor
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewCanaryController creates a new CanaryController
func NewCanaryController(qm *QuarantineManager, executor Executor, metrics *observability.Metrics, logger *zap.Logger) *CanaryController {
	return &CanaryController{qm: qm, executor: executor, metrics: metrics, logger: logger}
}

// MaybeRoute executes the capability when the canary is sampled. It returns
// nil when the request was not routed. Success means a non-empty result
// whose "ok" field, when present, is not false.
func (c *CanaryController) MaybeRoute(ctx context.Context, capabilityID string, payload map[string]interface{}) *CanaryResult {
	if !c.qm.ShouldRouteCanary(capabilityID) {
		return nil
	}

	result, err := c.executor.Execute(ctx, capabilityID, payload)
	success := err == nil && len(result) > 0
	if ok, present := result["ok"].(bool); present && !ok {
		success = false
	}

	c.qm.Report(capabilityID, success)
	if c.metrics != nil {
		c.metrics.IncCanaryReport(capabilityID, success)
	}

	c.logger.Info("canary routed",
		zap.String("capability_id", capabilityID),
		zap.Bool("success", success),
		zap.Error(err))

	out := &CanaryResult{Canary: true, Result: result}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// ShadowResult reports a shadow trial
type ShadowResult struct {
	Shadowed  bool                   `json:"shadowed"`
	Candidate map[string]interface{} `json:"candidate,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// ShadowTrialRunner runs candidate capabilities next to production traffic
// without affecting the answer
type ShadowTrialRunner struct {
	executor Executor
	random   func() float64
	logger   *zap.Logger
}

// NewShadowTrialRunner creates a new ShadowTrialRunner
func NewShadowTrialRunner(executor Executor, logger *zap.Logger) *ShadowTrialRunner {
	return &ShadowTrialRunner{executor: executor, random: rand.Float64, logger: logger}
}

// Shadow runs the candidate on goal with probability sampleRate
func (r *ShadowTrialRunner) Shadow(ctx context.Context, capabilityID, goal string, sampleRate float64) ShadowResult {
	if r.random() >= sampleRate {
		return ShadowResult{Shadowed: false}
	}

	candidate, err := r.executor.Execute(ctx, capabilityID, map[string]interface{}{"goal": goal})
	if err != nil {
		r.logger.Warn("shadow trial failed", zap.String("capability_id", capabilityID), zap.Error(err))
		return ShadowResult{Shadowed: true, Error: err.Error()}
	}
	return ShadowResult{Shadowed: true, Candidate: candidate}
}

// EndpointResolver maps a capability id to its HTTP endpoint
type EndpointResolver func(capabilityID string) (string, bool)

// HTTPExecutor invokes capabilities by POSTing the payload as JSON
type HTTPExecutor struct {
	resolve    EndpointResolver
	httpClient *http.Client
}

// NewHTTPExecutor creates a new HTTPExecutor
func NewHTTPExecutor(resolve EndpointResolver, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExecutor{resolve: resolve, httpClient: &http.Client{Timeout: timeout}}
}

// Execute posts payload to the capability endpoint and decodes the JSON reply
func (e *HTTPExecutor) Execute(ctx context.Context, capabilityID string, payload map[string]interface{}) (map[string]interface{}, error) {
	endpoint, ok := e.resolve(capabilityID)
	if !ok {
		return nil, fmt.Errorf("no endpoint registered for capability %q", capabilityID)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("capability request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("capability returned status %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode capability response: %w", err)
	}
	return result, nil
}
