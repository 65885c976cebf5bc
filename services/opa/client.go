package opa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avaprime/spooky-logic/config"
	"github.com/avaprime/spooky-logic/internal/observability"
	"github.com/avaprime/spooky-logic/services"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	budgetPath  = "spooky/budget"
	qualityPath = "spooky/quality"
)

// Client queries an Open Policy Agent server for budget and quality decisions
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *DecisionCache
	maxRetries int
	retryDelay time.Duration
	failOpen   bool
	logger     *zap.Logger
}

// NewClient creates a new OPA client
func NewClient(cfg config.OPAConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	var cache *DecisionCache
	if cfg.CacheTTL > 0 {
		cache = NewDecisionCache(cfg.CacheSize, cfg.CacheTTL)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		maxRetries: cfg.MaxRetries,
		retryDelay: 100 * time.Millisecond,
		failOpen:   cfg.FailOpen,
		logger:     logger,
	}
}

// Cache returns the decision cache, nil when caching is disabled
func (c *Client) Cache() *DecisionCache {
	return c.cache
}

// Query posts input to /v1/data/{path} and returns the decoded result document
func (c *Client) Query(ctx context.Context, path string, input interface{}) (map[string]interface{}, error) {
	ctx, span := observability.StartSpan(ctx, nil, "opa.query", attribute.String("opa.path", path))
	defer span.End()

	body, err := json.Marshal(map[string]interface{}{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal opa input: %w", err)
	}

	key := CacheKey(path, body)
	if c.cache != nil {
		if cached := c.cache.Get(key); cached != nil {
			span.SetAttributes(attribute.Bool("opa.cache_hit", true))
			return decodeResult(cached)
		}
	}

	raw, err := c.post(ctx, c.baseURL+"/v1/data/"+path, body)
	if err != nil {
		observability.SetError(ctx, err)
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode opa response: %w", err)
	}
	if len(envelope.Result) == 0 {
		envelope.Result = json.RawMessage("{}")
	}

	if c.cache != nil {
		c.cache.Set(key, envelope.Result)
	}
	return decodeResult(envelope.Result)
}

// AllowBudget asks spooky/budget whether the estimated cost fits under max.
// When the server is unreachable it fails closed with an external error,
// unless fail-open is configured, in which case the local comparison decides.
func (c *Client) AllowBudget(ctx context.Context, estimatedCost, maxBudget float64) (bool, error) {
	input := map[string]interface{}{
		"estimated_cost": estimatedCost,
		"budget":         map[string]interface{}{"max": maxBudget},
	}

	result, err := c.Query(ctx, budgetPath, input)
	if err != nil {
		if c.failOpen {
			c.logger.Warn("opa unavailable, using local budget check",
				zap.Error(err),
				zap.Float64("estimated_cost", estimatedCost),
				zap.Float64("max_budget", maxBudget))
			return estimatedCost <= maxBudget, nil
		}
		return false, services.WrapExternal("policy engine unavailable", err)
	}
	return truthy(result["allow"]), nil
}

// DebateRequired asks spooky/quality whether a second opinion is needed
func (c *Client) DebateRequired(ctx context.Context, risk int, validatorErrorRate float64) (bool, error) {
	input := map[string]interface{}{
		"task":                 map[string]interface{}{"risk": risk},
		"validator_error_rate": validatorErrorRate,
	}

	result, err := c.Query(ctx, qualityPath, input)
	if err != nil {
		if c.failOpen {
			return risk >= 3, nil
		}
		return false, services.WrapExternal("policy engine unavailable", err)
	}
	return truthy(result["debate_required"]) || truthy(result["second_opinion"]), nil
}

// LoadTenantPack uploads a rego module as policy tenant_{id}
func (c *Client) LoadTenantPack(ctx context.Context, tenantID string, rego []byte) (bool, error) {
	url := fmt.Sprintf("%s/v1/policies/tenant_%s", c.baseURL, tenantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(rego))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, services.WrapExternal("policy engine unavailable", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent
	if ok && c.cache != nil {
		c.cache.Clear()
	}
	c.logger.Info("tenant policy pack loaded",
		zap.String("tenant", tenantID),
		zap.Int("status", resp.StatusCode),
		zap.Bool("ok", ok))
	return ok, nil
}

// Ping checks the OPA health endpoint
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opa health returned status %d", resp.StatusCode)
	}
	return nil
}

// post sends body with retry on transport errors and 5xx responses
func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("opa returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("opa returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read opa response: %w", readErr)
		}
		return raw, nil
	}

	c.logger.Warn("opa query failed",
		zap.String("url", url),
		zap.Int("attempts", c.maxRetries+1),
		zap.Error(lastErr))
	return nil, lastErr
}

func decodeResult(raw json.RawMessage) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	if err := json.Unmarshal(raw, &result); err != nil {
		// Non-object results (a bare boolean rule) surface under "value"
		var v interface{}
		if err2 := json.Unmarshal(raw, &v); err2 != nil {
			return nil, fmt.Errorf("failed to decode opa result: %w", err)
		}
		return map[string]interface{}{"value": v}, nil
	}
	return result, nil
}

func truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
