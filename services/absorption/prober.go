package absorption

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avaprime/spooky-logic/services/llm"
)

// Prober sends one task to a capability and returns the answer text
type Prober interface {
	Probe(ctx context.Context, spec *Spec, task Task) (string, error)
}

// Baseline answers tasks with the in-house agents
type Baseline interface {
	Answer(ctx context.Context, task Task) (string, error)
}

// KeyFunc returns the API key for a capability, empty when none is configured
type KeyFunc func(spec *Spec) string

// HTTPProber calls capability endpoints, shaping the request after the
// provider's API
type HTTPProber struct {
	httpClient *http.Client
	apiKey     KeyFunc
}

// NewHTTPProber creates a new HTTPProber
func NewHTTPProber(timeout time.Duration, apiKey KeyFunc) *HTTPProber {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if apiKey == nil {
		apiKey = func(*Spec) string { return "" }
	}
	return &HTTPProber{httpClient: &http.Client{Timeout: timeout}, apiKey: apiKey}
}

// Probe posts the task to the capability endpoint
func (p *HTTPProber) Probe(ctx context.Context, spec *Spec, task Task) (string, error) {
	if spec.Endpoint == "" {
		return "", fmt.Errorf("capability %s has no endpoint", spec.ID)
	}

	payload, headers := p.request(spec, task)
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode probe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read probe response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return ExtractText(raw), nil
}

func (p *HTTPProber) request(spec *Spec, task Task) (interface{}, map[string]string) {
	key := p.apiKey(spec)
	bearer := map[string]string{}
	if key != "" {
		bearer["Authorization"] = "Bearer " + key
	}
	maxTokens := task.MaxTokens
	if maxTokens == 0 {
		maxTokens = 100
	}
	provider := strings.ToLower(spec.Provider)

	if spec.Type == TypeToolAPI || spec.Type == TypeMicroservice {
		if task.Input != nil {
			return task.Input, bearer
		}
		return map[string]interface{}{"input": task.Prompt}, bearer
	}

	switch {
	case strings.Contains(provider, "openai"):
		parts := strings.Split(spec.Name, "/")
		return map[string]interface{}{
			"model":      parts[len(parts)-1],
			"messages":   []map[string]string{{"role": "user", "content": task.Prompt}},
			"max_tokens": maxTokens,
		}, bearer
	case strings.Contains(provider, "anthropic"):
		return map[string]interface{}{
			"model":      spec.Name,
			"max_tokens": maxTokens,
			"messages":   []map[string]string{{"role": "user", "content": task.Prompt}},
		}, map[string]string{"x-api-key": key}
	case strings.Contains(provider, "huggingface"):
		return map[string]interface{}{"inputs": task.Prompt}, bearer
	case strings.Contains(provider, "replicate"):
		version := "latest"
		if i := strings.LastIndex(spec.Name, ":"); i >= 0 {
			version = spec.Name[i+1:]
		}
		headers := map[string]string{}
		if key != "" {
			headers["Authorization"] = "Token " + key
		}
		return map[string]interface{}{
			"version": version,
			"input":   map[string]string{"prompt": task.Prompt},
		}, headers
	default:
		return map[string]interface{}{"input": task.Prompt, "max_length": maxTokens}, bearer
	}
}

// ExtractText pulls the answer out of the common response shapes
// (chat completions, messages, text generation). Anything else is returned
// as the raw body.
func ExtractText(raw []byte) string {
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var list []map[string]interface{}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		if s, ok := list[0]["generated_text"].(string); ok {
			return s
		}
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return strings.TrimSpace(string(raw))
	}

	if choices, ok := obj["choices"].([]interface{}); ok && len(choices) > 0 {
		if c, ok := choices[0].(map[string]interface{}); ok {
			if msg, ok := c["message"].(map[string]interface{}); ok {
				s, _ := msg["content"].(string)
				return s
			}
			if s, ok := c["text"].(string); ok {
				return s
			}
		}
	}
	if content, ok := obj["content"].([]interface{}); ok && len(content) > 0 {
		if c, ok := content[0].(map[string]interface{}); ok {
			if s, ok := c["text"].(string); ok {
				return s
			}
		}
	}
	for _, key := range []string{"generated_text", "output", "text"} {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprint(v)
		}
	}
	return strings.TrimSpace(string(raw))
}

// LLMBaseline answers tasks through the role-mapped LLM client
type LLMBaseline struct {
	client llm.Client
	role   string
}

// NewLLMBaseline creates a baseline backed by the given role
func NewLLMBaseline(client llm.Client, role string) *LLMBaseline {
	if role == "" {
		role = llm.DefaultRole
	}
	return &LLMBaseline{client: client, role: role}
}

// Answer implements Baseline
func (b *LLMBaseline) Answer(ctx context.Context, task Task) (string, error) {
	reply, err := b.client.Call(ctx, b.role, task.Prompt)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}
