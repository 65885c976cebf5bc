// Package llm calls language models by agent role. Roles are mapped to a
// provider and model through a YAML provider map.
package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avaprime/spooky-logic/config"
	"github.com/avaprime/spooky-logic/services"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultRole is used for roles missing from the provider map
const DefaultRole = "default_agent"

// Supported providers
const (
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Reply is a model response with the confidence the model reported
type Reply struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider,omitempty"`
	Model      string  `json:"model,omitempty"`
}

// Client calls the model serving a role
type Client interface {
	Call(ctx context.Context, role, prompt string) (*Reply, error)
}

// Mapping binds a role to a provider model
type Mapping struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

// ProviderMap maps roles to provider models
type ProviderMap map[string]Mapping

type providerMapFile struct {
	ProviderMap ProviderMap `yaml:"provider_map"`
}

// LoadProviderMap reads a YAML file with a top level provider_map
func LoadProviderMap(path string) (ProviderMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider map: %w", err)
	}
	return ParseProviderMap(raw)
}

// ParseProviderMap decodes a provider map document
func ParseProviderMap(data []byte) (ProviderMap, error) {
	var file providerMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse provider map: %w", err)
	}
	if file.ProviderMap == nil {
		return ProviderMap{}, nil
	}
	return file.ProviderMap, nil
}

// Resolve returns the mapping of role, falling back to the default agent
func (m ProviderMap) Resolve(role string) (Mapping, error) {
	if mapping, ok := m[role]; ok {
		return mapping, nil
	}
	if mapping, ok := m[DefaultRole]; ok {
		return mapping, nil
	}
	return Mapping{}, services.NewDomainError(services.ErrorTypeValidation,
		fmt.Sprintf("No LLM provider configured for role '%s' and no default_agent is set.", role), nil)
}

// ModelFactory builds a langchaingo model for a provider
type ModelFactory func(provider, model string) (llms.Model, error)

// RoleClient dispatches calls to langchaingo models chosen by role
type RoleClient struct {
	mapping ProviderMap
	factory ModelFactory
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.Mutex
	models map[string]llms.Model
}

// NewRoleClient creates a RoleClient backed by the configured providers
func NewRoleClient(cfg config.ProvidersConfig, mapping ProviderMap, logger *zap.Logger) *RoleClient {
	return &RoleClient{
		mapping: mapping,
		factory: NewModelFactory(cfg),
		timeout: cfg.CallTimeout,
		logger:  logger,
		models:  make(map[string]llms.Model),
	}
}

// Call sends prompt to the model mapped to role
func (c *RoleClient) Call(ctx context.Context, role, prompt string) (*Reply, error) {
	mapping, err := c.mapping.Resolve(role)
	if err != nil {
		return nil, err
	}
	model, err := c.model(mapping)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, model, prompt)
	if err != nil {
		c.logger.Error("llm call failed",
			zap.String("role", role),
			zap.String("provider", mapping.Provider),
			zap.String("model", mapping.Model),
			zap.Error(err))
		return nil, services.WrapExternal(fmt.Sprintf("%s call failed", mapping.Provider), err)
	}

	answer, confidence := ParseConfidence(text)
	c.logger.Debug("llm call completed",
		zap.String("role", role),
		zap.String("provider", mapping.Provider),
		zap.Duration("elapsed", time.Since(start)))
	return &Reply{Text: answer, Confidence: confidence, Provider: mapping.Provider, Model: mapping.Model}, nil
}

func (c *RoleClient) model(mapping Mapping) (llms.Model, error) {
	key := mapping.Provider + "/" + mapping.Model

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.models[key]; ok {
		return m, nil
	}
	m, err := c.factory(mapping.Provider, mapping.Model)
	if err != nil {
		return nil, err
	}
	c.models[key] = m
	return m, nil
}

var confidenceLine = regexp.MustCompile(`(?im)^\s*CONFIDENCE:\s*([0-9]*\.?[0-9]+)\s*$`)

// ParseConfidence extracts a trailing "CONFIDENCE: x" line. The line is
// removed from the text; confidence is 0 when absent and clamped to [0, 1].
func ParseConfidence(text string) (string, float64) {
	matches := confidenceLine.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(text), 0
	}
	last := matches[len(matches)-1]
	value, err := strconv.ParseFloat(text[last[2]:last[3]], 64)
	if err != nil {
		return strings.TrimSpace(text), 0
	}
	answer := strings.TrimSpace(text[:last[0]] + text[last[1]:])
	return answer, max(0, min(1, value))
}

// Fake answers every call locally with a draft and a random confidence
// between 0.6 and 0.95
type Fake struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewFake creates a Fake with a fixed seed
func NewFake(seed uint64) *Fake {
	return &Fake{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Call implements Client
func (f *Fake) Call(ctx context.Context, role, prompt string) (*Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(prompt) > 80 {
		prompt = prompt[:80]
	}
	f.mu.Lock()
	confidence := 0.6 + f.rng.Float64()*0.35
	f.mu.Unlock()
	return &Reply{
		Text:       fmt.Sprintf("[%s] %s ... -> draft answer", role, prompt),
		Confidence: confidence,
		Provider:   "fake",
	}, nil
}
