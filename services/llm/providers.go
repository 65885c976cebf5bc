package llm

import (
	"fmt"

	"github.com/avaprime/spooky-logic/config"
	"github.com/avaprime/spooky-logic/services"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModelFactory builds models from the provider credentials in cfg.
// DeepSeek is served through its OpenAI compatible endpoint.
func NewModelFactory(cfg config.ProvidersConfig) ModelFactory {
	return func(provider, model string) (llms.Model, error) {
		switch provider {
		case ProviderOpenAI:
			opts := []openai.Option{openai.WithToken(cfg.OpenAI.APIKey), openai.WithModel(model)}
			if cfg.OpenAI.BaseURL != "" {
				opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
			}
			m, err := openai.New(opts...)
			return checked(provider, m, err)
		case ProviderDeepSeek:
			m, err := openai.New(
				openai.WithToken(cfg.DeepSeek.APIKey),
				openai.WithBaseURL(cfg.DeepSeek.BaseURL),
				openai.WithModel(model),
			)
			return checked(provider, m, err)
		case ProviderAnthropic:
			m, err := anthropic.New(
				anthropic.WithToken(cfg.Anthropic.APIKey),
				anthropic.WithModel(model),
			)
			return checked(provider, m, err)
		case ProviderOllama:
			m, err := ollama.New(
				ollama.WithServerURL(cfg.Ollama.URL),
				ollama.WithModel(model),
			)
			return checked(provider, m, err)
		}
		return nil, services.NewDomainError(services.ErrorTypeValidation,
			fmt.Sprintf("provider '%s' is not supported", provider), nil)
	}
}

func checked(provider string, m llms.Model, err error) (llms.Model, error) {
	if err != nil {
		return nil, services.WrapExternal(fmt.Sprintf("failed to initialise %s client", provider), err)
	}
	return m, nil
}
