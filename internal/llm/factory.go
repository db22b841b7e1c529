package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/delsolprime/backoffice/internal/model"
)

// NewProvider creates a provider from configuration. An empty provider name
// disables LLM features and returns nil, nil.
func NewProvider(ctx context.Context, config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)
	case "anthropic", "claude":
		return NewAnthropicProvider(config)
	case "perplexity":
		return NewPerplexityProvider(config)
	case "gemini", "google":
		return NewGeminiProvider(ctx, config)
	case "ollama":
		return NewOllamaProvider(config)
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, anthropic, perplexity, gemini, ollama)", config.Provider)
	}
}

// ConfigFromModel builds the provider config for name, picking the matching key
func ConfigFromModel(cfg model.Config, name string) Config {
	c := Config{
		Provider:    name,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Timeout:     cfg.LLM.Timeout,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxAttempts: cfg.LLM.MaxAttempts,
		HTTPProxy:   cfg.Proxy.HTTPProxy,
		HTTPSProxy:  cfg.Proxy.HTTPSProxy,
		NoProxy:     cfg.Proxy.NoProxy,
	}

	switch strings.ToLower(name) {
	case "openai":
		c.APIKey = cfg.LLM.OpenAIKey
	case "anthropic", "claude":
		c.APIKey = cfg.LLM.AnthropicKey
	case "perplexity":
		c.APIKey = cfg.LLM.PerplexityKey
		// the shared model/base URL settings target the translation provider
		c.Model = ""
		c.BaseURL = ""
	case "gemini", "google":
		c.APIKey = cfg.LLM.GeminiKey
	}
	return c
}

// NewRetryingProvider builds a provider and wraps it with WithRetry
func NewRetryingProvider(ctx context.Context, config Config) (Provider, error) {
	p, err := NewProvider(ctx, config)
	if err != nil || p == nil {
		return p, err
	}
	return WithRetry(p, config.MaxAttempts), nil
}
