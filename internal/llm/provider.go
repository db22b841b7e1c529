package llm

import (
	"context"
	"fmt"
)

// Provider is a chat-completion backend
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete runs one system+user exchange and returns the assistant text
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is configured and reachable
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest is the provider-neutral input
type CompletionRequest struct {
	System string
	Prompt string

	// Model overrides the configured model when set
	Model string

	MaxTokens   int
	Temperature float32

	// JSON asks the backend for a JSON object when it supports a response format
	JSON bool
}

// CompletionResponse is the provider-neutral output
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "perplexity", "gemini", "ollama", ""
	Provider string

	Model   string
	APIKey  string
	BaseURL string

	// Timeout for API requests in seconds
	Timeout int

	MaxTokens   int
	MaxAttempts int

	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "", // disabled
		Timeout:     120,
		MaxTokens:   8000,
		MaxAttempts: 3,
	}
}

// APIError is returned by the plain-HTTP providers for non-2xx responses
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (%d): %s", e.Provider, e.StatusCode, e.Message)
}

func (c Config) maxTokens(req CompletionRequest, fallback int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return fallback
}

func (c Config) model(req CompletionRequest, fallback string) string {
	if req.Model != "" {
		return req.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return fallback
}

func temperature(req CompletionRequest) float32 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	return 0.3
}
