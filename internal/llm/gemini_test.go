package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiProvider_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.5-flash:generateContent"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": " Bonjour "}]}}],
			"usageMetadata": {"totalTokenCount": 12}
		}`))
	}))
	defer server.Close()

	provider, err := NewGeminiProvider(context.Background(), Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5})
	require.NoError(t, err)
	assert.Equal(t, "gemini", provider.Name())

	resp, err := provider.Complete(context.Background(), CompletionRequest{System: "Translate.", Prompt: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", resp.Text)
	assert.Equal(t, 12, resp.TokensUsed)
}

func TestGeminiProvider_MissingKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()

	p, err := NewProvider(ctx, Config{})
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewProvider(ctx, Config{Provider: "bard"})
	assert.Error(t, err)

	p, err = NewProvider(ctx, Config{Provider: "Claude", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	p, err = NewRetryingProvider(ctx, Config{Provider: "perplexity", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "perplexity", p.Name())
	_, wrapped := p.(*RetryProvider)
	assert.True(t, wrapped)
}
