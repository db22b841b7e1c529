package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// retrySleepFunc is overridden in tests
var retrySleepFunc = sleepContext

// RetryProvider wraps a Provider with bounded retries on rate limits and 5xx
type RetryProvider struct {
	Provider
	maxAttempts int
}

// WithRetry wraps p. maxAttempts <= 0 means 3.
func WithRetry(p Provider, maxAttempts int) *RetryProvider {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RetryProvider{Provider: p, maxAttempts: maxAttempts}
}

// Complete retries the wrapped provider, waiting attempt*2s between tries
func (r *RetryProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		resp, err := r.Provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !isRetryableError(err) || attempt == r.maxAttempts {
			break
		}
		if err := retrySleepFunc(ctx, time.Duration(attempt)*2*time.Second); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s failed after retries: %w", r.Name(), lastErr)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.StatusCode)
	}
	var oaErr *openai.APIError
	if errors.As(err, &oaErr) {
		return retryableStatus(oaErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return retryableStatus(gErr.Code)
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429")
}

func retryableStatus(code int) bool {
	return code == 429 || code >= 500
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
