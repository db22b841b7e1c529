package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ChatClient posts plain-text alerts to an incoming webhook
type ChatClient struct {
	webhookURL string
	httpClient *http.Client
}

// NewChatClient creates a client. An empty URL yields a client whose Post
// returns ErrNotConfigured.
func NewChatClient(webhookURL string, httpClient *http.Client) *ChatClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ChatClient{webhookURL: webhookURL, httpClient: httpClient}
}

// Configured reports whether a webhook URL is set
func (c *ChatClient) Configured() bool {
	return c != nil && c.webhookURL != ""
}

// Post sends {"text": text}
func (c *ChatClient) Post(ctx context.Context, text string) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post chat message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
	}
	return nil
}
