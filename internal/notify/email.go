// Package notify sends outbound messages: transactional email through the
// Resend API and short alerts to a team-chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/logging"
)

// ErrNotConfigured is returned when a client has no credentials or endpoint
var ErrNotConfigured = errors.New("notification channel not configured")

// Email is one outbound message
type Email struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// APIError is a non-2xx answer from the email API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("email API error (status %d): %s", e.StatusCode, e.Message)
}

// EmailClient posts messages to the Resend API
type EmailClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewEmailClient creates a client. An empty baseURL means https://api.resend.com.
func NewEmailClient(apiKey, baseURL string, httpClient *http.Client, logger *zap.Logger) *EmailClient {
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &EmailClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		logger:     logging.OrNop(logger),
	}
}

// Configured reports whether an API key is set
func (c *EmailClient) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Send delivers one message and returns the provider message id
func (c *EmailClient) Send(ctx context.Context, email Email) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}
	if len(email.To) == 0 {
		return "", fmt.Errorf("email %q has no recipients", email.Subject)
	}

	body, err := json.Marshal(email)
	if err != nil {
		return "", fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(respBody)
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return "", &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	c.logger.Debug("email sent",
		zap.String("id", out.ID),
		zap.Strings("to", email.To),
		zap.String("subject", email.Subject))
	return out.ID, nil
}
