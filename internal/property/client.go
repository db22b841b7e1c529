// Package property proxies the Resales Online search API through the
// fixed-IP egress proxy the upstream allow-lists.
package property

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

	"github.com/delsolprime/backoffice/internal/cache"
	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/util"
)

const (
	searchPath  = "/V6/SearchProperties"
	maxAttempts = 3
)

// retrySleepFunc waits between attempts (overridden in tests)
var retrySleepFunc = func(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	// ErrMissingReference is returned for a lookup without a reference
	ErrMissingReference = errors.New("property reference is required")

	// ErrNotFound is returned when the upstream has no listing for a reference
	ErrNotFound = errors.New("property not found")

	// ErrNotConfigured is returned when p1 or p2 credentials are missing
	ErrNotConfigured = errors.New("missing Resales credentials")
)

// languageCodes maps site languages onto P_Lang values
var languageCodes = map[string]int{
	"en": 1, "es": 2, "de": 3, "fr": 4, "nl": 5, "ru": 6, "pl": 7,
	"it": 8, "pt": 9, "sv": 10, "no": 11, "da": 12, "fi": 13, "hu": 14,
}

// LanguageCode returns the P_Lang value for lang, English when unknown
func LanguageCode(lang string) int {
	if code, ok := languageCodes[strings.ToLower(lang)]; ok {
		return code
	}
	return 1
}

// APIError is a non-2xx upstream response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Resales API error: %d %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type searchRequest struct {
	P1      string `json:"p1"`
	P2      string `json:"p2"`
	Lang    int    `json:"P_Lang"`
	Sandbox string `json:"P_sandbox"`
	RefID   string `json:"P_RefId"`
}

type searchResponse struct {
	Property []Raw `json:"Property"`
}

// Client looks listings up by reference
type Client struct {
	httpClient *http.Client
	baseURL    string
	p1         []string
	p2         string
	sandbox    []string
	cache      cache.Cache
	ttl        time.Duration
	logger     *zap.Logger
}

// NewClient creates a Client whose requests egress through cfg.ProxyURL.
// c may be nil to disable caching.
func NewClient(cfg model.PropertyConfig, c cache.Cache, logger *zap.Logger) (*Client, error) {
	httpClient, err := util.NewFixedProxyClient(cfg.ProxyURL, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	sandbox := []string{"false"}
	if cfg.TrySandbox {
		sandbox = append(sandbox, "true")
	}
	var p1 []string
	for _, v := range cfg.P1 {
		if v = strings.TrimSpace(v); v != "" {
			p1 = append(p1, v)
		}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		p1:         p1,
		p2:         cfg.APIKey,
		sandbox:    sandbox,
		cache:      c,
		ttl:        cfg.CacheTTL,
		logger:     logging.OrNop(logger),
	}, nil
}

// Details fetches and normalizes one listing. Every p1 candidate is tried
// against every sandbox mode; only a 400 moves on to the next combination.
func (c *Client) Details(ctx context.Context, reference, lang string) (*Property, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrMissingReference
	}
	if c.p2 == "" || len(c.p1) == 0 {
		return nil, ErrNotConfigured
	}
	langCode := LanguageCode(lang)

	key := cache.Key("property", reference, fmt.Sprint(langCode))
	if c.cache != nil {
		if data, ok := c.cache.Get(ctx, key); ok {
			var p Property
			if err := json.Unmarshal(data, &p); err == nil {
				return &p, nil
			}
		}
	}

	var lastErr error
	for i, p1 := range c.p1 {
		for _, sandbox := range c.sandbox {
			raw, err := c.searchWithRetry(ctx, searchRequest{P1: p1, P2: c.p2, Lang: langCode, Sandbox: sandbox, RefID: reference})
			if err == nil {
				if raw == nil {
					return nil, fmt.Errorf("%w: %s", ErrNotFound, reference)
				}
				p := Normalize(raw)
				c.store(ctx, key, &p)
				return &p, nil
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
				return nil, err
			}
			c.logger.Warn("property lookup rejected",
				zap.String("reference", reference),
				zap.Int("p1_candidate", i),
				zap.String("sandbox", sandbox),
				zap.Int("status", apiErr.StatusCode))
			lastErr = err
		}
	}
	return nil, lastErr
}

// searchWithRetry repeats 429 and 5xx answers, waiting attempt*2s between tries
func (c *Client) searchWithRetry(ctx context.Context, body searchRequest) (Raw, error) {
	for attempt := 1; ; attempt++ {
		raw, err := c.search(ctx, body)
		var apiErr *APIError
		if err == nil || attempt == maxAttempts || !errors.As(err, &apiErr) || !retryable(apiErr.StatusCode) {
			return raw, err
		}
		c.logger.Debug("retrying property lookup",
			zap.String("reference", body.RefID),
			zap.Int("attempt", attempt),
			zap.Int("status", apiErr.StatusCode))
		if sleepErr := retrySleepFunc(ctx, time.Duration(attempt)*2*time.Second); sleepErr != nil {
			return nil, sleepErr
		}
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) search(ctx context.Context, body searchRequest) (Raw, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call Resales API: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read Resales response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out searchResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode Resales response: %w", err)
	}
	if len(out.Property) == 0 {
		return nil, nil
	}
	return out.Property[0], nil
}

func (c *Client) store(ctx context.Context, key string, p *Property) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Debug("cache property", zap.String("reference", p.Reference), zap.Error(err))
	}
}
