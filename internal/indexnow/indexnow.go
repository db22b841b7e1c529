// Package indexnow submits changed URLs to IndexNow search engines.
package indexnow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
)

const (
	// MaxURLs is the IndexNow per-request limit
	MaxURLs = 10000

	maxAttempts = 3
)

// pingSleepFunc waits between attempts (overridden in tests)
var pingSleepFunc = func(ctx context.Context, d time.Duration) error {
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
	// ErrNoURLs is returned when a request names neither urls nor table+slug
	ErrNoURLs = errors.New("missing required parameters: urls OR (table + slug)")

	// ErrNoKey is returned when no IndexNow key is configured
	ErrNoKey = errors.New("IndexNow API key not configured")
)

// sections maps content tables onto their public path segment
var sections = map[string]string{
	"blog_articles":    "blog",
	"qa_pages":         "qa",
	"location_pages":   "locations",
	"comparison_pages": "compare",
}

// Request is either an explicit URL list or a table+slug to expand
type Request struct {
	URLs   []string `json:"urls,omitempty"`
	Table  string   `json:"table,omitempty"`
	Slug   string   `json:"slug,omitempty"`
	Action string   `json:"action,omitempty"`
}

// EndpointResult is the outcome for one search engine
type EndpointResult struct {
	Endpoint string `json:"endpoint"`
	Status   int    `json:"status"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Result summarizes a submission
type Result struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message"`
	URLCount     int              `json:"urlCount"`
	Truncated    bool             `json:"truncated,omitempty"`
	Results      []EndpointResult `json:"results"`
	SubmittedAt  time.Time        `json:"submittedAt"`
	SuccessCount int              `json:"successCount"`
}

type payload struct {
	Host        string   `json:"host"`
	Key         string   `json:"key"`
	KeyLocation string   `json:"keyLocation"`
	URLList     []string `json:"urlList"`
}

// Client pings every configured endpoint
type Client struct {
	httpClient *http.Client
	baseURL    string
	host       string
	key        string
	keyLoc     string
	endpoints  []string
	languages  []string
	logger     *zap.Logger
}

// NewClient creates a Client for the site at baseURL
func NewClient(cfg model.IndexNowConfig, site model.SiteConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	baseURL := strings.TrimRight(site.BaseURL, "/")
	host := baseURL
	if parsed, err := url.Parse(baseURL); err == nil && parsed.Host != "" {
		host = parsed.Host
	}
	keyLoc := cfg.KeyLocation
	if keyLoc == "" {
		keyLoc = baseURL + "/indexnow-key.txt"
	}
	languages := site.Languages
	if len(languages) == 0 {
		languages = model.Languages
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		host:       host,
		key:        cfg.Key,
		keyLoc:     keyLoc,
		endpoints:  cfg.Endpoints,
		languages:  languages,
		logger:     logging.OrNop(logger),
	}
}

// BuildURLs expands a content row into its public URL in every language,
// English first. Unknown tables map to a single root path.
func (c *Client) BuildURLs(table, slug string) []string {
	section, ok := sections[table]
	if !ok {
		return []string{c.baseURL + "/" + slug}
	}
	urls := []string{fmt.Sprintf("%s/en/%s/%s", c.baseURL, section, slug)}
	for _, lang := range c.languages {
		if lang == "en" {
			continue
		}
		urls = append(urls, fmt.Sprintf("%s/%s/%s/%s", c.baseURL, lang, section, slug))
	}
	return urls
}

// Resolve turns a Request into the URL list to submit
func (c *Client) Resolve(req Request) ([]string, error) {
	if len(req.URLs) > 0 {
		return req.URLs, nil
	}
	if req.Table != "" && req.Slug != "" {
		return c.BuildURLs(req.Table, req.Slug), nil
	}
	return nil, ErrNoURLs
}

// Submit pings all endpoints in parallel. Success means at least one
// endpoint answered 200 or 202.
func (c *Client) Submit(ctx context.Context, urls []string) (*Result, error) {
	if c.key == "" {
		return nil, ErrNoKey
	}
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}
	res := &Result{SubmittedAt: time.Now().UTC()}
	if len(urls) > MaxURLs {
		urls = urls[:MaxURLs]
		res.Truncated = true
		c.logger.Warn("truncated URL list to IndexNow limit", zap.Int("limit", MaxURLs))
	}
	res.URLCount = len(urls)

	body, err := json.Marshal(payload{Host: c.host, Key: c.key, KeyLocation: c.keyLoc, URLList: urls})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	res.Results = make([]EndpointResult, len(c.endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, endpoint := range c.endpoints {
		g.Go(func() error {
			res.Results[i] = c.ping(gctx, endpoint, body)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range res.Results {
		if r.Success {
			res.SuccessCount++
		}
		c.logger.Info("indexnow ping",
			zap.String("endpoint", r.Endpoint),
			zap.Int("status", r.Status),
			zap.Bool("success", r.Success),
			zap.String("error", r.Error))
	}
	res.Success = res.SuccessCount > 0
	if res.Success {
		res.Message = fmt.Sprintf("Submitted %d URLs to %d search engines", res.URLCount, res.SuccessCount)
	} else {
		res.Message = "All IndexNow submissions failed"
	}
	return res, ctx.Err()
}

// ping posts body to one endpoint, retrying 429 and 5xx answers
func (c *Client) ping(ctx context.Context, endpoint string, body []byte) EndpointResult {
	var out EndpointResult
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out = c.pingOnce(ctx, endpoint, body)
		retry := out.Status == http.StatusTooManyRequests || out.Status >= 500
		if !retry || attempt == maxAttempts {
			break
		}
		if err := pingSleepFunc(ctx, time.Duration(attempt)*2*time.Second); err != nil {
			out.Error = err.Error()
			break
		}
	}
	return out
}

func (c *Client) pingOnce(ctx context.Context, endpoint string, body []byte) EndpointResult {
	out := EndpointResult{Endpoint: endpoint}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		out.Error = err.Error()
		return out
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	_ = resp.Body.Close()
	out.Status = resp.StatusCode
	out.Success = resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted
	return out
}
