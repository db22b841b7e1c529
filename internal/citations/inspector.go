package citations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/cache"
	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/util"
	"github.com/delsolprime/backoffice/internal/worker"
)

const (
	maxPageBody     = 4 << 20
	maxExcerptRunes = 300
	pageCacheTTL    = 24 * time.Hour
)

// ErrDisallowed is returned when robots.txt forbids fetching a page
var ErrDisallowed = errors.New("disallowed by robots.txt")

// PageSummary is what a candidate source page says about itself
type PageSummary struct {
	URL        string `json:"url"`
	FinalURL   string `json:"final_url"`
	StatusCode int    `json:"status_code"`
	Title      string `json:"title"`
	Excerpt    string `json:"excerpt"`
	SiteName   string `json:"site_name,omitempty"`
	WordCount  int    `json:"word_count"`
}

// Inspector fetches candidate pages politely and summarizes them
type Inspector struct {
	httpClient *http.Client
	robots     *util.RobotsChecker
	limiter    *worker.Limiter
	cache      cache.Cache
	logger     *zap.Logger
}

// NewInspector creates an Inspector. robots, limiter and c are optional.
func NewInspector(httpClient *http.Client, robots *util.RobotsChecker, limiter *worker.Limiter, c cache.Cache, logger *zap.Logger) *Inspector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Inspector{
		httpClient: httpClient,
		robots:     robots,
		limiter:    limiter,
		cache:      c,
		logger:     logging.OrNop(logger),
	}
}

// Inspect fetches rawURL and extracts its readable title and excerpt
func (i *Inspector) Inspect(ctx context.Context, rawURL string) (*PageSummary, error) {
	key := cache.Key("citation-page", rawURL)
	if i.cache != nil {
		if data, ok := i.cache.Get(ctx, key); ok {
			var cached PageSummary
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	if i.robots != nil {
		allowed, delay, err := i.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
		if delay > 0 && i.limiter != nil {
			i.limiter.SetRate(parsed.Host, 1/delay.Seconds(), 1)
		}
	}
	if i.limiter != nil {
		if err := i.limiter.WaitURL(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	summary, err := summarizePage(io.LimitReader(resp.Body, maxPageBody), resp.Request.URL)
	if err != nil {
		return nil, err
	}
	summary.URL = rawURL
	summary.StatusCode = resp.StatusCode

	if i.cache != nil {
		if data, err := json.Marshal(summary); err == nil {
			if err := i.cache.Set(ctx, key, data, pageCacheTTL); err != nil {
				i.logger.Debug("cache page summary", zap.String("url", rawURL), zap.Error(err))
			}
		}
	}
	return summary, nil
}

func summarizePage(body io.Reader, pageURL *url.URL) (*PageSummary, error) {
	article, err := readability.FromReader(body, pageURL)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	excerpt := strings.TrimSpace(article.Excerpt)
	if excerpt == "" {
		excerpt = text
	}
	if r := []rune(excerpt); len(r) > maxExcerptRunes {
		excerpt = string(r[:maxExcerptRunes])
	}
	return &PageSummary{
		FinalURL:  pageURL.String(),
		Title:     strings.TrimSpace(article.Title),
		Excerpt:   excerpt,
		SiteName:  article.SiteName,
		WordCount: len(strings.Fields(text)),
	}, nil
}
