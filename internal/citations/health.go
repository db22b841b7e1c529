package citations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/util"
	"github.com/delsolprime/backoffice/internal/worker"
)

const (
	healthMaxAttempts = 2
	maxTitleBody      = 512 << 10
	healthLimiterKey  = "citations:health"

	// UserAgent identifies outbound citation requests
	UserAgent = "Mozilla/5.0 (compatible; DelSolPrimeBot/1.0; +https://www.delsolprimehomes.com)"
)

// healthSleepFunc is the sleep used between retries (injectable for tests)
var healthSleepFunc = time.Sleep

// HealthChecker probes outbound citation URLs
type HealthChecker struct {
	httpClient    *http.Client
	limiter       *worker.Limiter
	batchDelay    time.Duration
	slowThreshold time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewHealthChecker creates a checker from the citation and proxy settings.
// A nil limiter paces nothing beyond the batch delay.
func NewHealthChecker(cfg model.CitationConfig, proxy model.ProxyConfig, limiter *worker.Limiter, logger *zap.Logger) *HealthChecker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 5 * time.Second
	}
	if limiter == nil {
		limiter = worker.NewLimiter(1000, 1000)
	}
	return &HealthChecker{
		httpClient:    util.NewHTTPClient(cfg.Timeout, proxy.HTTPProxy, proxy.HTTPSProxy, proxy.NoProxy),
		limiter:       limiter,
		batchDelay:    cfg.BatchDelay,
		slowThreshold: cfg.SlowThreshold,
		logger:        logging.OrNop(logger),
		now:           time.Now,
	}
}

// Check probes one URL with HEAD, falling back to GET when the server
// refuses HEAD (405 or 403). The GET response, when made, decides the status.
func (h *HealthChecker) Check(ctx context.Context, rawURL string) model.CitationHealth {
	var result model.CitationHealth
	for attempt := 1; attempt <= healthMaxAttempts; attempt++ {
		result = h.checkOnce(ctx, rawURL)
		if !retryableStatus(result.HTTPStatusCode) || attempt == healthMaxAttempts || ctx.Err() != nil {
			break
		}
		healthSleepFunc(time.Duration(attempt) * time.Second)
	}
	return result
}

func (h *HealthChecker) checkOnce(ctx context.Context, rawURL string) model.CitationHealth {
	result := model.CitationHealth{URL: rawURL, LastCheckedAt: h.now().UTC()}
	start := time.Now()

	resp, err := h.do(ctx, http.MethodHead, rawURL)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusForbidden) {
		_ = resp.Body.Close()
		resp, err = h.do(ctx, http.MethodGet, rawURL)
		if err == nil && resp.StatusCode < 300 {
			result.PageTitle = pageTitle(resp.Body)
		}
	}
	result.ResponseTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		result.Status = model.HealthUnreachable
		result.Error = err.Error()
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	result.HTTPStatusCode = resp.StatusCode
	finalURL := resp.Request.URL.String()
	redirected := finalURL != rawURL
	if redirected {
		result.RedirectURL = finalURL
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		switch {
		case time.Duration(result.ResponseTimeMS)*time.Millisecond > h.slowThreshold:
			result.Status = model.HealthSlow
		case redirected:
			result.Status = model.HealthRedirected
		default:
			result.Status = model.HealthHealthy
		}
	case resp.StatusCode >= 400:
		result.Status = model.HealthBroken
	default:
		result.Status = model.HealthUnreachable
	}
	return result
}

func (h *HealthChecker) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code < 600)
}

func pageTitle(body io.Reader) string {
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(body, maxTitleBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// CheckAll probes urls one at a time, pausing batchDelay between requests
func (h *HealthChecker) CheckAll(ctx context.Context, urls []string) []model.CitationHealth {
	results := make([]model.CitationHealth, 0, len(urls))
	for i, u := range urls {
		if i > 0 {
			if err := h.limiter.WaitWithDelay(ctx, healthLimiterKey, h.batchDelay); err != nil {
				break
			}
		}
		r := h.Check(ctx, u)
		h.logger.Debug("citation checked",
			zap.String("url", u),
			zap.String("status", string(r.Status)),
			zap.Int64("response_time_ms", r.ResponseTimeMS))
		results = append(results, r)
	}
	return results
}

// HealthStore is the persistence the health sweep needs
type HealthStore interface {
	PendingCitationURLs(ctx context.Context, limit int) ([]string, int, error)
	UpsertCitationHealth(ctx context.Context, results []model.CitationHealth) error
}

// SweepResult summarizes one health sweep
type SweepResult struct {
	Success     bool      `json:"success"`
	Checked     int       `json:"checked"`
	Healthy     int       `json:"healthy"`
	Broken      int       `json:"broken"`
	Unreachable int       `json:"unreachable"`
	Redirected  int       `json:"redirected"`
	Slow        int       `json:"slow"`
	Remaining   int       `json:"remaining"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sweep checks the next batchSize never-checked URLs and stores the results
func (h *HealthChecker) Sweep(ctx context.Context, st HealthStore, batchSize int) (*SweepResult, error) {
	if batchSize <= 0 {
		batchSize = 25
	}
	urls, pending, err := st.PendingCitationURLs(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("load pending citations: %w", err)
	}
	res := &SweepResult{Success: true, Timestamp: h.now().UTC()}
	if len(urls) == 0 {
		res.Message = "All citations have been checked"
		return res, nil
	}

	results := h.CheckAll(ctx, urls)
	if err := st.UpsertCitationHealth(ctx, results); err != nil {
		return nil, fmt.Errorf("store citation health: %w", err)
	}
	for _, r := range results {
		switch r.Status {
		case model.HealthHealthy:
			res.Healthy++
		case model.HealthBroken:
			res.Broken++
		case model.HealthUnreachable:
			res.Unreachable++
		case model.HealthRedirected:
			res.Redirected++
		case model.HealthSlow:
			res.Slow++
		}
	}
	res.Checked = len(results)
	res.Remaining = max(0, pending-res.Checked)

	h.logger.Info("citation health sweep complete",
		zap.Int("checked", res.Checked),
		zap.Int("broken", res.Broken),
		zap.Int("unreachable", res.Unreachable),
		zap.Int("remaining", res.Remaining))
	return res, nil
}
