// Package audit crawls the public site and reports broken links.
package audit

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/util"
)

// ErrNoSeeds is returned when Audit is given nothing to crawl
var ErrNoSeeds = errors.New("at least one seed URL is required")

// Options tunes a crawl
type Options struct {
	MaxPages    int
	MaxDepth    int
	Parallelism int
	Delay       time.Duration
	Timeout     time.Duration
	UserAgent   string
	MaxExternal int // External URLs handed to the checker; 0 disables the check
	Proxy       model.ProxyConfig
}

// DefaultOptions returns a polite crawl of up to 500 pages
func DefaultOptions() Options {
	return Options{
		MaxPages:    500,
		MaxDepth:    4,
		Parallelism: 2,
		Delay:       250 * time.Millisecond,
		Timeout:     15 * time.Second,
		UserAgent:   "DelSolBackoffice/1.0 (+https://www.delsolprimehomes.com)",
		MaxExternal: 200,
	}
}

// ExternalChecker probes outbound links found during the crawl
type ExternalChecker interface {
	CheckAll(ctx context.Context, urls []string) []model.CitationHealth
}

// BrokenLink is an internal URL that failed, with the pages linking to it
type BrokenLink struct {
	URL        string   `json:"url"`
	StatusCode int      `json:"statusCode"`
	Error      string   `json:"error,omitempty"`
	Referrers  []string `json:"referrers"`
}

// Report is the outcome of one crawl
type Report struct {
	Seeds      []string               `json:"seeds"`
	Pages      int                    `json:"pages"`
	Broken     []BrokenLink           `json:"broken"`
	Blocked    []string               `json:"blocked,omitempty"`
	External   []model.CitationHealth `json:"external,omitempty"`
	Truncated  bool                   `json:"truncated,omitempty"`
	DurationMS int64                  `json:"durationMs"`
}

// LinkAuditor crawls same-host pages, honoring robots.txt
type LinkAuditor struct {
	opts     Options
	robots   *util.RobotsChecker
	external ExternalChecker
	logger   *zap.Logger
}

// NewLinkAuditor creates an auditor. external may be nil.
func NewLinkAuditor(opts Options, robots *util.RobotsChecker, external ExternalChecker, logger *zap.Logger) *LinkAuditor {
	def := DefaultOptions()
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = def.MaxDepth
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = def.Parallelism
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if robots == nil {
		robots = util.NewRobotsChecker(opts.UserAgent, opts.Timeout, time.Hour)
	}
	return &LinkAuditor{opts: opts, robots: robots, external: external, logger: logging.OrNop(logger)}
}

// crawl holds the shared state of one Audit call
type crawl struct {
	mu        sync.Mutex
	hosts     map[string]bool
	queued    map[string]bool
	referrers map[string]map[string]bool
	broken    map[string]*BrokenLink
	external  map[string]bool
	blocked   []string
	pages     int
	truncated bool
}

// Audit crawls from seeds. Hosts of the seeds count as internal; every
// other http(s) link is external.
func (a *LinkAuditor) Audit(ctx context.Context, seeds []string) (*Report, error) {
	start := time.Now()
	st := &crawl{
		hosts:     map[string]bool{},
		queued:    map[string]bool{},
		referrers: map[string]map[string]bool{},
		broken:    map[string]*BrokenLink{},
		external:  map[string]bool{},
	}
	var valid []string
	for _, s := range seeds {
		u, err := url.Parse(s)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			a.logger.Warn("skipping invalid seed", zap.String("url", s))
			continue
		}
		st.hosts[u.Host] = true
		valid = append(valid, normalizeLink(u))
	}
	if len(valid) == 0 {
		return nil, ErrNoSeeds
	}

	c := colly.NewCollector(
		colly.UserAgent(a.opts.UserAgent),
		colly.Async(true),
		colly.IgnoreRobotsTxt(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(a.opts.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: a.opts.Parallelism,
		Delay:       a.opts.Delay,
	}); err != nil {
		return nil, err
	}
	p := a.opts.Proxy
	if p.HTTPProxy != "" || p.HTTPSProxy != "" {
		c.SetProxyFunc(util.NewProxyFunc(p.HTTPProxy, p.HTTPSProxy, p.NoProxy))
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		st.mu.Lock()
		st.pages++
		st.mu.Unlock()
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := strings.TrimSpace(e.Attr("href"))
		if skipHref(href) {
			return
		}
		target, err := url.Parse(e.Request.AbsoluteURL(href))
		if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
			return
		}
		link := normalizeLink(target)
		from := e.Request.Ctx.Get("url")
		depth, _ := strconv.Atoi(e.Request.Ctx.Get("depth"))

		if !st.hosts[target.Host] {
			st.mu.Lock()
			st.external[link] = true
			st.mu.Unlock()
			return
		}
		st.mu.Lock()
		if st.referrers[link] == nil {
			st.referrers[link] = map[string]bool{}
		}
		st.referrers[link][from] = true
		st.mu.Unlock()

		if depth+1 <= a.opts.MaxDepth {
			a.enqueue(ctx, c, st, link, depth+1)
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		link := r.Ctx.Get("url")
		if link == "" {
			link = r.Request.URL.String()
		}
		st.mu.Lock()
		st.broken[link] = &BrokenLink{URL: link, StatusCode: r.StatusCode, Error: err.Error()}
		st.mu.Unlock()
		a.logger.Debug("broken link", zap.String("url", link), zap.Int("status", r.StatusCode), zap.Error(err))
	})

	for _, seed := range valid {
		a.enqueue(ctx, c, st, seed, 0)
	}
	c.Wait()

	report := a.report(ctx, st, valid)
	report.DurationMS = time.Since(start).Milliseconds()
	a.logger.Info("link audit complete",
		zap.Int("pages", report.Pages),
		zap.Int("broken", len(report.Broken)),
		zap.Int("blocked", len(report.Blocked)),
		zap.Int("external", len(report.External)),
		zap.Bool("truncated", report.Truncated))
	return report, ctx.Err()
}

// enqueue schedules link once, unless robots.txt or the page budget forbid it
func (a *LinkAuditor) enqueue(ctx context.Context, c *colly.Collector, st *crawl, link string, depth int) {
	st.mu.Lock()
	if st.queued[link] {
		st.mu.Unlock()
		return
	}
	if len(st.queued) >= a.opts.MaxPages {
		st.truncated = true
		st.mu.Unlock()
		return
	}
	st.queued[link] = true
	st.mu.Unlock()

	allowed, _, err := a.robots.CanFetch(ctx, link)
	if err != nil || !allowed {
		st.mu.Lock()
		st.blocked = append(st.blocked, link)
		st.mu.Unlock()
		return
	}

	reqCtx := colly.NewContext()
	reqCtx.Put("url", link)
	reqCtx.Put("depth", strconv.Itoa(depth))
	if err := c.Request("GET", link, nil, reqCtx, nil); err != nil {
		a.logger.Debug("request not scheduled", zap.String("url", link), zap.Error(err))
	}
}

func (a *LinkAuditor) report(ctx context.Context, st *crawl, seeds []string) *Report {
	st.mu.Lock()
	defer st.mu.Unlock()

	r := &Report{Seeds: seeds, Pages: st.pages, Broken: []BrokenLink{}, Truncated: st.truncated}
	for link, b := range st.broken {
		b.Referrers = sortedKeys(st.referrers[link])
		r.Broken = append(r.Broken, *b)
	}
	sort.Slice(r.Broken, func(i, j int) bool { return r.Broken[i].URL < r.Broken[j].URL })
	r.Blocked = append(r.Blocked, st.blocked...)
	sort.Strings(r.Blocked)

	if a.external != nil && a.opts.MaxExternal > 0 && ctx.Err() == nil {
		ext := sortedKeys(st.external)
		if len(ext) > a.opts.MaxExternal {
			ext = ext[:a.opts.MaxExternal]
		}
		if len(ext) > 0 {
			r.External = a.external.CheckAll(ctx, ext)
		}
	}
	return r
}

func skipHref(href string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	for _, p := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func normalizeLink(u *url.URL) string {
	clean := *u
	clean.Fragment = ""
	if clean.Path == "" {
		clean.Path = "/"
	}
	return clean.String()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
