package citations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delsolprime/backoffice/internal/cache"
	"github.com/delsolprime/backoffice/internal/llm"
	"github.com/delsolprime/backoffice/internal/model"
)

func init() {
	healthSleepFunc = func(time.Duration) {}
}

func TestDomainValidator_Check(t *testing.T) {
	v := NewDomainValidator(nil, []string{"spam.example"})

	tests := []struct {
		url       string
		allowed   bool
		authority string
		reason    string
	}{
		{"https://www.boe.es/buscar/doc.php", true, AuthorityApproved, ""},
		{"https://news.bbc.com/world", true, AuthorityApproved, ""},
		{"https://www.inclusion.gob.es/en/", true, AuthorityGovernment, ""},
		{"https://www.gov.uk/buy-property", true, AuthorityGovernment, ""},
		{"https://www.idealista.com/en/news", false, "", "blocked domain"},
		{"https://blog.spam.example/a", false, "", "blocked domain"},
		{"https://marbella-realestate.com/villas", false, "", "competitor domain"},
		{"https://www.costa-properties.es", false, "", "competitor domain"},
		{"https://www.huizen-spanje.nl", false, "", "competitor domain"},
		{"https://www.weather.com/forecast", true, AuthorityGeneral, ""},
		{"not a url", false, "", "invalid URL"},
	}
	for _, tt := range tests {
		got := v.Check(tt.url)
		assert.Equal(t, tt.allowed, got.Allowed, tt.url)
		assert.Equal(t, tt.authority, got.Authority, tt.url)
		assert.Equal(t, tt.reason, got.Reason, tt.url)
	}
}

type blockedList []string

func (b blockedList) BlockedDomains(ctx context.Context) ([]string, error) { return b, nil }

func TestDomainValidator_LoadBlocked(t *testing.T) {
	v := NewDomainValidator(nil, nil)
	assert.True(t, v.Check("https://www.reuters.com/a").Allowed)

	n, err := v.LoadBlocked(context.Background(), blockedList{"Reuters.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, v.Check("https://www.reuters.com/a").Allowed)
}

func TestExtractLinks(t *testing.T) {
	body := `<p>See <a href="https://www.ine.es/stats#top">the <b>INE</b> data</a>,
		<a href="/en/blog/costs">costs</a>, <a href="#ref1">[1]</a>,
		<a href="mailto:info@example.com">mail</a>, <a href="javascript:void(0)">js</a>,
		<a href="https://www.ine.es/stats" rel="nofollow">again</a></p>`

	links, err := ExtractLinks(body, "https://www.delsolprimehomes.com/en/blog/guide")
	require.NoError(t, err)
	require.Len(t, links, 2)

	assert.Equal(t, "https://www.ine.es/stats", links[0].URL)
	assert.Equal(t, "ine.es", links[0].Host)
	assert.Equal(t, "the INE data", links[0].Text)
	assert.True(t, links[0].External)

	assert.Equal(t, "https://www.delsolprimehomes.com/en/blog/costs", links[1].URL)
	assert.False(t, links[1].External)

	urls, err := ExternalURLs(body, "https://www.delsolprimehomes.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.ine.es/stats"}, urls)
}

func newChecker(t *testing.T) *HealthChecker {
	t.Helper()
	cfg := model.DefaultConfig().Citation
	cfg.BatchDelay = 0
	return NewHealthChecker(cfg, model.ProxyConfig{}, nil, nil)
}

func TestHealthChecker_Healthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Contains(t, r.Header.Get("User-Agent"), "DelSolPrimeBot")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	got := newChecker(t).Check(context.Background(), server.URL)
	assert.Equal(t, model.HealthHealthy, got.Status)
	assert.Equal(t, http.StatusOK, got.HTTPStatusCode)
	assert.Empty(t, got.RedirectURL)
	assert.False(t, got.LastCheckedAt.IsZero())
}

func TestHealthChecker_Broken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	got := newChecker(t).Check(context.Background(), server.URL)
	assert.Equal(t, model.HealthBroken, got.Status)
	assert.Equal(t, http.StatusNotFound, got.HTTPStatusCode)
}

func TestHealthChecker_HeadRefusedFallsBackToGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = fmt.Fprint(w, `<html><head><title> Official Gazette </title></head><body></body></html>`)
	}))
	defer server.Close()

	got := newChecker(t).Check(context.Background(), server.URL)
	assert.Equal(t, model.HealthHealthy, got.Status)
	assert.Equal(t, "Official Gazette", got.PageTitle)
}

func TestHealthChecker_Redirected(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer final.Close()
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL+"/moved", http.StatusMovedPermanently)
	}))
	defer origin.Close()

	got := newChecker(t).Check(context.Background(), origin.URL)
	assert.Equal(t, model.HealthRedirected, got.Status)
	assert.Equal(t, final.URL+"/moved", got.RedirectURL)
}

func TestHealthChecker_Slow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := newChecker(t)
	checker.slowThreshold = 5 * time.Millisecond
	got := checker.Check(context.Background(), server.URL)
	assert.Equal(t, model.HealthSlow, got.Status)
	assert.GreaterOrEqual(t, got.ResponseTimeMS, int64(30))
}

func TestHealthChecker_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	got := newChecker(t).Check(context.Background(), url)
	assert.Equal(t, model.HealthUnreachable, got.Status)
	assert.Contains(t, got.Error, "request failed")
	assert.Zero(t, got.HTTPStatusCode)
}

func TestHealthChecker_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	got := newChecker(t).Check(context.Background(), server.URL)
	assert.Equal(t, model.HealthHealthy, got.Status)
	assert.Equal(t, int32(2), calls.Load())
}

type fakeHealthStore struct {
	pending []string
	total   int
	stored  []model.CitationHealth
}

func (s *fakeHealthStore) PendingCitationURLs(ctx context.Context, limit int) ([]string, int, error) {
	if len(s.pending) > limit {
		return s.pending[:limit], s.total, nil
	}
	return s.pending, s.total, nil
}

func (s *fakeHealthStore) UpsertCitationHealth(ctx context.Context, results []model.CitationHealth) error {
	s.stored = append(s.stored, results...)
	return nil
}

func TestHealthChecker_Sweep(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	st := &fakeHealthStore{
		pending: []string{server.URL + "/a", server.URL + "/gone", server.URL + "/b"},
		total:   10,
	}
	res, err := newChecker(t).Sweep(context.Background(), st, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Healthy)
	assert.Equal(t, 1, res.Broken)
	assert.Equal(t, 8, res.Remaining)
	assert.Len(t, st.stored, 2)

	res, err = newChecker(t).Sweep(context.Background(), &fakeHealthStore{}, 25)
	require.NoError(t, err)
	assert.Equal(t, "All citations have been checked", res.Message)
}

const articlePage = `<html><head><title>Housing statistics</title>
<meta name="description" content="Quarterly figures on home sales in Spain."></head>
<body><article><h1>Housing statistics</h1>
<p>Home sales in Andalucia rose again this quarter, with Malaga province leading the growth in transactions by foreign buyers.</p>
<p>The registry reports that average prices per square metre increased across the coast, while inland municipalities remained stable.</p>
</article></body></html>`

func TestInspector_InspectCaches(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, articlePage)
	}))
	defer server.Close()

	inspector := NewInspector(server.Client(), nil, nil, cache.NewMemoryCache(time.Minute, time.Minute), nil)
	summary, err := inspector.Inspect(context.Background(), server.URL+"/stats")
	require.NoError(t, err)
	assert.Equal(t, "Housing statistics", summary.Title)
	assert.Equal(t, http.StatusOK, summary.StatusCode)
	assert.Positive(t, summary.WordCount)

	again, err := inspector.Inspect(context.Background(), server.URL+"/stats")
	require.NoError(t, err)
	assert.Equal(t, summary.Title, again.Title)
	assert.Equal(t, int32(1), hits.Load())
}

func TestInspector_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewInspector(server.Client(), nil, nil, nil, nil).Inspect(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}

const rssFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Bank of Spain News</title>
<item><title>Mortgage rates ease in Spain</title><link>https://www.bde.es/news/mortgages</link>
<description>Average mortgage rates fell for the third month.</description></item>
<item><title>Football results</title><link>https://www.bde.es/news/football</link></item>
<item><title>Mortgage portal review</title><link>https://www.idealista.com/news/mortgage</link></item>
</channel></rss>`

func TestFeedDiscoverer_Discover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = fmt.Fprint(w, rssFeed)
	}))
	defer server.Close()

	d := NewFeedDiscoverer([]string{server.URL + "/feed", server.URL + "/broken"}, NewDomainValidator(nil, nil), nil, nil)
	got, err := d.Discover(context.Background(), "Spanish mortgage rates guide", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://www.bde.es/news/mortgages", got[0].URL)
	assert.Equal(t, "Bank of Spain News", got[0].Source)
	assert.Equal(t, AuthorityApproved, got[0].Authority)
}

type countingTransport struct {
	calls atomic.Int32
	agent atomic.Value
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	c.agent.Store(r.Header.Get("User-Agent"))
	return http.DefaultTransport.RoundTrip(r)
}

// Run with -race: feeds are fetched concurrently.
func TestFeedDiscoverer_ConcurrentFeedsUseClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = fmt.Fprint(w, rssFeed)
	}))
	defer server.Close()

	var feeds []string
	for i := 0; i < 12; i++ {
		feeds = append(feeds, fmt.Sprintf("%s/feed/%d", server.URL, i))
	}
	transport := &countingTransport{}
	client := &http.Client{Transport: transport}

	d := NewFeedDiscoverer(feeds, NewDomainValidator(nil, nil), client, nil)
	got, err := d.Discover(context.Background(), "mortgage rates", 10)
	require.NoError(t, err)

	require.Len(t, got, 1, "items are deduplicated across feeds")
	assert.Equal(t, int32(len(feeds)), transport.calls.Load())
	assert.Equal(t, UserAgent, transport.agent.Load())
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"buying", "property", "marbella"}, Keywords("How to buy: Buying property in Marbella, the 2026 guide"))
	assert.Empty(t, Keywords("the and for"))
}

type fakeProvider struct {
	text string
	err  error
	req  llm.CompletionRequest
}

func (p *fakeProvider) Name() string                         { return "perplexity" }
func (p *fakeProvider) IsAvailable(ctx context.Context) bool { return true }
func (p *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.req = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{Text: p.text}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	domains []string
}

func (r *fakeRecorder) UpsertDiscoveredDomain(ctx context.Context, domain, source string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.domains = append(r.domains, domain+"@"+source)
	return nil
}

func TestFinder_Find(t *testing.T) {
	provider := &fakeProvider{text: "```json\n" + `{"citations": [
		{"url": "https://www.boe.es/doc/1", "source": "BOE", "quote": "Transfer tax is 7%."},
		{"url": "https://www.idealista.com/news", "source": "Idealista"},
		{"url": "https://marbella-realestate.com/tax", "source": "Agency"},
		{"url": "https://www.reuters.com/markets/spain", "quote": ""},
		{"url": "https://www.boe.es/doc/1", "source": "BOE again"}
	]}` + "\n```"}
	recorder := &fakeRecorder{}
	finder := NewFinder(provider, nil, nil, nil, recorder, nil)

	res, err := finder.Find(context.Background(), FindRequest{Content: "<p>Taxes</p>", Topic: "Property taxes", Language: "de"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 5, res.Diagnostics.Proposed)
	assert.Equal(t, 2, res.Diagnostics.Blocked)

	require.Len(t, res.Citations, 2)
	assert.Equal(t, model.ExternalCitation{URL: "https://www.boe.es/doc/1", Source: "BOE", Text: "Transfer tax is 7%."}, res.Citations[0])
	assert.Equal(t, "reuters.com", res.Citations[1].Source)
	assert.Equal(t, "Source: reuters.com", res.Citations[1].Text)
	assert.Equal(t, []string{"boe.es@perplexity", "reuters.com@perplexity"}, recorder.domains)

	assert.Contains(t, provider.req.Prompt, "German article about \"Property taxes\"")
	assert.Equal(t, 2000, provider.req.MaxTokens)
}

func TestFinder_NothingUsable(t *testing.T) {
	finder := NewFinder(&fakeProvider{text: "I could not find sources."}, nil, nil, nil, nil, nil)
	res, err := finder.Find(context.Background(), FindRequest{Content: "x", Topic: "y"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "No valid citations found for this article", res.Message)
	assert.Empty(t, res.Citations)
}

func TestFinder_Errors(t *testing.T) {
	finder := NewFinder(&fakeProvider{err: errors.New("rate limited")}, nil, nil, nil, nil, nil)

	_, err := finder.Find(context.Background(), FindRequest{Topic: "y"})
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = finder.Find(context.Background(), FindRequest{Content: "x", Topic: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perplexity citation search")
}
