package sitemap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delsolprime/backoffice/internal/cache"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

type fakeSource struct {
	refs  map[store.PageTable][]model.PageRef
	calls int
	err   error
}

func (s *fakeSource) PageRefs(ctx context.Context, table store.PageTable, lang string) ([]model.PageRef, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.refs[table], nil
}

func newGenerator(src *fakeSource, c cache.Cache) *Generator {
	g := NewGenerator(src, "", c, nil)
	g.now = func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) }
	return g
}

func TestParseType(t *testing.T) {
	assert.Equal(t, TypeBlog, ParseType("blog"))
	assert.Equal(t, TypeQA, ParseType(" QA "))
	assert.Equal(t, TypeIndex, ParseType(""))
	assert.Equal(t, TypeIndex, ParseType("videos"))
	assert.Equal(t, "sitemap.xml", TypeIndex.Filename())
	assert.Equal(t, "sitemap-glossary.xml", TypeGlossary.Filename())
}

func TestGenerateIndex(t *testing.T) {
	data, err := newGenerator(&fakeSource{}, nil).Generate(context.Background(), TypeIndex)
	require.NoError(t, err)

	xml := string(data)
	assert.True(t, strings.HasPrefix(xml, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, xml, `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	assert.Contains(t, xml, "<loc>https://www.delsolprimehomes.com/sitemap-blog.xml</loc>")
	assert.Contains(t, xml, "<loc>https://www.delsolprimehomes.com/sitemap-locations.xml</loc>")
	assert.Equal(t, 4, strings.Count(xml, "<sitemap>"))
	assert.Contains(t, xml, "<lastmod>2026-05-04</lastmod>")
}

func TestGenerateBlog(t *testing.T) {
	src := &fakeSource{refs: map[store.PageTable][]model.PageRef{
		store.PageArticles: {
			{Slug: "buying-guide", Language: "en", UpdatedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)},
			{Slug: "kaufratgeber-de", Language: "de"},
			{Slug: ""},
		},
	}}
	data, err := newGenerator(src, nil).Generate(context.Background(), TypeBlog)
	require.NoError(t, err)

	entries, err := ParseBytes(data)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{Loc: "https://www.delsolprimehomes.com/blog", LastMod: "2026-05-04", ChangeFreq: "daily", Priority: "0.9"}, entries[0])
	assert.Equal(t, Entry{Loc: "https://www.delsolprimehomes.com/en/blog/buying-guide", LastMod: "2026-04-01", ChangeFreq: "weekly", Priority: "0.8"}, entries[1])
	assert.Equal(t, "https://www.delsolprimehomes.com/de/blog/kaufratgeber-de", entries[2].Loc)
	assert.Equal(t, "2026-05-04", entries[2].LastMod)
}

func TestGenerateQA(t *testing.T) {
	src := &fakeSource{refs: map[store.PageTable][]model.PageRef{
		store.PageQA: {{Slug: "what-is-nie", Language: "en"}},
	}}
	data, err := newGenerator(src, nil).Generate(context.Background(), TypeQA)
	require.NoError(t, err)

	entries, err := ParseBytes(data)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "0.85", entries[0].Priority)
	assert.Equal(t, "0.75", entries[1].Priority)
	assert.Equal(t, "https://www.delsolprimehomes.com/en/qa/what-is-nie", entries[1].Loc)
}

func TestGenerateStatic(t *testing.T) {
	g := newGenerator(&fakeSource{}, nil)

	data, err := g.Generate(context.Background(), TypeGlossary)
	require.NoError(t, err)
	entries, err := ParseBytes(data)
	require.NoError(t, err)
	assert.Len(t, entries, 21)
	assert.Equal(t, "https://www.delsolprimehomes.com/glossary#nie-number", entries[1].Loc)
	assert.Equal(t, "https://www.delsolprimehomes.com/glossary#autonomo", entries[16].Loc)

	data, err = g.Generate(context.Background(), TypeLocations)
	require.NoError(t, err)
	entries, err = ParseBytes(data)
	require.NoError(t, err)
	assert.Len(t, entries, 11)
	assert.Equal(t, "1.0", entries[0].Priority)
	assert.Equal(t, "https://www.delsolprimehomes.com/brochure/marbella", entries[1].Loc)
}

func TestGenerateCachesAndInvalidates(t *testing.T) {
	src := &fakeSource{refs: map[store.PageTable][]model.PageRef{store.PageArticles: {{Slug: "a", Language: "en"}}}}
	g := newGenerator(src, cache.NewMemoryCache(time.Hour, time.Hour))

	first, err := g.Generate(context.Background(), TypeBlog)
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), TypeBlog)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.calls)

	g.Invalidate(context.Background())
	_, err = g.Generate(context.Background(), TypeBlog)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestGenerateSourceError(t *testing.T) {
	_, err := newGenerator(&fakeSource{err: errors.New("db down")}, nil).Generate(context.Background(), TypeQA)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list qa pages")
}

func TestParserFollowsIndex(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%[1]s/sitemap-blog.xml</loc></sitemap>
  <sitemap><loc>%[1]s/missing.xml</loc></sitemap>
</sitemapindex>`, server.URL)
		case "/sitemap-blog.xml":
			_, _ = fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/en/blog/a</loc><lastmod>2026-01-02</lastmod></url>
  <url><loc></loc></url>
  <url><loc>https://example.com/en/blog/b</loc></url>
</urlset>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	entries, err := NewParser(server.Client(), "test", nil).ParseURL(context.Background(), server.URL+"/sitemap.xml")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/en/blog/a", "https://example.com/en/blog/b"}, Locations(entries))
	assert.Equal(t, "2026-01-02", entries[0].LastMod)
}

func TestParserEmptyIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sitemap.xml" {
			_, _ = fmt.Fprint(w, `<sitemapindex><sitemap><loc>http://127.0.0.1:1/x.xml</loc></sitemap></sitemapindex>`)
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := NewParser(server.Client(), "", nil).ParseURL(context.Background(), server.URL+"/sitemap.xml")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestParseBytesIndex(t *testing.T) {
	entries, err := ParseBytes([]byte(`<sitemapindex><sitemap><loc>https://x/a.xml</loc></sitemap></sitemapindex>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x/a.xml"}, Locations(entries))

	_, err = ParseBytes([]byte("not xml"))
	assert.Error(t, err)
}
