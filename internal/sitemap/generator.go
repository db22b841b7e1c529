// Package sitemap renders the public XML sitemaps and reads sitemaps back
// for crawlers and search engine pings.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/cache"
	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
	"github.com/delsolprime/backoffice/internal/translate"
)

// Type names one sitemap file
type Type string

const (
	TypeIndex     Type = "index"
	TypeBlog      Type = "blog"
	TypeQA        Type = "qa"
	TypeGlossary  Type = "glossary"
	TypeLocations Type = "locations"
)

// Types lists every sitemap in index order
var Types = []Type{TypeIndex, TypeBlog, TypeQA, TypeGlossary, TypeLocations}

const (
	// DefaultBaseURL is the public site origin
	DefaultBaseURL = "https://www.delsolprimehomes.com"

	// CacheControl is sent with every served sitemap
	CacheControl = "public, max-age=3600"

	// ContentType is sent with every served sitemap
	ContentType = "application/xml; charset=utf-8"

	xmlns    = "http://www.sitemaps.org/schemas/sitemap/0.9"
	cacheTTL = time.Hour
	dayFmt   = "2006-01-02"
)

// GlossaryTerms are the anchored entries of the glossary page
var GlossaryTerms = []string{
	"NIE Number", "Notary", "Property Transfer Tax", "Community Fees", "Plusvalia Tax",
	"Escritura", "Registro de la Propiedad", "Catastro", "IBI Tax", "Gestor",
	"Golden Visa", "Mortgage", "Power of Attorney", "Rental License", "RETA",
	"Autónomo", "Residencia", "Empadronamiento", "TIE Card", "Bank Account",
}

// LocationCities have a brochure page each
var LocationCities = []string{
	"marbella", "estepona", "mijas", "fuengirola", "benalmadena",
	"torremolinos", "malaga", "sotogrande", "manilva", "casares",
}

// ParseType maps a query value onto a Type. Anything unknown is the index.
func ParseType(s string) Type {
	for _, t := range Types {
		if string(t) == strings.ToLower(strings.TrimSpace(s)) {
			return t
		}
	}
	return TypeIndex
}

// Filename is the public path of a sitemap type
func (t Type) Filename() string {
	if t == TypeIndex {
		return "sitemap.xml"
	}
	return "sitemap-" + string(t) + ".xml"
}

// URLSet is a <urlset> document
type URLSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []URL    `xml:"url"`
}

// URL is one <url> entry
type URL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// Index is a <sitemapindex> document
type Index struct {
	XMLName  xml.Name `xml:"sitemapindex"`
	Xmlns    string   `xml:"xmlns,attr"`
	Sitemaps []Ref    `xml:"sitemap"`
}

// Ref points at a child sitemap
type Ref struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// Source lists published pages
type Source interface {
	PageRefs(ctx context.Context, table store.PageTable, lang string) ([]model.PageRef, error)
}

// Generator renders sitemaps from published content
type Generator struct {
	source  Source
	baseURL string
	cache   cache.Cache
	logger  *zap.Logger
	now     func() time.Time
}

// NewGenerator creates a Generator. c may be nil to render on every call.
func NewGenerator(source Source, baseURL string, c cache.Cache, logger *zap.Logger) *Generator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Generator{
		source:  source,
		baseURL: strings.TrimRight(baseURL, "/"),
		cache:   c,
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}
}

// Generate renders one sitemap as XML
func (g *Generator) Generate(ctx context.Context, t Type) ([]byte, error) {
	today := g.now().UTC().Format(dayFmt)
	key := cache.Key("sitemap", string(t), today)
	if g.cache != nil {
		if data, ok := g.cache.Get(ctx, key); ok {
			return data, nil
		}
	}

	var doc any
	switch t {
	case TypeBlog:
		set, err := g.pages(ctx, store.PageArticles, "blog", "0.9", "0.8", today)
		if err != nil {
			return nil, err
		}
		doc = set
	case TypeQA:
		set, err := g.pages(ctx, store.PageQA, "qa", "0.85", "0.75", today)
		if err != nil {
			return nil, err
		}
		doc = set
	case TypeGlossary:
		doc = g.glossary(today)
	case TypeLocations:
		doc = g.locations(today)
	default:
		doc = g.index(today)
	}

	data, err := render(doc)
	if err != nil {
		return nil, fmt.Errorf("render %s sitemap: %w", t, err)
	}
	if g.cache != nil {
		if err := g.cache.Set(ctx, key, data, cacheTTL); err != nil {
			g.logger.Debug("cache sitemap", zap.String("type", string(t)), zap.Error(err))
		}
	}
	return data, nil
}

// Invalidate drops today's cached copies, e.g. after a bulk publish
func (g *Generator) Invalidate(ctx context.Context) {
	if g.cache == nil {
		return
	}
	today := g.now().UTC().Format(dayFmt)
	for _, t := range Types {
		_ = g.cache.Delete(ctx, cache.Key("sitemap", string(t), today))
	}
}

func (g *Generator) index(today string) Index {
	idx := Index{Xmlns: xmlns}
	for _, t := range Types[1:] {
		idx.Sitemaps = append(idx.Sitemaps, Ref{Loc: g.baseURL + "/" + t.Filename(), LastMod: today})
	}
	return idx
}

// pages lists a section index followed by every published page of table
func (g *Generator) pages(ctx context.Context, table store.PageTable, section, indexPriority, pagePriority, today string) (URLSet, error) {
	refs, err := g.source.PageRefs(ctx, table, "")
	if err != nil {
		return URLSet{}, fmt.Errorf("list %s pages: %w", section, err)
	}
	set := URLSet{Xmlns: xmlns, URLs: make([]URL, 0, len(refs)+1)}
	set.URLs = append(set.URLs, URL{
		Loc:        g.baseURL + "/" + section,
		LastMod:    today,
		ChangeFreq: "daily",
		Priority:   indexPriority,
	})
	for _, ref := range refs {
		if ref.Slug == "" {
			continue
		}
		lastmod := today
		if !ref.UpdatedAt.IsZero() {
			lastmod = ref.UpdatedAt.UTC().Format(dayFmt)
		}
		lang := ref.Language
		if lang == "" {
			lang = "en"
		}
		set.URLs = append(set.URLs, URL{
			Loc:        fmt.Sprintf("%s/%s/%s/%s", g.baseURL, lang, section, ref.Slug),
			LastMod:    lastmod,
			ChangeFreq: "weekly",
			Priority:   pagePriority,
		})
	}
	return set, nil
}

func (g *Generator) glossary(today string) URLSet {
	set := URLSet{Xmlns: xmlns}
	set.URLs = append(set.URLs, URL{Loc: g.baseURL + "/glossary", LastMod: today, ChangeFreq: "monthly", Priority: "0.7"})
	for _, term := range GlossaryTerms {
		set.URLs = append(set.URLs, URL{
			Loc:        g.baseURL + "/glossary#" + translate.Slugify(term),
			LastMod:    today,
			ChangeFreq: "monthly",
			Priority:   "0.6",
		})
	}
	return set
}

func (g *Generator) locations(today string) URLSet {
	set := URLSet{Xmlns: xmlns}
	set.URLs = append(set.URLs, URL{Loc: g.baseURL + "/", LastMod: today, ChangeFreq: "daily", Priority: "1.0"})
	for _, city := range LocationCities {
		set.URLs = append(set.URLs, URL{
			Loc:        g.baseURL + "/brochure/" + city,
			LastMod:    today,
			ChangeFreq: "monthly",
			Priority:   "0.85",
		})
	}
	return set
}

func render(doc any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
