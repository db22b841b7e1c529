package sitemap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/logging"
)

const (
	maxIndexDepth = 3
	maxSitemap    = 50 << 20
	peekSize      = 512
)

// ErrEmpty is returned when a sitemap, or every child of an index, holds no URLs
var ErrEmpty = errors.New("sitemap has no entries")

// Entry is one page listed by a sitemap
type Entry struct {
	Loc        string `json:"loc"`
	LastMod    string `json:"lastmod,omitempty"`
	ChangeFreq string `json:"changefreq,omitempty"`
	Priority   string `json:"priority,omitempty"`
}

// Parser reads urlset and sitemapindex documents
type Parser struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewParser creates a Parser. A nil client gets a 30s timeout.
func NewParser(client *http.Client, userAgent string, logger *zap.Logger) *Parser {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Parser{client: client, userAgent: userAgent, logger: logging.OrNop(logger)}
}

// ParseURL fetches a sitemap. Indexes are followed into their children;
// a child that fails is logged and skipped.
func (p *Parser) ParseURL(ctx context.Context, sitemapURL string) ([]Entry, error) {
	return p.parseURL(ctx, sitemapURL, 0)
}

func (p *Parser) parseURL(ctx context.Context, sitemapURL string, depth int) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sitemap %s: unexpected status %d", sitemapURL, resp.StatusCode)
	}

	reader := bufio.NewReaderSize(io.LimitReader(resp.Body, maxSitemap), peekSize)
	head, _ := reader.Peek(peekSize)
	if !isIndex(head) {
		return decodeURLSet(reader)
	}

	children, err := decodeIndex(reader)
	if err != nil {
		return nil, err
	}
	if depth >= maxIndexDepth {
		return nil, fmt.Errorf("sitemap index nested deeper than %d at %s", maxIndexDepth, sitemapURL)
	}

	var all []Entry
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entries, err := p.parseURL(ctx, child, depth+1)
		if err != nil {
			p.logger.Warn("skip child sitemap", zap.String("sitemap", child), zap.Error(err))
			continue
		}
		all = append(all, entries...)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, sitemapURL)
	}
	return all, nil
}

// ParseBytes decodes a urlset. For an index it returns the child sitemap
// locations as entries without fetching them.
func ParseBytes(data []byte) ([]Entry, error) {
	if isIndex(data) {
		children, err := decodeIndex(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		entries := make([]Entry, 0, len(children))
		for _, c := range children {
			entries = append(entries, Entry{Loc: c})
		}
		return entries, nil
	}
	return decodeURLSet(bytes.NewReader(data))
}

// Locations reduces entries to their URLs
func Locations(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Loc)
	}
	return out
}

func isIndex(head []byte) bool {
	if len(head) > peekSize {
		head = head[:peekSize]
	}
	return bytes.Contains(head, []byte("<sitemapindex"))
}

func decodeURLSet(r io.Reader) ([]Entry, error) {
	var set URLSet
	if err := xml.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode sitemap XML: %w", err)
	}
	entries := make([]Entry, 0, len(set.URLs))
	for _, u := range set.URLs {
		if u.Loc == "" {
			continue
		}
		entries = append(entries, Entry{Loc: u.Loc, LastMod: u.LastMod, ChangeFreq: u.ChangeFreq, Priority: u.Priority})
	}
	return entries, nil
}

func decodeIndex(r io.Reader) ([]string, error) {
	var idx Index
	if err := xml.NewDecoder(r).Decode(&idx); err != nil {
		return nil, fmt.Errorf("decode sitemap index XML: %w", err)
	}
	urls := make([]string, 0, len(idx.Sitemaps))
	for _, ref := range idx.Sitemaps {
		if ref.Loc != "" {
			urls = append(urls, ref.Loc)
		}
	}
	return urls, nil
}
