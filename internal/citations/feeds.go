package citations

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"unicode"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
)

const feedConcurrency = 4

// FeedDiscoverer turns authority news feeds into candidate citations
type FeedDiscoverer struct {
	client    *http.Client
	feeds     []string
	validator *DomainValidator
	logger    *zap.Logger
}

// NewFeedDiscoverer creates a discoverer over the given RSS/Atom feed URLs.
// A nil client uses http.DefaultClient.
func NewFeedDiscoverer(feeds []string, validator *DomainValidator, client *http.Client, logger *zap.Logger) *FeedDiscoverer {
	if client == nil {
		client = http.DefaultClient
	}
	return &FeedDiscoverer{
		client:    client,
		feeds:     feeds,
		validator: validator,
		logger:    logging.OrNop(logger),
	}
}

// newParser returns a parser for one fetch. gofeed.Parser fills its client
// and translators lazily, so parsers are not shared between goroutines.
func (d *FeedDiscoverer) newParser() *gofeed.Parser {
	parser := gofeed.NewParser()
	parser.UserAgent = UserAgent
	parser.Client = d.client
	return parser
}

type feedMatch struct {
	candidate model.CitationCandidate
	score     int
}

// Discover returns up to limit feed items whose title or description shares
// keywords with topic, best matches first. Feeds that fail to load are
// logged and skipped.
func (d *FeedDiscoverer) Discover(ctx context.Context, topic string, limit int) ([]model.CitationCandidate, error) {
	keywords := Keywords(topic)
	if len(d.feeds) == 0 || len(keywords) == 0 {
		return nil, nil
	}

	perFeed := make([][]feedMatch, len(d.feeds))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(feedConcurrency)
	for i, feedURL := range d.feeds {
		g.Go(func() error {
			feed, err := d.newParser().ParseURLWithContext(feedURL, gctx)
			if err != nil {
				d.logger.Warn("feed unavailable", zap.String("feed", feedURL), zap.Error(err))
				return nil
			}
			perFeed[i] = d.match(feed, keywords)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var matches []feedMatch
	seen := map[string]bool{}
	for _, fm := range perFeed {
		for _, m := range fm {
			if seen[m.candidate.URL] {
				continue
			}
			seen[m.candidate.URL] = true
			matches = append(matches, m)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]model.CitationCandidate, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.candidate)
	}
	return out, nil
}

func (d *FeedDiscoverer) match(feed *gofeed.Feed, keywords []string) []feedMatch {
	var out []feedMatch
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		text := strings.ToLower(item.Title + " " + item.Description)
		score := 0
		for _, k := range keywords {
			if strings.Contains(text, k) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		verdict := d.validator.Check(item.Link)
		if !verdict.Allowed {
			continue
		}
		source := feed.Title
		if source == "" {
			source = verdict.Domain
		}
		out = append(out, feedMatch{
			candidate: model.CitationCandidate{
				URL:       item.Link,
				Source:    source,
				Title:     strings.TrimSpace(item.Title),
				Excerpt:   prefix(strings.TrimSpace(item.Description), maxExcerptRunes),
				Domain:    verdict.Domain,
				Authority: verdict.Authority,
			},
			score: score,
		})
	}
	return out
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "your": true, "from": true,
	"what": true, "how": true, "when": true, "why": true, "are": true, "you": true,
	"into": true, "about": true, "this": true, "that": true, "guide": true, "2025": true, "2026": true,
}

// Keywords lowercases topic and keeps its distinct words longer than three
// letters that are not stop words
func Keywords(topic string) []string {
	fields := strings.FieldsFunc(strings.ToLower(topic), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	seen := map[string]bool{}
	for _, f := range fields {
		if len([]rune(f)) <= 3 || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
