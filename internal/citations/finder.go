package citations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/delsolprime/backoffice/internal/llm"
	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
)

const (
	maxPromptContent   = 4000
	finderMaxTokens    = 2000
	finderTemperature  = 0.1
	inspectConcurrency = 3
	feedCandidates     = 3
)

// ErrMissingInput is returned when content or topic is empty
var ErrMissingInput = errors.New("articleContent and articleTopic are required")

var languageNames = map[string]string{
	"en": "English", "de": "German", "nl": "Dutch", "fr": "French", "es": "Spanish",
	"pl": "Polish", "sv": "Swedish", "da": "Danish", "hu": "Hungarian", "fi": "Finnish", "no": "Norwegian",
}

const finderSystemPrompt = "You are a citation research assistant. Return ONLY valid JSON. Never include real estate or property websites."

// DomainRecorder remembers domains surfaced by discovery
type DomainRecorder interface {
	UpsertDiscoveredDomain(ctx context.Context, domain, source string, at time.Time) error
}

// FindRequest describes the article needing sources
type FindRequest struct {
	Content  string `json:"articleContent"`
	Topic    string `json:"articleTopic"`
	Language string `json:"articleLanguage"`
}

// Diagnostics explains how many proposals survived vetting
type Diagnostics struct {
	Proposed     int    `json:"rawCitationsFound"`
	Blocked      int    `json:"blockedCount"`
	FromFeeds    int    `json:"fromFeeds"`
	Inspected    int    `json:"inspected"`
	TimeElapsed  string `json:"timeElapsed"`
	ProviderName string `json:"provider"`
}

// FindResult is the outcome of a citation search
type FindResult struct {
	Success     bool                      `json:"success"`
	Message     string                    `json:"message,omitempty"`
	Citations   []model.ExternalCitation  `json:"citations"`
	Candidates  []model.CitationCandidate `json:"candidates"`
	Diagnostics Diagnostics               `json:"diagnostics"`
}

// Finder asks an LLM for authoritative sources and vets its answer
type Finder struct {
	provider  llm.Provider
	validator *DomainValidator
	inspector *Inspector
	feeds     *FeedDiscoverer
	recorder  DomainRecorder
	logger    *zap.Logger
	now       func() time.Time
}

// NewFinder creates a Finder. inspector, feeds and recorder are optional.
func NewFinder(provider llm.Provider, validator *DomainValidator, inspector *Inspector, feeds *FeedDiscoverer, recorder DomainRecorder, logger *zap.Logger) *Finder {
	if validator == nil {
		validator = NewDomainValidator(nil, nil)
	}
	return &Finder{
		provider:  provider,
		validator: validator,
		inspector: inspector,
		feeds:     feeds,
		recorder:  recorder,
		logger:    logging.OrNop(logger),
		now:       time.Now,
	}
}

type proposal struct {
	URL       string `json:"url"`
	Source    string `json:"source"`
	Quote     string `json:"quote"`
	Text      string `json:"text"`
	Relevance int    `json:"relevance"`
}

// Find proposes 3-5 citations for an article. An answer with no usable
// source is not an error: Success is false and Message says why.
func (f *Finder) Find(ctx context.Context, req FindRequest) (*FindResult, error) {
	if req.Content == "" || req.Topic == "" {
		return nil, ErrMissingInput
	}
	start := time.Now()

	resp, err := f.provider.Complete(ctx, llm.CompletionRequest{
		System:      finderSystemPrompt,
		Prompt:      buildFinderPrompt(req),
		MaxTokens:   finderMaxTokens,
		Temperature: finderTemperature,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s citation search: %w", f.provider.Name(), err)
	}

	var answer struct {
		Citations []proposal `json:"citations"`
	}
	if err := llm.DecodeJSON(resp.Text, &answer); err != nil {
		f.logger.Warn("unparseable citation answer", zap.String("topic", req.Topic), zap.Error(err))
	}

	res := &FindResult{
		Citations:  []model.ExternalCitation{},
		Candidates: []model.CitationCandidate{},
		Diagnostics: Diagnostics{
			Proposed:     len(answer.Citations),
			ProviderName: f.provider.Name(),
		},
	}

	seen := map[string]bool{}
	for _, p := range answer.Citations {
		if p.URL == "" || seen[p.URL] {
			continue
		}
		seen[p.URL] = true
		res.Candidates = append(res.Candidates, f.vet(p))
	}

	if f.feeds != nil {
		extra, err := f.feeds.Discover(ctx, req.Topic, feedCandidates)
		if err != nil {
			return nil, err
		}
		for _, c := range extra {
			if seen[c.URL] {
				continue
			}
			seen[c.URL] = true
			res.Candidates = append(res.Candidates, c)
			res.Diagnostics.FromFeeds++
		}
	}

	if err := f.enrich(ctx, res); err != nil {
		return nil, err
	}

	for _, c := range res.Candidates {
		if c.Rejected {
			res.Diagnostics.Blocked++
			continue
		}
		res.Citations = append(res.Citations, model.ExternalCitation{URL: c.URL, Source: c.Source, Text: c.Excerpt})
		f.recordDomain(ctx, c)
	}

	elapsed := time.Since(start)
	res.Diagnostics.TimeElapsed = fmt.Sprintf("%dms", elapsed.Milliseconds())
	res.Success = len(res.Citations) > 0
	if !res.Success {
		res.Message = "No valid citations found for this article"
	}

	f.logger.Info("citations found",
		zap.String("topic", req.Topic),
		zap.String("language", req.Language),
		zap.Int("citations", len(res.Citations)),
		zap.Int("blocked", res.Diagnostics.Blocked),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

func (f *Finder) vet(p proposal) model.CitationCandidate {
	verdict := f.validator.Check(p.URL)
	source := p.Source
	if source == "" {
		source = verdict.Domain
	}
	text := p.Quote
	if text == "" {
		text = p.Text
	}
	if text == "" {
		text = "Source: " + source
	}
	c := model.CitationCandidate{
		URL:       p.URL,
		Source:    source,
		Excerpt:   text,
		Domain:    verdict.Domain,
		Authority: verdict.Authority,
	}
	if !verdict.Allowed {
		c.Rejected = true
		c.RejectNote = verdict.Reason
		f.logger.Debug("citation rejected", zap.String("url", p.URL), zap.String("reason", verdict.Reason))
	}
	return c
}

// enrich fills titles from the live pages. Pages that cannot be fetched
// keep what the model said about them.
func (f *Finder) enrich(ctx context.Context, res *FindResult) error {
	if f.inspector == nil {
		return nil
	}
	inspected := make([]bool, len(res.Candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inspectConcurrency)
	for i := range res.Candidates {
		if res.Candidates[i].Rejected {
			continue
		}
		g.Go(func() error {
			summary, err := f.inspector.Inspect(gctx, res.Candidates[i].URL)
			if err != nil {
				f.logger.Debug("inspect citation", zap.String("url", res.Candidates[i].URL), zap.Error(err))
				return nil
			}
			res.Candidates[i].Title = summary.Title
			inspected[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, ok := range inspected {
		if ok {
			res.Diagnostics.Inspected++
		}
	}
	return ctx.Err()
}

func (f *Finder) recordDomain(ctx context.Context, c model.CitationCandidate) {
	if f.recorder == nil || c.Domain == "" {
		return
	}
	if err := f.recorder.UpsertDiscoveredDomain(ctx, c.Domain, f.provider.Name(), f.now()); err != nil {
		f.logger.Warn("record discovered domain", zap.String("domain", c.Domain), zap.Error(err))
	}
}

func buildFinderPrompt(req FindRequest) string {
	lang := languageNames[req.Language]
	if lang == "" {
		lang = req.Language
	}
	if lang == "" {
		lang = "English"
	}
	return fmt.Sprintf(`Find 3-5 authoritative citations for this %[1]s article about "%[2]s".

ARTICLE CONTENT:
%[3]s

CRITICAL REQUIREMENTS:
1. NEVER suggest real estate websites, property portals, or inmobiliarias
2. NEVER suggest competitor real estate agencies
3. ONLY suggest high-authority sources:
   - Government websites (.gov, .gob.es, .gov.uk)
   - Official statistics (INE, Eurostat, national statistics offices)
   - Legal/official sources (BOE, official gazettes)
   - Major international news outlets (Reuters, BBC, El País)
   - Tourism authorities (Spain.info, regional tourism boards)
   - Academic/research institutions
   - Banking/financial institutions (ECB, Bank of Spain)
4. Citations should support factual claims in the article
5. Prefer sources in %[1]s or English
6. Each citation must have a working, publicly accessible URL

Return a JSON object:
{"citations": [{"url": "https://example.gov/page", "source": "Official Source Name", "quote": "A brief relevant quote (1-2 sentences)", "relevance": 8}]}`,
		lang, req.Topic, prefix(req.Content, maxPromptContent))
}
