// Package translate produces localized copies of English blog articles
// through a chat-completion provider.
package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/delsolprime/backoffice/internal/llm"
	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

var (
	// ErrUnsupportedLanguage is returned for a target outside the site languages
	ErrUnsupportedLanguage = errors.New("unsupported target language")

	// ErrNotEnglish is returned when the source article is not the English original
	ErrNotEnglish = errors.New("source article is not English")

	// ErrNoProvider is returned when no chat-completion provider is configured
	ErrNoProvider = errors.New("no translation provider configured")
)

// LanguageNames maps target language codes to the names used in prompts
var LanguageNames = map[string]string{
	"de": "German",
	"nl": "Dutch",
	"fr": "French",
	"pl": "Polish",
	"sv": "Swedish",
	"da": "Danish",
	"hu": "Hungarian",
	"fi": "Finnish",
	"no": "Norwegian",
}

// TargetLanguages returns every translation target in site order
func TargetLanguages() []string {
	out := make([]string, 0, len(LanguageNames))
	for _, l := range model.Languages {
		if _, ok := LanguageNames[l]; ok {
			out = append(out, l)
		}
	}
	return out
}

const maxAttempts = 3

// Store is the persistence translation needs
type Store interface {
	GetArticle(ctx context.Context, id string) (*model.Article, error)
	ListArticles(ctx context.Context, f store.ContentFilter) ([]model.Article, error)
	InsertArticle(ctx context.Context, row store.Row) (*model.Article, error)
}

// Translator translates articles with an LLM
type Translator struct {
	provider    llm.Provider
	logger      *zap.Logger
	concurrency int
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewTranslator creates a translator. concurrency bounds parallel languages
// in TranslateToLanguages; values below 1 mean 3.
func NewTranslator(provider llm.Provider, concurrency int, logger *zap.Logger) *Translator {
	if concurrency < 1 {
		concurrency = 3
	}
	return &Translator{
		provider:    provider,
		logger:      logging.OrNop(logger),
		concurrency: concurrency,
		sleep:       sleepContext,
	}
}

type translatedFields struct {
	Headline             string `json:"headline"`
	MetaTitle            string `json:"meta_title"`
	MetaDescription      string `json:"meta_description"`
	SpeakableAnswer      string `json:"speakable_answer"`
	FeaturedImageAlt     string `json:"featured_image_alt"`
	FeaturedImageCaption string `json:"featured_image_caption"`
	DetailedContent      string `json:"detailed_content"`
}

// Translate returns a draft copy of en in lang. The copy is not stored.
func (t *Translator) Translate(ctx context.Context, en model.Article, lang string) (*model.Article, error) {
	name, ok := LanguageNames[lang]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
	}
	if t.provider == nil {
		return nil, ErrNoProvider
	}

	chunked := len(en.DetailedContent) > MaxContentLength
	var content string
	if chunked {
		chunks := SplitByHeadings(en.DetailedContent)
		t.logger.Debug("translating in chunks",
			zap.String("article_id", en.ID),
			zap.String("language", lang),
			zap.Int("chunks", len(chunks)))
		translated := make([]string, 0, len(chunks))
		for i, chunk := range chunks {
			out, err := t.translateChunk(ctx, chunk, name)
			if err != nil {
				return nil, fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			translated = append(translated, out)
		}
		content = strings.Join(translated, "\n")
	}

	fields, err := t.translateFields(ctx, en, name, chunked)
	if err != nil {
		return nil, err
	}
	if chunked {
		fields.DetailedContent = content
	}
	if fields.Headline == "" {
		return nil, errors.New("translation returned no headline")
	}

	out := en
	out.ID = ""
	out.Language = lang
	out.Headline = fields.Headline
	out.Slug = LocalizedSlug(fields.Headline, lang)
	out.MetaTitle = Truncate(fields.MetaTitle, maxMetaTitle)
	out.MetaDescription = Truncate(fields.MetaDescription, maxMetaDescription)
	out.SpeakableAnswer = fields.SpeakableAnswer
	out.DetailedContent = fields.DetailedContent
	out.FeaturedImageAlt = fields.FeaturedImageAlt
	if fields.FeaturedImageCaption != "" {
		out.FeaturedImageCaption = fields.FeaturedImageCaption
	}
	out.IsPrimary = false
	out.SourceLanguage = "en"
	out.SourceArticleID = &en.ID
	out.Status = model.StatusDraft
	out.InternalLinks = nil
	out.Translations = nil
	out.DatePublished = nil
	return &out, nil
}

func (t *Translator) translateChunk(ctx context.Context, chunk, languageName string) (string, error) {
	prompt := fmt.Sprintf(`Translate this HTML content from English to %s.
Keep ALL HTML tags exactly as-is. Only translate the text content.
Keep proper nouns like "Costa del Sol" unchanged.

Content:
%s

Respond with ONLY the translated HTML, no explanations.`, languageName, chunk)

	resp, err := t.provider.Complete(ctx, llm.CompletionRequest{Prompt: prompt, MaxTokens: 8000})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (t *Translator) translateFields(ctx context.Context, en model.Article, languageName string, chunked bool) (*translatedFields, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a professional translator for luxury real estate content.\n\n")
	fmt.Fprintf(&b, "Translate these fields from English to %s:\n\n", languageName)
	fmt.Fprintf(&b, "**Headline:** %s\n", en.Headline)
	fmt.Fprintf(&b, "**Meta Title (max 60 chars):** %s\n", en.MetaTitle)
	fmt.Fprintf(&b, "**Meta Description (max 155 chars):** %s\n", en.MetaDescription)
	fmt.Fprintf(&b, "**Speakable Answer (50-80 words):** %s\n", en.SpeakableAnswer)
	fmt.Fprintf(&b, "**Image Alt:** %s\n", en.FeaturedImageAlt)
	fmt.Fprintf(&b, "**Image Caption:** %s\n", en.FeaturedImageCaption)
	if !chunked {
		fmt.Fprintf(&b, "**Content (HTML - keep all tags):** %s\n", en.DetailedContent)
	}
	b.WriteString("\nRESPOND IN JSON ONLY (no markdown) with the keys headline, meta_title, meta_description, speakable_answer, featured_image_alt, featured_image_caption")
	if !chunked {
		b.WriteString(", detailed_content")
	}
	b.WriteString(".")

	maxTokens := 16000
	if chunked {
		maxTokens = 4000
	}
	req := llm.CompletionRequest{Prompt: b.String(), MaxTokens: maxTokens, JSON: true}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := t.provider.Complete(ctx, req)
		if err == nil {
			var fields translatedFields
			if err = llm.DecodeJSON(resp.Text, &fields); err == nil {
				return &fields, nil
			}
		}
		lastErr = err
		t.logger.Warn("translation attempt failed",
			zap.String("article_id", en.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < maxAttempts {
			if err := t.sleep(ctx, time.Duration(attempt)*2*time.Second); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("translation failed after %d attempts: %w", maxAttempts, lastErr)
}

// LanguageResult is the outcome for one target language
type LanguageResult struct {
	Language  string `json:"language"`
	ArticleID string `json:"article_id,omitempty"`
	Slug      string `json:"slug,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchResult is the outcome of translating one article to several languages
type BatchResult struct {
	SourceID  string           `json:"source_id"`
	Succeeded int              `json:"succeeded"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Results   []LanguageResult `json:"results"`
}

// TranslateToLanguages translates the English article sourceID into each of
// langs and stores the drafts. Languages that already have an article in the
// source's hreflang group are skipped. Per-language failures are reported in
// the result rather than returned.
func (t *Translator) TranslateToLanguages(ctx context.Context, st Store, sourceID string, langs []string) (*BatchResult, error) {
	if t.provider == nil {
		return nil, ErrNoProvider
	}
	en, err := st.GetArticle(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("load source article: %w", err)
	}
	if en.Language != "en" {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotEnglish, sourceID, en.Language)
	}
	if len(langs) == 0 {
		langs = TargetLanguages()
	}
	for _, l := range langs {
		if _, ok := LanguageNames[l]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, l)
		}
	}

	existing := map[string]bool{}
	if en.HreflangGroupID != nil && *en.HreflangGroupID != "" {
		siblings, err := st.ListArticles(ctx, store.ContentFilter{HreflangGroup: *en.HreflangGroupID})
		if err != nil {
			return nil, fmt.Errorf("load hreflang group: %w", err)
		}
		for _, s := range siblings {
			existing[s.Language] = true
		}
	}

	results := make([]LanguageResult, len(langs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.concurrency)
	for i, lang := range langs {
		results[i].Language = lang
		if existing[lang] {
			results[i].Skipped = true
			continue
		}
		g.Go(func() error {
			stored, err := t.translateAndStore(gctx, st, *en, lang)
			if err != nil {
				t.logger.Error("translation failed",
					zap.String("article_id", sourceID),
					zap.String("language", lang),
					zap.Error(err))
				results[i].Error = err.Error()
				return nil
			}
			results[i].ArticleID = stored.ID
			results[i].Slug = stored.Slug
			return nil
		})
	}
	_ = g.Wait()

	out := &BatchResult{SourceID: sourceID, Results: results}
	for _, r := range results {
		switch {
		case r.Skipped:
			out.Skipped++
		case r.Error != "":
			out.Failed++
		default:
			out.Succeeded++
		}
	}
	t.logger.Info("article translated",
		zap.String("article_id", sourceID),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("skipped", out.Skipped),
		zap.Int("failed", out.Failed))
	return out, ctx.Err()
}

func (t *Translator) translateAndStore(ctx context.Context, st Store, en model.Article, lang string) (*model.Article, error) {
	tr, err := t.Translate(ctx, en, lang)
	if err != nil {
		return nil, err
	}
	return st.InsertArticle(ctx, ArticleRow(*tr))
}

// ArticleRow converts a translated article into an insert row
func ArticleRow(a model.Article) store.Row {
	return store.Row{
		"slug":                   a.Slug,
		"language":               a.Language,
		"headline":               a.Headline,
		"meta_title":             a.MetaTitle,
		"meta_description":       a.MetaDescription,
		"speakable_answer":       a.SpeakableAnswer,
		"detailed_content":       a.DetailedContent,
		"category":               a.Category,
		"funnel_stage":           string(a.FunnelStage),
		"status":                 string(a.Status),
		"cluster_id":             a.ClusterID,
		"cluster_number":         a.ClusterNumber,
		"cluster_theme":          a.ClusterTheme,
		"hreflang_group_id":      a.HreflangGroupID,
		"source_article_id":      a.SourceArticleID,
		"source_language":        a.SourceLanguage,
		"is_primary":             a.IsPrimary,
		"featured_image_url":     a.FeaturedImageURL,
		"featured_image_alt":     a.FeaturedImageAlt,
		"featured_image_caption": a.FeaturedImageCaption,
		"external_citations":     citationsOrEmpty(a.ExternalCitations),
		"internal_links":         []model.InternalLink{},
	}
}

func citationsOrEmpty(c []model.ExternalCitation) []model.ExternalCitation {
	if c == nil {
		return []model.ExternalCitation{}
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
