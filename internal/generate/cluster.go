// Package generate writes new blog article clusters with a chat-completion
// provider. A cluster is planned as a set of headlines across the marketing
// funnel, then each article is written and stored as a draft.
package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/delsolprime/backoffice/internal/llm"
	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
	"github.com/delsolprime/backoffice/internal/translate"
)

var (
	// ErrMissingTopic is returned for a request without a topic
	ErrMissingTopic = errors.New("topic is required")

	// ErrNoProvider is returned when no chat-completion provider is configured
	ErrNoProvider = errors.New("no generation provider configured")

	// ErrInvalidPlan is returned when the headline plan is unusable
	ErrInvalidPlan = errors.New("invalid cluster plan")
)

const (
	maxAttempts = 3

	defaultAudience = "international property buyers"
	maxMetaTitle    = 60
	maxMetaDesc     = 160
)

// funnelMix is the number of articles planned per funnel stage
var funnelMix = []struct {
	stage model.FunnelStage
	count int
	note  string
}{
	{model.FunnelTOFU, 3, "Awareness stage, educational, broad topics"},
	{model.FunnelMOFU, 2, "Consideration stage, comparison, detailed guides"},
	{model.FunnelBOFU, 1, "Decision stage, action-oriented"},
}

// Store is the persistence generation needs
type Store interface {
	FindArticleBySlug(ctx context.Context, slug, lang string) (*model.Article, error)
	InsertArticle(ctx context.Context, row store.Row) (*model.Article, error)
}

// Request describes the cluster to write
type Request struct {
	Topic          string `json:"topic"`
	Language       string `json:"language,omitempty"`
	TargetAudience string `json:"targetAudience,omitempty"`
	PrimaryKeyword string `json:"primaryKeyword,omitempty"`
}

func (r Request) withDefaults() Request {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Language == "" {
		r.Language = "en"
	}
	if r.TargetAudience == "" {
		r.TargetAudience = defaultAudience
	}
	if r.PrimaryKeyword == "" {
		r.PrimaryKeyword = r.Topic
	}
	return r
}

// PlannedArticle is one headline of a cluster plan
type PlannedArticle struct {
	FunnelStage   model.FunnelStage `json:"funnelStage"`
	Headline      string            `json:"headline"`
	TargetKeyword string            `json:"targetKeyword"`
	SearchIntent  string            `json:"searchIntent,omitempty"`
	ContentAngle  string            `json:"contentAngle,omitempty"`
}

// Plan is the headline structure of a cluster
type Plan struct {
	Articles []PlannedArticle `json:"articles"`
}

// ArticleResult is the outcome for one planned article
type ArticleResult struct {
	Headline    string            `json:"headline"`
	FunnelStage model.FunnelStage `json:"funnel_stage"`
	ArticleID   string            `json:"article_id,omitempty"`
	Slug        string            `json:"slug,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Result is the outcome of generating one cluster
type Result struct {
	ClusterID string          `json:"cluster_id"`
	Topic     string          `json:"topic"`
	Language  string          `json:"language"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Articles  []ArticleResult `json:"articles"`
}

// Generator writes article clusters
type Generator struct {
	provider    llm.Provider
	store       Store
	logger      *zap.Logger
	concurrency int
	newID       func() string
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewGenerator creates a generator. concurrency bounds parallel article
// writes; values below 1 mean 3.
func NewGenerator(provider llm.Provider, st Store, concurrency int, logger *zap.Logger) *Generator {
	if concurrency < 1 {
		concurrency = 3
	}
	return &Generator{
		provider:    provider,
		store:       st,
		logger:      logging.OrNop(logger),
		concurrency: concurrency,
		newID:       uuid.NewString,
		sleep:       sleepContext,
	}
}

// Configured reports whether a provider is set
func (g *Generator) Configured() bool {
	return g.provider != nil
}

// GenerateCluster plans a cluster for req.Topic, writes every planned article
// and stores them as drafts sharing a new cluster_id. Per-article failures are
// reported in the result rather than returned.
func (g *Generator) GenerateCluster(ctx context.Context, req Request) (*Result, error) {
	req = req.withDefaults()
	if req.Topic == "" {
		return nil, ErrMissingTopic
	}
	if !model.IsSupportedLanguage(req.Language) {
		return nil, fmt.Errorf("%w: %s", translate.ErrUnsupportedLanguage, req.Language)
	}
	if g.provider == nil {
		return nil, ErrNoProvider
	}

	plan, err := g.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	clusterID := g.newID()
	g.logger.Info("generating cluster",
		zap.String("cluster_id", clusterID),
		zap.String("topic", req.Topic),
		zap.String("language", req.Language),
		zap.Int("articles", len(plan.Articles)))

	results := make([]ArticleResult, len(plan.Articles))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for i, planned := range plan.Articles {
		results[i] = ArticleResult{Headline: planned.Headline, FunnelStage: planned.FunnelStage}
		eg.Go(func() error {
			stored, err := g.writeAndStore(gctx, req, planned, clusterID, i+1)
			if err != nil {
				g.logger.Error("article generation failed",
					zap.String("cluster_id", clusterID),
					zap.String("headline", planned.Headline),
					zap.Error(err))
				results[i].Error = err.Error()
				return nil
			}
			results[i].ArticleID = stored.ID
			results[i].Slug = stored.Slug
			return nil
		})
	}
	_ = eg.Wait()

	out := &Result{ClusterID: clusterID, Topic: req.Topic, Language: req.Language, Articles: results}
	for _, r := range results {
		if r.Error != "" {
			out.Failed++
		} else {
			out.Succeeded++
		}
	}
	g.logger.Info("cluster generated",
		zap.String("cluster_id", clusterID),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed))
	return out, ctx.Err()
}

// Plan asks the provider for the cluster's headlines, one per funnel slot
func (g *Generator) Plan(ctx context.Context, req Request) (*Plan, error) {
	req = req.withDefaults()
	if g.provider == nil {
		return nil, ErrNoProvider
	}
	name := languageName(req.Language)

	var b strings.Builder
	fmt.Fprintf(&b, "Create a content cluster structure for the topic: %q\n", req.Topic)
	fmt.Fprintf(&b, "Language: %s (%s)\n", req.Language, name)
	fmt.Fprintf(&b, "Target audience: %s\n", req.TargetAudience)
	fmt.Fprintf(&b, "Primary keyword: %s\n\n", req.PrimaryKeyword)
	fmt.Fprintf(&b, "Generate %d article titles following this funnel structure:\n", planSize())
	for _, m := range funnelMix {
		fmt.Fprintf(&b, "- %d %s: %s\n", m.count, m.stage, m.note)
	}
	b.WriteString("\nEach headline must mention \"Costa del Sol\" (keep it as-is, it is a proper noun).\n")
	fmt.Fprintf(&b, "All headlines, target keywords and content angles MUST be written in %s.\n\n", name)
	b.WriteString(`RESPOND IN JSON ONLY (no markdown) as {"articles":[{"funnelStage":"TOFU","headline":"...","targetKeyword":"...","searchIntent":"informational","contentAngle":"..."}]}.`)

	var plan Plan
	err := g.completeJSON(ctx, llm.CompletionRequest{
		System:    "You are an SEO expert specializing in real estate content strategy. Return only valid JSON.",
		Prompt:    b.String(),
		MaxTokens: 4096,
		JSON:      true,
	}, &plan, zap.String("topic", req.Topic))
	if err != nil {
		return nil, fmt.Errorf("plan cluster: %w", err)
	}
	if err := plan.validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (p *Plan) validate() error {
	if len(p.Articles) == 0 {
		return fmt.Errorf("%w: no articles", ErrInvalidPlan)
	}
	missing := 0
	for i := range p.Articles {
		a := &p.Articles[i]
		a.Headline = strings.TrimSpace(a.Headline)
		a.FunnelStage = model.FunnelStage(strings.ToUpper(string(a.FunnelStage)))
		if a.Headline == "" || a.TargetKeyword == "" || !validStage(a.FunnelStage) {
			missing++
		}
	}
	if missing > 0 {
		return fmt.Errorf("%w: %d article(s) missing funnelStage, headline or targetKeyword", ErrInvalidPlan, missing)
	}
	return nil
}

type articleFields struct {
	MetaTitle        string `json:"meta_title"`
	MetaDescription  string `json:"meta_description"`
	SpeakableAnswer  string `json:"speakable_answer"`
	DetailedContent  string `json:"detailed_content"`
	Category         string `json:"category"`
	FeaturedImageAlt string `json:"featured_image_alt"`
}

// Write asks the provider for one planned article and returns the unsaved draft
func (g *Generator) Write(ctx context.Context, req Request, planned PlannedArticle) (*model.Article, error) {
	req = req.withDefaults()
	if g.provider == nil {
		return nil, ErrNoProvider
	}
	name := languageName(req.Language)

	var b strings.Builder
	fmt.Fprintf(&b, "Write a blog article for a luxury real estate agency in Costa del Sol, Spain.\n\n")
	fmt.Fprintf(&b, "Headline: %s\n", planned.Headline)
	fmt.Fprintf(&b, "Target keyword: %s\n", planned.TargetKeyword)
	fmt.Fprintf(&b, "Content angle: %s\n", planned.ContentAngle)
	fmt.Fprintf(&b, "Funnel stage: %s\n", planned.FunnelStage)
	fmt.Fprintf(&b, "Target audience: %s\n", req.TargetAudience)
	fmt.Fprintf(&b, "Language: %s\n\n", name)
	switch planned.FunnelStage {
	case model.FunnelTOFU:
		b.WriteString("Write for awareness: educational, broad, establish authority.\n")
	case model.FunnelMOFU:
		b.WriteString("Write for consideration: comparative, detailed, build trust.\n")
	case model.FunnelBOFU:
		b.WriteString("Write for decision: action-oriented, specific calls to action.\n")
	}
	b.WriteString("detailed_content is 1500-2500 words of HTML using <h2>, <h3>, <p> and <ul> only.\n")
	b.WriteString("speakable_answer is a 50-80 word direct answer to the headline.\n\n")
	b.WriteString("RESPOND IN JSON ONLY (no markdown) with the keys meta_title, meta_description, speakable_answer, detailed_content, category, featured_image_alt.")

	var fields articleFields
	err := g.completeJSON(ctx, llm.CompletionRequest{
		Prompt:    b.String(),
		MaxTokens: 16000,
		JSON:      true,
	}, &fields, zap.String("headline", planned.Headline))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(fields.DetailedContent) == "" {
		return nil, errors.New("generation returned no content")
	}

	metaTitle := fields.MetaTitle
	if metaTitle == "" {
		metaTitle = planned.Headline
	}
	return &model.Article{
		Slug:             articleSlug(planned.Headline, req.Language),
		Language:         req.Language,
		Headline:         planned.Headline,
		MetaTitle:        translate.Truncate(metaTitle, maxMetaTitle),
		MetaDescription:  translate.Truncate(fields.MetaDescription, maxMetaDesc),
		DetailedContent:  fields.DetailedContent,
		SpeakableAnswer:  fields.SpeakableAnswer,
		Category:         fields.Category,
		FunnelStage:      planned.FunnelStage,
		Status:           model.StatusDraft,
		SourceLanguage:   req.Language,
		IsPrimary:        true,
		FeaturedImageAlt: fields.FeaturedImageAlt,
	}, nil
}

func (g *Generator) writeAndStore(ctx context.Context, req Request, planned PlannedArticle, clusterID string, number int) (*model.Article, error) {
	article, err := g.Write(ctx, req, planned)
	if err != nil {
		return nil, err
	}
	article.Slug, err = g.uniqueSlug(ctx, article.Slug, article.Language, clusterID)
	if err != nil {
		return nil, err
	}
	theme := req.Topic
	group := g.newID()
	article.ClusterID = &clusterID
	article.ClusterNumber = &number
	article.ClusterTheme = &theme
	article.HreflangGroupID = &group
	return g.store.InsertArticle(ctx, translate.ArticleRow(*article))
}

// uniqueSlug suffixes slug with the cluster id prefix when it is taken
func (g *Generator) uniqueSlug(ctx context.Context, slug, lang, clusterID string) (string, error) {
	_, err := g.store.FindArticleBySlug(ctx, slug, lang)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return slug, nil
	case err != nil:
		return "", fmt.Errorf("check slug: %w", err)
	}
	short := clusterID
	if len(short) > 8 {
		short = short[:8]
	}
	return slug + "-" + short, nil
}

// completeJSON runs req until the answer decodes into v, waiting attempt*2s
// between tries
func (g *Generator) completeJSON(ctx context.Context, req llm.CompletionRequest, v any, field zap.Field) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := g.provider.Complete(ctx, req)
		if err == nil {
			if err = llm.DecodeJSON(resp.Text, v); err == nil {
				return nil
			}
		}
		lastErr = err
		g.logger.Warn("generation attempt failed", field, zap.Int("attempt", attempt), zap.Error(err))
		if attempt < maxAttempts {
			if err := g.sleep(ctx, time.Duration(attempt)*2*time.Second); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("generation failed after %d attempts: %w", maxAttempts, lastErr)
}

func articleSlug(headline, lang string) string {
	if lang == "en" {
		return translate.Slugify(headline)
	}
	return translate.LocalizedSlug(headline, lang)
}

func languageName(lang string) string {
	if name, ok := translate.LanguageNames[lang]; ok {
		return name
	}
	return "English"
}

func planSize() int {
	n := 0
	for _, m := range funnelMix {
		n += m.count
	}
	return n
}

func validStage(s model.FunnelStage) bool {
	return s == model.FunnelTOFU || s == model.FunnelMOFU || s == model.FunnelBOFU
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
