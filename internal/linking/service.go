package linking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

var (
	// ErrClusterRequired is returned for a request without a cluster id
	ErrClusterRequired = errors.New("clusterId required")

	// ErrEmptyCluster is returned when a cluster has no published articles
	ErrEmptyCluster = errors.New("no articles found in cluster")
)

const qaBOFULinks = 3

// Store is the persistence linking needs
type Store interface {
	ListArticles(ctx context.Context, f store.ContentFilter) ([]model.Article, error)
	UpdateArticle(ctx context.Context, id string, patch store.Row) error
	ListQAPages(ctx context.Context, f store.ContentFilter) ([]model.QAPage, error)
	UpdateQAPage(ctx context.Context, id string, patch store.Row) error
}

// Service regenerates internal links
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service
func NewService(st Store, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logging.OrNop(logger), now: time.Now}
}

// ClusterRequest selects the cluster to relink
type ClusterRequest struct {
	ClusterID string `json:"clusterId"`
	Language  string `json:"language"`
	DryRun    bool   `json:"dryRun"`
}

// LinkSummary is one planned link in a result
type LinkSummary struct {
	Target         string `json:"target"`
	Purpose        string `json:"purpose"`
	RelevanceScore int    `json:"relevance_score"`
	Type           string `json:"type"`
}

// ArticleLinks reports the links planned for one article
type ArticleLinks struct {
	ID               string        `json:"id"`
	Headline         string        `json:"headline"`
	Language         string        `json:"language"`
	FunnelStage      string        `json:"funnelStage"`
	OptimalLinkCount int           `json:"optimalLinkCount"`
	ActualLinkCount  int           `json:"actualLinkCount"`
	InternalLinks    int           `json:"internalLinks"`
	AuthorityLinks   int           `json:"authorityLinks"`
	Links            []LinkSummary `json:"links"`
	Error            string        `json:"error,omitempty"`
}

// ClusterResult reports a cluster regeneration
type ClusterResult struct {
	Success             bool           `json:"success"`
	DryRun              bool           `json:"dryRun"`
	TotalArticles       int            `json:"totalArticles"`
	TotalInternalLinks  int            `json:"totalInternalLinks"`
	TotalAuthorityLinks int            `json:"totalAuthorityLinks"`
	UpdatesApplied      int            `json:"updatesApplied"`
	Results             []ArticleLinks `json:"results"`
}

// RegenerateCluster rebuilds internal_links for every published article in
// a cluster, one language at a time. Legacy "/blog/" hrefs in the bodies
// are rewritten in the same update.
func (s *Service) RegenerateCluster(ctx context.Context, req ClusterRequest) (*ClusterResult, error) {
	if req.ClusterID == "" {
		return nil, ErrClusterRequired
	}
	articles, err := s.store.ListArticles(ctx, store.ContentFilter{
		ClusterID: req.ClusterID,
		Language:  req.Language,
		Status:    model.StatusPublished,
	})
	if err != nil {
		return nil, fmt.Errorf("load cluster %s: %w", req.ClusterID, err)
	}
	if len(articles) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCluster, req.ClusterID)
	}

	byLang := map[string][]model.Article{}
	var langs []string
	for _, a := range articles {
		if a.Language == "" {
			a.Language = "en"
		}
		if _, ok := byLang[a.Language]; !ok {
			langs = append(langs, a.Language)
		}
		byLang[a.Language] = append(byLang[a.Language], a)
	}

	res := &ClusterResult{Success: true, DryRun: req.DryRun, Results: []ArticleLinks{}}
	for _, lang := range langs {
		siblings := byLang[lang]
		for _, article := range siblings {
			links := PlanLinks(article, siblings)
			report := summarize(article, links)

			if !req.DryRun {
				if err := s.applyArticleLinks(ctx, article, links); err != nil {
					s.logger.Error("update article links failed",
						zap.String("article_id", article.ID),
						zap.Error(err))
					report.Error = err.Error()
				} else {
					res.UpdatesApplied++
				}
			}
			res.TotalInternalLinks += report.InternalLinks
			res.TotalAuthorityLinks += report.AuthorityLinks
			res.Results = append(res.Results, report)
		}
	}
	res.TotalArticles = len(res.Results)

	s.logger.Info("cluster links regenerated",
		zap.String("cluster_id", req.ClusterID),
		zap.Int("articles", res.TotalArticles),
		zap.Int("internal_links", res.TotalInternalLinks),
		zap.Bool("dry_run", req.DryRun))
	return res, nil
}

func (s *Service) applyArticleLinks(ctx context.Context, article model.Article, links []model.InternalLink) error {
	if links == nil {
		links = []model.InternalLink{}
	}
	patch := store.Row{
		"internal_links": links,
		"updated_at":     s.now().UTC().Format(time.RFC3339),
	}
	body, changed, err := RewriteLegacyLinks(article.DetailedContent, article.Language)
	if err != nil {
		s.logger.Warn("skip body rewrite", zap.String("article_id", article.ID), zap.Error(err))
	} else if changed {
		patch["detailed_content"] = body
	}
	return s.store.UpdateArticle(ctx, article.ID, patch)
}

func summarize(a model.Article, links []model.InternalLink) ArticleLinks {
	report := ArticleLinks{
		ID:               a.ID,
		Headline:         a.Headline,
		Language:         a.Language,
		FunnelStage:      string(a.FunnelStage),
		OptimalLinkCount: OptimalLinkCount(a),
		ActualLinkCount:  len(links),
		Links:            make([]LinkSummary, 0, len(links)),
	}
	for _, l := range links {
		switch l.Type {
		case LinkInternal:
			report.InternalLinks++
		case LinkAuthority:
			report.AuthorityLinks++
		}
		report.Links = append(report.Links, LinkSummary{
			Target:         l.Title,
			Purpose:        l.Purpose,
			RelevanceScore: l.RelevanceScore,
			Type:           l.Type,
		})
	}
	return report
}

// QAResult is the outcome for one QA page
type QAResult struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Success   bool   `json:"success"`
	LinkCount int    `json:"linkCount"`
	Error     string `json:"error,omitempty"`
}

// QABatchResult reports a QA linking run
type QABatchResult struct {
	Success         bool       `json:"success"`
	Processed       int        `json:"processed"`
	SuccessCount    int        `json:"successCount"`
	TotalLinksAdded int        `json:"totalLinksAdded"`
	Results         []QAResult `json:"results"`
}

// QALinks builds the links of a QA page: its source article first, then
// the three most relevant BOFU articles in the same language.
func QALinks(page model.QAPage, articles []model.Article) []model.InternalLink {
	var source *model.Article
	var bofu []model.Article
	for i, a := range articles {
		if page.SourceArticleID != nil && a.ID == *page.SourceArticleID {
			source = &articles[i]
			continue
		}
		if a.Language == page.Language && a.FunnelStage == model.FunnelBOFU {
			bofu = append(bofu, a)
		}
	}

	links := []model.InternalLink{}
	subject := model.Article{Headline: page.QuestionMain, Language: page.Language}
	if source != nil {
		links = append(links, model.InternalLink{
			Text:  source.Headline,
			URL:   ArticleURL(source.Language, source.Slug),
			Title: "Read full article: " + source.Headline,
			Type:  LinkInternal,
		})
		subject = *source
		subject.ID = ""
	}
	for _, best := range selectBest(subject, bofu, qaBOFULinks) {
		links = append(links, internalLink(best.article, "conversion", best.score, page.Language))
	}
	return links
}

// LinkQAPages rebuilds internal_links for published QA pages, or only for
// ids when given
func (s *Service) LinkQAPages(ctx context.Context, ids []string) (*QABatchResult, error) {
	pages, err := s.store.ListQAPages(ctx, store.ContentFilter{Status: model.StatusPublished, IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("load QA pages: %w", err)
	}
	articles, err := s.store.ListArticles(ctx, store.ContentFilter{Status: model.StatusPublished})
	if err != nil {
		return nil, fmt.Errorf("load articles: %w", err)
	}

	res := &QABatchResult{Success: true, Results: make([]QAResult, 0, len(pages))}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		links := QALinks(page, articles)
		r := QAResult{ID: page.ID, Slug: page.Slug}
		if err := s.store.UpdateQAPage(ctx, page.ID, store.Row{"internal_links": links}); err != nil {
			r.Error = err.Error()
		} else {
			r.Success = true
			r.LinkCount = len(links)
			res.SuccessCount++
			res.TotalLinksAdded += len(links)
		}
		res.Results = append(res.Results, r)
	}
	res.Processed = len(res.Results)
	s.logger.Info("QA pages linked",
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.SuccessCount),
		zap.Int("links", res.TotalLinksAdded))
	return res, nil
}
