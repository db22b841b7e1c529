package store

import (
	"context"
	"fmt"

	postgrest "github.com/supabase-community/postgrest-go"

	"github.com/delsolprime/backoffice/internal/model"
)

const (
	tableArticles    = "blog_articles"
	tableQAPages     = "qa_pages"
	tableComparisons = "comparison_pages"
	tableLocations   = "location_pages"
)

// PageTable names a table that PageRefs can project
type PageTable string

const (
	PageArticles    PageTable = tableArticles
	PageQA          PageTable = tableQAPages
	PageComparisons PageTable = tableComparisons
	PageLocations   PageTable = tableLocations
)

// ContentFilter narrows article and QA listings
type ContentFilter struct {
	Language       string
	NotLanguage    string
	Status         model.ContentStatus
	ClusterID      string
	FunnelStage    model.FunnelStage
	HreflangGroup  string
	SourceArticle  string
	MissingGroupID bool
	IDs            []string
	Limit          int
}

func applyContentFilter(fb *postgrest.FilterBuilder, f ContentFilter) *postgrest.FilterBuilder {
	if f.Language != "" {
		fb = fb.Eq("language", f.Language)
	}
	if f.NotLanguage != "" {
		fb = fb.Neq("language", f.NotLanguage)
	}
	if f.Status != "" {
		fb = fb.Eq("status", string(f.Status))
	}
	if f.ClusterID != "" {
		fb = fb.Eq("cluster_id", f.ClusterID)
	}
	if f.FunnelStage != "" {
		fb = fb.Eq("funnel_stage", string(f.FunnelStage))
	}
	if f.HreflangGroup != "" {
		fb = fb.Eq("hreflang_group_id", f.HreflangGroup)
	}
	if f.SourceArticle != "" {
		fb = fb.Eq("source_article_id", f.SourceArticle)
	}
	if f.MissingGroupID {
		fb = fb.Is("hreflang_group_id", "null")
	}
	if len(f.IDs) > 0 {
		fb = fb.In("id", f.IDs)
	}
	fb = fb.Order("created_at", &postgrest.OrderOpts{Ascending: true})
	if f.Limit > 0 {
		fb = fb.Limit(f.Limit, "")
	}
	return fb
}

// ListArticles returns articles oldest first
func (c *Client) ListArticles(ctx context.Context, f ContentFilter) ([]model.Article, error) {
	fb := applyContentFilter(c.from(tableArticles).Select("*", "", false), f)
	return selectRows[model.Article](ctx, tableArticles, fb)
}

// GetArticle loads one article by id
func (c *Client) GetArticle(ctx context.Context, id string) (*model.Article, error) {
	return selectOne[model.Article](ctx, tableArticles,
		c.from(tableArticles).Select("*", "", false).Eq("id", id))
}

// FindArticleBySlug loads the article with slug in lang
func (c *Client) FindArticleBySlug(ctx context.Context, slug, lang string) (*model.Article, error) {
	return selectOne[model.Article](ctx, tableArticles, c.from(tableArticles).
		Select("*", "", false).
		Eq("slug", slug).
		Eq("language", lang))
}

// InsertArticle creates an article row and returns it
func (c *Client) InsertArticle(ctx context.Context, row Row) (*model.Article, error) {
	rows, err := selectRows[model.Article](ctx, tableArticles,
		c.from(tableArticles).Insert(row, false, "", "representation", ""))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: empty representation", tableArticles)
	}
	return &rows[0], nil
}

// UpdateArticle patches an article
func (c *Client) UpdateArticle(ctx context.Context, id string, patch Row) error {
	return execute(ctx, "update", tableArticles,
		c.from(tableArticles).Update(patch, "minimal", "").Eq("id", id))
}

// ListQAPages returns QA pages oldest first
func (c *Client) ListQAPages(ctx context.Context, f ContentFilter) ([]model.QAPage, error) {
	f.FunnelStage = ""
	fb := applyContentFilter(c.from(tableQAPages).Select("*", "", false), f)
	return selectRows[model.QAPage](ctx, tableQAPages, fb)
}

// UpdateQAPage patches a QA page
func (c *Client) UpdateQAPage(ctx context.Context, id string, patch Row) error {
	return execute(ctx, "update", tableQAPages,
		c.from(tableQAPages).Update(patch, "minimal", "").Eq("id", id))
}

// DeleteQAPages removes QA pages by id
func (c *Client) DeleteQAPages(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return execute(ctx, "delete", tableQAPages,
		c.from(tableQAPages).Delete("minimal", "").In("id", ids))
}

// PageRefs projects the published rows of table down to what URL builders need
func (c *Client) PageRefs(ctx context.Context, table PageTable, lang string) ([]model.PageRef, error) {
	columns := "id,slug,language,updated_at"
	if table == PageLocations {
		columns = "id,slug,language,city_slug,updated_at"
	}
	fb := c.from(string(table)).Select(columns, "", false).Eq("status", string(model.StatusPublished))
	if lang != "" {
		fb = fb.Eq("language", lang)
	}
	fb = fb.Order("updated_at", &postgrest.OrderOpts{Ascending: false})
	return selectRows[model.PageRef](ctx, string(table), fb)
}
