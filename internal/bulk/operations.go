package bulk

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/citations"
	"github.com/delsolprime/backoffice/internal/generate"
	"github.com/delsolprime/backoffice/internal/linking"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

const (
	imageFunction = "regenerate-article-image"

	// citationContentLimit caps the article body sent for citation discovery
	citationContentLimit = 3000
)

// ContentStore is the article access the standard operations need
type ContentStore interface {
	ArticleIDs(ctx context.Context, t store.ArticleTarget) ([]string, error)
	ClusterIDs(ctx context.Context) ([]string, error)
	GetArticle(ctx context.Context, id string) (*model.Article, error)
	UpdateArticle(ctx context.Context, id string, patch store.Row) error
	InvokeFunction(ctx context.Context, name string, payload any) ([]byte, error)
}

// CitationFinder discovers outbound sources for an article
type CitationFinder interface {
	Find(ctx context.Context, req citations.FindRequest) (*citations.FindResult, error)
}

// ClusterLinker rebuilds a cluster's internal links
type ClusterLinker interface {
	RegenerateCluster(ctx context.Context, req linking.ClusterRequest) (*linking.ClusterResult, error)
}

// ClusterGenerator writes a new article cluster for a topic
type ClusterGenerator interface {
	GenerateCluster(ctx context.Context, req generate.Request) (*generate.Result, error)
}

// RegisterStandard registers every operation whose dependencies are present.
// finder and linker may be nil.
func RegisterStandard(m *Manager, st ContentStore, finder CitationFinder, linker ClusterLinker) {
	articles := func(target store.ArticleTarget) func(context.Context, []string) ([]string, error) {
		return func(ctx context.Context, ids []string) ([]string, error) {
			target.IDs = ids
			return st.ArticleIDs(ctx, target)
		}
	}

	regenerateImage := func(ctx context.Context, id string) error {
		_, err := st.InvokeFunction(ctx, imageFunction, map[string]string{"articleId": id})
		return err
	}
	m.Register(model.OpFixImages, Operation{
		Items:   articles(store.ArticleTarget{MissingImage: true}),
		Process: regenerateImage,
	})
	m.Register(model.OpRegenerateAllImages, Operation{
		Items:   articles(store.ArticleTarget{InCluster: true}),
		Process: regenerateImage,
	})

	if finder != nil {
		refresh := citationRefresher(st, finder)
		m.Register(model.OpFixCitations, Operation{
			Items:   articles(store.ArticleTarget{MissingCitations: true}),
			Process: refresh,
		})
		m.Register(model.OpRefreshAllCitations, Operation{
			Items:   articles(store.ArticleTarget{}),
			Process: refresh,
		})
	}

	if linker != nil {
		m.Register(model.OpRegenerateClusterLinks, Operation{
			Items: func(ctx context.Context, ids []string) ([]string, error) {
				if len(ids) > 0 {
					return ids, nil
				}
				return st.ClusterIDs(ctx)
			},
			Process: func(ctx context.Context, clusterID string) error {
				_, err := linker.RegenerateCluster(ctx, linking.ClusterRequest{ClusterID: clusterID})
				return err
			},
		})
	}
}

// citationRefresher replaces an article's external_citations with newly
// found ones. An empty finding leaves the article untouched.
func citationRefresher(st ContentStore, finder CitationFinder) func(context.Context, string) error {
	return func(ctx context.Context, id string) error {
		article, err := st.GetArticle(ctx, id)
		if err != nil {
			return err
		}
		content := article.DetailedContent
		if r := []rune(content); len(r) > citationContentLimit {
			content = string(r[:citationContentLimit])
		}
		res, err := finder.Find(ctx, citations.FindRequest{
			Content:  content,
			Topic:    article.Headline,
			Language: article.Language,
		})
		if err != nil {
			return err
		}
		if len(res.Citations) == 0 {
			return nil
		}
		if err := st.UpdateArticle(ctx, id, store.Row{"external_citations": res.Citations}); err != nil {
			return fmt.Errorf("save citations: %w", err)
		}
		return nil
	}
}

// RegisterGeneration registers generate_clusters. Its items are topics, so a
// run needs explicit ids; each topic becomes one cluster of draft articles.
func RegisterGeneration(m *Manager, gen ClusterGenerator) {
	m.Register(model.OpGenerateClusters, Operation{
		Items: func(_ context.Context, ids []string) ([]string, error) {
			seen := make(map[string]bool, len(ids))
			topics := make([]string, 0, len(ids))
			for _, id := range ids {
				topic := strings.TrimSpace(id)
				if topic == "" || seen[topic] {
					continue
				}
				seen[topic] = true
				topics = append(topics, topic)
			}
			if len(topics) == 0 {
				return nil, fmt.Errorf("%w: pass one topic per id", generate.ErrMissingTopic)
			}
			return topics, nil
		},
		Process: func(ctx context.Context, topic string) error {
			res, err := gen.GenerateCluster(ctx, generate.Request{Topic: topic})
			if err != nil {
				return err
			}
			if res.Succeeded == 0 {
				return fmt.Errorf("no article generated for %q", topic)
			}
			if res.Failed > 0 {
				m.logger.Warn("cluster generated partially",
					zap.String("cluster_id", res.ClusterID),
					zap.Int("succeeded", res.Succeeded),
					zap.Int("failed", res.Failed))
			}
			return nil
		},
	})
}
