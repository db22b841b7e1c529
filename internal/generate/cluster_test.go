package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delsolprime/backoffice/internal/llm"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
	"github.com/delsolprime/backoffice/internal/translate"
)

const planJSON = `{"articles":[
{"funnelStage":"TOFU","headline":"Living on the Costa del Sol","targetKeyword":"costa del sol living","contentAngle":"lifestyle"},
{"funnelStage":"tofu","headline":"Costa del Sol Climate Guide","targetKeyword":"climate"},
{"funnelStage":"MOFU","headline":"Marbella vs Estepona on the Costa del Sol","targetKeyword":"marbella vs estepona"},
{"funnelStage":"BOFU","headline":"Buy Your Costa del Sol Villa","targetKeyword":"buy villa"}]}`

type fakeProvider struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	plan     string
	badPlan  int
	failFor  string
}

func (p *fakeProvider) Name() string                     { return "fake" }
func (p *fakeProvider) IsAvailable(context.Context) bool { return true }

func (p *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)

	if strings.Contains(req.Prompt, "content cluster structure") {
		if p.badPlan > 0 {
			p.badPlan--
			return &llm.CompletionResponse{Text: "I cannot help with that"}, nil
		}
		return &llm.CompletionResponse{Text: "```json\n" + p.plan + "\n```"}, nil
	}
	if p.failFor != "" && strings.Contains(req.Prompt, p.failFor) {
		return nil, errors.New("upstream unavailable")
	}
	body := fmt.Sprintf(`{"meta_title":"%s","meta_description":"desc","speakable_answer":"answer","detailed_content":"<h2>Intro</h2><p>body</p>","category":"Buying Guides","featured_image_alt":"alt"}`,
		strings.Repeat("t", 80))
	return &llm.CompletionResponse{Text: body}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	taken     map[string]bool
	inserted  []store.Row
	lookupErr error
}

func (s *fakeStore) FindArticleBySlug(_ context.Context, slug, lang string) (*model.Article, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if s.taken[lang+"/"+slug] {
		return &model.Article{Slug: slug, Language: lang}, nil
	}
	return nil, fmt.Errorf("blog_articles: %w", store.ErrNotFound)
}

func (s *fakeStore) InsertArticle(_ context.Context, row store.Row) (*model.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, row)
	return &model.Article{ID: fmt.Sprintf("art-%d", len(s.inserted)), Slug: row["slug"].(string)}, nil
}

func (s *fakeStore) rowFor(headline string) store.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.inserted {
		if r["headline"] == headline {
			return r
		}
	}
	return nil
}

func newTestGenerator(p llm.Provider, st Store) (*Generator, *[]time.Duration) {
	g := NewGenerator(p, st, 2, nil)
	var mu sync.Mutex
	n := 0
	g.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("0000000%d-aaaa-bbbb-cccc-dddddddddddd", n)
	}
	var delays []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	return g, &delays
}

func TestGenerateCluster(t *testing.T) {
	p := &fakeProvider{plan: planJSON}
	st := &fakeStore{taken: map[string]bool{"en/costa-del-sol-climate-guide": true}}
	g, _ := newTestGenerator(p, st)

	res, err := g.GenerateCluster(context.Background(), Request{Topic: "Moving to the Costa del Sol"})
	require.NoError(t, err)

	assert.Equal(t, "00000001-aaaa-bbbb-cccc-dddddddddddd", res.ClusterID)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, 4, res.Succeeded)
	assert.Equal(t, 0, res.Failed)
	require.Len(t, st.inserted, 4)

	row := st.rowFor("Living on the Costa del Sol")
	require.NotNil(t, row)
	assert.Equal(t, "living-on-the-costa-del-sol", row["slug"])
	assert.Equal(t, "draft", row["status"])
	assert.Equal(t, "TOFU", row["funnel_stage"])
	assert.Equal(t, res.ClusterID, *row["cluster_id"].(*string))
	assert.Equal(t, "Moving to the Costa del Sol", *row["cluster_theme"].(*string))
	assert.Equal(t, true, row["is_primary"])
	assert.Equal(t, "Buying Guides", row["category"])
	assert.LessOrEqual(t, len([]rune(row["meta_title"].(string))), maxMetaTitle)

	taken := st.rowFor("Costa del Sol Climate Guide")
	require.NotNil(t, taken)
	assert.Equal(t, "costa-del-sol-climate-guide-00000001", taken["slug"])
	assert.Equal(t, "TOFU", taken["funnel_stage"], "stage is normalized to upper case")

	numbers := map[int]bool{}
	for _, r := range st.inserted {
		numbers[*r["cluster_number"].(*int)] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true, 4: true}, numbers)

	plan := p.requests[0]
	assert.True(t, plan.JSON)
	assert.Contains(t, plan.Prompt, "3 TOFU")
	assert.Contains(t, plan.Prompt, "Primary keyword: Moving to the Costa del Sol")
	assert.Contains(t, plan.Prompt, defaultAudience)
}

func TestGenerateClusterReportsArticleFailures(t *testing.T) {
	p := &fakeProvider{plan: planJSON, failFor: "Buy Your Costa del Sol Villa"}
	st := &fakeStore{}
	g, delays := newTestGenerator(p, st)

	res, err := g.GenerateCluster(context.Background(), Request{Topic: "Villas", Language: "de"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, st.inserted, 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)

	for _, a := range res.Articles {
		if a.Headline == "Buy Your Costa del Sol Villa" {
			assert.Contains(t, a.Error, "after 3 attempts")
			assert.Empty(t, a.ArticleID)
		} else {
			assert.Empty(t, a.Error)
			assert.True(t, strings.HasSuffix(a.Slug, "-de"), a.Slug)
		}
	}
	assert.Contains(t, p.requests[0].Prompt, "German")
}

func TestPlanRetriesUnparseableAnswer(t *testing.T) {
	p := &fakeProvider{plan: planJSON, badPlan: 2}
	g, delays := newTestGenerator(p, &fakeStore{})

	plan, err := g.Plan(context.Background(), Request{Topic: "Golf"})
	require.NoError(t, err)
	assert.Len(t, plan.Articles, 4)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)

	p.badPlan = 3
	_, err = g.Plan(context.Background(), Request{Topic: "Golf"})
	assert.ErrorIs(t, err, llm.ErrNoJSON)
}

func TestPlanRejectsIncompleteArticles(t *testing.T) {
	p := &fakeProvider{plan: `{"articles":[{"funnelStage":"TOFU","headline":"Costa del Sol"},{"funnelStage":"XOFU","headline":"x","targetKeyword":"y"}]}`}
	g, _ := newTestGenerator(p, &fakeStore{})

	_, err := g.Plan(context.Background(), Request{Topic: "Golf"})
	require.ErrorIs(t, err, ErrInvalidPlan)
	assert.Contains(t, err.Error(), "2 article(s)")

	p.plan = `{"articles":[]}`
	_, err = g.Plan(context.Background(), Request{Topic: "Golf"})
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestGenerateClusterValidation(t *testing.T) {
	st := &fakeStore{}
	g, _ := newTestGenerator(&fakeProvider{plan: planJSON}, st)

	_, err := g.GenerateCluster(context.Background(), Request{Topic: "  "})
	assert.ErrorIs(t, err, ErrMissingTopic)

	_, err = g.GenerateCluster(context.Background(), Request{Topic: "Golf", Language: "es"})
	assert.ErrorIs(t, err, translate.ErrUnsupportedLanguage)

	noProvider := NewGenerator(nil, st, 1, nil)
	_, err = noProvider.GenerateCluster(context.Background(), Request{Topic: "Golf"})
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Empty(t, st.inserted)
}

func TestGenerateClusterSlugLookupFailure(t *testing.T) {
	st := &fakeStore{lookupErr: errors.New("connection reset")}
	g, _ := newTestGenerator(&fakeProvider{plan: planJSON}, st)

	res, err := g.GenerateCluster(context.Background(), Request{Topic: "Golf"})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Failed)
	assert.Contains(t, res.Articles[0].Error, "check slug")
	assert.Empty(t, st.inserted)
}
