package hreflang

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func sp(s string) *string { return &s }

func member(id, lang, src string, minute int) Member {
	return Member{
		ID:              id,
		Slug:            "slug-" + id,
		Language:        lang,
		SourceArticleID: src,
		CreatedAt:       t0.Add(time.Duration(minute) * time.Minute),
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("g%d", n)
	}
}

func TestGroupKey(t *testing.T) {
	assert.Equal(t, "article::a1::faq", GroupKey(Member{SourceArticleID: "a1", QAType: "faq"}))
	assert.Equal(t, "article::a1::default", GroupKey(Member{SourceArticleID: "a1"}))
	assert.Equal(t, "slug::buying-costs::default", GroupKey(Member{Slug: "buying-costs-de-x7k2"}))
	assert.Equal(t, "slug::buying-costs::core", GroupKey(Member{Slug: "buying-costs", QAType: "core"}))
}

func TestBuildPlanValidGroup(t *testing.T) {
	plan := BuildPlan([]Member{
		member("q-en", "en", "a1", 0),
		member("q-de", "de", "a1", 1),
		member("q-nl", "nl", "a1", 2),
		member("q-x", "fr", "a2", 3),
	}, sequentialIDs())

	want := map[string]string{"en": "slug-q-en", "de": "slug-q-de", "nl": "slug-q-nl"}
	require.Len(t, plan.Updates, 4)
	for _, u := range plan.Updates[:3] {
		assert.Equal(t, "g1", u.GroupID)
		if diff := cmp.Diff(want, u.Translations); diff != "" {
			t.Errorf("translations mismatch (-want +got):\n%s", diff)
		}
	}
	assert.Equal(t, "g2", plan.Updates[3].GroupID)

	assert.Equal(t, Stats{
		GroupsProcessed:    2,
		ValidGroups:        2,
		EnglishAnchors:     1,
		TranslationsLinked: 4,
		NoEnglishAnchor:    1,
	}, plan.Stats)
	assert.Equal(t, 2, plan.GroupCount())
	assert.Equal(t, map[int]int{3: 1, 1: 1}, plan.GroupSizes())
}

func TestBuildPlanSplitsDuplicateLanguages(t *testing.T) {
	plan := BuildPlan([]Member{
		member("en-2", "en", "a1", 5),
		member("en-1", "en", "a1", 0),
		member("de-1", "de", "a1", 1),
		member("de-2", "de", "a1", 6),
		member("fr-1", "fr", "a1", 2),
	}, sequentialIDs())

	groups := map[string][]string{}
	for _, u := range plan.Updates {
		groups[u.GroupID] = append(groups[u.GroupID], u.ID)
	}
	if diff := cmp.Diff(map[string][]string{
		"g1": {"en-1", "de-1", "fr-1"},
		"g2": {"en-2", "de-2"},
	}, groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, plan.Stats.GroupsWithDuplicateLanguages)
	assert.Equal(t, 0, plan.Stats.ValidGroups)
	require.Len(t, plan.Warnings, 1)
	assert.Contains(t, plan.Warnings[0], "duplicate languages: [en de]")
}

func TestBuildPlanOversizedGroup(t *testing.T) {
	var members []Member
	for i := 0; i < 11; i++ {
		members = append(members, member(fmt.Sprintf("p%d", i), fmt.Sprintf("l%d", i), "a1", i))
	}
	plan := BuildPlan(members, sequentialIDs())
	assert.Equal(t, 1, plan.Stats.GroupsOver10Pages)
	assert.Equal(t, 1, plan.GroupCount())
}

func TestAudit(t *testing.T) {
	report := Audit([]Member{
		{ID: "1", Language: "en", GroupID: "ok"},
		{ID: "2", Language: "de", GroupID: "ok"},
		{ID: "3", Language: "de", GroupID: "dup"},
		{ID: "4", Language: "de", GroupID: "dup"},
		{ID: "5", Language: "en", GroupID: "dup"},
		{ID: "6", Language: "fr"},
	})

	assert.Equal(t, 6, report.TotalPages)
	assert.Equal(t, 2, report.TotalGroups)
	assert.Equal(t, 1, report.HealthyGroups)
	require.Len(t, report.DuplicateLanguages, 1)
	assert.Equal(t, []string{"de"}, report.DuplicateLanguages[0].Duplicates)
	assert.Equal(t, []string{"de", "de", "en"}, report.DuplicateLanguages[0].Languages)
	assert.Empty(t, report.MissingEnglish)
	assert.Equal(t, []string{"6"}, report.Orphans)
	assert.Equal(t, 3, report.LanguageDistribution["de"])
	assert.False(t, report.Healthy())
}

func TestIsEnglishText(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"What are the costs of buying in Marbella?", true},
		{"how much is IBI tax", true},
		{"Wat zijn de kosten van een woning in Marbella?", false},
		{"The notary fee is paid by the buyer and the seller", true},
		{"Die Grunderwerbsteuer beträgt in Andalusien sieben Prozent des Kaufpreises für alle Immobilien", false},
		{"Buyers should note that the tax is due on completion and that fees from agents vary by region", true},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsEnglishText(tt.text), tt.text)
	}
}

func TestFindMismatches(t *testing.T) {
	got := FindMismatches([]model.QAPage{
		{ID: "1", Language: "en", QuestionMain: "What is IBI?"},
		{ID: "2", Language: "de", QuestionMain: "What is IBI?", SourceArticleID: sp("a1")},
		{ID: "3", Language: "de", QuestionMain: "Was ist IBI?", AnswerMain: "IBI ist die Grundsteuer."},
	})
	assert.Equal(t, []Mismatch{{ID: "2", Language: "de", QuestionPreview: "What is IBI?", SourceArticleID: "a1"}}, got)
}

type fakeStore struct {
	qa        []model.QAPage
	articles  []model.Article
	filters   []store.ContentFilter
	qaPatches map[string]store.Row
	artPatch  map[string]store.Row
	deleted   [][]string
	failID    string
}

func newFakeStore() *fakeStore {
	return &fakeStore{qaPatches: map[string]store.Row{}, artPatch: map[string]store.Row{}}
}

func (s *fakeStore) ListQAPages(ctx context.Context, f store.ContentFilter) ([]model.QAPage, error) {
	s.filters = append(s.filters, f)
	var out []model.QAPage
	for _, p := range s.qa {
		if f.NotLanguage != "" && p.Language == f.NotLanguage {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) UpdateQAPage(ctx context.Context, id string, patch store.Row) error {
	if id == s.failID {
		return errors.New("boom")
	}
	s.qaPatches[id] = patch
	return nil
}

func (s *fakeStore) DeleteQAPages(ctx context.Context, ids []string) error {
	s.deleted = append(s.deleted, ids)
	return nil
}

func (s *fakeStore) ListArticles(ctx context.Context, f store.ContentFilter) ([]model.Article, error) {
	s.filters = append(s.filters, f)
	return s.articles, nil
}

func (s *fakeStore) UpdateArticle(ctx context.Context, id string, patch store.Row) error {
	s.artPatch[id] = patch
	return nil
}

func qaPage(id, lang, src string) model.QAPage {
	return model.QAPage{ID: id, Slug: "q-" + id, Language: lang, SourceArticleID: sp(src), CreatedAt: t0}
}

func TestRepairDefaultsToDryRun(t *testing.T) {
	st := newFakeStore()
	st.qa = []model.QAPage{qaPage("1", "en", "a1"), qaPage("2", "nl", "a1")}
	svc := NewService(st, nil)

	res, err := svc.Repair(context.Background(), RepairRequest{ClusterID: "c1"})
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Empty(t, st.qaPatches)
	assert.Equal(t, "Would update 2 pages across 1 hreflang groups", res.Message)
	require.Len(t, res.Preview, 2)
	assert.Equal(t, []string{"en", "nl"}, res.Preview[0].LanguagesLinked)
	assert.Equal(t, "c1", st.filters[0].ClusterID)
	assert.Equal(t, model.StatusPublished, st.filters[0].Status)
}

func TestRepairWrites(t *testing.T) {
	st := newFakeStore()
	st.qa = []model.QAPage{qaPage("1", "en", "a1"), qaPage("2", "nl", "a1"), qaPage("3", "de", "a1")}
	st.failID = "3"
	svc := NewService(st, nil)
	svc.newID = sequentialIDs()

	dry := false
	res, err := svc.Repair(context.Background(), RepairRequest{DryRun: &dry})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 1, res.ErrorCount)
	assert.Equal(t, "g1", st.qaPatches["1"]["hreflang_group_id"])
	assert.Equal(t, map[string]string{"en": "q-1", "nl": "q-2", "de": "q-3"}, st.qaPatches["2"]["translations"])
}

func TestRepairBlogGroupsBySourceArticle(t *testing.T) {
	st := newFakeStore()
	st.articles = []model.Article{
		{ID: "en-1", Slug: "villa", Language: "en", CreatedAt: t0},
		{ID: "de-1", Slug: "villa-de", Language: "de", SourceArticleID: sp("en-1"), CreatedAt: t0},
	}
	svc := NewService(st, nil)
	svc.newID = sequentialIDs()

	dry := false
	res, err := svc.Repair(context.Background(), RepairRequest{DryRun: &dry, ContentType: ContentBlog})
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalGroups)
	assert.Equal(t, "g1", st.artPatch["de-1"]["hreflang_group_id"])
	assert.Empty(t, st.qaPatches)
}

func TestFixMismatches(t *testing.T) {
	st := newFakeStore()
	st.qa = []model.QAPage{
		{ID: "1", Language: "en", QuestionMain: "What is IBI?"},
		{ID: "2", Language: "de", QuestionMain: "What is IBI?"},
		{ID: "3", Language: "fr", QuestionMain: "Qu'est-ce que l'IBI ?"},
	}
	svc := NewService(st, nil)

	res, err := svc.FixMismatches(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.IssuesFound)
	assert.Equal(t, map[string]int{"de": 1}, res.IssuesByLanguage)
	assert.Empty(t, st.deleted)
	assert.Equal(t, "en", st.filters[0].NotLanguage)

	res, err = svc.FixMismatches(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.IssuesFixed)
	assert.Equal(t, [][]string{{"2"}}, st.deleted)
}
