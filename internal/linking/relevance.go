// Package linking builds the internal link lists of blog articles and QA
// pages from their cluster siblings.
package linking

import (
	"math"
	"sort"
	"strings"

	"github.com/delsolprime/backoffice/internal/model"
)

const (
	LinkInternal  = "internal_blog"
	LinkAuthority = "external_authority"

	minLinks = 2
	maxLinks = 6

	wordsPerLink      = 350
	authorityScore    = 85
	maxAuthorityLinks = 2
)

var locations = []string{"marbella", "costa del sol", "malaga", "estepona", "benahavis", "mijas", "fuengirola"}

// RelevanceScore rates how related target is to source, 0 to 100
func RelevanceScore(source, target model.Article) int {
	score := 0

	if source.Category != "" && strings.EqualFold(source.Category, target.Category) {
		score += 30
	}

	if st, tt := deref(source.ClusterTheme), deref(target.ClusterTheme); st != "" && tt != "" {
		sw := strings.Fields(strings.ToLower(st))
		tw := strings.Fields(strings.ToLower(tt))
		shared := 0
		for _, w := range sw {
			for _, t := range tw {
				if strings.Contains(t, w) || strings.Contains(w, t) {
					shared++
					break
				}
			}
		}
		score += min(25, shared*8)
	}

	if source.Headline != "" && target.Headline != "" {
		targetWords := map[string]bool{}
		for _, w := range longWords(target.Headline) {
			targetWords[w] = true
		}
		common := 0
		for _, w := range longWords(source.Headline) {
			if targetWords[w] {
				common++
			}
		}
		score += min(20, common*5)
	}

	if source.DetailedContent != "" && target.DetailedContent != "" {
		sc := strings.ToLower(prefix(source.DetailedContent, 500))
		tc := strings.ToLower(prefix(target.DetailedContent, 500))
		shared := 0
		for _, loc := range locations {
			if strings.Contains(sc, loc) && strings.Contains(tc, loc) {
				shared++
			}
		}
		score += min(15, shared*5)
	}

	if source.ClusterNumber != nil && target.ClusterNumber != nil &&
		*source.ClusterNumber != 0 && *source.ClusterNumber == *target.ClusterNumber {
		score += 10
	}

	return min(score, 100)
}

func longWords(s string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		if len([]rune(w)) > 3 {
			out = append(out, w)
		}
	}
	return out
}

var funnelMultiplier = map[model.FunnelStage]float64{
	model.FunnelTOFU: 0.8,
	model.FunnelMOFU: 1.0,
	model.FunnelBOFU: 1.2,
}

// OptimalLinkCount is one link per 350 words, scaled by funnel stage and
// clamped to 2..6
func OptimalLinkCount(a model.Article) int {
	base := len(strings.Fields(a.DetailedContent)) / wordsPerLink
	mult, ok := funnelMultiplier[a.FunnelStage]
	if !ok {
		mult = 1.0
	}
	n := int(math.Ceil(float64(base) * mult))
	return max(minLinks, min(n, maxLinks))
}

// AnchorQuestion phrases a headline as the question shown on a link
func AnchorQuestion(headline string) string {
	if strings.Contains(headline, "?") {
		return headline
	}
	lower := strings.ToLower(headline)
	for _, w := range []string{"how ", "what ", "why ", "when ", "where "} {
		if strings.HasPrefix(lower, w) {
			return headline + "?"
		}
	}
	if strings.Contains(lower, "guide") || strings.Contains(lower, "tips") {
		return "How to: " + headline
	}
	return "Learn more about " + lower
}

// ArticleURL is the public path of a blog article
func ArticleURL(lang, slug string) string {
	return "/" + lang + "/blog/" + slug
}

type scored struct {
	article model.Article
	score   int
}

// selectBest returns the count highest-scoring candidates, never source itself
func selectBest(source model.Article, candidates []model.Article, count int) []scored {
	out := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == source.ID {
			continue
		}
		out = append(out, scored{article: c, score: RelevanceScore(source, c)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	if len(out) > count {
		out = out[:count]
	}
	return out
}

// slot is one share of an article's link budget
type slot struct {
	purpose string
	stage   model.FunnelStage
	count   int
}

// distribute splits total links across funnel targets. Roughly 15% of the
// budget, at least one link, is reserved for authority sources.
func distribute(total int, stage model.FunnelStage) []slot {
	authority := max(1, total*15/100)
	internal := float64(total - authority)
	ceil := func(f float64) int { return int(math.Ceil(internal * f)) }
	floor := func(f float64) int { return int(math.Floor(internal * f)) }
	orDefault := func(n, d int) int {
		if n > 0 {
			return n
		}
		return d
	}

	switch stage {
	case model.FunnelMOFU:
		return []slot{
			{"context", model.FunnelTOFU, orDefault(ceil(0.3), 1)},
			{"conversion", model.FunnelBOFU, orDefault(ceil(0.4), 1)},
			{"comparison", model.FunnelMOFU, orDefault(floor(0.3), 1)},
		}
	case model.FunnelBOFU:
		return []slot{
			{"evidence", model.FunnelMOFU, orDefault(ceil(0.5), 2)},
			{"context", model.FunnelTOFU, orDefault(floor(0.3), 1)},
			{"conversion", model.FunnelBOFU, orDefault(floor(0.2), 1)},
		}
	default:
		return []slot{
			{"funnel_progression", model.FunnelMOFU, orDefault(ceil(0.6), 2)},
			{"related_topic", model.FunnelTOFU, orDefault(floor(0.4), 1)},
		}
	}
}

// PlanLinks builds the link list for article from same-language siblings
func PlanLinks(article model.Article, siblings []model.Article) []model.InternalLink {
	byStage := map[model.FunnelStage][]model.Article{}
	for _, s := range siblings {
		if s.Language != article.Language {
			continue
		}
		byStage[s.FunnelStage] = append(byStage[s.FunnelStage], s)
	}

	stage := article.FunnelStage
	if stage == "" {
		stage = model.FunnelTOFU
	}

	var links []model.InternalLink
	for _, sl := range distribute(OptimalLinkCount(article), stage) {
		for _, best := range selectBest(article, byStage[sl.stage], sl.count) {
			links = append(links, internalLink(best.article, sl.purpose, best.score, article.Language))
		}
	}
	return append(links, AuthorityLinks(article)...)
}

func internalLink(target model.Article, purpose string, score int, lang string) model.InternalLink {
	return model.InternalLink{
		Text:           strings.ToLower(target.Headline),
		URL:            ArticleURL(lang, target.Slug),
		Title:          target.Headline,
		Question:       AnchorQuestion(target.Headline),
		Snippet:        prefix(target.MetaDescription, 120),
		FunnelStage:    target.FunnelStage,
		Purpose:        purpose,
		RelevanceScore: score,
		Type:           LinkInternal,
	}
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
