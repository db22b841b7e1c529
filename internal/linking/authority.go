package linking

import (
	"strings"

	"github.com/delsolprime/backoffice/internal/model"
)

type authoritySource struct {
	url   string
	title string
}

type authorityTopic struct {
	keywords []string
	sources  []authoritySource
}

// checked in order; earlier topics win when more than two match
var authorityTopics = []authorityTopic{
	{
		keywords: []string{"legal", "tax", "law", "itp", "plusvalía"},
		sources: []authoritySource{
			{"https://www.agenciatributaria.gob.es/AEAT.internet/en_gb/Inicio.shtml", "Spanish Tax Agency - Official Guidelines"},
			{"https://www.registradores.org/en/", "College of Registrars of Spain"},
		},
	},
	{
		keywords: []string{"market", "investment", "statistics", "price", "trend"},
		sources:  []authoritySource{{"https://www.ine.es/en/index.htm", "National Statistics Institute Spain"}},
	},
	{
		keywords: []string{"buying", "notary", "purchase", "deed", "escritura"},
		sources:  []authoritySource{{"https://www.notariado.org/portal/", "General Council of Spanish Notaries"}},
	},
	{
		keywords: []string{"visa", "residency", "golden", "nie", "immigration"},
		sources:  []authoritySource{{"https://www.inclusion.gob.es/en/index.htm", "Ministry of Inclusion - Immigration"}},
	},
	{
		keywords: []string{"property", "real estate", "apartment", "villa", "house"},
		sources:  []authoritySource{{"https://www.registradores.org/actualidad/portal-estadistico-registral", "Property Registry Statistics"}},
	},
}

// AuthorityLinks picks at most two official sources whose topic keywords
// appear in the article's category, headline or opening content
func AuthorityLinks(a model.Article) []model.InternalLink {
	text := strings.ToLower(a.Category + " " + a.Headline + " " + prefix(a.DetailedContent, 1000))

	var out []model.InternalLink
	seen := map[string]bool{}
	for _, topic := range authorityTopics {
		if !containsAny(text, topic.keywords) {
			continue
		}
		for _, src := range topic.sources {
			if seen[src.url] || len(out) == maxAuthorityLinks {
				continue
			}
			seen[src.url] = true
			out = append(out, model.InternalLink{
				Text:           strings.ToLower(src.title),
				URL:            src.url,
				Title:          src.title,
				Purpose:        "credibility_signal",
				RelevanceScore: authorityScore,
				Type:           LinkAuthority,
				Rel:            "external nofollow",
			})
		}
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
