// Package hreflang audits and repairs the translation groups that tie the
// language versions of a page together.
package hreflang

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/delsolprime/backoffice/internal/model"
)

// MaxGroupSize is one page per site language
const MaxGroupSize = 10

// Member is the part of an article or QA page that grouping looks at
type Member struct {
	ID              string
	Slug            string
	Language        string
	GroupID         string
	SourceArticleID string
	QAType          string
	CreatedAt       time.Time
}

// QAMember projects a QA page
func QAMember(p model.QAPage) Member {
	return Member{
		ID:              p.ID,
		Slug:            p.Slug,
		Language:        p.Language,
		GroupID:         deref(p.HreflangGroupID),
		SourceArticleID: deref(p.SourceArticleID),
		QAType:          deref(p.QAType),
		CreatedAt:       p.CreatedAt,
	}
}

// ArticleMember projects a blog article. An English original is its own source.
func ArticleMember(a model.Article) Member {
	src := deref(a.SourceArticleID)
	if src == "" && a.Language == "en" {
		src = a.ID
	}
	return Member{
		ID:              a.ID,
		Slug:            a.Slug,
		Language:        a.Language,
		GroupID:         deref(a.HreflangGroupID),
		SourceArticleID: src,
		CreatedAt:       a.CreatedAt,
	}
}

var langSuffix = regexp.MustCompile(`(?i)-[a-z]{2}-[a-z0-9]+$`)

// GroupKey is the identity of the translation set m belongs to
func GroupKey(m Member) string {
	qaType := m.QAType
	if qaType == "" {
		qaType = "default"
	}
	if m.SourceArticleID != "" {
		return fmt.Sprintf("article::%s::%s", m.SourceArticleID, qaType)
	}
	return fmt.Sprintf("slug::%s::%s", langSuffix.ReplaceAllString(m.Slug, ""), qaType)
}

// Update is the new group assignment for one page
type Update struct {
	ID           string            `json:"id"`
	GroupID      string            `json:"hreflang_group_id"`
	Translations map[string]string `json:"translations"`
}

// Stats counts what a repair plan found
type Stats struct {
	GroupsProcessed              int `json:"groupsProcessed"`
	ValidGroups                  int `json:"validGroups"`
	GroupsWithDuplicateLanguages int `json:"groupsWithDuplicateLanguages"`
	GroupsOver10Pages            int `json:"groupsOver10Pages"`
	EnglishAnchors               int `json:"englishAnchors"`
	TranslationsLinked           int `json:"translationsLinked"`
	NoEnglishAnchor              int `json:"noEnglishAnchor"`
}

// Plan is the set of updates a repair would write
type Plan struct {
	Updates  []Update `json:"-"`
	Stats    Stats    `json:"stats"`
	Warnings []string `json:"warnings"`
}

// GroupCount is the number of distinct groups the plan assigns
func (p *Plan) GroupCount() int {
	seen := map[string]bool{}
	for _, u := range p.Updates {
		seen[u.GroupID] = true
	}
	return len(seen)
}

// GroupSizes maps group size to how many groups have it
func (p *Plan) GroupSizes() map[int]int {
	sizes := map[string]int{}
	for _, u := range p.Updates {
		sizes[u.GroupID]++
	}
	out := map[int]int{}
	for _, n := range sizes {
		out[n]++
	}
	return out
}

// BuildPlan regroups members by GroupKey. A group holding the same
// language twice is split by position: the oldest page of each language
// forms the first group, the second oldest the next, and so on.
// Every resulting group gets a fresh id.
func BuildPlan(members []Member, newID func() string) *Plan {
	if newID == nil {
		newID = uuid.NewString
	}

	groups := map[string][]Member{}
	var keys []string
	for _, m := range members {
		k := GroupKey(m)
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], m)
	}

	plan := &Plan{}
	for _, key := range keys {
		pages := groups[key]
		sortByCreated(pages)
		plan.Stats.GroupsProcessed++

		if dups := duplicateLanguages(pages); len(dups) > 0 {
			plan.Stats.GroupsWithDuplicateLanguages++
			plan.Warnings = append(plan.Warnings, fmt.Sprintf(
				"Group %s has duplicate languages: %v (%d total pages)", key, dups, len(pages)))
			for _, sub := range splitByPosition(pages) {
				plan.assign(sub, newID())
			}
			continue
		}

		if len(pages) > MaxGroupSize {
			plan.Stats.GroupsOver10Pages++
			plan.Warnings = append(plan.Warnings, fmt.Sprintf(
				"Group %s has %d pages (expected max %d)", key, len(pages), MaxGroupSize))
		}
		plan.Stats.ValidGroups++

		english := 0
		for _, p := range pages {
			if p.Language == "en" {
				english++
			}
		}
		if english == 0 {
			plan.Stats.NoEnglishAnchor++
		}
		plan.Stats.EnglishAnchors += english
		plan.assign(pages, newID())
	}
	return plan
}

func (p *Plan) assign(pages []Member, groupID string) {
	translations := make(map[string]string, len(pages))
	for _, m := range pages {
		translations[m.Language] = m.Slug
	}
	for _, m := range pages {
		p.Updates = append(p.Updates, Update{ID: m.ID, GroupID: groupID, Translations: translations})
	}
	p.Stats.TranslationsLinked += len(pages)
}

func splitByPosition(pages []Member) [][]Member {
	byLang := map[string][]Member{}
	var langs []string
	for _, p := range pages {
		if _, ok := byLang[p.Language]; !ok {
			langs = append(langs, p.Language)
		}
		byLang[p.Language] = append(byLang[p.Language], p)
	}
	depth := 0
	for _, l := range byLang {
		depth = max(depth, len(l))
	}
	out := make([][]Member, 0, depth)
	for pos := 0; pos < depth; pos++ {
		var sub []Member
		for _, lang := range langs {
			if pos < len(byLang[lang]) {
				sub = append(sub, byLang[lang][pos])
			}
		}
		out = append(out, sub)
	}
	return out
}

func duplicateLanguages(pages []Member) []string {
	seen := map[string]int{}
	var dups []string
	for _, p := range pages {
		seen[p.Language]++
		if seen[p.Language] == 2 {
			dups = append(dups, p.Language)
		}
	}
	return dups
}

func sortByCreated(pages []Member) {
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].CreatedAt.Before(pages[j].CreatedAt)
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
