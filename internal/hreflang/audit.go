package hreflang

import "sort"

// GroupIssue describes one group that breaks an hreflang rule
type GroupIssue struct {
	GroupID    string   `json:"hreflang_group_id"`
	Size       int      `json:"size"`
	Languages  []string `json:"languages"`
	Duplicates []string `json:"duplicate_languages,omitempty"`
}

// AuditReport summarizes the state of existing group ids
type AuditReport struct {
	TotalPages           int            `json:"total_pages"`
	TotalGroups          int            `json:"total_groups"`
	HealthyGroups        int            `json:"healthy_groups"`
	DuplicateLanguages   []GroupIssue   `json:"duplicate_languages"`
	MissingEnglish       []GroupIssue   `json:"missing_english"`
	Oversized            []GroupIssue   `json:"oversized"`
	Orphans              []string       `json:"orphans"`
	LanguageDistribution map[string]int `json:"language_distribution"`
}

// Healthy reports whether the audit found nothing to repair
func (r *AuditReport) Healthy() bool {
	return len(r.DuplicateLanguages) == 0 && len(r.MissingEnglish) == 0 &&
		len(r.Oversized) == 0 && len(r.Orphans) == 0
}

// Audit inspects members as currently grouped. Unlike BuildPlan it
// trusts the stored group ids.
func Audit(members []Member) *AuditReport {
	report := &AuditReport{
		TotalPages:           len(members),
		DuplicateLanguages:   []GroupIssue{},
		MissingEnglish:       []GroupIssue{},
		Oversized:            []GroupIssue{},
		Orphans:              []string{},
		LanguageDistribution: map[string]int{},
	}

	groups := map[string][]Member{}
	for _, m := range members {
		report.LanguageDistribution[m.Language]++
		if m.GroupID == "" {
			report.Orphans = append(report.Orphans, m.ID)
			continue
		}
		groups[m.GroupID] = append(groups[m.GroupID], m)
	}
	report.TotalGroups = len(groups)

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		pages := groups[id]
		issue := GroupIssue{GroupID: id, Size: len(pages)}
		hasEnglish := false
		for _, p := range pages {
			issue.Languages = append(issue.Languages, p.Language)
			if p.Language == "en" {
				hasEnglish = true
			}
		}
		sort.Strings(issue.Languages)
		issue.Duplicates = duplicateLanguages(pages)

		healthy := true
		if len(issue.Duplicates) > 0 {
			report.DuplicateLanguages = append(report.DuplicateLanguages, issue)
			healthy = false
		}
		if !hasEnglish {
			report.MissingEnglish = append(report.MissingEnglish, issue)
			healthy = false
		}
		if len(pages) > MaxGroupSize {
			report.Oversized = append(report.Oversized, issue)
			healthy = false
		}
		if healthy {
			report.HealthyGroups++
		}
	}
	return report
}
