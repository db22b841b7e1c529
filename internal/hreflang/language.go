package hreflang

import (
	"strings"

	"github.com/delsolprime/backoffice/internal/model"
)

var (
	englishQuestionStarts = []string{
		"what", "should", "how", "when", "why", "can", "is", "are",
		"do", "does", "will", "which", "where", "who",
	}
	englishAnswerStarts = []string{
		"the", "this", "it", "there", "you", "we", "if", "when",
		"while", "for", "to", "in", "a", "an",
	}
	englishStopWords = []string{
		"the", "is", "are", "and", "for", "with", "that", "this", "from", "have", "has",
	}
)

// IsEnglishText reports whether text reads as English
func IsEnglishText(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	if startsWithWord(t, englishQuestionStarts) {
		return true
	}

	lower := strings.ToLower(t)
	words := len(strings.Fields(lower))
	hits := 0
	for _, w := range englishStopWords {
		if strings.Contains(lower, " "+w+" ") ||
			strings.HasPrefix(lower, w+" ") ||
			strings.HasSuffix(lower, " "+w) {
			hits++
		}
	}
	if words > 10 && hits >= 3 {
		return true
	}
	return startsWithWord(t, englishAnswerStarts) && hits >= 2
}

// IsEnglishContent reports whether a QA page's question or answer is English
func IsEnglishContent(question, answer string) bool {
	return IsEnglishText(question) || IsEnglishText(answer)
}

func startsWithWord(text string, words []string) bool {
	first, _, ok := strings.Cut(text, " ")
	if !ok {
		return false
	}
	for _, w := range words {
		if strings.EqualFold(first, w) {
			return true
		}
	}
	return false
}

// Mismatch is a non-English QA page whose content is English
type Mismatch struct {
	ID              string `json:"qa_id"`
	Language        string `json:"language"`
	QuestionPreview string `json:"question_preview"`
	SourceArticleID string `json:"source_article_id,omitempty"`
}

// FindMismatches returns the pages tagged with a non-English language
// whose question or answer is English
func FindMismatches(pages []model.QAPage) []Mismatch {
	var out []Mismatch
	for _, p := range pages {
		if p.Language == "en" {
			continue
		}
		if !IsEnglishContent(p.QuestionMain, p.AnswerMain) {
			continue
		}
		preview := []rune(p.QuestionMain)
		if len(preview) > 80 {
			preview = preview[:80]
		}
		out = append(out, Mismatch{
			ID:              p.ID,
			Language:        p.Language,
			QuestionPreview: string(preview),
			SourceArticleID: deref(p.SourceArticleID),
		})
	}
	return out
}
