package translate

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MaxContentLength is the body size above which content is translated in chunks
	MaxContentLength = 6000

	maxMetaTitle       = 60
	maxMetaDescription = 160
)

var (
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
	h2Start      = regexp.MustCompile(`(?i)<h2[\s>]`)
)

// Slugify lowercases s, strips diacritics and joins the remaining
// alphanumeric runs with dashes.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	return strings.Trim(nonSlugChars.ReplaceAllString(folded, "-"), "-")
}

// LocalizedSlug is Slugify(headline) with a "-<lang>" suffix
func LocalizedSlug(headline, lang string) string {
	slug := Slugify(headline)
	suffix := "-" + lang
	if strings.HasSuffix(slug, suffix) {
		return slug
	}
	return slug + suffix
}

// SplitByHeadings splits long HTML before each <h2>, merging neighbouring
// pieces while the merged chunk stays under half of MaxContentLength.
// Content up to MaxContentLength is returned whole.
func SplitByHeadings(html string) []string {
	if len(html) <= MaxContentLength {
		return []string{html}
	}

	var parts []string
	prev := 0
	for _, loc := range h2Start.FindAllStringIndex(html, -1) {
		if loc[0] > prev {
			parts = append(parts, html[prev:loc[0]])
		}
		prev = loc[0]
	}
	parts = append(parts, html[prev:])

	var chunks []string
	current := ""
	for _, part := range parts {
		if len(current)+len(part) < MaxContentLength/2 {
			current += part
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
		}
		current = part
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// Truncate shortens s to max characters, ending in "..." when cut
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
