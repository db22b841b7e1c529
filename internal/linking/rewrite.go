package linking

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RewriteLegacyLinks prefixes language-less blog links ("/blog/slug") in an
// article body with lang. It reports whether anything changed.
func RewriteLegacyLinks(body, lang string) (string, bool, error) {
	if !strings.Contains(body, `"/blog/`) && !strings.Contains(body, `'/blog/`) {
		return body, false, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("parse body: %w", err)
	}

	changed := 0
	doc.Find(`a[href^="/blog/"]`).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		a.SetAttr("href", "/"+lang+href)
		changed++
	})
	if changed == 0 {
		return body, false, nil
	}

	out, err := doc.Find("body").Html()
	if err != nil {
		return "", false, fmt.Errorf("render body: %w", err)
	}
	return out, true, nil
}
