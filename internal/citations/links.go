package citations

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Link is one anchor found in an article body
type Link struct {
	URL      string `json:"url"`
	Host     string `json:"host"`
	Text     string `json:"text"`
	External bool   `json:"external"`
	Rel      string `json:"rel,omitempty"`
}

// ExtractLinks returns the unique http(s) links of an HTML fragment,
// resolved against base. Fragment, javascript: and mailto: links are skipped.
func ExtractLinks(body, base string) ([]Link, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	baseHost := normalizeDomain(baseURL.Hostname())

	var links []Link
	seen := map[string]bool{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			var href, rel string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "href":
					href = strings.TrimSpace(attr.Val)
				case "rel":
					rel = attr.Val
				}
			}
			if resolved := resolveURL(baseURL, href); resolved != nil && !seen[resolved.String()] {
				seen[resolved.String()] = true
				host := normalizeDomain(resolved.Hostname())
				links = append(links, Link{
					URL:      resolved.String(),
					Host:     host,
					Text:     strings.TrimSpace(textOf(n)),
					External: host != baseHost,
					Rel:      rel,
				})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// ExternalURLs is ExtractLinks reduced to outbound URLs
func ExternalURLs(body, base string) ([]string, error) {
	links, err := ExtractLinks(body, base)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, l := range links {
		if l.External {
			out = append(out, l.URL)
		}
	}
	return out, nil
}

func resolveURL(base *url.URL, href string) *url.URL {
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return nil
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return nil
	}
	resolved := base.ResolveReference(parsed)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil
	}
	resolved.Fragment = ""
	return resolved
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
