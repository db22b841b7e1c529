package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/delsolprime/backoffice/internal/model"
)

const (
	tableBlockedDomains    = "blocked_domains"
	tableDiscoveredDomains = "discovered_domains"
	tableCitationHealth    = "external_citation_health"
)

// BlockedDomains returns the lowercase blocked domain list
func (c *Client) BlockedDomains(ctx context.Context) ([]string, error) {
	rows, err := selectRows[model.BlockedDomain](ctx, tableBlockedDomains,
		c.from(tableBlockedDomains).Select("domain,reason", "", false))
	if err != nil {
		return nil, err
	}
	domains := make([]string, 0, len(rows))
	for _, r := range rows {
		if d := strings.ToLower(strings.TrimSpace(r.Domain)); d != "" {
			domains = append(domains, d)
		}
	}
	return domains, nil
}

// UpsertDiscoveredDomain records a domain surfaced by citation discovery
func (c *Client) UpsertDiscoveredDomain(ctx context.Context, domain, source string, at time.Time) error {
	row := Row{
		"domain":        strings.ToLower(domain),
		"source":        source,
		"last_seen_at":  timestamp(at),
		"is_government": false,
	}
	return execute(ctx, "upsert", tableDiscoveredDomains,
		c.from(tableDiscoveredDomains).Insert(row, true, "domain", "minimal", ""))
}

// UpsertCitationHealth writes health results keyed by url
func (c *Client) UpsertCitationHealth(ctx context.Context, results []model.CitationHealth) error {
	if len(results) == 0 {
		return nil
	}
	rows := make([]Row, 0, len(results))
	for _, r := range results {
		// bulk upserts take their column list from the first object, so every row carries every key
		row := Row{
			"url":              r.URL,
			"status":           string(r.Status),
			"http_status_code": nullable(r.HTTPStatusCode != 0, r.HTTPStatusCode),
			"response_time_ms": r.ResponseTimeMS,
			"redirect_url":     nullable(r.RedirectURL != "", r.RedirectURL),
			"page_title":       nullable(r.PageTitle != "", r.PageTitle),
			"error":            nullable(r.Error != "", r.Error),
			"last_checked_at":  timestamp(r.LastCheckedAt),
		}
		rows = append(rows, row)
	}
	return execute(ctx, "upsert", tableCitationHealth,
		c.from(tableCitationHealth).Insert(rows, true, "url", "minimal", ""))
}

func nullable(ok bool, v any) any {
	if !ok {
		return nil
	}
	return v
}

// PendingCitationURLs returns up to limit URLs that have never been checked,
// plus the number of unchecked URLs in total
func (c *Client) PendingCitationURLs(ctx context.Context, limit int) ([]string, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	data, count, err := c.from(tableCitationHealth).
		Select("url", "exact", false).
		Is("status", "null").
		Limit(limit, "").
		Execute()
	if err != nil {
		return nil, 0, classify("select", tableCitationHealth, err)
	}
	var rows []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", tableCitationHealth, err)
	}
	urls := make([]string, 0, len(rows))
	for _, r := range rows {
		urls = append(urls, r.URL)
	}
	return urls, int(count), nil
}
