package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	postgrest "github.com/supabase-community/postgrest-go"

	"github.com/delsolprime/backoffice/internal/model"
)

// ArticleTarget selects the published articles a bulk operation visits.
// IDs, when set, replace the Missing* conditions.
type ArticleTarget struct {
	MissingImage     bool
	MissingCitations bool
	InCluster        bool
	IDs              []string
}

// ArticleIDs lists published article ids matching t, newest first
func (c *Client) ArticleIDs(ctx context.Context, t ArticleTarget) ([]string, error) {
	fb := c.from(tableArticles).Select("id", "", false).Eq("status", string(model.StatusPublished))
	switch {
	case len(t.IDs) > 0:
		fb = fb.In("id", t.IDs)
	case t.MissingImage:
		fb = fb.Is("featured_image_url", "null")
	case t.MissingCitations:
		fb = fb.Or("external_citations.is.null,external_citations.eq.[]", "")
	}
	if t.InCluster {
		fb = fb.Not("cluster_id", "is", "null")
	}
	fb = fb.Order("created_at", &postgrest.OrderOpts{Ascending: false})

	rows, err := selectRows[struct {
		ID string `json:"id"`
	}](ctx, tableArticles, fb)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// ClusterIDs lists the distinct clusters with published articles
func (c *Client) ClusterIDs(ctx context.Context) ([]string, error) {
	rows, err := selectRows[struct {
		ClusterID *string `json:"cluster_id"`
	}](ctx, tableArticles, c.from(tableArticles).
		Select("cluster_id", "", false).
		Eq("status", string(model.StatusPublished)).
		Not("cluster_id", "is", "null").
		Order("created_at", &postgrest.OrderOpts{Ascending: true}))
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, r := range rows {
		if r.ClusterID == nil || seen[*r.ClusterID] {
			continue
		}
		seen[*r.ClusterID] = true
		ids = append(ids, *r.ClusterID)
	}
	return ids, nil
}

// FunctionError is a non-2xx answer from an edge function
type FunctionError struct {
	Name       string
	StatusCode int
	Body       string
}

func (e *FunctionError) Error() string {
	return fmt.Sprintf("function %s: HTTP %d: %s", e.Name, e.StatusCode, strings.TrimSpace(e.Body))
}

// InvokeFunction calls the named edge function with a JSON payload and
// returns the response body
func (c *Client) InvokeFunction(ctx context.Context, name string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	endpoint := strings.TrimSuffix(c.cfg.URL, "/") + "/functions/v1/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)
	req.Header.Set("apikey", c.cfg.ServiceKey)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FunctionError{Name: name, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
