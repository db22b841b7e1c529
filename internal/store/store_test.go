package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delsolprime/backoffice/internal/model"
)

type recordedRequest struct {
	Method string
	Table  string
	Query  url.Values
	Prefer string
	Body   string
}

// fakePostgREST serves canned bodies per "METHOD table" and records requests
type fakePostgREST struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]fakeResponse
}

type fakeResponse struct {
	status  int
	body    string
	headers map[string]string
}

func newFakePostgREST(t *testing.T) (*fakePostgREST, *Client) {
	t.Helper()
	f := &fakePostgREST{responses: map[string]fakeResponse{}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")

		f.mu.Lock()
		f.requests = append(f.requests, recordedRequest{
			Method: r.Method,
			Table:  table,
			Query:  r.URL.Query(),
			Prefer: r.Header.Get("Prefer"),
			Body:   string(body),
		})
		resp, ok := f.responses[r.Method+" "+table]
		f.mu.Unlock()

		if !ok {
			resp = fakeResponse{status: http.StatusOK, body: "[]"}
		}
		w.Header().Set("Content-Type", "application/json")
		for k, v := range resp.headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.status)
		_, _ = w.Write([]byte(resp.body))
	}))
	t.Cleanup(server.Close)

	c, err := New(context.Background(), Config{URL: server.URL, ServiceKey: "service"}, nil)
	require.NoError(t, err)
	return f, c
}

func (f *fakePostgREST) respond(method, table string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method+" "+table] = fakeResponse{status: status, body: body}
}

func (f *fakePostgREST) respondWithHeaders(method, table string, status int, body string, headers map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method+" "+table] = fakeResponse{status: status, body: body, headers: headers}
}

func (f *fakePostgREST) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakePostgREST) all() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{URL: "https://x.supabase.co"}, nil)
	assert.Error(t, err)

	c, err := New(context.Background(), Config{URL: "https://x.supabase.co/", ServiceKey: "k"}, nil)
	require.NoError(t, err)
	assert.False(t, c.HasDirectDB())
	assert.Nil(t, c.DB())
	assert.NoError(t, c.Close())
}

func TestGetLead_NotFound(t *testing.T) {
	fake, c := newFakePostgREST(t)

	_, err := c.GetLead(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	req := fake.last()
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, tableLeads, req.Table)
	assert.Equal(t, "eq.missing", req.Query.Get("id"))
	assert.Equal(t, "1", req.Query.Get("limit"))
}

func TestGetLead_Decodes(t *testing.T) {
	fake, c := newFakePostgREST(t)
	fake.respond(http.MethodGet, tableLeads, http.StatusOK, `[{
		"id": "lead-1", "first_name": "Anna", "last_name": "Berg", "language": "sv",
		"location_preference": ["Marbella", "Estepona"], "lead_segment": "Hot",
		"claim_timer_expires_at": "2026-03-01T10:15:00.123456+00:00",
		"created_at": "2026-03-01T10:00:00+00:00"
	}]`)

	lead, err := c.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Anna Berg", lead.FullName())
	assert.Equal(t, model.SegmentHot, lead.LeadSegment)
	assert.Equal(t, []string{"Marbella", "Estepona"}, lead.LocationPreference)
	require.NotNil(t, lead.ClaimTimerExpiresAt)
	assert.Equal(t, 15, lead.ClaimTimerExpiresAt.Minute())
}

func TestInsertActivity_Duplicate(t *testing.T) {
	fake, c := newFakePostgREST(t)
	fake.respond(http.MethodPost, tableActivities, http.StatusConflict,
		`{"code":"23505","message":"duplicate key value violates unique constraint \"crm_activities_salestrail_call_id_key\""}`)

	_, err := c.InsertActivity(context.Background(), Row{"salestrail_call_id": "call-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicate))

	req := fake.last()
	assert.Equal(t, "return=representation", req.Prefer)
	assert.JSONEq(t, `{"salestrail_call_id":"call-1"}`, req.Body)
}

func TestExpiredClaimWindows_Filters(t *testing.T) {
	fake, c := newFakePostgREST(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	leads, err := c.ExpiredClaimWindows(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, leads)

	q := fake.last().Query
	assert.Equal(t, "lt.2026-03-01T12:00:00Z", q.Get("claim_timer_expires_at"))
	assert.Equal(t, "eq.false", q.Get("lead_claimed"))
	assert.Equal(t, "eq.false", q.Get("claim_sla_breached"))
	assert.Equal(t, "eq.false", q.Get("archived"))
}

func TestExpiredContactWindows_Filters(t *testing.T) {
	fake, c := newFakePostgREST(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := c.ExpiredContactWindows(context.Background(), now)
	require.NoError(t, err)

	q := fake.last().Query
	assert.Equal(t, "lt.2026-03-01T12:00:00Z", q.Get("contact_timer_expires_at"))
	assert.Equal(t, "eq.true", q.Get("lead_claimed"))
	assert.Equal(t, "eq.false", q.Get("first_action_completed"))
	assert.Equal(t, "eq.false", q.Get("contact_sla_breached"))
}

func TestDueReminders_RangeUsesAnd(t *testing.T) {
	fake, c := newFakePostgREST(t)
	from := time.Date(2026, 3, 1, 12, 55, 0, 0, time.UTC)
	to := from.Add(10 * time.Minute)

	_, err := c.DueReminders(context.Background(), "email_sent", from, to)
	require.NoError(t, err)

	q := fake.last().Query
	assert.Equal(t, "(reminder_datetime.gte.2026-03-01T12:55:00Z,reminder_datetime.lte.2026-03-01T13:05:00Z)", q.Get("and"))
	assert.Equal(t, "eq.false", q.Get("email_sent"))
	assert.Equal(t, "eq.true", q.Get("send_email"))
	assert.Equal(t, "reminder_datetime.asc.nullslast", q.Get("order"))
}

func TestActiveRoutingRules_Order(t *testing.T) {
	fake, c := newFakePostgREST(t)

	_, err := c.ActiveRoutingRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "priority.desc.nullslast,created_at.asc.nullslast", fake.last().Query.Get("order"))
}

func TestFindAgentByContact(t *testing.T) {
	fake, c := newFakePostgREST(t)
	fake.respond(http.MethodGet, tableAgents, http.StatusOK, `[{"id":"agent-1","email":"a@x.com"}]`)

	agent, err := c.FindAgentByContact(context.Background(), "a@x.com", "+34600111222")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", agent.ID)
	assert.Equal(t, "(email.eq.a@x.com,phone.eq.+34600111222)", fake.last().Query.Get("or"))

	_, err = c.FindAgentByContact(context.Background(), "", "+34600111222")
	require.NoError(t, err)
	assert.Equal(t, "eq.+34600111222", fake.last().Query.Get("phone"))

	_, err = c.FindAgentByContact(context.Background(), "", "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindAgentLeadByPhone(t *testing.T) {
	fake, c := newFakePostgREST(t)
	fake.respond(http.MethodGet, tableLeads, http.StatusOK, `[{"id":"lead-3"}]`)

	lead, err := c.FindAgentLeadByPhone(context.Background(), "agent-1", "612345678", "34612345678")
	require.NoError(t, err)
	assert.Equal(t, "lead-3", lead.ID)
	assert.Equal(t, "(phone_number.ilike.*612345678*,full_phone.ilike.*34612345678*)", fake.last().Query.Get("or"))
	require.Len(t, fake.all(), 1)

	_, err = c.FindAgentLeadByPhone(context.Background(), "agent-1", "", "")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Len(t, fake.all(), 1, "no query without digits")
}

func TestAdjustAgentLeadCount_FloorsAtZero(t *testing.T) {
	fake, c := newFakePostgREST(t)
	fake.respond(http.MethodGet, tableAgents, http.StatusOK, `[{"id":"agent-1","current_lead_count":0}]`)

	require.NoError(t, c.AdjustAgentLeadCount(context.Background(), "agent-1", -1))

	req := fake.last()
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "eq.agent-1", req.Query.Get("id"))
	assert.JSONEq(t, `{"current_lead_count":0}`, req.Body)
}

func TestFallbackAdminID(t *testing.T) {
	fake, c := newFakePostgREST(t)

	_, err := c.FallbackAdminID(context.Background(), "fi")
	assert.True(t, errors.Is(err, ErrNotFound))

	fake.respond(http.MethodGet, tableRoundRobin, http.StatusOK, `[{"id":"rr","language":"fi","fallback_admin_id":"admin-1"}]`)
	id, err := c.FallbackAdminID(context.Background(), "fi")
	require.NoError(t, err)
	assert.Equal(t, "admin-1", id)
	assert.Equal(t, "round_number.desc.nullslast", fake.last().Query.Get("order"))
}

func TestUpsertCitationHealth_UniformRows(t *testing.T) {
	fake, c := newFakePostgREST(t)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	err := c.UpsertCitationHealth(context.Background(), []model.CitationHealth{
		{URL: "https://a.gov", Status: model.HealthHealthy, HTTPStatusCode: 200, PageTitle: "A", LastCheckedAt: at},
		{URL: "https://b.org", Status: model.HealthUnreachable, Error: "timeout", LastCheckedAt: at},
	})
	require.NoError(t, err)

	req := fake.last()
	assert.Equal(t, "url", req.Query.Get("on_conflict"))
	assert.Contains(t, req.Prefer, "resolution=merge-duplicates")

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &rows))
	require.Len(t, rows, 2)
	assert.Len(t, rows[1], len(rows[0]))
	assert.Nil(t, rows[1]["http_status_code"])
}

func TestPendingCitationURLs(t *testing.T) {
	fake, c := newFakePostgREST(t)
	fake.respondWithHeaders(http.MethodGet, tableCitationHealth, http.StatusOK,
		`[{"url":"https://a.gov"},{"url":"https://b.org"}]`,
		map[string]string{"Content-Range": "0-1/7"})

	urls, total, err := c.PendingCitationURLs(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.gov", "https://b.org"}, urls)
	assert.Equal(t, 7, total)
	req := fake.last()
	assert.Equal(t, "is.null", req.Query.Get("status"))
	assert.Equal(t, "2", req.Query.Get("limit"))
	assert.Contains(t, req.Prefer, "count=exact")
}

func TestPendingCitationURLs_BadBody(t *testing.T) {
	fake, c := newFakePostgREST(t)
	fake.respond(http.MethodGet, tableCitationHealth, http.StatusOK, `{"url":1}`)

	_, _, err := c.PendingCitationURLs(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode "+tableCitationHealth)
}

func TestCheckpointRoundTrip(t *testing.T) {
	fake, c := newFakePostgREST(t)

	err := c.SaveCheckpoint(context.Background(), model.Checkpoint{
		OperationID:   "op-1",
		OperationType: model.OpFixCitations,
		ItemIDs:       []string{"a", "b"},
		NextIndex:     1,
	})
	require.NoError(t, err)
	saved := fake.last()
	assert.Equal(t, "operation_id", saved.Query.Get("on_conflict"))
	assert.Contains(t, saved.Body, `"errors":[]`)

	fake.respond(http.MethodGet, tableCheckpoints, http.StatusOK,
		`[{"operation_id":"op-1","operation_type":"fix_citations","item_ids":["a","b"],"next_index":1}]`)
	cp, err := c.LatestCheckpoint(context.Background(), model.OpFixCitations)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.NextIndex)

	require.NoError(t, c.DeleteCheckpoint(context.Background(), "op-1"))
	assert.Equal(t, http.MethodDelete, fake.last().Method)
}

func TestListLeads_CreatedRange(t *testing.T) {
	fake, c := newFakePostgREST(t)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := c.ExportLeads(context.Background(), LeadFilter{
		Language:    "nl",
		CreatedFrom: from,
		CreatedTo:   from.AddDate(0, 1, 0),
		Limit:       50,
	})
	require.NoError(t, err)

	q := fake.last().Query
	assert.Equal(t, "(created_at.gte.2026-01-01T00:00:00Z,created_at.lte.2026-02-01T00:00:00Z)", q.Get("and"))
	assert.Equal(t, "eq.nl", q.Get("language"))
	assert.Equal(t, "50", q.Get("limit"))
}

func TestPing_REST(t *testing.T) {
	fake, c := newFakePostgREST(t)
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, tableAgents, fake.last().Table)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, c.Ping(ctx))
	assert.Len(t, fake.all(), 1)
}

func TestBuildExportQuery(t *testing.T) {
	query, args := buildExportQuery(LeadFilter{Language: "de", Segment: "Hot", Limit: 10})

	assert.Contains(t, query, "WHERE language = $1 AND lead_segment = $2 AND archived = false")
	assert.True(t, strings.HasSuffix(query, "LIMIT $3"))
	if diff := cmp.Diff([]any{"de", "Hot", 10}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestParseTextArray(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"{}", []string{}},
		{"{villa,apartment}", []string{"villa", "apartment"}},
		{`{"San Pedro, Marbella",Mijas}`, []string{"San Pedro, Marbella", "Mijas"}},
		{`{"say \"hi\""}`, []string{`say "hi"`}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, parseTextArray(tt.in)); diff != "" {
			t.Errorf("parseTextArray(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestAddConnectionParam(t *testing.T) {
	assert.Equal(t, "postgres://h/db?sslmode=require&x=1", addConnectionParam("postgres://h/db?sslmode=require", "x", "1"))
	assert.Equal(t, "postgres://h/db?x=1", addConnectionParam("postgres://h/db", "x", "1"))
	assert.Equal(t, "postgres://h/db?x=2", addConnectionParam("postgres://h/db?x=2", "x", "1"))
}

func TestArticleIDs_Targets(t *testing.T) {
	fake, c := newFakePostgREST(t)
	fake.respond(http.MethodGet, "blog_articles", http.StatusOK, `[{"id":"a1"},{"id":"a2"}]`)

	ids, err := c.ArticleIDs(context.Background(), ArticleTarget{MissingCitations: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids)
	q := fake.last().Query
	assert.Equal(t, "(external_citations.is.null,external_citations.eq.[])", q.Get("or"))
	assert.Equal(t, "eq.published", q.Get("status"))

	_, err = c.ArticleIDs(context.Background(), ArticleTarget{MissingImage: true, InCluster: true})
	require.NoError(t, err)
	q = fake.last().Query
	assert.Equal(t, "is.null", q.Get("featured_image_url"))
	assert.Equal(t, "not.is.null", q.Get("cluster_id"))

	_, err = c.ArticleIDs(context.Background(), ArticleTarget{MissingImage: true, IDs: []string{"x"}})
	require.NoError(t, err)
	q = fake.last().Query
	assert.Empty(t, q.Get("featured_image_url"))
	assert.Contains(t, q.Get("id"), "x")
}

func TestClusterIDs_Distinct(t *testing.T) {
	fake, c := newFakePostgREST(t)
	fake.respond(http.MethodGet, "blog_articles", http.StatusOK,
		`[{"cluster_id":"c1"},{"cluster_id":"c2"},{"cluster_id":"c1"},{"cluster_id":null}]`)

	ids, err := c.ClusterIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)
}

func TestInvokeFunction(t *testing.T) {
	fake, c := newFakePostgREST(t)
	fake.respond(http.MethodPost, "/functions/v1/regenerate-article-image", http.StatusOK, `{"ok":true}`)

	body, err := c.InvokeFunction(context.Background(), "regenerate-article-image", map[string]string{"articleId": "a1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.JSONEq(t, `{"articleId":"a1"}`, fake.last().Body)

	fake.respond(http.MethodPost, "/functions/v1/regenerate-article-image", http.StatusBadGateway, "upstream down")
	_, err = c.InvokeFunction(context.Background(), "regenerate-article-image", nil)
	var fnErr *FunctionError
	require.ErrorAs(t, err, &fnErr)
	assert.Equal(t, http.StatusBadGateway, fnErr.StatusCode)
}
