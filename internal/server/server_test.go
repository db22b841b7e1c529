package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delsolprime/backoffice/internal/bulk"
	"github.com/delsolprime/backoffice/internal/crm"
	"github.com/delsolprime/backoffice/internal/generate"
	"github.com/delsolprime/backoffice/internal/hreflang"
	"github.com/delsolprime/backoffice/internal/indexnow"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/property"
	"github.com/delsolprime/backoffice/internal/realtime"
	"github.com/delsolprime/backoffice/internal/sitemap"
	"github.com/delsolprime/backoffice/internal/store"
	"github.com/delsolprime/backoffice/internal/translate"
)

type fakeCRM struct {
	registerErr error
	filter      store.LeadFilter
	windows     []crm.ReminderWindow
	call        crm.CallPayload
}

func (f *fakeCRM) Register(_ context.Context, p crm.LeadPayload) (*crm.RegisterResult, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return &crm.RegisterResult{Success: true, LeadID: "lead-1", Score: 42, AssignmentMethod: "broadcast"}, nil
}

func (f *fakeCRM) Reassign(context.Context, crm.ReassignRequest) (*crm.ReassignResult, error) {
	return nil, &crm.Error{Kind: crm.ErrNotFound, Message: "Lead not found"}
}

func (f *fakeCRM) LogCall(_ context.Context, p crm.CallPayload) *crm.CallResult {
	f.call = p
	return &crm.CallResult{Success: true, ActivityID: "act-1"}
}

func (f *fakeCRM) CheckClaimWindows(context.Context) (*crm.SweepResult, error) {
	return &crm.SweepResult{Processed: 2, Total: 2}, nil
}

func (f *fakeCRM) CheckContactWindows(context.Context) (*crm.SweepResult, error) {
	return nil, errors.New("database unavailable")
}

func (f *fakeCRM) SendReminders(_ context.Context, windows ...crm.ReminderWindow) (*crm.ReminderResult, error) {
	f.windows = windows
	return &crm.ReminderResult{Success: true}, nil
}

func (f *fakeCRM) AddNote(_ context.Context, req crm.NoteRequest) (*model.Note, error) {
	return &model.Note{ID: "note-1", LeadID: req.LeadID}, nil
}

func (f *fakeCRM) ExportCSV(_ context.Context, w io.Writer, filter store.LeadFilter) (int, error) {
	f.filter = filter
	_, _ = io.WriteString(w, "id,name\nlead-1,Ana\n")
	return 1, nil
}

type fakeProperty struct{}

func (fakeProperty) Details(_ context.Context, reference, _ string) (*property.Property, error) {
	if reference == "R404" {
		return nil, property.ErrNotFound
	}
	if reference == "" {
		return nil, property.ErrMissingReference
	}
	return &property.Property{Reference: reference}, nil
}

type fakeSitemap struct{ got sitemap.Type }

func (f *fakeSitemap) Generate(_ context.Context, t sitemap.Type) ([]byte, error) {
	f.got = t
	return []byte(`<?xml version="1.0"?><urlset/>`), nil
}

type fakeHreflang struct{ dryRun *bool }

func (f *fakeHreflang) Repair(context.Context, hreflang.RepairRequest) (*hreflang.RepairResult, error) {
	return &hreflang.RepairResult{DryRun: true}, nil
}

func (f *fakeHreflang) Audit(context.Context, hreflang.ContentType) (*hreflang.AuditReport, error) {
	return &hreflang.AuditReport{}, nil
}

func (f *fakeHreflang) FixMismatches(_ context.Context, dryRun bool) (*hreflang.MismatchResult, error) {
	f.dryRun = &dryRun
	return &hreflang.MismatchResult{DryRun: dryRun}, nil
}

type fakeIndexNow struct{ submitErr error }

func (f fakeIndexNow) Resolve(req indexnow.Request) ([]string, error) {
	if len(req.URLs) == 0 {
		return nil, indexnow.ErrNoURLs
	}
	return req.URLs, nil
}

func (f fakeIndexNow) Submit(_ context.Context, urls []string) (*indexnow.Result, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &indexnow.Result{Success: true, URLCount: len(urls)}, nil
}

type fakeBulk struct {
	running bool
	started bulk.RunOptions
}

func (f *fakeBulk) Start(_ context.Context, t model.OperationType, opts bulk.RunOptions) (*model.OperationState, error) {
	if f.running {
		return nil, bulk.ErrAlreadyRunning
	}
	f.running = true
	f.started = opts
	return &model.OperationState{ID: "op-1", Type: t, IsRunning: true, Total: 3}, nil
}

func (f *fakeBulk) Pause() (*model.OperationState, error) {
	if !f.running {
		return nil, bulk.ErrNotRunning
	}
	return &model.OperationState{IsRunning: true, IsPaused: true}, nil
}

func (f *fakeBulk) Resume() (*model.OperationState, error) { return f.Pause() }

func (f *fakeBulk) Cancel() error {
	if !f.running {
		return bulk.ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeBulk) Status() model.OperationState {
	return model.OperationState{ID: "op-1", IsRunning: f.running}
}

func (f *fakeBulk) PendingCheckpoint(_ context.Context, t model.OperationType) (*model.Checkpoint, error) {
	return &model.Checkpoint{OperationID: "op-0", OperationType: t, NextIndex: 4}, nil
}

type pingerFunc func(ctx context.Context) error

func (p pingerFunc) Ping(ctx context.Context) error { return p(ctx) }

func newTestServer(deps Deps) http.Handler {
	return New(model.ServerConfig{}, deps, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(Deps{})
	rec := do(t, h, http.MethodOptions, "/register-crm-lead", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "content-type")
}

func TestUnconfiguredServiceIs503(t *testing.T) {
	h := newTestServer(Deps{})
	rec := do(t, h, http.MethodPost, "/register-crm-lead", `{}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestWrongMethod(t *testing.T) {
	h := newTestServer(Deps{CRM: &fakeCRM{}})
	rec := do(t, h, http.MethodGet, "/register-crm-lead", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRegisterLead(t *testing.T) {
	f := &fakeCRM{}
	h := newTestServer(Deps{CRM: f})

	rec := do(t, h, http.MethodPost, "/register-crm-lead", `{"firstName":"Ana","phone":"+34600000000"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "lead-1", body["leadId"])
	assert.Equal(t, float64(42), body["score"])

	f.registerErr = &crm.Error{Kind: crm.ErrValidation, Message: "Missing required fields"}
	rec = do(t, h, http.MethodPost, "/register-crm-lead", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required fields", decodeBody(t, rec)["error"])

	rec = do(t, h, http.MethodPost, "/register-crm-lead", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer(Deps{CRM: &fakeCRM{}})

	rec := do(t, h, http.MethodPost, "/reassign-lead", `{"lead_id":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/check-contact-window-expiry", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = do(t, h, http.MethodPost, "/check-claim-window-expiry", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeBody(t, rec)["processed"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("translate: %w", translate.ErrNoProvider), http.StatusServiceUnavailable},
		{property.ErrNotConfigured, http.StatusServiceUnavailable},
		{indexnow.ErrNoKey, http.StatusServiceUnavailable},
		{generate.ErrNoProvider, http.StatusServiceUnavailable},
		{fmt.Errorf("list items: %w", generate.ErrMissingTopic), http.StatusBadRequest},
		{fmt.Errorf("lang: %w", translate.ErrUnsupportedLanguage), http.StatusBadRequest},
		{bulk.ErrAlreadyRunning, http.StatusConflict},
		{property.ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestTranslateWithoutProvider(t *testing.T) {
	h := newTestServer(Deps{Translate: translate.NewTranslator(nil, 1, nil)})

	rec := do(t, h, http.MethodPost, "/translate-article", `{"englishArticle":{"id":"a1"},"targetLanguage":"fr"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestCallWebhookAlwaysOK(t *testing.T) {
	f := &fakeCRM{}
	h := newTestServer(Deps{CRM: f})

	rec := do(t, h, http.MethodPost, "/salestrail-webhook", `garbage`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Invalid JSON payload", decodeBody(t, rec)["error"])

	payload := `{"call_id":"c1","phone_number":"+34 600 000 000","agent_email":"agent@example.com"}`
	rec = do(t, h, http.MethodPost, "/salestrail-webhook", payload)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", f.call.CallID)
	assert.JSONEq(t, payload, string(f.call.Raw))
}

func TestSendReminderWindow(t *testing.T) {
	f := &fakeCRM{}
	h := newTestServer(Deps{CRM: f})

	do(t, h, http.MethodPost, "/send-reminder-emails", `{"windowType":"10min"}`)
	assert.Equal(t, []crm.ReminderWindow{crm.WindowTenMinutes}, f.windows)

	do(t, h, http.MethodPost, "/send-reminder-emails", "")
	assert.Empty(t, f.windows)
}

func TestExportLeads(t *testing.T) {
	f := &fakeCRM{}
	h := newTestServer(Deps{CRM: f})

	rec := do(t, h, http.MethodGet, "/export-leads?language=de&segment=Hot&from=2026-01-01&limit=50&archived=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=\"leads-")
	assert.Equal(t, "1", rec.Header().Get("X-Total-Count"))
	assert.Equal(t, "id,name\nlead-1,Ana\n", rec.Body.String())

	assert.Equal(t, "de", f.filter.Language)
	assert.Equal(t, "Hot", f.filter.Segment)
	assert.Equal(t, 50, f.filter.Limit)
	assert.True(t, f.filter.IncludeArchived)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), f.filter.CreatedFrom)

	rec = do(t, h, http.MethodGet, "/export-leads?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPropertyDetails(t *testing.T) {
	h := newTestServer(Deps{Property: fakeProperty{}})

	rec := do(t, h, http.MethodPost, "/get-property-details", `{"reference":"R123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "R123", decodeBody(t, rec)["property"].(map[string]any)["reference"])

	rec = do(t, h, http.MethodPost, "/get-property-details", `{"reference":"R404"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Nil(t, body["property"])
	assert.Equal(t, "Property not found", body["error"])

	rec = do(t, h, http.MethodPost, "/get-property-details", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSitemap(t *testing.T) {
	f := &fakeSitemap{}
	h := newTestServer(Deps{Sitemap: f})

	rec := do(t, h, http.MethodGet, "/generate-sitemap?type=blog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sitemap.ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, sitemap.TypeBlog, f.got)

	do(t, h, http.MethodGet, "/generate-sitemap", "")
	assert.Equal(t, sitemap.TypeIndex, f.got)
}

func TestFixMismatchesDefaultsToDryRun(t *testing.T) {
	f := &fakeHreflang{}
	h := newTestServer(Deps{Hreflang: f})

	do(t, h, http.MethodPost, "/fix-qa-language-mismatches", "")
	require.NotNil(t, f.dryRun)
	assert.True(t, *f.dryRun)

	do(t, h, http.MethodPost, "/fix-qa-language-mismatches", `{"dryRun":false}`)
	assert.False(t, *f.dryRun)
}

func TestTranslateRequiresInput(t *testing.T) {
	h := newTestServer(Deps{Translate: nopTranslator{}})
	rec := do(t, h, http.MethodPost, "/translate-article", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/translate-article", `{"englishArticle":{"headline":"Buying in Marbella"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPingIndexNow(t *testing.T) {
	h := newTestServer(Deps{IndexNow: fakeIndexNow{}})

	rec := do(t, h, http.MethodPost, "/ping-indexnow", `{"urls":["https://www.delsolprimehomes.com/en/blog/a"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["urlCount"])

	rec = do(t, h, http.MethodPost, "/ping-indexnow", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h = newTestServer(Deps{IndexNow: fakeIndexNow{submitErr: indexnow.ErrNoKey}})
	rec = do(t, h, http.MethodPost, "/ping-indexnow", `{"urls":["https://www.delsolprimehomes.com/"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["skipped"])
	assert.Equal(t, false, body["success"])
}

func TestBulkEndpoints(t *testing.T) {
	f := &fakeBulk{}
	h := newTestServer(Deps{Bulk: f})

	rec := do(t, h, http.MethodPost, "/bulk/pause", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/bulk/start", `{"operation":"rebuild_everything"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/bulk/start", `{"operation":"fix_images","ids":["a","b"],"resume":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "op-1", decodeBody(t, rec)["id"])
	assert.Equal(t, bulk.RunOptions{IDs: []string{"a", "b"}, Resume: true}, f.started)

	rec = do(t, h, http.MethodPost, "/bulk/start", `{"operation":"fix_citations"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/bulk/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["isPaused"])

	rec = do(t, h, http.MethodGet, "/bulk/status?type=fix_images", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["state"].(map[string]any)["isRunning"])
	assert.Equal(t, float64(4), body["checkpoint"].(map[string]any)["next_index"])

	rec = do(t, h, http.MethodPost, "/bulk/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.running)
}

func TestHealthz(t *testing.T) {
	h := newTestServer(Deps{Checks: map[string]Pinger{
		"redis": pingerFunc(func(context.Context) error { return nil }),
	}})
	rec := do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	h = newTestServer(Deps{Checks: map[string]Pinger{
		"database": pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	}})
	rec = do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["database"])
}

func TestRealtimeLeads(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()
	hub, err := realtime.NewHub(rdb, "test", nil)
	require.NoError(t, err)

	ts := httptest.NewServer(newTestServer(Deps{Feed: hub}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/realtime/leads", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.NoError(t, hub.PublishLead(ctx, model.LeadEvent{Type: model.LeadCreated, LeadID: "lead-9"}))

	var event, data string
	for event == "" || data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	assert.Equal(t, string(realtime.TopicLeads), event)
	assert.Contains(t, data, `"lead_id":"lead-9"`)
}

func TestRealtimeUnknownTopic(t *testing.T) {
	h := newTestServer(Deps{Feed: nopFeed{}})
	rec := do(t, h, http.MethodGet, "/realtime/leads?topics=lead_events,gossip", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type nopTranslator struct{}

func (nopTranslator) Translate(_ context.Context, en model.Article, lang string) (*model.Article, error) {
	en.Language = lang
	return &en, nil
}

func (nopTranslator) TranslateToLanguages(context.Context, translate.Store, string, []string) (*translate.BatchResult, error) {
	return &translate.BatchResult{}, nil
}

type nopFeed struct{}

func (nopFeed) Subscribe(context.Context, ...realtime.Topic) (*realtime.Subscription, error) {
	return nil, errors.New("unexpected subscribe")
}
