package property

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delsolprime/backoffice/internal/cache"
	"github.com/delsolprime/backoffice/internal/model"
)

func init() {
	retrySleepFunc = func(context.Context, time.Duration) error { return nil }
}

func decodeRaw(t *testing.T, s string) Raw {
	t.Helper()
	var r Raw
	require.NoError(t, json.Unmarshal([]byte(s), &r))
	return r
}

func TestNormalize(t *testing.T) {
	raw := decodeRaw(t, `{
		"Reference": "R123",
		"PropertyType": {"Type": "Villa"},
		"Area": "Nueva Andalucía",
		"Price": "€ 1,250,000",
		"Bedrooms": 4,
		"Built": "320 m²",
		"Pictures": {"Picture": [{"PictureURL": "https://img/1.jpg"}, {"url": "https://img/2.jpg"}, {"other": 1}]},
		"HasPool": "Yes",
		"Parking": "Private",
		"SeaViews": "Yes",
		"Lift": "No",
		"OffPlan": "Yes"
	}`)

	p := Normalize(raw)
	assert.Equal(t, "R123", p.Reference)
	assert.Equal(t, "Villa", p.PropertyType)
	assert.Equal(t, "Nueva Andalucía", p.Location)
	assert.Equal(t, "Málaga", p.Province)
	assert.Equal(t, "EUR", p.Currency)
	assert.Equal(t, "Available", p.Status)
	assert.Equal(t, 1250000.0, p.Price)
	assert.Equal(t, 4.0, p.Bedrooms)
	assert.Equal(t, 320.0, p.BuiltArea)
	assert.Equal(t, "https://img/1.jpg", p.MainImage)
	assert.Equal(t, []string{"https://img/1.jpg", "https://img/2.jpg"}, p.Images)
	assert.Equal(t, []string{"Pool", "Parking", "Sea Views"}, p.Features)
	assert.True(t, p.Pool)
	assert.True(t, p.Parking)
	assert.True(t, p.NewDevelopment)
}

func TestNormalizeDefaults(t *testing.T) {
	p := Normalize(Raw{"Parking": "None", "Type": ""})
	assert.Equal(t, "Property", p.PropertyType)
	assert.Equal(t, "Costa del Sol", p.Location)
	assert.Empty(t, p.MainImage)
	assert.Equal(t, []string{}, p.Images)
	assert.Equal(t, []string{}, p.Features)
	assert.False(t, p.Parking)

	p = Normalize(Raw{"MainImage": "https://img/main.jpg", "PropertyType": "Apartment"})
	assert.Equal(t, "https://img/main.jpg", p.MainImage)
	assert.Equal(t, "Apartment", p.PropertyType)
}

func TestLanguageCode(t *testing.T) {
	assert.Equal(t, 3, LanguageCode("de"))
	assert.Equal(t, 14, LanguageCode("HU"))
	assert.Equal(t, 1, LanguageCode("xx"))
}

type upstream struct {
	mu       sync.Mutex
	requests []searchRequest
	respond  func(req searchRequest) (int, string)
}

func (u *upstream) server(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, searchPath, r.URL.Path)
		var req searchRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		u.mu.Lock()
		u.requests = append(u.requests, req)
		u.mu.Unlock()
		status, body := u.respond(req)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func newClient(t *testing.T, baseURL string, c cache.Cache) *Client {
	t.Helper()
	client, err := NewClient(model.PropertyConfig{
		BaseURL:    baseURL,
		P1:         []string{"agency-a", "agency-b"},
		APIKey:     "secret",
		Timeout:    5 * time.Second,
		CacheTTL:   time.Minute,
		TrySandbox: true,
	}, c, nil)
	require.NoError(t, err)
	return client
}

func TestDetailsFallsThroughOn400(t *testing.T) {
	up := &upstream{respond: func(req searchRequest) (int, string) {
		if req.P1 == "agency-b" && req.Sandbox == "true" {
			return http.StatusOK, `{"Property": [{"Reference": "R1", "Price": "500000"}]}`
		}
		return http.StatusBadRequest, `{"error":"bad p1"}`
	}}
	server := up.server(t)
	defer server.Close()

	p, err := newClient(t, server.URL, nil).Details(context.Background(), "R1", "de")
	require.NoError(t, err)
	assert.Equal(t, 500000.0, p.Price)

	require.Len(t, up.requests, 4)
	assert.Equal(t, searchRequest{P1: "agency-a", P2: "secret", Lang: 3, Sandbox: "false", RefID: "R1"}, up.requests[0])
	assert.Equal(t, "true", up.requests[1].Sandbox)
	assert.Equal(t, "agency-b", up.requests[2].P1)
}

func TestDetailsStopsOnOtherErrors(t *testing.T) {
	up := &upstream{respond: func(req searchRequest) (int, string) {
		return http.StatusUnauthorized, "denied"
	}}
	server := up.server(t)
	defer server.Close()

	_, err := newClient(t, server.URL, nil).Details(context.Background(), "R1", "en")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Len(t, up.requests, 1)
}

func TestDetailsRetriesServerErrors(t *testing.T) {
	var calls int
	up := &upstream{respond: func(req searchRequest) (int, string) {
		calls++
		if calls == 1 {
			return http.StatusServiceUnavailable, "busy"
		}
		return http.StatusOK, `{"Property": [{"Reference": "R1"}]}`
	}}
	server := up.server(t)
	defer server.Close()

	var delays []time.Duration
	retrySleepFunc = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { retrySleepFunc = func(context.Context, time.Duration) error { return nil } })

	p, err := newClient(t, server.URL, nil).Details(context.Background(), "R1", "en")
	require.NoError(t, err)
	assert.Equal(t, "R1", p.Reference)
	assert.Len(t, up.requests, 2)
	assert.Equal(t, []time.Duration{2 * time.Second}, delays)
}

func TestDetailsGivesUpAfterThreeAttempts(t *testing.T) {
	up := &upstream{respond: func(req searchRequest) (int, string) {
		return http.StatusTooManyRequests, "slow down"
	}}
	server := up.server(t)
	defer server.Close()

	_, err := newClient(t, server.URL, nil).Details(context.Background(), "R1", "en")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Len(t, up.requests, maxAttempts, "the first p1 candidate is retried, then the error is returned")
}

func TestDetailsAllRejected(t *testing.T) {
	up := &upstream{respond: func(req searchRequest) (int, string) {
		return http.StatusBadRequest, "nope"
	}}
	server := up.server(t)
	defer server.Close()

	_, err := newClient(t, server.URL, nil).Details(context.Background(), "R1", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Resales API error: 400")
	assert.Len(t, up.requests, 4)
}

func TestDetailsNotFoundAndCache(t *testing.T) {
	up := &upstream{respond: func(req searchRequest) (int, string) {
		if req.RefID == "missing" {
			return http.StatusOK, `{"Property": []}`
		}
		return http.StatusOK, `{"Property": [{"Reference": "R9"}]}`
	}}
	server := up.server(t)
	defer server.Close()
	client := newClient(t, server.URL, cache.NewMemoryCache(time.Minute, time.Minute))

	_, err := client.Details(context.Background(), "missing", "en")
	assert.ErrorIs(t, err, ErrNotFound)

	for range 2 {
		p, err := client.Details(context.Background(), "R9", "en")
		require.NoError(t, err)
		assert.Equal(t, "R9", p.Reference)
	}
	assert.Len(t, up.requests, 2)
}

func TestDetailsValidation(t *testing.T) {
	client := newClient(t, "http://unused", nil)
	_, err := client.Details(context.Background(), " ", "en")
	assert.ErrorIs(t, err, ErrMissingReference)

	client.p2 = ""
	_, err = client.Details(context.Background(), "R1", "en")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
