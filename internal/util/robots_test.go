package util

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestRobotsChecker_CanFetch(t *testing.T) {
	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		fetches.Add(1)
		_, _ = fmt.Fprint(w, "User-agent: *\nDisallow: /crm/\nCrawl-delay: 2\n")
	}))
	defer server.Close()

	checker := NewRobotsChecker("DelSolBackoffice/1.0 (+https://www.delsolprimehomes.com)", 5*time.Second, time.Minute)
	ctx := context.Background()

	allowed, delay, err := checker.CanFetch(ctx, server.URL+"/en/blog/buying-in-marbella")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Error("expected blog path to be allowed")
	}
	if delay != 2*time.Second {
		t.Errorf("expected crawl delay 2s, got %v", delay)
	}

	if checker.IsAllowed(ctx, server.URL+"/crm/agent/leads") {
		t.Error("expected /crm/ to be disallowed")
	}

	if fetches.Load() != 1 {
		t.Errorf("expected robots.txt to be fetched once, got %d", fetches.Load())
	}
}

func TestRobotsChecker_MissingRobotsAllowsAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	checker := NewRobotsChecker("DelSolBackoffice/1.0", 5*time.Second, 0)
	if !checker.IsAllowed(context.Background(), server.URL+"/anything") {
		t.Error("expected 404 robots.txt to allow everything")
	}
}

func TestRobotsChecker_InvalidURL(t *testing.T) {
	checker := NewRobotsChecker("DelSolBackoffice/1.0", time.Second, 0)
	if _, _, err := checker.CanFetch(context.Background(), "not a url"); err == nil {
		t.Error("expected error for URL without host")
	}
}

func TestNormalizeUserAgent(t *testing.T) {
	tests := map[string]string{
		"DelSolBackoffice/1.0 (+https://x)": "DelSolBackoffice",
		"Googlebot":                         "Googlebot",
		"":                                  "",
	}
	for in, want := range tests {
		if got := NormalizeUserAgent(in); got != want {
			t.Errorf("NormalizeUserAgent(%q) = %q, want %q", in, got, want)
		}
	}
}
