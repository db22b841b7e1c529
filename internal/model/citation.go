package model

import "time"

// HealthStatus is the outcome of checking an outbound citation URL
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthBroken      HealthStatus = "broken"      // HTTP >= 400
	HealthRedirected  HealthStatus = "redirected"  // Final URL differs from requested
	HealthSlow        HealthStatus = "slow"        // Answered, but slower than threshold
	HealthUnreachable HealthStatus = "unreachable" // DNS, TLS, timeout
)

// CitationHealth is a row in external_citation_health
type CitationHealth struct {
	URL            string       `json:"url"`
	Status         HealthStatus `json:"status"`
	HTTPStatusCode int          `json:"http_status_code,omitempty"`
	ResponseTimeMS int64        `json:"response_time_ms"`
	RedirectURL    string       `json:"redirect_url,omitempty"`
	PageTitle      string       `json:"page_title,omitempty"`
	Error          string       `json:"error,omitempty"`
	LastCheckedAt  time.Time    `json:"last_checked_at"`
}

// BlockedDomain is a row in blocked_domains
type BlockedDomain struct {
	Domain string `json:"domain"`
	Reason string `json:"reason,omitempty"`
}

// CitationCandidate is a proposed outbound source for an article
type CitationCandidate struct {
	URL        string `json:"url"`
	Source     string `json:"source"`
	Title      string `json:"title,omitempty"`
	Excerpt    string `json:"excerpt,omitempty"`
	Domain     string `json:"domain"`
	Authority  string `json:"authority,omitempty"` // "government", "approved", "general"
	Rejected   bool   `json:"rejected,omitempty"`
	RejectNote string `json:"reject_reason,omitempty"`
}

// ItemError records a per-item failure inside a bulk run
type ItemError struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Error string `json:"error"`
}
