// Package citations finds, vets and monitors the outbound sources cited by
// blog articles.
package citations

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// Authority tiers reported on a Verdict
const (
	AuthorityGovernment = "government"
	AuthorityApproved   = "approved"
	AuthorityGeneral    = "general"
)

// DefaultApprovedDomains are sources editors have already vetted
var DefaultApprovedDomains = []string{
	"ine.es",
	"boe.es",
	"bde.es",
	"agenciatributaria.gob.es",
	"notariado.org",
	"registradores.org",
	"ec.europa.eu",
	"spain.info",
	"andalucia.org",
	"reuters.com",
	"bbc.com",
	"ft.com",
	"elpais.com",
	"theolivepress.es",
	"surinenglish.com",
}

// DefaultBlockedDomains are listing portals and agencies that are never cited
var DefaultBlockedDomains = []string{
	"idealista.com", "fotocasa.com", "kyero.com", "rightmove.co.uk",
	"properstar.com", "thinkspain.com", "aplaceinthesun.com", "spainhouses.net",
	"spanishpropertyinsight.com", "eyeonspain.com", "spanishpropertychoice.com",
	"lucasfox.com", "engel-voelkers.com", "sothebysrealty.com", "christiesrealestate.com",
}

var governmentSuffixes = []string{
	".gov", ".gov.uk", ".gob.es", ".gob", ".europa.eu", ".gouv.fr",
	".overheid.nl", ".gov.pl", ".bund.de", ".edu", ".ac.uk",
}

// competitorPattern matches hosts of other agencies and portals
var competitorPattern = regexp.MustCompile(
	`realestate|realtor|propert(y|ies)|homes-for-sale|inmobiliaria|immobilien|vastgoed|makelaars?|huizen|woningen`)

// Verdict is the outcome of vetting one URL
type Verdict struct {
	Allowed   bool   `json:"allowed"`
	Domain    string `json:"domain"`
	Authority string `json:"authority,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// BlockedSource lists blocked domains, usually the blocked_domains table
type BlockedSource interface {
	BlockedDomains(ctx context.Context) ([]string, error)
}

// DomainValidator decides which hosts may be cited
type DomainValidator struct {
	mu       sync.RWMutex
	approved map[string]bool
	blocked  map[string]bool
}

// NewDomainValidator creates a validator. An empty approved list uses
// DefaultApprovedDomains; DefaultBlockedDomains are always blocked.
func NewDomainValidator(approved, blocked []string) *DomainValidator {
	if len(approved) == 0 {
		approved = DefaultApprovedDomains
	}
	v := &DomainValidator{approved: map[string]bool{}, blocked: map[string]bool{}}
	for _, d := range approved {
		v.approved[normalizeDomain(d)] = true
	}
	for _, d := range append(append([]string(nil), DefaultBlockedDomains...), blocked...) {
		v.blocked[normalizeDomain(d)] = true
	}
	return v
}

// LoadBlocked merges the blocked domains from src
func (v *DomainValidator) LoadBlocked(ctx context.Context, src BlockedSource) (int, error) {
	domains, err := src.BlockedDomains(ctx)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, d := range domains {
		v.blocked[normalizeDomain(d)] = true
	}
	return len(domains), nil
}

// Check vets rawURL. Blocked domains lose to nothing; government hosts are
// always allowed; competitor-looking hosts are rejected.
func (v *DomainValidator) Check(rawURL string) Verdict {
	host, err := hostname(rawURL)
	if err != nil || host == "" {
		return Verdict{Reason: "invalid URL"}
	}
	verdict := Verdict{Domain: host}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if matchesDomain(host, v.blocked) {
		verdict.Reason = "blocked domain"
		return verdict
	}
	if IsGovernment(host) {
		verdict.Allowed = true
		verdict.Authority = AuthorityGovernment
		return verdict
	}
	if matchesDomain(host, v.approved) {
		verdict.Allowed = true
		verdict.Authority = AuthorityApproved
		return verdict
	}
	if competitorPattern.MatchString(host) {
		verdict.Reason = "competitor domain"
		return verdict
	}
	verdict.Allowed = true
	verdict.Authority = AuthorityGeneral
	return verdict
}

// IsGovernment reports whether host sits under a government or academic suffix
func IsGovernment(host string) bool {
	host = normalizeDomain(host)
	for _, suffix := range governmentSuffixes {
		if strings.HasSuffix(host, suffix) || host == suffix[1:] {
			return true
		}
	}
	return false
}

// matchesDomain is true when host equals a listed domain or is a subdomain of one
func matchesDomain(host string, domains map[string]bool) bool {
	if domains[host] {
		return true
	}
	for d := range domains {
		if strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func hostname(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	return normalizeDomain(parsed.Hostname()), nil
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	return strings.TrimPrefix(d, "www.")
}
