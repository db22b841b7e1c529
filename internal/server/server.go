// Package server exposes the back-office operations over HTTP. Every
// endpoint takes a JSON POST unless noted and answers OPTIONS preflights.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/bulk"
	"github.com/delsolprime/backoffice/internal/citations"
	"github.com/delsolprime/backoffice/internal/crm"
	"github.com/delsolprime/backoffice/internal/hreflang"
	"github.com/delsolprime/backoffice/internal/indexnow"
	"github.com/delsolprime/backoffice/internal/linking"
	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/property"
	"github.com/delsolprime/backoffice/internal/realtime"
	"github.com/delsolprime/backoffice/internal/sitemap"
	"github.com/delsolprime/backoffice/internal/store"
	"github.com/delsolprime/backoffice/internal/translate"
)

// LeadService is the CRM surface
type LeadService interface {
	Register(ctx context.Context, p crm.LeadPayload) (*crm.RegisterResult, error)
	Reassign(ctx context.Context, req crm.ReassignRequest) (*crm.ReassignResult, error)
	LogCall(ctx context.Context, p crm.CallPayload) *crm.CallResult
	CheckClaimWindows(ctx context.Context) (*crm.SweepResult, error)
	CheckContactWindows(ctx context.Context) (*crm.SweepResult, error)
	SendReminders(ctx context.Context, windows ...crm.ReminderWindow) (*crm.ReminderResult, error)
	AddNote(ctx context.Context, req crm.NoteRequest) (*model.Note, error)
	ExportCSV(ctx context.Context, w io.Writer, f store.LeadFilter) (int, error)
}

// PropertyLookup fetches listing details
type PropertyLookup interface {
	Details(ctx context.Context, reference, lang string) (*property.Property, error)
}

// SitemapRenderer renders sitemap XML
type SitemapRenderer interface {
	Generate(ctx context.Context, t sitemap.Type) ([]byte, error)
}

// ArticleTranslator translates articles
type ArticleTranslator interface {
	Translate(ctx context.Context, en model.Article, lang string) (*model.Article, error)
	TranslateToLanguages(ctx context.Context, st translate.Store, sourceID string, langs []string) (*translate.BatchResult, error)
}

// HreflangService audits and repairs hreflang groups
type HreflangService interface {
	Repair(ctx context.Context, req hreflang.RepairRequest) (*hreflang.RepairResult, error)
	Audit(ctx context.Context, ct hreflang.ContentType) (*hreflang.AuditReport, error)
	FixMismatches(ctx context.Context, dryRun bool) (*hreflang.MismatchResult, error)
}

// LinkService regenerates internal links
type LinkService interface {
	RegenerateCluster(ctx context.Context, req linking.ClusterRequest) (*linking.ClusterResult, error)
	LinkQAPages(ctx context.Context, ids []string) (*linking.QABatchResult, error)
}

// HealthSweeper checks stored citation URLs
type HealthSweeper interface {
	Sweep(ctx context.Context, st citations.HealthStore, batchSize int) (*citations.SweepResult, error)
}

// CitationFinder discovers sources for an article
type CitationFinder interface {
	Find(ctx context.Context, req citations.FindRequest) (*citations.FindResult, error)
}

// URLSubmitter notifies search engines of changed URLs
type URLSubmitter interface {
	Resolve(req indexnow.Request) ([]string, error)
	Submit(ctx context.Context, urls []string) (*indexnow.Result, error)
}

// BulkController drives the bulk operation tracker
type BulkController interface {
	Start(ctx context.Context, t model.OperationType, opts bulk.RunOptions) (*model.OperationState, error)
	Pause() (*model.OperationState, error)
	Resume() (*model.OperationState, error)
	Cancel() error
	Status() model.OperationState
	PendingCheckpoint(ctx context.Context, t model.OperationType) (*model.Checkpoint, error)
}

// Feed opens realtime subscriptions
type Feed interface {
	Subscribe(ctx context.Context, topics ...realtime.Topic) (*realtime.Subscription, error)
}

// Pinger is a dependency checked by /healthz
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the services behind the endpoints. A nil service makes its
// endpoints answer 503.
type Deps struct {
	CRM       LeadService
	Property  PropertyLookup
	Sitemap   SitemapRenderer
	Translate ArticleTranslator
	Articles  translate.Store
	Hreflang  HreflangService
	Linking   LinkService
	Health    HealthSweeper
	Citations citations.HealthStore
	Finder    CitationFinder
	IndexNow  URLSubmitter
	Bulk      BulkController
	Feed      Feed

	// HealthBatch is the number of citation URLs checked per sweep
	HealthBatch int

	// Checks are pinged by /healthz, keyed by name
	Checks map[string]Pinger
}

// Server is the HTTP front of the back office
type Server struct {
	deps   Deps
	cfg    model.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// New creates a server
func New(cfg model.ServerConfig, deps Deps, logger *zap.Logger) *Server {
	if deps.HealthBatch <= 0 {
		deps.HealthBatch = 50
	}
	return &Server{deps: deps, cfg: cfg, logger: logging.OrNop(logger)}
}

// Handler returns the routed handler with CORS, recovery and request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /register-crm-lead", s.handleRegisterLead)
	mux.HandleFunc("POST /reassign-lead", s.handleReassignLead)
	mux.HandleFunc("POST /salestrail-webhook", s.handleCallWebhook)
	mux.HandleFunc("POST /check-claim-window-expiry", s.handleClaimSweep)
	mux.HandleFunc("POST /check-contact-window-expiry", s.handleContactSweep)
	mux.HandleFunc("POST /send-reminder-emails", s.handleReminders)
	mux.HandleFunc("POST /add-lead-note", s.handleAddNote)
	mux.HandleFunc("GET /export-leads", s.handleExportLeads)

	mux.HandleFunc("POST /get-property-details", s.handlePropertyDetails)
	mux.HandleFunc("GET /generate-sitemap", s.handleSitemap)
	mux.HandleFunc("POST /translate-article", s.handleTranslate)
	mux.HandleFunc("POST /repair-hreflang-groups", s.handleRepairHreflang)
	mux.HandleFunc("POST /audit-hreflang", s.handleAuditHreflang)
	mux.HandleFunc("POST /fix-qa-language-mismatches", s.handleFixMismatches)
	mux.HandleFunc("POST /regenerate-cluster-links", s.handleClusterLinks)
	mux.HandleFunc("POST /bulk-link-qa-pages", s.handleLinkQAPages)
	mux.HandleFunc("POST /check-citation-health", s.handleCitationHealth)
	mux.HandleFunc("POST /find-citations", s.handleFindCitations)
	mux.HandleFunc("POST /ping-indexnow", s.handlePingIndexNow)

	mux.HandleFunc("POST /bulk/start", s.handleBulkStart)
	mux.HandleFunc("POST /bulk/pause", s.handleBulkPause)
	mux.HandleFunc("POST /bulk/resume", s.handleBulkResume)
	mux.HandleFunc("POST /bulk/cancel", s.handleBulkCancel)
	mux.HandleFunc("GET /bulk/status", s.handleBulkStatus)

	mux.HandleFunc("GET /realtime/leads", s.handleRealtime)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return s.logRequests(s.recoverPanics(cors(mux)))
}

// ListenAndServe serves until ctx ends, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- s.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	s.logger.Info("shutting down http server")
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, p := range s.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	health := "healthy"
	if status != http.StatusOK {
		health = "unhealthy"
	}
	writeJSON(w, status, map[string]any{"status": health, "checks": checks})
}
