// Package crm implements the lead lifecycle of the sales back office:
// registration and routing, claim and contact SLA sweeps, reassignment,
// call logging, reminder emails, notes and export.
package crm

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/notify"
	"github.com/delsolprime/backoffice/internal/store"
)

var (
	// ErrValidation marks a request that is missing required input
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced lead or agent that does not exist
	ErrNotFound = errors.New("not found")
)

// Store is the persistence the CRM needs
type Store interface {
	InsertLead(ctx context.Context, row store.Row) (*model.Lead, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	UpdateLead(ctx context.Context, id string, patch store.Row) error
	ExportLeads(ctx context.Context, f store.LeadFilter) ([]model.Lead, error)
	ExpiredClaimWindows(ctx context.Context, now time.Time) ([]model.Lead, error)
	ExpiredContactWindows(ctx context.Context, now time.Time) ([]model.Lead, error)
	FindAgentLeadByPhone(ctx context.Context, agentID, last9, normalized string) (*model.Lead, error)

	ActiveRoutingRules(ctx context.Context) ([]model.RoutingRule, error)
	RecordRuleMatch(ctx context.Context, rule model.RoutingRule, at time.Time) error

	GetAgent(ctx context.Context, id string) (*model.Agent, error)
	AgentsForLanguage(ctx context.Context, lang string) ([]model.Agent, error)
	FindAgentByContact(ctx context.Context, email, phone string) (*model.Agent, error)
	AdjustAgentLeadCount(ctx context.Context, agentID string, delta int) error
	FallbackAdminID(ctx context.Context, lang string) (string, error)

	InsertNotifications(ctx context.Context, notifications ...model.Notification) error
	MarkNotificationsRead(ctx context.Context, leadID, agentID string, at time.Time) error
	InsertActivity(ctx context.Context, row store.Row) (*model.Activity, error)
	InsertReassignment(ctx context.Context, row store.Row) error

	DueReminders(ctx context.Context, sentColumn string, from, to time.Time) ([]model.Reminder, error)
	MarkReminderSent(ctx context.Context, id, sentColumn string, at time.Time) error

	InsertNote(ctx context.Context, row store.Row) (*model.Note, error)
	ListNotes(ctx context.Context, leadID string) ([]model.Note, error)
}

// Mailer sends transactional email
type Mailer interface {
	Send(ctx context.Context, email notify.Email) (string, error)
}

// Alerter posts short operational alerts
type Alerter interface {
	Post(ctx context.Context, text string) error
}

// Publisher fans lead events out to live dashboards
type Publisher interface {
	PublishLead(ctx context.Context, event model.LeadEvent) error
}

// Options holds CRM settings
type Options struct {
	// AppURL is the origin serving /crm, used in email links
	AppURL string

	From       string
	AlertsFrom string

	ClaimWindow   time.Duration
	ContactWindow time.Duration
}

// DefaultOptions returns the production windows and senders
func DefaultOptions() Options {
	return Options{
		AppURL:        "https://www.delsolprimehomes.com",
		From:          "Del Sol Prime Homes <crm@notifications.delsolprimehomes.com>",
		AlertsFrom:    "CRM Alerts <crm@notifications.delsolprimehomes.com>",
		ClaimWindow:   15 * time.Minute,
		ContactWindow: 5 * time.Minute,
	}
}

const assignmentsFrom = "CRM Assignments <crm@notifications.delsolprimehomes.com>"

// Service runs CRM operations
type Service struct {
	store     Store
	mailer    Mailer
	alerter   Alerter
	publisher Publisher
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a Service
type Option func(*Service)

// WithAlerter posts SLA breaches to team chat
func WithAlerter(a Alerter) Option {
	return func(s *Service) { s.alerter = a }
}

// WithPublisher publishes lead events
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a CRM service. mailer may be nil, in which case emails
// are skipped and logged.
func NewService(st Store, mailer Mailer, opts Options, logger *zap.Logger, options ...Option) *Service {
	defaults := DefaultOptions()
	if opts.AppURL == "" {
		opts.AppURL = defaults.AppURL
	}
	opts.AppURL = strings.TrimSuffix(opts.AppURL, "/")
	if opts.From == "" {
		opts.From = defaults.From
	}
	if opts.AlertsFrom == "" {
		opts.AlertsFrom = defaults.AlertsFrom
	}
	if opts.ClaimWindow <= 0 {
		opts.ClaimWindow = defaults.ClaimWindow
	}
	if opts.ContactWindow <= 0 {
		opts.ContactWindow = defaults.ContactWindow
	}

	s := &Service{
		store:  st,
		mailer: mailer,
		opts:   opts,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
	for _, o := range options {
		o(s)
	}
	return s
}

func (s *Service) sendEmail(ctx context.Context, email notify.Email) error {
	if s.mailer == nil {
		s.logger.Debug("mailer not configured, skipping email", zap.String("subject", email.Subject))
		return notify.ErrNotConfigured
	}
	_, err := s.mailer.Send(ctx, email)
	return err
}

func (s *Service) alert(ctx context.Context, text string) {
	if s.alerter == nil {
		return
	}
	if err := s.alerter.Post(ctx, text); err != nil && !errors.Is(err, notify.ErrNotConfigured) {
		s.logger.Warn("chat alert failed", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, event model.LeadEvent) {
	if s.publisher == nil {
		return
	}
	if event.At.IsZero() {
		event.At = s.now()
	}
	if err := s.publisher.PublishLead(ctx, event); err != nil {
		s.logger.Warn("publish lead event failed", zap.String("type", event.Type), zap.Error(err))
	}
}

// notFound converts a store miss into the package sentinel
func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &Error{Kind: ErrNotFound, Message: what}
	}
	return err
}

// Error is a CRM failure with a user-facing message
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

func validationError(msg string) error {
	return &Error{Kind: ErrValidation, Message: msg}
}

func strOr(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}

func ptr[T any](v T) *T { return &v }
