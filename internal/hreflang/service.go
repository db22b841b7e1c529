package hreflang

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

// ContentType selects the table a run works on
type ContentType string

const (
	ContentQA   ContentType = "qa"
	ContentBlog ContentType = "blog"
)

const deleteBatchSize = 50

// Store is the persistence the repair jobs need
type Store interface {
	ListQAPages(ctx context.Context, f store.ContentFilter) ([]model.QAPage, error)
	UpdateQAPage(ctx context.Context, id string, patch store.Row) error
	DeleteQAPages(ctx context.Context, ids []string) error
	ListArticles(ctx context.Context, f store.ContentFilter) ([]model.Article, error)
	UpdateArticle(ctx context.Context, id string, patch store.Row) error
}

// Service runs audits and repairs against the content tables
type Service struct {
	store  Store
	logger *zap.Logger
	newID  func() string
}

// NewService creates a Service
func NewService(st Store, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logging.OrNop(logger)}
}

// RepairRequest is the body of a repair call. DryRun defaults to true.
type RepairRequest struct {
	DryRun      *bool       `json:"dryRun"`
	ClusterID   string      `json:"clusterId"`
	ContentType ContentType `json:"contentType"`
}

func (r RepairRequest) dryRun() bool {
	return r.DryRun == nil || *r.DryRun
}

// PreviewItem shows one planned update
type PreviewItem struct {
	ID              string   `json:"id"`
	NewGroupID      string   `json:"new_hreflang_group_id"`
	LanguagesLinked []string `json:"languages_linked"`
}

// RepairResult reports a repair run
type RepairResult struct {
	DryRun             bool          `json:"dryRun"`
	Message            string        `json:"message"`
	Stats              Stats         `json:"stats"`
	Warnings           []string      `json:"warnings"`
	ExpectedGroupSizes map[int]int   `json:"expectedGroupSizes,omitempty"`
	Preview            []PreviewItem `json:"preview,omitempty"`
	SuccessCount       int           `json:"successCount"`
	ErrorCount         int           `json:"errorCount"`
	TotalGroups        int           `json:"totalHreflangGroups"`
}

func (s *Service) members(ctx context.Context, ct ContentType, f store.ContentFilter) ([]Member, error) {
	switch ct {
	case ContentBlog:
		articles, err := s.store.ListArticles(ctx, f)
		if err != nil {
			return nil, err
		}
		out := make([]Member, 0, len(articles))
		for _, a := range articles {
			out = append(out, ArticleMember(a))
		}
		return out, nil
	case ContentQA, "":
		pages, err := s.store.ListQAPages(ctx, f)
		if err != nil {
			return nil, err
		}
		out := make([]Member, 0, len(pages))
		for _, p := range pages {
			out = append(out, QAMember(p))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", ct)
	}
}

// Repair regroups published pages and, unless dry-running, writes the new
// group ids and translation maps.
func (s *Service) Repair(ctx context.Context, req RepairRequest) (*RepairResult, error) {
	dry := req.dryRun()
	ct := req.ContentType
	if ct == "" {
		ct = ContentQA
	}

	members, err := s.members(ctx, ct, store.ContentFilter{
		Status:    model.StatusPublished,
		ClusterID: req.ClusterID,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s pages: %w", ct, err)
	}
	s.logger.Info("repairing hreflang groups",
		zap.String("content_type", string(ct)),
		zap.Bool("dry_run", dry),
		zap.Int("pages", len(members)))

	if len(members) == 0 {
		return &RepairResult{DryRun: dry, Message: "No pages found to repair", Warnings: []string{}}, nil
	}

	plan := BuildPlan(members, s.newID)
	res := &RepairResult{
		DryRun:      dry,
		Stats:       plan.Stats,
		Warnings:    append([]string{}, firstN(plan.Warnings, 10)...),
		TotalGroups: plan.GroupCount(),
	}
	for _, w := range firstN(plan.Warnings, 5) {
		s.logger.Warn("hreflang group warning", zap.String("warning", w))
	}

	if dry {
		res.ExpectedGroupSizes = plan.GroupSizes()
		for _, u := range firstN(plan.Updates, 20) {
			langs := make([]string, 0, len(u.Translations))
			for _, l := range model.Languages {
				if _, ok := u.Translations[l]; ok {
					langs = append(langs, l)
				}
			}
			res.Preview = append(res.Preview, PreviewItem{ID: u.ID, NewGroupID: u.GroupID, LanguagesLinked: langs})
		}
		res.Message = fmt.Sprintf("Would update %d pages across %d hreflang groups", len(plan.Updates), res.TotalGroups)
		return res, nil
	}

	for _, u := range plan.Updates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		patch := store.Row{"hreflang_group_id": u.GroupID, "translations": u.Translations}
		var err error
		if ct == ContentBlog {
			err = s.store.UpdateArticle(ctx, u.ID, patch)
		} else {
			err = s.store.UpdateQAPage(ctx, u.ID, patch)
		}
		if err != nil {
			s.logger.Error("hreflang update failed", zap.String("id", u.ID), zap.Error(err))
			res.ErrorCount++
			continue
		}
		res.SuccessCount++
	}
	res.Message = fmt.Sprintf("Updated %d pages across %d hreflang groups (%d errors)",
		res.SuccessCount, res.TotalGroups, res.ErrorCount)
	s.logger.Info("hreflang repair finished",
		zap.Int("updated", res.SuccessCount),
		zap.Int("errors", res.ErrorCount))
	return res, nil
}

// Audit reports on the stored groups of published pages
func (s *Service) Audit(ctx context.Context, ct ContentType) (*AuditReport, error) {
	members, err := s.members(ctx, ct, store.ContentFilter{Status: model.StatusPublished})
	if err != nil {
		return nil, fmt.Errorf("load pages: %w", err)
	}
	return Audit(members), nil
}

// MismatchResult reports a language-mismatch run
type MismatchResult struct {
	DryRun           bool           `json:"dryRun"`
	Message          string         `json:"message"`
	IssuesFound      int            `json:"issues_found"`
	IssuesFixed      int            `json:"issues_fixed"`
	IssuesByLanguage map[string]int `json:"issues_by_language,omitempty"`
	Preview          []Mismatch     `json:"actions_preview,omitempty"`
	Errors           []string       `json:"errors,omitempty"`
	ErrorCount       int            `json:"error_count"`
}

// FixMismatches finds non-English QA pages holding English content and,
// unless dry-running, deletes them in batches.
func (s *Service) FixMismatches(ctx context.Context, dryRun bool) (*MismatchResult, error) {
	pages, err := s.store.ListQAPages(ctx, store.ContentFilter{NotLanguage: "en"})
	if err != nil {
		return nil, fmt.Errorf("load QA pages: %w", err)
	}
	issues := FindMismatches(pages)
	res := &MismatchResult{DryRun: dryRun, IssuesFound: len(issues)}
	if len(issues) == 0 {
		res.Message = "No issues found! All Q&As have correct language content."
		return res, nil
	}

	res.IssuesByLanguage = map[string]int{}
	for _, m := range issues {
		res.IssuesByLanguage[m.Language]++
	}
	if dryRun {
		res.Message = fmt.Sprintf("Would delete %d Q&As with wrong language content", len(issues))
		res.Preview = firstN(issues, 20)
		return res, nil
	}

	for start := 0; start < len(issues); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(issues))
		ids := make([]string, 0, end-start)
		for _, m := range issues[start:end] {
			ids = append(ids, m.ID)
		}
		if err := s.store.DeleteQAPages(ctx, ids); err != nil {
			s.logger.Error("delete mismatched QA pages failed", zap.Int("batch", start/deleteBatchSize+1), zap.Error(err))
			res.Errors = append(res.Errors, err.Error())
			res.ErrorCount += len(ids)
			continue
		}
		res.IssuesFixed += len(ids)
	}
	res.Message = fmt.Sprintf("Successfully deleted %d Q&As with wrong language content", res.IssuesFixed)
	s.logger.Info("language mismatches fixed",
		zap.Int("found", res.IssuesFound),
		zap.Int("deleted", res.IssuesFixed))
	return res, nil
}

func firstN[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
