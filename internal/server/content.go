package server

import (
	"errors"
	"net/http"

	"github.com/delsolprime/backoffice/internal/citations"
	"github.com/delsolprime/backoffice/internal/hreflang"
	"github.com/delsolprime/backoffice/internal/indexnow"
	"github.com/delsolprime/backoffice/internal/linking"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/property"
	"github.com/delsolprime/backoffice/internal/sitemap"
)

func (s *Server) handlePropertyDetails(w http.ResponseWriter, r *http.Request) {
	if s.deps.Property == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req struct {
		Reference string `json:"reference"`
		Lang      string `json:"lang"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Lang == "" {
		req.Lang = "en"
	}
	p, err := s.deps.Property.Details(r.Context(), req.Reference, req.Lang)
	if errors.Is(err, property.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"property": nil, "error": "Property not found"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"property": p})
}

func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sitemap == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	data, err := s.deps.Sitemap.Generate(r.Context(), sitemap.ParseType(r.URL.Query().Get("type")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", sitemap.ContentType)
	w.Header().Set("Cache-Control", sitemap.CacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleTranslate translates one supplied article, or a stored English
// article into several languages when articleId is given.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Translate == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req struct {
		EnglishArticle  *model.Article `json:"englishArticle"`
		TargetLanguage  string         `json:"targetLanguage"`
		ArticleID       string         `json:"articleId"`
		TargetLanguages []string       `json:"targetLanguages"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	switch {
	case req.EnglishArticle != nil:
		if req.TargetLanguage == "" {
			s.fail(w, r, badRequest("targetLanguage is required"))
			return
		}
		article, err := s.deps.Translate.Translate(r.Context(), *req.EnglishArticle, req.TargetLanguage)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "article": article})
	case req.ArticleID != "":
		if s.deps.Articles == nil {
			s.fail(w, r, errNotConfigured)
			return
		}
		res, err := s.deps.Translate.TranslateToLanguages(r.Context(), s.deps.Articles, req.ArticleID, req.TargetLanguages)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
	default:
		s.fail(w, r, badRequest("englishArticle or articleId is required"))
	}
}

func (s *Server) handleRepairHreflang(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hreflang == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req hreflang.RepairRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Hreflang.Repair(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAuditHreflang(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hreflang == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req struct {
		ContentType hreflang.ContentType `json:"contentType"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.deps.Hreflang.Audit(r.Context(), req.ContentType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleFixMismatches defaults to a dry run unless dryRun is false
func (s *Server) handleFixMismatches(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hreflang == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req struct {
		DryRun *bool `json:"dryRun"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Hreflang.FixMismatches(r.Context(), req.DryRun == nil || *req.DryRun)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleClusterLinks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Linking == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req linking.ClusterRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Linking.RegenerateCluster(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLinkQAPages(w http.ResponseWriter, r *http.Request) {
	if s.deps.Linking == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req struct {
		Mode      string   `json:"mode"`
		QAPageIDs []string `json:"qaPageIds"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Mode != "" && req.Mode != "qa" {
		s.fail(w, r, badRequest("Invalid mode"))
		return
	}
	res, err := s.deps.Linking.LinkQAPages(r.Context(), req.QAPageIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCitationHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil || s.deps.Citations == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req struct {
		BatchSize int `json:"batchSize"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.BatchSize <= 0 {
		req.BatchSize = s.deps.HealthBatch
	}
	res, err := s.deps.Health.Sweep(r.Context(), s.deps.Citations, req.BatchSize)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleFindCitations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Finder == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req citations.FindRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.Finder.Find(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handlePingIndexNow reports a missing key as a skipped submission
func (s *Server) handlePingIndexNow(w http.ResponseWriter, r *http.Request) {
	if s.deps.IndexNow == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req indexnow.Request
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	urls, err := s.deps.IndexNow.Resolve(req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.IndexNow.Submit(r.Context(), urls)
	if errors.Is(err, indexnow.ErrNoKey) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "skipped": true, "message": err.Error()})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
