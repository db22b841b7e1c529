package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/delsolprime/backoffice/internal/crm"
	"github.com/delsolprime/backoffice/internal/store"
)

func (s *Server) handleRegisterLead(w http.ResponseWriter, r *http.Request) {
	if s.deps.CRM == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var p crm.LeadPayload
	if err := decode(r, &p); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.CRM.Register(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReassignLead(w http.ResponseWriter, r *http.Request) {
	if s.deps.CRM == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req crm.ReassignRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.deps.CRM.Reassign(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCallWebhook always answers 200 so the provider does not retry
func (s *Server) handleCallWebhook(w http.ResponseWriter, r *http.Request) {
	if s.deps.CRM == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusOK, crm.CallResult{Error: "unreadable body"})
		return
	}
	var p crm.CallPayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeJSON(w, http.StatusOK, crm.CallResult{Error: "Invalid JSON payload"})
		return
	}
	p.Raw = body
	writeJSON(w, http.StatusOK, s.deps.CRM.LogCall(r.Context(), p))
}

func (s *Server) handleClaimSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.CRM == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	res, err := s.deps.CRM.CheckClaimWindows(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleContactSweep(w http.ResponseWriter, r *http.Request) {
	if s.deps.CRM == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	res, err := s.deps.CRM.CheckContactWindows(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	if s.deps.CRM == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req struct {
		WindowType string `json:"windowType"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	var windows []crm.ReminderWindow
	if req.WindowType != "" {
		windows = append(windows, crm.ReminderWindow(req.WindowType))
	}
	res, err := s.deps.CRM.SendReminders(r.Context(), windows...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	if s.deps.CRM == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	var req crm.NoteRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	note, err := s.deps.CRM.AddNote(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "note": note})
}

// handleExportLeads streams leads as CSV. Query: language, segment, status,
// agent, from, to (YYYY-MM-DD or RFC 3339), archived, limit.
func (s *Server) handleExportLeads(w http.ResponseWriter, r *http.Request) {
	if s.deps.CRM == nil {
		s.fail(w, r, errNotConfigured)
		return
	}
	f, err := leadFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	n, err := s.deps.CRM.ExportCSV(r.Context(), &buf, f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="leads-%s.csv"`, time.Now().UTC().Format("2006-01-02")))
	w.Header().Set("X-Total-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func leadFilter(r *http.Request) (store.LeadFilter, error) {
	q := r.URL.Query()
	f := store.LeadFilter{
		Language:        q.Get("language"),
		Segment:         q.Get("segment"),
		Status:          q.Get("status"),
		AssignedAgentID: q.Get("agent"),
		IncludeArchived: q.Get("archived") == "true",
	}
	var err error
	if f.CreatedFrom, err = parseDate(q.Get("from")); err != nil {
		return f, badRequest("invalid from date")
	}
	if f.CreatedTo, err = parseDate(q.Get("to")); err != nil {
		return f, badRequest("invalid to date")
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 0 {
			return f, badRequest("invalid limit")
		}
	}
	return f, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
