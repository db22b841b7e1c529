package crm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

// NoteRequest adds a note to a lead
type NoteRequest struct {
	LeadID   string `json:"lead_id"`
	AgentID  string `json:"agent_id"`
	Content  string `json:"note_text"`
	NoteType string `json:"note_type,omitempty"`
	IsPinned bool   `json:"is_pinned,omitempty"`
}

// AddNote stores a note on a lead and logs it as an activity
func (s *Service) AddNote(ctx context.Context, req NoteRequest) (*model.Note, error) {
	content := strings.TrimSpace(req.Content)
	if req.LeadID == "" || req.AgentID == "" || content == "" {
		return nil, validationError("Missing required fields: lead_id, agent_id, note_text")
	}
	if _, err := s.store.GetLead(ctx, req.LeadID); err != nil {
		return nil, notFound(err, "Lead not found")
	}

	noteType := req.NoteType
	if noteType == "" {
		noteType = "general"
	}
	now := s.now()
	note, err := s.store.InsertNote(ctx, store.Row{
		"lead_id":    req.LeadID,
		"agent_id":   req.AgentID,
		"note_text":  content,
		"note_type":  noteType,
		"is_pinned":  req.IsPinned,
		"created_at": ts(now),
	})
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}

	if err := s.store.UpdateLead(ctx, req.LeadID, store.Row{"last_contact_at": ts(now), "updated_at": ts(now)}); err != nil {
		s.logger.Warn("touch lead after note failed", zap.String("lead_id", req.LeadID), zap.Error(err))
	}
	s.publish(ctx, model.LeadEvent{Type: model.LeadNoteAdded, LeadID: req.LeadID, AgentID: req.AgentID})
	return note, nil
}

// Notes lists a lead's notes, pinned first
func (s *Service) Notes(ctx context.Context, leadID string) ([]model.Note, error) {
	if leadID == "" {
		return nil, validationError("Missing required field: lead_id")
	}
	return s.store.ListNotes(ctx, leadID)
}
