package crm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/notify"
	"github.com/delsolprime/backoffice/internal/store"
)

// Reassignment reasons
const (
	ReasonUnclaimed = "unclaimed"
	ReasonNoContact = "no_contact"
	ReasonManual    = "manual"
)

var reasonDescriptions = map[string]string{
	ReasonUnclaimed: "Lead was unclaimed within SLA window",
	ReasonNoContact: "Previous agent did not make contact within SLA window",
	ReasonManual:    "Manual reassignment by admin",
}

var reasonStages = map[string]string{
	ReasonUnclaimed: "claim_window",
	ReasonNoContact: "contact_window",
}

// ReassignRequest moves a lead to another agent
type ReassignRequest struct {
	LeadID         string `json:"lead_id"`
	ToAgentID      string `json:"to_agent_id"`
	Reason         string `json:"reason"`
	ReassignedByID string `json:"reassigned_by_id"`
	Notes          string `json:"notes,omitempty"`
}

// ReassignResult is the outcome of a reassignment
type ReassignResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	LeadID     string `json:"lead_id"`
	FromAgent  string `json:"from_agent"`
	ToAgent    string `json:"to_agent"`
	Reason     string `json:"reason"`
	TimerReset bool   `json:"timer_reset"`
}

// Reassign hands a lead to another agent. Reasons other than "manual"
// restart the contact timer for the new agent.
func (s *Service) Reassign(ctx context.Context, req ReassignRequest) (*ReassignResult, error) {
	if req.LeadID == "" || req.ToAgentID == "" || req.Reason == "" || req.ReassignedByID == "" {
		return nil, validationError("Missing required fields: lead_id, to_agent_id, reason, reassigned_by_id")
	}

	lead, err := s.store.GetLead(ctx, req.LeadID)
	if err != nil {
		return nil, notFound(err, "Lead not found")
	}
	toAgent, err := s.store.GetAgent(ctx, req.ToAgentID)
	if err != nil {
		return nil, notFound(err, "Target agent not found")
	}

	fromAgentID := strOr(lead.AssignedAgentID, "")
	fromName := "Unassigned"
	if fromAgentID != "" {
		if from, err := s.store.GetAgent(ctx, fromAgentID); err == nil {
			fromName = agentFullName(*from)
		}
	}
	toName := agentFullName(*toAgent)

	now := s.now()
	patch := store.Row{
		"assigned_agent_id":   toAgent.ID,
		"previous_agent_id":   nilIfEmpty(fromAgentID),
		"reassignment_count":  lead.ReassignmentCount + 1,
		"reassignment_reason": req.Reason,
		"reassigned_at":       ts(now),
		"updated_at":          ts(now),
		"assigned_at":         ts(now),
		"assignment_method":   "admin_reassignment",
	}
	contactExpires := ts(now.Add(s.opts.ContactWindow))
	switch req.Reason {
	case ReasonUnclaimed:
		patch["lead_claimed"] = true
		patch["claim_timer_expires_at"] = nil
		patch["claim_sla_breached"] = true
		fallthrough
	case ReasonNoContact:
		patch["contact_timer_started_at"] = ts(now)
		patch["contact_timer_expires_at"] = contactExpires
		patch["contact_sla_breached"] = false
		patch["first_action_completed"] = false
	}
	if err := s.store.UpdateLead(ctx, lead.ID, patch); err != nil {
		return nil, fmt.Errorf("update lead: %w", err)
	}

	stage, ok := reasonStages[req.Reason]
	if !ok {
		stage = "manual"
	}
	if err := s.store.InsertReassignment(ctx, store.Row{
		"lead_id":       lead.ID,
		"from_agent_id": nilIfEmpty(fromAgentID),
		"to_agent_id":   toAgent.ID,
		"reassigned_by": req.ReassignedByID,
		"reason":        req.Reason,
		"stage":         stage,
		"notes":         nilIfEmpty(req.Notes),
	}); err != nil {
		s.logger.Warn("record reassignment failed", zap.String("lead_id", lead.ID), zap.Error(err))
	}

	if fromAgentID != "" && fromAgentID != toAgent.ID {
		if err := s.store.AdjustAgentLeadCount(ctx, fromAgentID, -1); err != nil {
			s.logger.Warn("decrement lead count failed", zap.String("agent_id", fromAgentID), zap.Error(err))
		}
		if err := s.store.MarkNotificationsRead(ctx, lead.ID, fromAgentID, now); err != nil {
			s.logger.Warn("clear old agent notifications failed", zap.String("agent_id", fromAgentID), zap.Error(err))
		}
	}
	if fromAgentID != toAgent.ID {
		if err := s.store.AdjustAgentLeadCount(ctx, toAgent.ID, 1); err != nil {
			s.logger.Warn("increment lead count failed", zap.String("agent_id", toAgent.ID), zap.Error(err))
		}
	}

	readableReason := strings.ReplaceAll(req.Reason, "_", " ")
	if err := s.store.InsertNotifications(ctx, model.Notification{
		AgentID:          toAgent.ID,
		LeadID:           lead.ID,
		NotificationType: "lead_reassigned",
		Title:            "🔄 Lead Reassigned to You",
		Message:          fmt.Sprintf("Admin reassigned %s to you - %s", lead.FullName(), readableReason),
		ActionURL:        "/crm/agent/leads/" + lead.ID,
	}); err != nil {
		s.logger.Warn("reassignment notification failed", zap.Error(err))
	}

	description, ok := reasonDescriptions[req.Reason]
	if !ok {
		description = readableReason
	}
	note := fmt.Sprintf("Lead reassigned from %s to %s. Reason: %s", fromName, toName, description)
	if req.Notes != "" {
		note += ". Admin notes: " + req.Notes
	}
	if _, err := s.store.InsertActivity(ctx, store.Row{
		"lead_id":       lead.ID,
		"agent_id":      req.ReassignedByID,
		"activity_type": "note",
		"notes":         note,
		"created_at":    ts(now),
	}); err != nil {
		s.logger.Warn("reassignment activity failed", zap.Error(err))
	}

	timerReset := req.Reason != ReasonManual
	s.emailReassigned(ctx, *lead, *toAgent, fromName, description, req.Notes, timerReset)
	s.publish(ctx, model.LeadEvent{
		Type:    model.LeadReassigned,
		LeadID:  lead.ID,
		AgentID: toAgent.ID,
		Segment: lead.LeadSegment,
		Message: note,
	})

	s.logger.Info("lead reassigned",
		zap.String("lead_id", lead.ID),
		zap.String("from", fromName),
		zap.String("to", toName),
		zap.String("reason", req.Reason))

	return &ReassignResult{
		Success:    true,
		Message:    "Lead reassigned to " + toName,
		LeadID:     lead.ID,
		FromAgent:  fromName,
		ToAgent:    toName,
		Reason:     req.Reason,
		TimerReset: timerReset,
	}, nil
}

func (s *Service) emailReassigned(ctx context.Context, lead model.Lead, to model.Agent, fromName, reason, notes string, timerReset bool) {
	if to.Email == "" {
		return
	}
	intro := fmt.Sprintf("Hi %s, a lead previously handled by %s has been reassigned to you.", orDefault(to.FirstName, "there"), fromName)
	if timerReset {
		intro += fmt.Sprintf(" Please make contact within %d minutes.", int(s.opts.ContactWindow.Minutes()))
	}
	html, err := notify.RenderAlert(notify.Alert{
		Title:    "🔄 Lead Reassigned to You",
		Subtitle: reason,
		Urgent:   timerReset,
		Intro:    intro,
		LeadName: lead.FullName(),
		Language: lead.Language,
		Fields: [][2]string{
			{"Phone", fullPhone(lead)},
			{"Email", strOr(lead.Email, "")},
			{"Segment", string(lead.LeadSegment)},
			{"Budget", strOr(lead.BudgetRange, "")},
			{"Admin notes", notes},
		},
		ActionURL:   s.opts.AppURL + "/crm/agent/leads/" + lead.ID,
		ActionLabel: "Open Lead",
	})
	if err != nil {
		s.logger.Error("render reassignment email failed", zap.Error(err))
		return
	}
	if err := s.sendEmail(ctx, notify.Email{
		From:    assignmentsFrom,
		To:      []string{to.Email},
		Subject: "🔄 Lead Reassigned: " + lead.FullName(),
		HTML:    html,
	}); err != nil {
		s.logger.Warn("reassignment email failed", zap.String("to", to.Email), zap.Error(err))
	}
}
