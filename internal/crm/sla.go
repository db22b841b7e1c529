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

// claimTimerMinutes is the length of the claim timer set when a lead is offered
const claimTimerMinutes = 5

// SweepResult summarizes an SLA sweep
type SweepResult struct {
	Processed int    `json:"processed"`
	Errors    int    `json:"errors"`
	Total     int    `json:"total"`
	Message   string `json:"message,omitempty"`
}

// CheckClaimWindows marks unclaimed leads whose claim timer has run out as
// breached and escalates each one to the fallback admin of its language.
func (s *Service) CheckClaimWindows(ctx context.Context) (*SweepResult, error) {
	leads, err := s.store.ExpiredClaimWindows(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("query expired claim windows: %w", err)
	}
	if len(leads) == 0 {
		return &SweepResult{Message: "No expired claim windows"}, nil
	}
	s.logger.Info("expired claim windows found", zap.Int("count", len(leads)))

	result := &SweepResult{Total: len(leads)}
	for _, lead := range leads {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.escalateClaimBreach(ctx, lead); err != nil {
			s.logger.Error("claim breach escalation failed", zap.String("lead_id", lead.ID), zap.Error(err))
			result.Errors++
			continue
		}
		result.Processed++
	}
	s.logger.Info("claim window sweep complete",
		zap.Int("processed", result.Processed),
		zap.Int("errors", result.Errors))
	return result, nil
}

func (s *Service) escalateClaimBreach(ctx context.Context, lead model.Lead) error {
	adminID, admin := s.fallbackAdmin(ctx, lead.Language)

	if err := s.store.UpdateLead(ctx, lead.ID, store.Row{
		"claim_sla_breached": true,
		"updated_at":         ts(s.now()),
	}); err != nil {
		return fmt.Errorf("mark claim breach: %w", err)
	}

	lang := strings.ToUpper(lead.Language)
	if admin != nil && admin.Email != "" {
		elapsed := int(s.now().Sub(lead.CreatedAt).Minutes())
		s.emailAlert(ctx, admin.Email,
			fmt.Sprintf("🚨 Lead Unclaimed - %s (%s)", lead.FullName(), lang),
			notify.Alert{
				Title:    "🚨 Lead Unclaimed",
				Subtitle: "Claim window expired",
				Urgent:   true,
				Intro: fmt.Sprintf("Hi %s, no agent claimed this lead within the %d minute claim window. It needs manual reassignment.",
					orDefault(admin.FirstName, "Admin"), claimTimerMinutes),
				LeadName: lead.FullName(),
				Language: lead.Language,
				Fields: [][2]string{
					{"Phone", fullPhone(lead)},
					{"Email", strOr(lead.Email, "")},
					{"Segment", string(lead.LeadSegment)},
					{"Budget", strOr(lead.BudgetRange, "")},
					{"Waiting", fmt.Sprintf("%d minutes since creation", elapsed)},
				},
				ActionURL:   s.opts.AppURL + "/crm/admin/leads",
				ActionLabel: "Reassign Lead",
			})
	} else {
		s.logger.Warn("no admin email for claim breach", zap.String("lead_id", lead.ID))
	}

	if adminID != "" {
		if err := s.store.InsertNotifications(ctx, model.Notification{
			AgentID:          adminID,
			LeadID:           lead.ID,
			NotificationType: "claim_sla_breach",
			Title:            "🚨 Lead Unclaimed - Claim Window Expired",
			Message: fmt.Sprintf("%s (%s) went unclaimed after %d minutes - requires reassignment",
				lead.FullName(), lang, claimTimerMinutes),
			ActionURL: "/crm/admin/leads",
		}); err != nil {
			s.logger.Warn("claim breach notification failed", zap.String("lead_id", lead.ID), zap.Error(err))
		}
	}

	if _, err := s.store.InsertActivity(ctx, store.Row{
		"lead_id":       lead.ID,
		"agent_id":      nilIfEmpty(adminID),
		"activity_type": "note",
		"notes": fmt.Sprintf("⚠️ CLAIM SLA BREACH: Claim window expired after %d minutes - no agent claimed this lead. Admin notified for manual reassignment.",
			claimTimerMinutes),
		"created_at": ts(s.now()),
	}); err != nil {
		s.logger.Warn("claim breach activity failed", zap.String("lead_id", lead.ID), zap.Error(err))
	}

	s.alert(ctx, fmt.Sprintf("🚨 Lead unclaimed: %s (%s) - claim window expired", lead.FullName(), lang))
	s.publish(ctx, model.LeadEvent{Type: model.LeadClaimBreach, LeadID: lead.ID, AgentID: adminID, Segment: lead.LeadSegment})
	return nil
}

// CheckContactWindows marks claimed leads whose agent made no first contact
// before the contact timer ran out as breached and escalates them.
func (s *Service) CheckContactWindows(ctx context.Context) (*SweepResult, error) {
	leads, err := s.store.ExpiredContactWindows(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("query expired contact windows: %w", err)
	}
	if len(leads) == 0 {
		return &SweepResult{Message: "No expired contact windows"}, nil
	}
	s.logger.Info("expired contact windows found", zap.Int("count", len(leads)))

	result := &SweepResult{Total: len(leads)}
	for _, lead := range leads {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.escalateContactBreach(ctx, lead); err != nil {
			s.logger.Error("contact breach escalation failed", zap.String("lead_id", lead.ID), zap.Error(err))
			result.Errors++
			continue
		}
		result.Processed++
	}
	s.logger.Info("contact window sweep complete",
		zap.Int("processed", result.Processed),
		zap.Int("errors", result.Errors))
	return result, nil
}

func (s *Service) escalateContactBreach(ctx context.Context, lead model.Lead) error {
	adminID, admin := s.fallbackAdmin(ctx, lead.Language)

	agentName := "Unknown Agent"
	agentID := strOr(lead.AssignedAgentID, "")
	if agentID != "" {
		if agent, err := s.store.GetAgent(ctx, agentID); err == nil {
			agentName = agentFullName(*agent)
		}
	}

	if err := s.store.UpdateLead(ctx, lead.ID, store.Row{
		"contact_sla_breached": true,
		"updated_at":           ts(s.now()),
	}); err != nil {
		return fmt.Errorf("mark contact breach: %w", err)
	}

	lang := strings.ToUpper(lead.Language)
	minutes := int(s.opts.ContactWindow.Minutes())
	if admin != nil && admin.Email != "" {
		s.emailAlert(ctx, admin.Email,
			fmt.Sprintf("CRM_ADMIN_CLAIMED_NOT_CALLED_%s | Lead claimed but not called (%d-min contact SLA)", lang, minutes),
			notify.Alert{
				Title:    "⚠️ No Contact Made",
				Subtitle: "Agent contact SLA breached",
				Urgent:   true,
				Intro: fmt.Sprintf("%s claimed this lead but made no contact within %d minutes. Consider reassigning it.",
					agentName, minutes),
				LeadName: lead.FullName(),
				Language: lead.Language,
				Fields: [][2]string{
					{"Agent", agentName},
					{"Phone", fullPhone(lead)},
					{"Email", strOr(lead.Email, "")},
					{"Segment", string(lead.LeadSegment)},
				},
				ActionURL:   s.opts.AppURL + "/crm/admin/leads",
				ActionLabel: "Reassign Lead",
			})
	} else {
		s.logger.Warn("no admin email for contact breach", zap.String("lead_id", lead.ID))
	}

	if adminID != "" {
		if err := s.store.InsertNotifications(ctx, model.Notification{
			AgentID:          adminID,
			LeadID:           lead.ID,
			NotificationType: "contact_sla_breach",
			Title:            "⚠️ No Contact Made - Agent SLA Breach",
			Message: fmt.Sprintf("%s claimed %s (%s) but made no contact within %d minutes - requires reassignment",
				agentName, lead.FullName(), lang, minutes),
			ActionURL: "/crm/admin/leads",
		}); err != nil {
			s.logger.Warn("contact breach notification failed", zap.String("lead_id", lead.ID), zap.Error(err))
		}
	}

	activityAgent := agentID
	if activityAgent == "" {
		activityAgent = adminID
	}
	if _, err := s.store.InsertActivity(ctx, store.Row{
		"lead_id":       lead.ID,
		"agent_id":      nilIfEmpty(activityAgent),
		"activity_type": "note",
		"notes": fmt.Sprintf("⚠️ CONTACT SLA BREACH: %s claimed this lead but made no contact within %d minutes. Admin notified for reassignment.",
			agentName, minutes),
		"created_at": ts(s.now()),
	}); err != nil {
		s.logger.Warn("contact breach activity failed", zap.String("lead_id", lead.ID), zap.Error(err))
	}

	s.alert(ctx, fmt.Sprintf("⚠️ No contact: %s claimed %s (%s) but made no contact", agentName, lead.FullName(), lang))
	s.publish(ctx, model.LeadEvent{Type: model.LeadContactBreach, LeadID: lead.ID, AgentID: agentID, Segment: lead.LeadSegment})
	return nil
}

// fallbackAdmin resolves the fallback admin id of a language and, when it
// exists, the admin's agent row. Failures are logged and yield empty values.
func (s *Service) fallbackAdmin(ctx context.Context, lang string) (string, *model.Agent) {
	adminID, err := s.store.FallbackAdminID(ctx, lang)
	if err != nil {
		s.logger.Warn("no fallback admin", zap.String("language", lang), zap.Error(err))
		return "", nil
	}
	admin, err := s.store.GetAgent(ctx, adminID)
	if err != nil {
		s.logger.Warn("fallback admin lookup failed", zap.String("admin_id", adminID), zap.Error(err))
		return adminID, nil
	}
	return adminID, admin
}

func (s *Service) emailAlert(ctx context.Context, to, subject string, alert notify.Alert) {
	html, err := notify.RenderAlert(alert)
	if err != nil {
		s.logger.Error("render alert email failed", zap.Error(err))
		return
	}
	if err := s.sendEmail(ctx, notify.Email{
		From:    s.opts.AlertsFrom,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	}); err != nil {
		s.logger.Warn("alert email failed", zap.String("to", to), zap.Error(err))
	}
}

func agentFullName(a model.Agent) string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

func fullPhone(l model.Lead) string {
	if l.FullPhone != "" {
		return l.FullPhone
	}
	return strings.TrimSpace(l.CountryPrefix + " " + l.PhoneNumber)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
