package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

// CallPayload is a call record pushed by the phone tracking provider
type CallPayload struct {
	CallID       string `json:"call_id"`
	PhoneNumber  string `json:"phone_number"`
	Direction    string `json:"direction"`
	Duration     int    `json:"duration"`
	Answered     *bool  `json:"answered"`
	StartedAt    string `json:"started_at"`
	EndedAt      string `json:"ended_at"`
	RecordingURL string `json:"recording_url"`
	AgentEmail   string `json:"agent_email"`
	AgentPhone   string `json:"agent_phone"`

	// Raw is the untouched payload, stored on the activity
	Raw json.RawMessage `json:"-"`
}

// CallResult is the webhook answer. The provider always receives 200.
type CallResult struct {
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
	ActivityID   string `json:"activity_id,omitempty"`
	LeadMatched  *bool  `json:"lead_matched,omitempty"`
	AgentMatched *bool  `json:"agent_matched,omitempty"`
}

var (
	nonPhoneChars = regexp.MustCompile(`[^0-9+]`)
	nonDigits     = regexp.MustCompile(`[^0-9]`)
)

// NormalizePhone strips a phone number to digits and "+", and returns the
// last nine digits used for fuzzy matching.
func NormalizePhone(phone string) (normalized, last9 string) {
	normalized = nonPhoneChars.ReplaceAllString(phone, "")
	digits := nonDigits.ReplaceAllString(normalized, "")
	if len(digits) > 9 {
		digits = digits[len(digits)-9:]
	}
	return normalized, digits
}

// LogCall records a tracked call as an activity on the matching agent's
// lead and completes the lead's first contact when it had none.
func (s *Service) LogCall(ctx context.Context, p CallPayload) *CallResult {
	if p.CallID == "" {
		return &CallResult{Error: "Missing call_id"}
	}
	if p.AgentEmail == "" && p.AgentPhone == "" {
		return &CallResult{Error: "Missing agent_email or agent_phone"}
	}

	agent, err := s.store.FindAgentByContact(ctx, p.AgentEmail, p.AgentPhone)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("agent lookup failed", zap.Error(err))
		}
		s.logger.Warn("call agent not matched",
			zap.String("email", p.AgentEmail),
			zap.String("phone", p.AgentPhone))
		return &CallResult{Message: "Agent not matched"}
	}

	var lead *model.Lead
	normalized, last9 := NormalizePhone(p.PhoneNumber)
	if p.PhoneNumber != "" && last9 == "" {
		s.logger.Info("call phone has no digits; lead lookup skipped", zap.String("phone", p.PhoneNumber))
	}
	if last9 != "" {
		lead, err = s.store.FindAgentLeadByPhone(ctx, agent.ID, last9, normalized)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				s.logger.Error("lead lookup failed", zap.Error(err))
			}
			s.logger.Info("no lead matched call", zap.String("phone", p.PhoneNumber))
			lead = nil
		}
	}

	answered := p.Answered != nil && *p.Answered
	outcome, answeredLabel := "no_answer", "No Answer"
	if answered {
		outcome, answeredLabel = "answered", "Answered"
	}
	minutes, seconds := p.Duration/60, p.Duration%60
	durationText := ""
	if p.Duration > 0 {
		durationText = fmt.Sprintf(" - %dm %ds", minutes, seconds)
	}

	createdAt := p.StartedAt
	if createdAt == "" {
		createdAt = ts(s.now())
	}
	var metadata any
	if len(p.Raw) > 0 && json.Valid(p.Raw) {
		metadata = p.Raw
	}
	var leadID any
	if lead != nil {
		leadID = lead.ID
	}
	var answeredValue any
	if p.Answered != nil {
		answeredValue = *p.Answered
	}

	activity, err := s.store.InsertActivity(ctx, store.Row{
		"lead_id":                  leadID,
		"agent_id":                 agent.ID,
		"activity_type":            "call",
		"outcome":                  outcome,
		"call_duration":            p.Duration,
		"notes":                    fmt.Sprintf("Salestrail auto-logged call - %s - %s%s", orDefault(p.Direction, "unknown"), answeredLabel, durationText),
		"salestrail_call_id":       p.CallID,
		"salestrail_recording_url": nilIfEmpty(p.RecordingURL),
		"call_direction":           nilIfEmpty(p.Direction),
		"call_answered":            answeredValue,
		"salestrail_metadata":      metadata,
		"created_at":               createdAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			s.logger.Info("duplicate call ignored", zap.String("call_id", p.CallID))
			return &CallResult{Success: true, Duplicate: true, Message: "Call already logged"}
		}
		s.logger.Error("insert call activity failed", zap.Error(err))
		return &CallResult{Error: err.Error()}
	}

	if lead != nil && lead.FirstContactAt == nil {
		if err := s.store.UpdateLead(ctx, lead.ID, store.Row{
			"first_contact_at":       createdAt,
			"first_action_completed": true,
			"last_contact_at":        createdAt,
		}); err != nil {
			s.logger.Warn("complete first contact failed", zap.String("lead_id", lead.ID), zap.Error(err))
		}
	}

	if lead != nil {
		var message string
		if p.Duration > 0 {
			message = fmt.Sprintf("Your %dm %ds %s call with %s was recorded", minutes, seconds, p.Direction, lead.FullName())
		} else {
			message = fmt.Sprintf("Your %s call with %s was recorded", p.Direction, lead.FullName())
		}
		if err := s.store.InsertNotifications(ctx, model.Notification{
			AgentID:          agent.ID,
			LeadID:           lead.ID,
			NotificationType: "call_logged",
			Title:            "📞 Call Automatically Logged",
			Message:          strings.Join(strings.Fields(message), " "),
			ActionURL:        "/crm/agent/leads/" + lead.ID,
		}); err != nil {
			s.logger.Warn("call notification failed", zap.Error(err))
		}
		s.publish(ctx, model.LeadEvent{Type: model.LeadCallLogged, LeadID: lead.ID, AgentID: agent.ID, Segment: lead.LeadSegment})
	}

	return &CallResult{
		Success:      true,
		ActivityID:   activity.ID,
		LeadMatched:  ptr(lead != nil),
		AgentMatched: ptr(true),
	}
}
