package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

// RegisterResult is the outcome of a lead registration
type RegisterResult struct {
	Success          bool          `json:"success"`
	LeadID           string        `json:"leadId"`
	Segment          model.Segment `json:"segment"`
	Score            int           `json:"score"`
	AssignmentMethod string        `json:"assignmentMethod"`
	RuleName         string        `json:"ruleName,omitempty"`
	AssignedTo       string        `json:"assignedTo,omitempty"`
	BroadcastTo      *int          `json:"broadcastTo,omitempty"`
}

// Register scores and stores a new lead, then routes it: first through the
// matching routing rule, otherwise by broadcasting a claim offer to every
// available agent speaking the lead's language.
func (s *Service) Register(ctx context.Context, p LeadPayload) (*RegisterResult, error) {
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" || strings.TrimSpace(p.Phone) == "" {
		return nil, validationError("Missing required fields: firstName, lastName, phone")
	}

	language := strings.ToLower(strings.TrimSpace(p.Language))
	if language == "" {
		language = "en"
	}
	score := Score(p)
	segment := SegmentFor(score)
	priority := PriorityFor(score, strOr(p.Timeframe, ""))

	lead, err := s.store.InsertLead(ctx, s.leadRow(p, language, score, segment, priority))
	if err != nil {
		return nil, fmt.Errorf("create lead: %w", err)
	}
	s.logger.Info("lead created",
		zap.String("lead_id", lead.ID),
		zap.String("language", language),
		zap.Int("score", score),
		zap.String("segment", string(segment)))
	s.publish(ctx, model.LeadEvent{Type: model.LeadCreated, LeadID: lead.ID, Segment: segment})

	if rule := s.findMatchingRule(ctx, *lead); rule != nil {
		agent, err := s.assignViaRule(ctx, lead, *rule)
		if err != nil {
			return nil, err
		}
		if agent != nil {
			s.publish(ctx, model.LeadEvent{Type: model.LeadAssigned, LeadID: lead.ID, AgentID: agent.ID, Segment: segment})
			return &RegisterResult{
				Success:          true,
				LeadID:           lead.ID,
				Segment:          segment,
				Score:            score,
				AssignmentMethod: "rule_based",
				RuleName:         rule.RuleName,
				AssignedTo:       agent.ID,
			}, nil
		}
		if !rule.FallbackToBroadcast {
			s.logger.Warn("rule agent unavailable and rule has no broadcast fallback, broadcasting anyway",
				zap.String("rule", rule.RuleName),
				zap.String("lead_id", lead.ID))
		}
	}

	count := s.broadcast(ctx, *lead)
	s.publish(ctx, model.LeadEvent{
		Type:    model.LeadBroadcast,
		LeadID:  lead.ID,
		Segment: segment,
		Message: fmt.Sprintf("offered to %d agents", count),
	})
	return &RegisterResult{
		Success:          true,
		LeadID:           lead.ID,
		Segment:          segment,
		Score:            score,
		AssignmentMethod: "broadcast",
		BroadcastTo:      &count,
	}, nil
}

func (s *Service) leadRow(p LeadPayload, language string, score int, segment model.Segment, priority model.Priority) store.Row {
	source := p.LeadSource
	if source == "" {
		source = "Website"
	}
	locations := p.LocationPreference
	if locations == nil {
		locations = []string{}
	}
	propertyTypes := p.PropertyType
	if propertyTypes == nil {
		propertyTypes = []string{}
	}
	var qaPairs any
	if len(p.QAPairs) > 0 {
		qaPairs = p.QAPairs
	}

	return store.Row{
		"first_name":              strings.TrimSpace(p.FirstName),
		"last_name":               strings.TrimSpace(p.LastName),
		"phone_number":            strings.TrimSpace(p.Phone),
		"country_prefix":          p.CountryPrefix,
		"email":                   trimmedOrNil(p.Email),
		"language":                language,
		"lead_source":             source,
		"lead_source_detail":      trimmedOrNil(p.LeadSourceDetail),
		"page_url":                trimmedOrNil(p.PageURL),
		"page_type":               trimmedOrNil(p.PageType),
		"page_slug":               trimmedOrNil(p.PageSlug),
		"referrer":                trimmedOrNil(p.Referrer),
		"questions_answered":      p.QuestionsAnswered,
		"qa_pairs":                qaPairs,
		"intake_complete":         p.IntakeComplete,
		"exit_point":              trimmedOrNil(p.ExitPoint),
		"conversation_duration":   trimmedOrNil(p.ConversationDuration),
		"property_ref":            trimmedOrNil(p.PropertyRef),
		"message":                 trimmedOrNil(p.Message),
		"location_preference":     locations,
		"sea_view_importance":     trimmedOrNil(p.SeaViewImportance),
		"budget_range":            trimmedOrNil(p.BudgetRange),
		"bedrooms_desired":        trimmedOrNil(p.BedroomsDesired),
		"property_type":           propertyTypes,
		"property_purpose":        trimmedOrNil(p.PropertyPurpose),
		"timeframe":               trimmedOrNil(p.Timeframe),
		"lead_segment":            string(segment),
		"initial_lead_score":      score,
		"current_lead_score":      score,
		"lead_priority":           string(priority),
		"lead_status":             "new",
		"lead_claimed":            false,
		"claim_window_expires_at": ts(s.now().Add(s.opts.ClaimWindow)),
	}
}

func trimmedOrNil(p *string) any {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return v
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
