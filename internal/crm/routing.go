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

// RuleMatches reports whether a lead satisfies every criterion a rule sets.
// Empty criteria match anything; page type and slug only constrain leads
// that carry them.
func RuleMatches(lead model.Lead, rule model.RoutingRule) bool {
	if len(rule.MatchLanguage) > 0 && !contains(rule.MatchLanguage, lead.Language) {
		return false
	}
	if pt := strOr(lead.PageType, ""); len(rule.MatchPageType) > 0 && pt != "" && !contains(rule.MatchPageType, pt) {
		return false
	}
	if slug := strOr(lead.PageSlug, ""); len(rule.MatchPageSlug) > 0 && slug != "" && !contains(rule.MatchPageSlug, slug) {
		return false
	}
	if len(rule.MatchLeadSource) > 0 && !contains(rule.MatchLeadSource, lead.LeadSource) {
		return false
	}
	if len(rule.MatchLeadSegment) > 0 && !contains(rule.MatchLeadSegment, string(lead.LeadSegment)) {
		return false
	}
	if len(rule.MatchBudgetRange) > 0 {
		budget := strOr(lead.BudgetRange, "")
		if budget == "" || !containsAny(budget, rule.MatchBudgetRange...) {
			return false
		}
	}
	if len(rule.MatchPropertyType) > 0 && !intersects(lead.PropertyType, rule.MatchPropertyType) {
		return false
	}
	if len(rule.MatchTimeframe) > 0 {
		tf := strOr(lead.Timeframe, "")
		if tf == "" || !contains(rule.MatchTimeframe, tf) {
			return false
		}
	}
	return true
}

// findMatchingRule returns the first active rule that matches, recording the
// match on the rule. Lookup failures are logged and treated as no match.
func (s *Service) findMatchingRule(ctx context.Context, lead model.Lead) *model.RoutingRule {
	rules, err := s.store.ActiveRoutingRules(ctx)
	if err != nil {
		s.logger.Warn("load routing rules failed", zap.Error(err))
		return nil
	}

	for i := range rules {
		rule := rules[i]
		if !RuleMatches(lead, rule) {
			continue
		}
		s.logger.Info("routing rule matched",
			zap.String("lead_id", lead.ID),
			zap.String("rule", rule.RuleName))
		if err := s.store.RecordRuleMatch(ctx, rule, s.now()); err != nil {
			s.logger.Warn("record rule match failed", zap.String("rule_id", rule.ID), zap.Error(err))
		}
		return &rule
	}
	return nil
}

// assignViaRule instantly assigns the lead to the rule's agent. It returns
// nil when the agent is missing, inactive, not accepting or at capacity.
func (s *Service) assignViaRule(ctx context.Context, lead *model.Lead, rule model.RoutingRule) (*model.Agent, error) {
	agent, err := s.store.GetAgent(ctx, rule.AssignToAgentID)
	if err != nil {
		s.logger.Warn("rule target agent not found",
			zap.String("rule", rule.RuleName),
			zap.String("agent_id", rule.AssignToAgentID),
			zap.Error(err))
		return nil, nil
	}
	if !agent.IsActive || !agent.AcceptsNewLeads {
		s.logger.Info("rule target agent not accepting leads", zap.String("agent_id", agent.ID))
		return nil, nil
	}
	if !agent.HasCapacity() {
		s.logger.Info("rule target agent at capacity", zap.String("agent_id", agent.ID))
		return nil, nil
	}

	now := s.now()
	err = s.store.UpdateLead(ctx, lead.ID, store.Row{
		"assigned_agent_id":       agent.ID,
		"assigned_at":             ts(now),
		"assignment_method":       "rule_based",
		"lead_claimed":            true,
		"claimed_by":              "Rule: " + rule.RuleName,
		"routing_rule_id":         rule.ID,
		"claim_window_expires_at": nil,
	})
	if err != nil {
		return nil, fmt.Errorf("assign lead %s: %w", lead.ID, err)
	}

	if err := s.store.AdjustAgentLeadCount(ctx, agent.ID, 1); err != nil {
		s.logger.Warn("increment agent lead count failed", zap.String("agent_id", agent.ID), zap.Error(err))
	}

	if err := s.store.InsertNotifications(ctx, model.Notification{
		AgentID:          agent.ID,
		LeadID:           lead.ID,
		NotificationType: "rule_assigned",
		Title:            "⚡ Lead Auto-Assigned: " + rule.RuleName,
		Message:          fmt.Sprintf("%s - %s - %s", lead.FullName(), lead.LeadSegment, strOr(lead.BudgetRange, "Budget TBD")),
		ActionURL:        "/crm/agent/leads/" + lead.ID,
	}); err != nil {
		s.logger.Warn("create rule notification failed", zap.Error(err))
	}

	s.emailLeadAvailable(ctx, *lead, []model.Agent{*agent}, 0, rule.RuleName)

	if _, err := s.store.InsertActivity(ctx, store.Row{
		"lead_id":       lead.ID,
		"agent_id":      agent.ID,
		"activity_type": "note",
		"notes":         fmt.Sprintf("Lead automatically assigned via routing rule: %q", rule.RuleName),
		"created_at":    ts(now),
	}); err != nil {
		s.logger.Warn("log rule assignment activity failed", zap.Error(err))
	}

	return agent, nil
}

// broadcast offers the lead to every available agent speaking its language
// and returns how many were notified.
func (s *Service) broadcast(ctx context.Context, lead model.Lead) int {
	agents, err := s.store.AgentsForLanguage(ctx, lead.Language)
	if err != nil {
		s.logger.Warn("load eligible agents failed", zap.String("language", lead.Language), zap.Error(err))
	}

	available := make([]model.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Available() {
			available = append(available, a)
		}
	}
	s.logger.Info("broadcasting lead",
		zap.String("lead_id", lead.ID),
		zap.String("language", lead.Language),
		zap.Int("agents", len(available)))

	if len(available) == 0 {
		s.alert(ctx, fmt.Sprintf("%s New %s lead %s has no eligible agents and needs admin assignment",
			notify.LanguageFlag(lead.Language), strings.ToUpper(lead.Language), lead.FullName()))
		return 0
	}

	title := fmt.Sprintf("%s New %s Lead Available", notify.LanguageFlag(lead.Language), strings.ToUpper(lead.Language))
	message := fmt.Sprintf("%s - %s - %s", lead.FullName(), lead.LeadSegment, strOr(lead.BudgetRange, "Budget TBD"))
	notifications := make([]model.Notification, 0, len(available))
	for _, a := range available {
		notifications = append(notifications, model.Notification{
			AgentID:          a.ID,
			LeadID:           lead.ID,
			NotificationType: "new_lead_available",
			Title:            title,
			Message:          message,
			ActionURL:        "/crm/agent/leads/" + lead.ID + "/claim",
		})
	}
	if err := s.store.InsertNotifications(ctx, notifications...); err != nil {
		s.logger.Warn("create broadcast notifications failed", zap.Error(err))
	}

	s.emailLeadAvailable(ctx, lead, available, int(s.opts.ClaimWindow.Minutes()), "")
	return len(available)
}

func (s *Service) emailLeadAvailable(ctx context.Context, lead model.Lead, agents []model.Agent, claimMinutes int, ruleName string) {
	claimURL := s.opts.AppURL + "/crm/agent/leads/" + lead.ID + "/claim"
	sent := 0
	for _, a := range agents {
		html, err := notify.RenderLeadAvailable(notify.LeadAvailable{
			AgentName:          a.FirstName,
			LeadName:           lead.FullName(),
			Language:           lead.Language,
			Segment:            string(lead.LeadSegment),
			Phone:              lead.PhoneNumber,
			Budget:             strOr(lead.BudgetRange, ""),
			Locations:          lead.LocationPreference,
			Timeframe:          strOr(lead.Timeframe, ""),
			Source:             lead.LeadSource,
			ClaimURL:           claimURL,
			ClaimWindowMinutes: claimMinutes,
			RuleName:           ruleName,
		})
		if err != nil {
			s.logger.Error("render lead email failed", zap.Error(err))
			return
		}
		err = s.sendEmail(ctx, notify.Email{
			From:    s.opts.From,
			To:      []string{a.Email},
			Subject: notify.LeadAvailableSubject(lead.Language, lead.FullName()),
			HTML:    html,
		})
		if err != nil {
			s.logger.Warn("lead email failed", zap.String("agent", a.Email), zap.Error(err))
			continue
		}
		sent++
	}
	s.logger.Info("lead emails sent", zap.String("lead_id", lead.ID), zap.Int("sent", sent), zap.Int("agents", len(agents)))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if contains(b, v) {
			return true
		}
	}
	return false
}
