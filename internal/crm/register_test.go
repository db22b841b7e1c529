package crm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delsolprime/backoffice/internal/model"
)

func str(s string) *string { return &s }

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		payload  LeadPayload
		score    int
		segment  model.Segment
		priority model.Priority
	}{
		{
			name:     "empty payload gets the floor",
			payload:  LeadPayload{},
			score:    20,
			segment:  model.SegmentCold,
			priority: model.PriorityLow,
		},
		{
			name:     "one criterion rounds half up",
			payload:  LeadPayload{PropertyType: []string{"villa"}},
			score:    23,
			segment:  model.SegmentCold,
			priority: model.PriorityLow,
		},
		{
			name: "warm buyer",
			payload: LeadPayload{
				BudgetRange:        str("€500,000 - €750,000"),
				Timeframe:          str("within_1_year"),
				QuestionsAnswered:  3,
				LocationPreference: []string{"Marbella"},
			},
			score:    65,
			segment:  model.SegmentWarm,
			priority: model.PriorityHigh,
		},
		{
			name: "hot buyer caps at 100",
			payload: LeadPayload{
				BudgetRange:        str("€2M+"),
				Timeframe:          str("within_6_months"),
				IntakeComplete:     true,
				LocationPreference: []string{"Marbella", "Estepona"},
				PropertyType:       []string{"villa"},
				PropertyPurpose:    str("investment"),
				BedroomsDesired:    str("3"),
				SeaViewImportance:  str("essential"),
			},
			score:    100,
			segment:  model.SegmentHot,
			priority: model.PriorityUrgent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := Score(tt.payload)
			assert.Equal(t, tt.score, score)
			assert.Equal(t, tt.segment, SegmentFor(score))
			assert.Equal(t, tt.priority, PriorityFor(score, strOr(tt.payload.Timeframe, "")))
		})
	}
}

func TestPriorityForImmediateTimeframe(t *testing.T) {
	assert.Equal(t, model.PriorityUrgent, PriorityFor(10, "immediate"))
	assert.Equal(t, model.PriorityHigh, PriorityFor(10, "within_1_year"))
	assert.Equal(t, model.PriorityMedium, PriorityFor(45, ""))
}

func TestRuleMatches(t *testing.T) {
	lead := model.Lead{
		Language:     "nl",
		LeadSource:   "Emma Chatbot",
		LeadSegment:  model.SegmentHot,
		BudgetRange:  str("€1M - €2M"),
		PropertyType: []string{"villa", "penthouse"},
		Timeframe:    str("within_6_months"),
	}

	tests := []struct {
		name string
		lead model.Lead
		rule model.RoutingRule
		want bool
	}{
		{"empty rule matches anything", lead, model.RoutingRule{}, true},
		{"language match", lead, model.RoutingRule{MatchLanguage: []string{"de", "nl"}}, true},
		{"language mismatch", lead, model.RoutingRule{MatchLanguage: []string{"de"}}, false},
		{"page type ignored without lead page type", lead, model.RoutingRule{MatchPageType: []string{"qa"}}, true},
		{"page type mismatch", withPageType(lead, "blog"), model.RoutingRule{MatchPageType: []string{"qa"}}, false},
		{"source mismatch", lead, model.RoutingRule{MatchLeadSource: []string{"Website"}}, false},
		{"segment match", lead, model.RoutingRule{MatchLeadSegment: []string{"Hot"}}, true},
		{"budget substring", lead, model.RoutingRule{MatchBudgetRange: []string{"€1M"}}, true},
		{"budget required", model.Lead{Language: "nl"}, model.RoutingRule{MatchBudgetRange: []string{"€1M"}}, false},
		{"property type intersects", lead, model.RoutingRule{MatchPropertyType: []string{"apartment", "villa"}}, true},
		{"property type disjoint", lead, model.RoutingRule{MatchPropertyType: []string{"apartment"}}, false},
		{"timeframe match", lead, model.RoutingRule{MatchTimeframe: []string{"within_6_months"}}, true},
		{"timeframe required", model.Lead{}, model.RoutingRule{MatchTimeframe: []string{"within_6_months"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RuleMatches(tt.lead, tt.rule))
		})
	}
}

func withPageType(l model.Lead, pt string) model.Lead {
	l.PageType = &pt
	return l
}

func dutchPayload() LeadPayload {
	return LeadPayload{
		FirstName:   " Jan ",
		LastName:    "Smit",
		Phone:       "612345678",
		Language:    "NL",
		BudgetRange: str("€1M - €2M"),
	}
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Register(context.Background(), LeadPayload{FirstName: "Jan", LastName: "Smit"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Empty(t, h.store.leads)
}

func TestRegisterAssignsViaRule(t *testing.T) {
	h := newHarness(t)
	h.addAgent(availableAgent("agent-1", "eva@example.com", "nl"))
	h.store.rules = []model.RoutingRule{
		{ID: "rule-de", RuleName: "German desk", MatchLanguage: []string{"de"}, AssignToAgentID: "agent-9"},
		{ID: "rule-nl", RuleName: "Dutch VIP", MatchLanguage: []string{"nl"}, AssignToAgentID: "agent-1"},
	}

	res, err := h.svc.Register(context.Background(), dutchPayload())
	require.NoError(t, err)

	assert.Equal(t, "rule_based", res.AssignmentMethod)
	assert.Equal(t, "Dutch VIP", res.RuleName)
	assert.Equal(t, "agent-1", res.AssignedTo)
	assert.Nil(t, res.BroadcastTo)

	lead := h.store.leads[res.LeadID]
	require.NotNil(t, lead)
	assert.Equal(t, "nl", lead.Language)
	assert.Equal(t, "Jan", lead.FirstName)
	assert.Equal(t, "Website", lead.LeadSource)
	require.NotNil(t, lead.ClaimWindowExpiresAt)
	assert.True(t, lead.ClaimWindowExpiresAt.Equal(testNow.Add(15*time.Minute)))

	assert.Equal(t, []string{"rule-nl"}, h.store.ruleMatches)
	patches := h.store.patchesFor(res.LeadID)
	require.Len(t, patches, 1)
	assert.Equal(t, "agent-1", patches[0]["assigned_agent_id"])
	assert.Equal(t, "Rule: Dutch VIP", patches[0]["claimed_by"])
	assert.Nil(t, patches[0]["claim_window_expires_at"])

	assert.Equal(t, 1, h.store.countDeltas["agent-1"])
	require.Len(t, h.store.notifications, 1)
	assert.Equal(t, "rule_assigned", h.store.notifications[0].NotificationType)
	assert.Equal(t, []string{"🇳🇱 New NL Lead: Jan Smit"}, h.mailer.subjects())
	require.Len(t, h.store.activities, 1)
	assert.Equal(t, "note", h.store.activities[0]["activity_type"])
	assert.Equal(t, []string{model.LeadCreated, model.LeadAssigned}, h.publisher.types())
}

func TestRegisterBroadcastsWhenRuleAgentUnavailable(t *testing.T) {
	h := newHarness(t)
	full := availableAgent("agent-1", "full@example.com", "nl")
	full.CurrentLeadCount = full.MaxActiveLeads
	h.addAgent(full)
	h.addAgent(availableAgent("agent-2", "a2@example.com", "nl", "en"))
	h.addAgent(availableAgent("agent-3", "a3@example.com", "nl"))
	h.addAgent(availableAgent("agent-4", "a4@example.com", "de"))
	paused := availableAgent("agent-5", "a5@example.com", "nl")
	paused.AcceptsNewLeads = false
	h.addAgent(paused)
	h.store.rules = []model.RoutingRule{
		{ID: "rule-nl", RuleName: "Dutch VIP", MatchLanguage: []string{"nl"}, AssignToAgentID: "agent-1"},
	}

	res, err := h.svc.Register(context.Background(), dutchPayload())
	require.NoError(t, err)

	assert.Equal(t, "broadcast", res.AssignmentMethod)
	require.NotNil(t, res.BroadcastTo)
	assert.Equal(t, 2, *res.BroadcastTo)

	require.Len(t, h.store.notifications, 2)
	for _, n := range h.store.notifications {
		assert.Equal(t, "new_lead_available", n.NotificationType)
		assert.Equal(t, "/crm/agent/leads/"+res.LeadID+"/claim", n.ActionURL)
		assert.Contains(t, []string{"agent-2", "agent-3"}, n.AgentID)
	}
	require.Len(t, h.mailer.sent, 2)
	assert.Contains(t, h.mailer.sent[0].HTML, "You have 15 minutes to claim this lead")
	assert.Contains(t, h.mailer.sent[0].HTML, "https://crm.test/crm/agent/leads/"+res.LeadID+"/claim")
	assert.Empty(t, h.store.countDeltas)
	assert.Equal(t, []string{model.LeadCreated, model.LeadBroadcast}, h.publisher.types())
}

func TestRegisterWithoutAgentsAlertsChat(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Register(context.Background(), dutchPayload())
	require.NoError(t, err)

	require.NotNil(t, res.BroadcastTo)
	assert.Equal(t, 0, *res.BroadcastTo)
	assert.Empty(t, h.mailer.sent)
	require.Len(t, h.alerter.posts, 1)
	assert.Contains(t, h.alerter.posts[0], "Jan Smit")
	assert.Contains(t, h.alerter.posts[0], "needs admin assignment")
}
