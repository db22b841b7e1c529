package store

import (
	"context"
	"fmt"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"

	"github.com/delsolprime/backoffice/internal/model"
)

const (
	tableLeads           = "crm_leads"
	tableAgents          = "crm_agents"
	tableRoutingRules    = "crm_routing_rules"
	tableRoundRobin      = "crm_round_robin_config"
	tableNotifications   = "crm_notifications"
	tableActivities      = "crm_activities"
	tableReminders       = "crm_reminders"
	tableNotes           = "crm_lead_notes"
	tableReassignments   = "crm_lead_reassignments"
	leadSelectAllColumns = "*"
)

// LeadFilter narrows lead listings. Zero values mean "any".
type LeadFilter struct {
	Language        string
	Segment         string
	Status          string
	AssignedAgentID string
	IncludeArchived bool
	CreatedFrom     time.Time
	CreatedTo       time.Time
	Limit           int
}

// InsertLead creates a lead and returns the stored row
func (c *Client) InsertLead(ctx context.Context, row Row) (*model.Lead, error) {
	rows, err := selectRows[model.Lead](ctx, tableLeads,
		c.from(tableLeads).Insert(row, false, "", "representation", ""))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: empty representation", tableLeads)
	}
	return &rows[0], nil
}

// GetLead loads one lead by id
func (c *Client) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	return selectOne[model.Lead](ctx, tableLeads,
		c.from(tableLeads).Select(leadSelectAllColumns, "", false).Eq("id", id))
}

// UpdateLead patches a lead
func (c *Client) UpdateLead(ctx context.Context, id string, patch Row) error {
	return execute(ctx, "update", tableLeads,
		c.from(tableLeads).Update(patch, "minimal", "").Eq("id", id))
}

// ListLeads returns leads newest first
func (c *Client) ListLeads(ctx context.Context, f LeadFilter) ([]model.Lead, error) {
	fb := c.from(tableLeads).Select(leadSelectAllColumns, "", false)
	if f.Language != "" {
		fb = fb.Eq("language", f.Language)
	}
	if f.Segment != "" {
		fb = fb.Eq("lead_segment", f.Segment)
	}
	if f.Status != "" {
		fb = fb.Eq("lead_status", f.Status)
	}
	if f.AssignedAgentID != "" {
		fb = fb.Eq("assigned_agent_id", f.AssignedAgentID)
	}
	if !f.IncludeArchived {
		fb = fb.Eq("archived", "false")
	}
	// both bounds hit the same column, so they go through one and=() filter
	switch {
	case !f.CreatedFrom.IsZero() && !f.CreatedTo.IsZero():
		fb = fb.And(fmt.Sprintf("created_at.gte.%s,created_at.lte.%s", timestamp(f.CreatedFrom), timestamp(f.CreatedTo)), "")
	case !f.CreatedFrom.IsZero():
		fb = fb.Gte("created_at", timestamp(f.CreatedFrom))
	case !f.CreatedTo.IsZero():
		fb = fb.Lte("created_at", timestamp(f.CreatedTo))
	}
	fb = fb.Order("created_at", &postgrest.OrderOpts{Ascending: false})
	if f.Limit > 0 {
		fb = fb.Limit(f.Limit, "")
	}
	return selectRows[model.Lead](ctx, tableLeads, fb)
}

// ExpiredClaimWindows lists unclaimed leads whose claim timer ran out
func (c *Client) ExpiredClaimWindows(ctx context.Context, now time.Time) ([]model.Lead, error) {
	return selectRows[model.Lead](ctx, tableLeads, c.from(tableLeads).
		Select(leadSelectAllColumns, "", false).
		Lt("claim_timer_expires_at", timestamp(now)).
		Eq("lead_claimed", "false").
		Eq("claim_sla_breached", "false").
		Eq("archived", "false"))
}

// ExpiredContactWindows lists claimed leads with no first action past the contact timer
func (c *Client) ExpiredContactWindows(ctx context.Context, now time.Time) ([]model.Lead, error) {
	return selectRows[model.Lead](ctx, tableLeads, c.from(tableLeads).
		Select(leadSelectAllColumns, "", false).
		Lt("contact_timer_expires_at", timestamp(now)).
		Eq("lead_claimed", "true").
		Eq("first_action_completed", "false").
		Eq("contact_sla_breached", "false").
		Eq("archived", "false"))
}

// FindAgentLeadByPhone matches the newest lead of an agent by phone digits.
// Without digits there is nothing to match and ErrNotFound is returned.
func (c *Client) FindAgentLeadByPhone(ctx context.Context, agentID, last9, normalized string) (*model.Lead, error) {
	if last9 == "" {
		return nil, ErrNotFound
	}
	return selectOne[model.Lead](ctx, tableLeads, c.from(tableLeads).
		Select(leadSelectAllColumns, "", false).
		Eq("assigned_agent_id", agentID).
		Or(fmt.Sprintf("phone_number.ilike.*%s*,full_phone.ilike.*%s*", last9, normalized), "").
		Order("created_at", &postgrest.OrderOpts{Ascending: false}))
}

// ActiveRoutingRules returns active rules by priority desc, then age
func (c *Client) ActiveRoutingRules(ctx context.Context) ([]model.RoutingRule, error) {
	return selectRows[model.RoutingRule](ctx, tableRoutingRules, c.from(tableRoutingRules).
		Select("*", "", false).
		Eq("is_active", "true").
		Order("priority", &postgrest.OrderOpts{Ascending: false}).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}))
}

// RecordRuleMatch bumps a rule's match statistics
func (c *Client) RecordRuleMatch(ctx context.Context, rule model.RoutingRule, at time.Time) error {
	return execute(ctx, "update", tableRoutingRules, c.from(tableRoutingRules).
		Update(Row{
			"last_matched_at": timestamp(at),
			"total_matches":   rule.TotalMatches + 1,
		}, "minimal", "").
		Eq("id", rule.ID))
}

// GetAgent loads one agent by id
func (c *Client) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	return selectOne[model.Agent](ctx, tableAgents,
		c.from(tableAgents).Select("*", "", false).Eq("id", id))
}

// AgentsForLanguage lists active agents accepting leads who cover lang
func (c *Client) AgentsForLanguage(ctx context.Context, lang string) ([]model.Agent, error) {
	return selectRows[model.Agent](ctx, tableAgents, c.from(tableAgents).
		Select("*", "", false).
		Contains("languages", []string{lang}).
		Eq("is_active", "true").
		Eq("accepts_new_leads", "true"))
}

// FindAgentByContact matches an agent by email and/or phone
func (c *Client) FindAgentByContact(ctx context.Context, email, phone string) (*model.Agent, error) {
	fb := c.from(tableAgents).Select("*", "", false)
	switch {
	case email != "" && phone != "":
		fb = fb.Or(fmt.Sprintf("email.eq.%s,phone.eq.%s", email, phone), "")
	case email != "":
		fb = fb.Eq("email", email)
	case phone != "":
		fb = fb.Eq("phone", phone)
	default:
		return nil, fmt.Errorf("%s: %w", tableAgents, ErrNotFound)
	}
	return selectOne[model.Agent](ctx, tableAgents, fb)
}

// AdjustAgentLeadCount adds delta to an agent's current_lead_count, floored at zero
func (c *Client) AdjustAgentLeadCount(ctx context.Context, agentID string, delta int) error {
	agent, err := c.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	count := agent.CurrentLeadCount + delta
	if count < 0 {
		count = 0
	}
	return execute(ctx, "update", tableAgents, c.from(tableAgents).
		Update(Row{"current_lead_count": count}, "minimal", "").
		Eq("id", agentID))
}

// FallbackAdminID returns the admin configured for the newest active
// round-robin round of lang
func (c *Client) FallbackAdminID(ctx context.Context, lang string) (string, error) {
	cfg, err := selectOne[model.RoundRobinConfig](ctx, tableRoundRobin, c.from(tableRoundRobin).
		Select("*", "", false).
		Eq("language", lang).
		Eq("is_active", "true").
		Order("round_number", &postgrest.OrderOpts{Ascending: false}))
	if err != nil {
		return "", err
	}
	if cfg.FallbackAdminID == nil || *cfg.FallbackAdminID == "" {
		return "", fmt.Errorf("%s fallback admin for %s: %w", tableRoundRobin, lang, ErrNotFound)
	}
	return *cfg.FallbackAdminID, nil
}

// InsertNotifications writes in-app notifications in one request
func (c *Client) InsertNotifications(ctx context.Context, notifications ...model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	return execute(ctx, "insert", tableNotifications,
		c.from(tableNotifications).Insert(notifications, false, "", "minimal", ""))
}

// MarkNotificationsRead marks an agent's notifications for a lead as read
func (c *Client) MarkNotificationsRead(ctx context.Context, leadID, agentID string, at time.Time) error {
	return execute(ctx, "update", tableNotifications, c.from(tableNotifications).
		Update(Row{"read": true, "read_at": timestamp(at)}, "minimal", "").
		Eq("lead_id", leadID).
		Eq("agent_id", agentID))
}

// InsertActivity logs an activity and returns the stored row. A duplicate
// salestrail_call_id yields ErrDuplicate.
func (c *Client) InsertActivity(ctx context.Context, row Row) (*model.Activity, error) {
	rows, err := selectRows[model.Activity](ctx, tableActivities,
		c.from(tableActivities).Insert(row, false, "", "representation", ""))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: empty representation", tableActivities)
	}
	return &rows[0], nil
}

// DueReminders lists email reminders inside [from, to] whose sentColumn is
// still false, soonest first
func (c *Client) DueReminders(ctx context.Context, sentColumn string, from, to time.Time) ([]model.Reminder, error) {
	return selectRows[model.Reminder](ctx, tableReminders, c.from(tableReminders).
		Select("*", "", false).
		Eq("send_email", "true").
		Eq(sentColumn, "false").
		Eq("is_completed", "false").
		And(fmt.Sprintf("reminder_datetime.gte.%s,reminder_datetime.lte.%s", timestamp(from), timestamp(to)), "").
		Order("reminder_datetime", &postgrest.OrderOpts{Ascending: true}))
}

// MarkReminderSent flags the reminder email column and stamps notification_sent_at
func (c *Client) MarkReminderSent(ctx context.Context, id, sentColumn string, at time.Time) error {
	return execute(ctx, "update", tableReminders, c.from(tableReminders).
		Update(Row{sentColumn: true, "notification_sent_at": timestamp(at)}, "minimal", "").
		Eq("id", id))
}

// InsertNote adds a note to a lead
func (c *Client) InsertNote(ctx context.Context, row Row) (*model.Note, error) {
	rows, err := selectRows[model.Note](ctx, tableNotes,
		c.from(tableNotes).Insert(row, false, "", "representation", ""))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert %s: empty representation", tableNotes)
	}
	return &rows[0], nil
}

// ListNotes returns a lead's notes, pinned first, newest first
func (c *Client) ListNotes(ctx context.Context, leadID string) ([]model.Note, error) {
	return selectRows[model.Note](ctx, tableNotes, c.from(tableNotes).
		Select("*", "", false).
		Eq("lead_id", leadID).
		Order("is_pinned", &postgrest.OrderOpts{Ascending: false}).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}))
}

// InsertReassignment records a lead reassignment
func (c *Client) InsertReassignment(ctx context.Context, row Row) error {
	return execute(ctx, "insert", tableReassignments,
		c.from(tableReassignments).Insert(row, false, "", "minimal", ""))
}
