package model

import (
	"encoding/json"
	"time"
)

// Segment is the lead temperature derived from the score
type Segment string

const (
	SegmentHot  Segment = "Hot"
	SegmentWarm Segment = "Warm"
	SegmentCool Segment = "Cool"
	SegmentCold Segment = "Cold"
)

// Priority is the lead handling priority
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Lead is a row in crm_leads
type Lead struct {
	ID                   string          `json:"id,omitempty"`
	FirstName            string          `json:"first_name"`
	LastName             string          `json:"last_name"`
	PhoneNumber          string          `json:"phone_number"`
	CountryPrefix        string          `json:"country_prefix"`
	FullPhone            string          `json:"full_phone,omitempty"`
	Email                *string         `json:"email"`
	Language             string          `json:"language"`
	LeadSource           string          `json:"lead_source"`
	LeadSourceDetail     *string         `json:"lead_source_detail"`
	PageURL              *string         `json:"page_url"`
	PageType             *string         `json:"page_type"`
	PageSlug             *string         `json:"page_slug"`
	Referrer             *string         `json:"referrer"`
	QuestionsAnswered    int             `json:"questions_answered"`
	QAPairs              json.RawMessage `json:"qa_pairs,omitempty"`
	IntakeComplete       bool            `json:"intake_complete"`
	ExitPoint            *string         `json:"exit_point"`
	ConversationDuration *string         `json:"conversation_duration"`
	PropertyRef          *string         `json:"property_ref"`
	Message              *string         `json:"message"`
	LocationPreference   []string        `json:"location_preference"`
	SeaViewImportance    *string         `json:"sea_view_importance"`
	BudgetRange          *string         `json:"budget_range"`
	BedroomsDesired      *string         `json:"bedrooms_desired"`
	PropertyType         []string        `json:"property_type"`
	PropertyPurpose      *string         `json:"property_purpose"`
	Timeframe            *string         `json:"timeframe"`

	LeadSegment       Segment  `json:"lead_segment"`
	InitialLeadScore  int      `json:"initial_lead_score"`
	CurrentLeadScore  int      `json:"current_lead_score"`
	LeadPriority      Priority `json:"lead_priority"`
	LeadStatus        string   `json:"lead_status"`
	Archived          bool     `json:"archived"`
	ReassignmentCount int      `json:"reassignment_count"`

	AssignedAgentID      *string    `json:"assigned_agent_id"`
	AssignedAt           *time.Time `json:"assigned_at"`
	AssignmentMethod     *string    `json:"assignment_method"`
	RoutingRuleID        *string    `json:"routing_rule_id"`
	LeadClaimed          bool       `json:"lead_claimed"`
	ClaimedBy            *string    `json:"claimed_by"`
	ClaimWindowExpiresAt *time.Time `json:"claim_window_expires_at"`
	ClaimTimerExpiresAt  *time.Time `json:"claim_timer_expires_at"`
	ClaimSLABreached     bool       `json:"claim_sla_breached"`
	ContactTimerExpires  *time.Time `json:"contact_timer_expires_at"`
	ContactSLABreached   bool       `json:"contact_sla_breached"`
	FirstContactAt       *time.Time `json:"first_contact_at"`
	FirstActionCompleted bool       `json:"first_action_completed"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// FullName returns "First Last"
func (l Lead) FullName() string {
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}

// Agent is a row in crm_agents
type Agent struct {
	ID               string   `json:"id"`
	FirstName        string   `json:"first_name"`
	LastName         string   `json:"last_name"`
	Email            string   `json:"email"`
	Phone            string   `json:"phone,omitempty"`
	Languages        []string `json:"languages"`
	Role             string   `json:"role,omitempty"`
	IsActive         bool     `json:"is_active"`
	AcceptsNewLeads  bool     `json:"accepts_new_leads"`
	CurrentLeadCount int      `json:"current_lead_count"`
	MaxActiveLeads   int      `json:"max_active_leads"`
}

// HasCapacity reports whether the agent can take another lead
func (a Agent) HasCapacity() bool {
	return a.CurrentLeadCount < a.MaxActiveLeads
}

// Available reports whether the agent may receive new leads right now
func (a Agent) Available() bool {
	return a.IsActive && a.AcceptsNewLeads && a.HasCapacity()
}

// Speaks reports whether the agent covers the given language
func (a Agent) Speaks(lang string) bool {
	for _, l := range a.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// RoutingRule is a row in crm_routing_rules.
// A nil or empty match list means "any".
type RoutingRule struct {
	ID                  string     `json:"id"`
	RuleName            string     `json:"rule_name"`
	Priority            int        `json:"priority"`
	IsActive            bool       `json:"is_active"`
	MatchLanguage       []string   `json:"match_language"`
	MatchPageType       []string   `json:"match_page_type"`
	MatchPageSlug       []string   `json:"match_page_slug"`
	MatchLeadSource     []string   `json:"match_lead_source"`
	MatchLeadSegment    []string   `json:"match_lead_segment"`
	MatchBudgetRange    []string   `json:"match_budget_range"`
	MatchPropertyType   []string   `json:"match_property_type"`
	MatchTimeframe      []string   `json:"match_timeframe"`
	AssignToAgentID     string     `json:"assign_to_agent_id"`
	FallbackToBroadcast bool       `json:"fallback_to_broadcast"`
	TotalMatches        int        `json:"total_matches"`
	LastMatchedAt       *time.Time `json:"last_matched_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// RoundRobinConfig is a row in crm_round_robin_config
type RoundRobinConfig struct {
	ID              string  `json:"id"`
	Language        string  `json:"language"`
	RoundNumber     int     `json:"round_number"`
	IsActive        bool    `json:"is_active"`
	FallbackAdminID *string `json:"fallback_admin_id"`
}

// Notification is a row in crm_notifications
type Notification struct {
	ID               string `json:"id,omitempty"`
	AgentID          string `json:"agent_id"`
	LeadID           string `json:"lead_id,omitempty"`
	NotificationType string `json:"notification_type"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	ActionURL        string `json:"action_url,omitempty"`
	Read             bool   `json:"read"`
}

// Activity is a row in crm_activities
type Activity struct {
	ID                     string          `json:"id,omitempty"`
	LeadID                 *string         `json:"lead_id"`
	AgentID                string          `json:"agent_id"`
	ActivityType           string          `json:"activity_type"`
	Outcome                string          `json:"outcome,omitempty"`
	Notes                  string          `json:"notes"`
	CallDuration           int             `json:"call_duration,omitempty"`
	CallDirection          *string         `json:"call_direction,omitempty"`
	CallAnswered           *bool           `json:"call_answered,omitempty"`
	SalestrailCallID       string          `json:"salestrail_call_id,omitempty"`
	SalestrailRecordingURL *string         `json:"salestrail_recording_url,omitempty"`
	SalestrailMetadata     json.RawMessage `json:"salestrail_metadata,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
}

// Reminder is a row in crm_reminders
type Reminder struct {
	ID                 string     `json:"id"`
	AgentID            string     `json:"agent_id"`
	LeadID             *string    `json:"lead_id"`
	Title              string     `json:"title"`
	Description        *string    `json:"description"`
	ReminderType       string     `json:"reminder_type"`
	ReminderDatetime   time.Time  `json:"reminder_datetime"`
	SendEmail          bool       `json:"send_email"`
	EmailSent          bool       `json:"email_sent"`
	Email10MinSent     bool       `json:"email_10min_sent"`
	IsCompleted        bool       `json:"is_completed"`
	NotificationSentAt *time.Time `json:"notification_sent_at,omitempty"`
}

// Note is a row in crm_lead_notes
type Note struct {
	ID        string    `json:"id,omitempty"`
	LeadID    string    `json:"lead_id"`
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"note_text"`
	NoteType  string    `json:"note_type"`
	IsPinned  bool      `json:"is_pinned"`
	CreatedAt time.Time `json:"created_at"`
}

// Reassignment is a row in crm_lead_reassignments
type Reassignment struct {
	LeadID         string    `json:"lead_id"`
	FromAgentID    *string   `json:"from_agent_id"`
	ToAgentID      string    `json:"to_agent_id"`
	Reason         string    `json:"reason"`
	Stage          string    `json:"stage"`
	Notes          *string   `json:"notes"`
	ReassignedByID string    `json:"reassigned_by_id"`
	CreatedAt      time.Time `json:"created_at"`
}
