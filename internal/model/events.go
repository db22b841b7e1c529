package model

import "time"

// Lead event types published on the change feed
const (
	LeadCreated       = "lead_created"
	LeadAssigned      = "lead_assigned"
	LeadBroadcast     = "lead_broadcast"
	LeadReassigned    = "lead_reassigned"
	LeadClaimBreach   = "claim_sla_breach"
	LeadContactBreach = "contact_sla_breach"
	LeadCallLogged    = "call_logged"
	LeadNoteAdded     = "note_added"
)

// LeadEvent is a change to a lead, fanned out to connected dashboards
type LeadEvent struct {
	Type    string    `json:"type"`
	LeadID  string    `json:"lead_id"`
	AgentID string    `json:"agent_id,omitempty"`
	Segment Segment   `json:"segment,omitempty"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

// BulkEvent reports bulk operation progress
type BulkEvent struct {
	Type  string         `json:"type"` // "started", "progress", "paused", "resumed", "cancelled", "completed"
	State OperationState `json:"state"`
	At    time.Time      `json:"at"`
}
