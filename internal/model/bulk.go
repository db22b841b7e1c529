package model

import "time"

// OperationType names an administrative bulk operation
type OperationType string

const (
	OpFixImages              OperationType = "fix_images"
	OpFixCitations           OperationType = "fix_citations"
	OpRegenerateAllImages    OperationType = "regenerate_all_images"
	OpRefreshAllCitations    OperationType = "refresh_all_citations"
	OpRegenerateClusterLinks OperationType = "regenerate_cluster_links"
	OpGenerateClusters       OperationType = "generate_clusters"
)

// OperationTypes lists every known bulk operation
var OperationTypes = []OperationType{
	OpFixImages,
	OpFixCitations,
	OpRegenerateAllImages,
	OpRefreshAllCitations,
	OpRegenerateClusterLinks,
	OpGenerateClusters,
}

// Valid reports whether t is a known operation type
func (t OperationType) Valid() bool {
	for _, known := range OperationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// OperationState is the observable state of a bulk operation
type OperationState struct {
	ID        string        `json:"id"`
	Type      OperationType `json:"type"`
	IsRunning bool          `json:"isRunning"`
	IsPaused  bool          `json:"isPaused"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Progress  int           `json:"progress"` // Percent, 0-100
	Errors    []ItemError   `json:"errors"`
	StartedAt time.Time     `json:"startedAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Checkpoint is the resume bookkeeping for an operation.
// Items [0, NextIndex) are done.
type Checkpoint struct {
	OperationID   string        `json:"operation_id"`
	OperationType OperationType `json:"operation_type"`
	ItemIDs       []string      `json:"item_ids"`
	NextIndex     int           `json:"next_index"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Errors        []ItemError   `json:"errors"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// BulkResult is the outcome of a bulk run
type BulkResult struct {
	OperationID string      `json:"operationId"`
	Success     int         `json:"success"`
	Failed      int         `json:"failed"`
	Skipped     int         `json:"skipped,omitempty"` // Done before the resumed checkpoint
	Errors      []ItemError `json:"errors"`
}
