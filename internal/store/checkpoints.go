package store

import (
	"context"
	"time"

	postgrest "github.com/supabase-community/postgrest-go"

	"github.com/delsolprime/backoffice/internal/model"
)

const tableCheckpoints = "bulk_operation_checkpoints"

// SaveCheckpoint upserts the checkpoint row of an operation
func (c *Client) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	errs := cp.Errors
	if errs == nil {
		errs = []model.ItemError{}
	}
	row := Row{
		"operation_id":   cp.OperationID,
		"operation_type": string(cp.OperationType),
		"item_ids":       cp.ItemIDs,
		"next_index":     cp.NextIndex,
		"succeeded":      cp.Succeeded,
		"failed":         cp.Failed,
		"errors":         errs,
		"updated_at":     timestamp(cp.UpdatedAt),
	}
	return execute(ctx, "upsert", tableCheckpoints,
		c.from(tableCheckpoints).Insert(row, true, "operation_id", "minimal", ""))
}

// LatestCheckpoint returns the most recent checkpoint for an operation type
func (c *Client) LatestCheckpoint(ctx context.Context, opType model.OperationType) (*model.Checkpoint, error) {
	return selectOne[model.Checkpoint](ctx, tableCheckpoints, c.from(tableCheckpoints).
		Select("*", "", false).
		Eq("operation_type", string(opType)).
		Order("updated_at", &postgrest.OrderOpts{Ascending: false}))
}

// DeleteCheckpoint removes an operation's checkpoint
func (c *Client) DeleteCheckpoint(ctx context.Context, operationID string) error {
	return execute(ctx, "delete", tableCheckpoints,
		c.from(tableCheckpoints).Delete("minimal", "").Eq("operation_id", operationID))
}
