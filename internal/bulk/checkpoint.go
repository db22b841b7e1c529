package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/store"
)

// CheckpointTTL bounds how long an abandoned checkpoint stays resumable
const CheckpointTTL = 7 * 24 * time.Hour

// CheckpointStore keeps one resumable checkpoint per operation type.
// Load returns nil, nil when there is none.
type CheckpointStore interface {
	Save(ctx context.Context, cp model.Checkpoint) error
	Load(ctx context.Context, opType model.OperationType) (*model.Checkpoint, error)
	Delete(ctx context.Context, opType model.OperationType) error
}

// RedisCheckpoints stores checkpoints as JSON strings under
// backoffice:{env}:bulk:checkpoint:{type}
type RedisCheckpoints struct {
	rdb redis.UniversalClient
	env string
}

// NewRedisCheckpoints creates a Redis checkpoint store namespaced by env
func NewRedisCheckpoints(rdb redis.UniversalClient, env string) *RedisCheckpoints {
	return &RedisCheckpoints{rdb: rdb, env: env}
}

func (r *RedisCheckpoints) key(opType model.OperationType) string {
	return fmt.Sprintf("backoffice:%s:bulk:checkpoint:%s", r.env, opType)
}

func (r *RedisCheckpoints) Save(ctx context.Context, cp model.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := r.rdb.Set(ctx, r.key(cp.OperationType), data, CheckpointTTL).Err(); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (r *RedisCheckpoints) Load(ctx context.Context, opType model.OperationType) (*model.Checkpoint, error) {
	data, err := r.rdb.Get(ctx, r.key(opType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

func (r *RedisCheckpoints) Delete(ctx context.Context, opType model.OperationType) error {
	if err := r.rdb.Del(ctx, r.key(opType)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// CheckpointTable is the bulk_operation_checkpoints access the table store needs
type CheckpointTable interface {
	SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error
	LatestCheckpoint(ctx context.Context, opType model.OperationType) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, operationID string) error
}

// TableCheckpoints stores checkpoints in the database. Used when Redis is
// not configured.
type TableCheckpoints struct {
	table CheckpointTable
}

// NewTableCheckpoints wraps the store's checkpoint table
func NewTableCheckpoints(table CheckpointTable) *TableCheckpoints {
	return &TableCheckpoints{table: table}
}

func (t *TableCheckpoints) Save(ctx context.Context, cp model.Checkpoint) error {
	return t.table.SaveCheckpoint(ctx, cp)
}

func (t *TableCheckpoints) Load(ctx context.Context, opType model.OperationType) (*model.Checkpoint, error) {
	cp, err := t.table.LatestCheckpoint(ctx, opType)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return cp, err
}

func (t *TableCheckpoints) Delete(ctx context.Context, opType model.OperationType) error {
	cp, err := t.Load(ctx, opType)
	if err != nil || cp == nil {
		return err
	}
	return t.table.DeleteCheckpoint(ctx, cp.OperationID)
}

// MemoryCheckpoints keeps checkpoints for the life of the process
type MemoryCheckpoints struct {
	mu  sync.Mutex
	cps map[model.OperationType]model.Checkpoint
}

// NewMemoryCheckpoints creates an empty in-process store
func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{cps: map[model.OperationType]model.Checkpoint{}}
}

func (m *MemoryCheckpoints) Save(_ context.Context, cp model.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp.ItemIDs = append([]string(nil), cp.ItemIDs...)
	cp.Errors = append([]model.ItemError(nil), cp.Errors...)
	m.cps[cp.OperationType] = cp
	return nil
}

func (m *MemoryCheckpoints) Load(_ context.Context, opType model.OperationType) (*model.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[opType]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *MemoryCheckpoints) Delete(_ context.Context, opType model.OperationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cps, opType)
	return nil
}
