// Package bulk runs administrative bulk operations one at a time, with
// pause, resume, cancel and resume-from-checkpoint.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/delsolprime/backoffice/internal/logging"
	"github.com/delsolprime/backoffice/internal/model"
	"github.com/delsolprime/backoffice/internal/worker"
)

var (
	// ErrAlreadyRunning is returned when an operation is started while another runs
	ErrAlreadyRunning = errors.New("a bulk operation is already running")

	// ErrNotRunning is returned by pause, resume and cancel when idle
	ErrNotRunning = errors.New("no bulk operation is running")

	// ErrUnknownOperation is returned for an unregistered operation type
	ErrUnknownOperation = errors.New("unknown bulk operation")
)

// Bulk event types
const (
	EventStarted   = "started"
	EventProgress  = "progress"
	EventPaused    = "paused"
	EventResumed   = "resumed"
	EventCancelled = "cancelled"
	EventCompleted = "completed"
)

// Operation is a registered bulk operation
type Operation struct {
	// Items lists the ids to process. ids, when non-empty, narrows the selection.
	Items func(ctx context.Context, ids []string) ([]string, error)

	// Process handles one item
	Process worker.ItemFunc
}

// Publisher receives progress events
type Publisher interface {
	PublishBulk(ctx context.Context, event model.BulkEvent) error
}

// RunOptions selects what a run processes
type RunOptions struct {
	IDs    []string `json:"ids,omitempty"`
	Resume bool     `json:"resume,omitempty"`
}

// Manager tracks the single active bulk operation
type Manager struct {
	ops         map[model.OperationType]Operation
	checkpoints CheckpointStore
	limiter     *worker.Limiter
	concurrency int
	publisher   Publisher
	logger      *zap.Logger
	now         func() time.Time

	mu     sync.Mutex
	state  model.OperationState
	cancel context.CancelFunc
	gate   gate
	done   chan struct{}
}

// Option customizes a Manager
type Option func(*Manager)

// WithPublisher sends progress events to p
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithLimiter paces items through limiter lanes named "bulk:<type>"
func WithLimiter(l *worker.Limiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// WithConcurrency sets how many items run at once
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a manager persisting checkpoints to checkpoints
func NewManager(checkpoints CheckpointStore, logger *zap.Logger, options ...Option) *Manager {
	m := &Manager{
		ops:         map[model.OperationType]Operation{},
		checkpoints: checkpoints,
		concurrency: 1,
		logger:      logging.OrNop(logger),
		now:         time.Now,
	}
	for _, o := range options {
		o(m)
	}
	return m
}

// Register adds or replaces an operation
func (m *Manager) Register(t model.OperationType, op Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[t] = op
}

// Registered reports whether t can be started
func (m *Manager) Registered(t model.OperationType) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ops[t]
	return ok
}

// run is one prepared execution
type run struct {
	ctx       context.Context
	op        Operation
	cp        model.Checkpoint
	skipped   int
	done      []bool
	succeeded int
	failed    int
}

// Start launches t in the background and returns its initial state. The
// run outlives ctx; use Cancel to stop it.
func (m *Manager) Start(ctx context.Context, t model.OperationType, opts RunOptions) (*model.OperationState, error) {
	r, err := m.prepare(ctx, context.WithoutCancel(ctx), t, opts)
	if err != nil {
		return nil, err
	}
	go m.execute(r)
	state := m.Status()
	return &state, nil
}

// Run executes t and blocks until it finishes or ctx ends
func (m *Manager) Run(ctx context.Context, t model.OperationType, opts RunOptions) (*model.BulkResult, error) {
	r, err := m.prepare(ctx, ctx, t, opts)
	if err != nil {
		return nil, err
	}
	return m.execute(r), nil
}

// Wait blocks until the active run, if any, finishes
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (m *Manager) prepare(ctx, base context.Context, t model.OperationType, opts RunOptions) (*run, error) {
	m.mu.Lock()
	op, ok := m.ops[t]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, t)
	}
	if m.state.IsRunning {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	now := m.now().UTC()
	m.state = model.OperationState{ID: uuid.NewString(), Type: t, IsRunning: true, Errors: []model.ItemError{}, StartedAt: now, UpdatedAt: now}
	m.done = make(chan struct{})
	m.gate.resume()
	m.mu.Unlock()

	r, err := m.load(ctx, op, t, opts)
	if err != nil {
		m.mu.Lock()
		m.state.IsRunning = false
		close(m.done)
		m.mu.Unlock()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(base)
	r.ctx = runCtx

	m.mu.Lock()
	m.cancel = cancel
	r.cp.OperationID = m.state.ID
	m.state.Total = len(r.cp.ItemIDs)
	m.state.Processed = r.skipped
	m.state.Failed = r.failed
	m.state.Errors = append(m.state.Errors, r.cp.Errors...)
	m.state.Progress = percent(r.skipped, len(r.cp.ItemIDs))
	m.mu.Unlock()
	return r, nil
}

// load picks the items for a run, continuing the stored checkpoint when
// opts.Resume is set and one exists
func (m *Manager) load(ctx context.Context, op Operation, t model.OperationType, opts RunOptions) (*run, error) {
	if opts.Resume && m.checkpoints != nil {
		cp, err := m.checkpoints.Load(ctx, t)
		if err != nil {
			return nil, err
		}
		if cp != nil && cp.NextIndex < len(cp.ItemIDs) {
			r := &run{op: op, cp: *cp, skipped: cp.NextIndex, succeeded: cp.Succeeded, failed: cp.Failed}
			r.done = make([]bool, len(cp.ItemIDs))
			for i := range cp.NextIndex {
				r.done[i] = true
			}
			m.logger.Info("resuming bulk operation from checkpoint",
				zap.String("type", string(t)),
				zap.Int("next_index", cp.NextIndex),
				zap.Int("total", len(cp.ItemIDs)))
			return r, nil
		}
	}

	ids, err := op.Items(ctx, opts.IDs)
	if err != nil {
		return nil, fmt.Errorf("list %s items: %w", t, err)
	}
	return &run{
		op:   op,
		cp:   model.Checkpoint{OperationType: t, ItemIDs: ids},
		done: make([]bool, len(ids)),
	}, nil
}

func (m *Manager) execute(r *run) *model.BulkResult {
	t := r.cp.OperationType
	m.emit(EventStarted)
	m.logger.Info("bulk operation started",
		zap.String("type", string(t)),
		zap.Int("total", len(r.cp.ItemIDs)),
		zap.Int("skipped", r.skipped))

	remaining := r.cp.ItemIDs[r.skipped:]
	processor := worker.NewBatchProcessor(m.concurrency, m.limiter, "bulk:"+string(t))
	processor.OnItem(func(item worker.ItemResult) {
		m.record(r, item)
	})
	processor.Run(r.ctx, remaining, func(ctx context.Context, id string) error {
		if err := m.gate.wait(ctx); err != nil {
			return err
		}
		return r.op.Process(ctx, id)
	})

	cancelled := r.ctx.Err() != nil
	cleanupCtx := context.WithoutCancel(r.ctx)
	if !cancelled && m.checkpoints != nil {
		if err := m.checkpoints.Delete(cleanupCtx, t); err != nil {
			m.logger.Warn("clear checkpoint failed", zap.String("type", string(t)), zap.Error(err))
		}
	}

	m.mu.Lock()
	m.state.IsRunning = false
	m.state.IsPaused = false
	m.state.UpdatedAt = m.now().UTC()
	m.cancel()
	m.gate.resume()
	result := &model.BulkResult{
		OperationID: m.state.ID,
		Success:     r.succeeded,
		Failed:      r.failed,
		Skipped:     r.skipped,
		Errors:      append([]model.ItemError{}, r.cp.Errors...),
	}
	done := m.done
	m.mu.Unlock()

	if cancelled {
		m.emit(EventCancelled)
	} else {
		m.emit(EventCompleted)
	}
	m.logger.Info("bulk operation finished",
		zap.String("type", string(t)),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed),
		zap.Bool("cancelled", cancelled))
	close(done)
	return result
}

// record folds one finished item into the run, advances the contiguous
// checkpoint prefix and saves it
func (m *Manager) record(r *run, item worker.ItemResult) {
	// Items interrupted by Cancel stay pending for a later resume.
	if item.Err != nil && r.ctx.Err() != nil && errors.Is(item.Err, r.ctx.Err()) {
		return
	}
	index := r.skipped + item.Index
	r.done[index] = true
	if item.Err != nil {
		r.failed++
		r.cp.Errors = append(r.cp.Errors, model.ItemError{Index: index, ID: item.ID, Error: item.Err.Error()})
		m.logger.Warn("bulk item failed", zap.String("id", item.ID), zap.Int("index", index), zap.Error(item.Err))
	} else {
		r.succeeded++
	}
	for r.cp.NextIndex < len(r.done) && r.done[r.cp.NextIndex] {
		r.cp.NextIndex++
	}
	r.cp.Succeeded = r.succeeded
	r.cp.Failed = r.failed
	r.cp.UpdatedAt = m.now().UTC()

	if m.checkpoints != nil {
		if err := m.checkpoints.Save(context.WithoutCancel(r.ctx), r.cp); err != nil {
			m.logger.Warn("save checkpoint failed", zap.String("operation_id", r.cp.OperationID), zap.Error(err))
		}
	}

	m.mu.Lock()
	m.state.Processed = countTrue(r.done)
	m.state.Failed = r.failed
	if item.Err != nil {
		m.state.Errors = append(m.state.Errors, r.cp.Errors[len(r.cp.Errors)-1])
	}
	m.state.Progress = percent(m.state.Processed, m.state.Total)
	m.state.UpdatedAt = r.cp.UpdatedAt
	m.mu.Unlock()

	m.emit(EventProgress)
}

// Pause holds items that have not started yet
func (m *Manager) Pause() (*model.OperationState, error) {
	m.mu.Lock()
	if !m.state.IsRunning {
		m.mu.Unlock()
		return nil, ErrNotRunning
	}
	m.gate.pause()
	m.state.IsPaused = true
	m.mu.Unlock()
	return m.emit(EventPaused), nil
}

// Resume releases a paused operation
func (m *Manager) Resume() (*model.OperationState, error) {
	m.mu.Lock()
	if !m.state.IsRunning {
		m.mu.Unlock()
		return nil, ErrNotRunning
	}
	m.gate.resume()
	m.state.IsPaused = false
	m.mu.Unlock()
	return m.emit(EventResumed), nil
}

// Cancel stops the active operation. Its checkpoint is kept for a later resume.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsRunning || m.cancel == nil {
		return ErrNotRunning
	}
	m.cancel()
	return nil
}

// Status returns a snapshot of the current or last operation
func (m *Manager) Status() model.OperationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

// PendingCheckpoint returns the resumable checkpoint for t, if any
func (m *Manager) PendingCheckpoint(ctx context.Context, t model.OperationType) (*model.Checkpoint, error) {
	if m.checkpoints == nil {
		return nil, nil
	}
	return m.checkpoints.Load(ctx, t)
}

func (m *Manager) snapshot() model.OperationState {
	s := m.state
	s.Errors = append([]model.ItemError{}, m.state.Errors...)
	return s
}

func (m *Manager) emit(eventType string) *model.OperationState {
	m.mu.Lock()
	state := m.snapshot()
	m.mu.Unlock()

	if m.publisher != nil {
		event := model.BulkEvent{Type: eventType, State: state, At: m.now().UTC()}
		if err := m.publisher.PublishBulk(context.Background(), event); err != nil {
			m.logger.Debug("publish bulk event failed", zap.String("type", eventType), zap.Error(err))
		}
	}
	return &state
}

func percent(n, total int) int {
	if total == 0 {
		return 100
	}
	return n * 100 / total
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

// gate blocks workers while paused
type gate struct {
	mu sync.Mutex
	ch chan struct{}
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch == nil {
		g.ch = make(chan struct{})
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ch != nil {
		close(g.ch)
		g.ch = nil
	}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}
