package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/delsolprime/backoffice/internal/model"
)

// ItemFunc processes one item by id
type ItemFunc func(ctx context.Context, id string) error

// ItemResult is the outcome for one item of a batch
type ItemResult struct {
	Index int
	ID    string
	Err   error
}

// GetError returns the item's error
func (r *ItemResult) GetError() error {
	return r.Err
}

type itemJob struct {
	index   int
	id      string
	fn      ItemFunc
	limiter *Limiter
	key     string
}

func (j *itemJob) Execute(ctx context.Context) Result {
	if j.limiter != nil {
		if err := j.limiter.Wait(ctx, j.key); err != nil {
			return &ItemResult{Index: j.index, ID: j.id, Err: err}
		}
	}
	return &ItemResult{Index: j.index, ID: j.id, Err: j.fn(ctx, j.id)}
}

// BatchProcessor runs an ItemFunc over a list of ids on a Pool,
// optionally paced by a Limiter lane.
type BatchProcessor struct {
	concurrency int
	limiter     *Limiter
	key         string
	onItem      func(ItemResult)
}

// NewBatchProcessor creates a processor. A nil limiter means no pacing.
func NewBatchProcessor(concurrency int, limiter *Limiter, key string) *BatchProcessor {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &BatchProcessor{concurrency: concurrency, limiter: limiter, key: key}
}

// OnItem registers a callback invoked once per finished item, in completion order
func (b *BatchProcessor) OnItem(fn func(ItemResult)) {
	b.onItem = fn
}

// Run processes ids and returns one result per id in input order. Items that
// never ran because ctx ended carry ctx.Err().
func (b *BatchProcessor) Run(ctx context.Context, ids []string, fn ItemFunc) []ItemResult {
	results := make([]ItemResult, len(ids))
	done := make([]bool, len(ids))
	if len(ids) == 0 {
		return results
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	go func() {
		for i, id := range ids {
			job := &itemJob{index: i, id: id, fn: fn, limiter: b.limiter, key: b.key}
			if !pool.Submit(job) {
				break
			}
		}
		pool.CloseInput()
	}()

	for res := range pool.Results() {
		item, ok := res.(*ItemResult)
		if !ok {
			continue
		}
		results[item.Index] = *item
		done[item.Index] = true
		if b.onItem != nil {
			b.onItem(*item)
		}
	}
	pool.Shutdown()

	for i := range results {
		if done[i] {
			continue
		}
		err := ctx.Err()
		if err == nil {
			err = context.Canceled
		}
		results[i] = ItemResult{Index: i, ID: ids[i], Err: err}
	}
	return results
}

// Failures converts failed results into the shared item error shape
func Failures(results []ItemResult) []model.ItemError {
	var out []model.ItemError
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		out = append(out, model.ItemError{Index: r.Index, ID: r.ID, Error: r.Err.Error()})
	}
	return out
}

// ReadIDsFromFile reads one id per line. Blank lines and # comments are skipped.
func ReadIDsFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var ids []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return ids, nil
}
