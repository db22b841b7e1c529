package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBatchProcessor_PreservesOrder(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	b := NewBatchProcessor(3, nil, "")

	var mu sync.Mutex
	var seen []string
	b.OnItem(func(r ItemResult) {
		mu.Lock()
		seen = append(seen, r.ID)
		mu.Unlock()
	})

	results := b.Run(context.Background(), ids, func(ctx context.Context, id string) error {
		if id == "c" {
			return errors.New("boom")
		}
		return nil
	})

	if len(results) != len(ids) {
		t.Fatalf("expected %d results, got %d", len(ids), len(results))
	}
	for i, r := range results {
		if r.ID != ids[i] || r.Index != i {
			t.Errorf("result %d = %+v, want id %q", i, r, ids[i])
		}
	}
	if len(seen) != len(ids) {
		t.Errorf("expected OnItem for every item, got %d", len(seen))
	}

	failures := Failures(results)
	if len(failures) != 1 || failures[0].ID != "c" || failures[0].Index != 2 || failures[0].Error != "boom" {
		t.Errorf("unexpected failures: %+v", failures)
	}
}

func TestBatchProcessor_Empty(t *testing.T) {
	b := NewBatchProcessor(2, nil, "")
	results := b.Run(context.Background(), nil, func(ctx context.Context, id string) error {
		t.Fatal("should not be called")
		return nil
	})
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestBatchProcessor_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBatchProcessor(1, NewLimiter(1000, 10), "lane")
	results := b.Run(ctx, []string{"x", "y"}, func(ctx context.Context, id string) error {
		return nil
	})

	for _, r := range results {
		if r.Err == nil {
			t.Errorf("expected %q to carry an error after cancellation", r.ID)
		}
	}
}

func TestReadIDsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	content := "# articles to fix\nabc-1\n\n  def-2  \n# trailing\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	ids, err := ReadIDsFromFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff([]string{"abc-1", "def-2"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}

	if _, err := ReadIDsFromFile(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("expected error for a missing file")
	}
}
