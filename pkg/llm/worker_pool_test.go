package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWorkerPool_Process_Success(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())

	items := []WorkItem[string]{
		{ID: "task1", Execute: func(ctx context.Context) (string, error) { return "result1", nil }},
		{ID: "task2", Execute: func(ctx context.Context) (string, error) { return "result2", nil }},
		{ID: "task3", Execute: func(ctx context.Context) (string, error) { return "result3", nil }},
	}

	results := Process(context.Background(), pool, items, nil)

	if len(results) != 3 {
		t.Errorf("expected 3 results, got %d", len(results))
	}

	// Verify all results are present (order may vary)
	resultsByID := make(map[string]string)
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("task %s failed: %v", r.ID, r.Err)
		}
		resultsByID[r.ID] = r.Result
	}

	if resultsByID["task1"] != "result1" || resultsByID["task2"] != "result2" || resultsByID["task3"] != "result3" {
		t.Errorf("unexpected results: %v", resultsByID)
	}
}

func TestWorkerPool_Process_WithErrors(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())

	wantErr := errors.New("task failed")
	items := []WorkItem[string]{
		{ID: "ok", Execute: func(ctx context.Context) (string, error) { return "fine", nil }},
		{ID: "bad", Execute: func(ctx context.Context) (string, error) { return "", wantErr }},
	}

	results := Process(context.Background(), pool, items, nil)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	var sawError, sawSuccess bool
	for _, r := range results {
		switch r.ID {
		case "ok":
			sawSuccess = r.Err == nil && r.Result == "fine"
		case "bad":
			sawError = errors.Is(r.Err, wantErr)
		}
	}

	if !sawSuccess {
		t.Error("successful task result missing or wrong")
	}
	if !sawError {
		t.Error("failed task should report its error")
	}
}

func TestWorkerPool_Process_EmptyItems(t *testing.T) {
	pool := NewWorkerPool(DefaultWorkerPoolConfig(), zap.NewNop())

	results := Process[string](context.Background(), pool, nil, nil)

	if results != nil {
		t.Errorf("expected nil results for empty items, got %v", results)
	}
}

func TestWorkerPool_Process_ContextCancellation(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	blocker := make(chan struct{})
	items := []WorkItem[int]{
		{ID: "blocking", Execute: func(ctx context.Context) (int, error) {
			<-blocker
			return 1, nil
		}},
		{ID: "starved", Execute: func(ctx context.Context) (int, error) {
			return 2, nil
		}},
	}

	done := make(chan []WorkResult[int], 1)
	go func() {
		done <- Process(ctx, pool, items, nil)
	}()

	// Let the first item occupy the only slot, then cancel.
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(blocker)

	select {
	case results := <-done:
		if len(results) != 2 {
			t.Fatalf("expected 2 results, got %d", len(results))
		}
		var canceled int
		for _, r := range results {
			if errors.Is(r.Err, context.Canceled) {
				canceled++
			}
		}
		if canceled == 0 {
			t.Error("expected at least one result with context.Canceled")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Process did not return after cancellation")
	}
}

func TestWorkerPool_Process_ConcurrencyLimit(t *testing.T) {
	const limit = 3
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: limit}, zap.NewNop())

	var current, peak int32
	var mu sync.Mutex

	items := make([]WorkItem[int], 10)
	for i := range items {
		items[i] = WorkItem[int]{
			ID: fmt.Sprintf("task%d", i),
			Execute: func(ctx context.Context) (int, error) {
				n := atomic.AddInt32(&current, 1)
				mu.Lock()
				if n > peak {
					peak = n
				}
				mu.Unlock()
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return 0, nil
			},
		}
	}

	Process(context.Background(), pool, items, nil)

	mu.Lock()
	defer mu.Unlock()
	if peak > limit {
		t.Errorf("observed %d concurrent executions, limit is %d", peak, limit)
	}
}

func TestWorkerPool_Process_ProgressCallback(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 2}, zap.NewNop())

	items := []WorkItem[int]{
		{ID: "a", Execute: func(ctx context.Context) (int, error) { return 1, nil }},
		{ID: "b", Execute: func(ctx context.Context) (int, error) { return 2, nil }},
		{ID: "c", Execute: func(ctx context.Context) (int, error) { return 3, nil }},
	}

	var progress []int
	Process(context.Background(), pool, items, func(completed, total int) {
		if total != 3 {
			t.Errorf("progress total = %d, want 3", total)
		}
		progress = append(progress, completed)
	})

	if len(progress) != 3 {
		t.Fatalf("expected 3 progress calls, got %d", len(progress))
	}
	for i, c := range progress {
		if c != i+1 {
			t.Errorf("progress call %d reported %d completed", i, c)
		}
	}
}

func TestWorkerPool_ConfigDefault(t *testing.T) {
	pool := NewWorkerPool(WorkerPoolConfig{MaxConcurrent: 0}, zap.NewNop())

	if pool.config.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %d, want default 8", pool.config.MaxConcurrent)
	}
}

func TestDefaultWorkerPoolConfig(t *testing.T) {
	cfg := DefaultWorkerPoolConfig()
	if cfg.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent = %d, want 8", cfg.MaxConcurrent)
	}
}
