package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T, maxPending int) *BoltStorage {
	t.Helper()

	storage, err := NewBoltStorage(filepath.Join(t.TempDir(), "tasks.db"), maxPending)
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestBoltStorage(t *testing.T) {
	storage := newTestStorage(t, 0)
	ctx := context.Background()

	task := &Task{ID: "task-1", Kind: KindRegenerateContent, PostID: "post-1"}
	if err := storage.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	got, err := storage.Get(ctx, "task-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil {
		t.Fatal("Get() returned nil")
	}
	if got.Status != StatusPending {
		t.Errorf("Get().Status = %v, want %v", got.Status, StatusPending)
	}
	if got.PostID != "post-1" {
		t.Errorf("Get().PostID = %v, want post-1", got.PostID)
	}

	missing, err := storage.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if missing != nil {
		t.Error("Get() should return nil for nonexistent task")
	}

	dequeued, err := storage.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if dequeued == nil || dequeued.ID != "task-1" {
		t.Fatalf("Dequeue() = %v, want task-1", dequeued)
	}
	if dequeued.Status != StatusRunning {
		t.Errorf("Dequeue().Status = %v, want %v", dequeued.Status, StatusRunning)
	}

	empty, err := storage.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if empty != nil {
		t.Errorf("Dequeue() on empty queue = %v, want nil", empty)
	}

	dequeued.Status = StatusDone
	if err := storage.Update(ctx, dequeued); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	stats, err := storage.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Done != 1 || stats.Total != 1 {
		t.Errorf("Stats() = %+v, want 1 done of 1", stats)
	}
}

func TestBoltStorageFIFO(t *testing.T) {
	storage := newTestStorage(t, 0)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"first", "second", "third"} {
		task := &Task{ID: id, Kind: KindGenerateContent, CreatedAt: base.Add(time.Duration(i) * time.Millisecond)}
		if err := storage.Enqueue(ctx, task); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	for _, want := range []string{"first", "second", "third"} {
		got, err := storage.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if got == nil || got.ID != want {
			t.Fatalf("Dequeue() = %v, want %s", got, want)
		}
	}
}

func TestBoltStorageQueueFull(t *testing.T) {
	storage := newTestStorage(t, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := storage.Enqueue(ctx, &Task{ID: id, Kind: KindRegenerateContent}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	err := storage.Enqueue(ctx, &Task{ID: "c", Kind: KindRegenerateContent})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue() error = %v, want ErrQueueFull", err)
	}

	// Running tasks do not count against the limit
	if _, err := storage.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if err := storage.Enqueue(ctx, &Task{ID: "c", Kind: KindRegenerateContent}); err != nil {
		t.Errorf("Enqueue() after dequeue error = %v", err)
	}
}

func TestBoltStorageDeferred(t *testing.T) {
	storage := newTestStorage(t, 0)
	ctx := context.Background()

	if err := storage.Enqueue(ctx, &Task{ID: "d", Kind: KindRegenerateContent}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	task, err := storage.Dequeue(ctx)
	if err != nil || task == nil {
		t.Fatalf("Dequeue() = %v, %v", task, err)
	}

	task.Status = StatusDeferred
	task.NextRetryAt = time.Now().Add(time.Hour)
	if err := storage.Update(ctx, task); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := storage.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if got != nil {
		t.Fatalf("Dequeue() returned task deferred into the future: %v", got.ID)
	}

	task.NextRetryAt = time.Now().Add(-time.Second)
	if err := storage.Update(ctx, task); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err = storage.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if got == nil || got.ID != "d" {
		t.Fatalf("Dequeue() = %v, want due deferred task", got)
	}
}

func TestBoltStorageRecover(t *testing.T) {
	storage := newTestStorage(t, 0)
	ctx := context.Background()

	if err := storage.Enqueue(ctx, &Task{ID: "r", Kind: KindGenerateContent}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := storage.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}

	n, err := storage.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Recover() = %d, want 1", n)
	}

	got, err := storage.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if got == nil || got.ID != "r" {
		t.Fatalf("Dequeue() after Recover = %v, want r", got)
	}
}

func TestBoltStorageCleanupFinished(t *testing.T) {
	storage := newTestStorage(t, 0)
	ctx := context.Background()

	for _, id := range []string{"done", "failed", "waiting"} {
		if err := storage.Enqueue(ctx, &Task{ID: id, Kind: KindRegenerateContent}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	for _, status := range []Status{StatusDone, StatusFailed} {
		task, err := storage.Dequeue(ctx)
		if err != nil || task == nil {
			t.Fatalf("Dequeue() = %v, %v", task, err)
		}
		task.Status = status
		if err := storage.Update(ctx, task); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	time.Sleep(5 * time.Millisecond)

	deleted, err := storage.CleanupFinished(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("CleanupFinished() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("CleanupFinished() = %d, want 2", deleted)
	}

	stats, err := storage.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Errorf("Stats() = %+v, want only the pending task", stats)
	}
}

func TestBoltStorageList(t *testing.T) {
	storage := newTestStorage(t, 0)
	ctx := context.Background()

	storage.Enqueue(ctx, &Task{ID: "1", Kind: KindRegenerateContent})
	storage.Enqueue(ctx, &Task{ID: "2", Kind: KindGenerateContent})
	storage.Enqueue(ctx, &Task{ID: "3", Kind: KindGenerateContent})

	tests := []struct {
		name   string
		filter ListFilter
		want   int
	}{
		{"all", ListFilter{}, 3},
		{"by kind", ListFilter{Kind: KindGenerateContent}, 2},
		{"by status", ListFilter{Status: StatusDone}, 0},
		{"limit", ListFilter{Limit: 1}, 1},
		{"offset", ListFilter{Offset: 2}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List() returned %d tasks, want %d", len(got), tt.want)
			}
		})
	}
}

func TestIndexKeyOrdering(t *testing.T) {
	// Whole seconds must not sort after fractional ones
	whole := time.Date(2026, 1, 1, 12, 0, 5, 0, time.UTC)
	fractional := whole.Add(-900 * time.Millisecond)

	a := string(makeIndexKey(fractional, "x"))
	b := string(makeIndexKey(whole, "x"))
	if a >= b {
		t.Errorf("makeIndexKey ordering: %q should sort before %q", a, b)
	}

	if got := parseTimestampFromKey(makeIndexKey(whole, "id")); !got.Equal(whole) {
		t.Errorf("parseTimestampFromKey() = %v, want %v", got, whole)
	}
	if got := parseTimestampFromKey([]byte("garbage")); !got.IsZero() {
		t.Errorf("parseTimestampFromKey(garbage) = %v, want zero", got)
	}
}
