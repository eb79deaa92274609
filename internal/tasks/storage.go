package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/LeeSinLiang/Janus-sub000/internal/metrics"
)

var (
	bucketTasks    = []byte("tasks")
	bucketPending  = []byte("pending")
	bucketDeferred = []byte("deferred")
)

// indexTimeFormat is fixed width so byte order equals time order
const indexTimeFormat = "2006-01-02T15:04:05.000000000Z"

// BoltStorage implements Queue using BoltDB
type BoltStorage struct {
	db         *bolt.DB
	maxPending int
}

// NewBoltStorage opens the task store at path. maxPending bounds the number
// of waiting (pending + deferred) tasks; zero means unbounded.
func NewBoltStorage(path string, maxPending int) (*BoltStorage, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketTasks, bucketPending, bucketDeferred} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db, maxPending: maxPending}, nil
}

// Enqueue adds a task to the pending index
func (s *BoltStorage) Enqueue(ctx context.Context, task *Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pendingBucket := tx.Bucket(bucketPending)
		deferredBucket := tx.Bucket(bucketDeferred)

		if s.maxPending > 0 {
			waiting := pendingBucket.Stats().KeyN + deferredBucket.Stats().KeyN
			if waiting >= s.maxPending {
				return ErrQueueFull
			}
		}

		if task.CreatedAt.IsZero() {
			task.CreatedAt = time.Now()
		}
		task.Status = StatusPending
		task.UpdatedAt = task.CreatedAt

		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		if err := tx.Bucket(bucketTasks).Put([]byte(task.ID), data); err != nil {
			return fmt.Errorf("failed to store task: %w", err)
		}

		if err := pendingBucket.Put(makeIndexKey(task.CreatedAt, task.ID), []byte(task.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}
		return nil
	})
}

// Dequeue returns the next runnable task: due deferred tasks first, then
// pending tasks in enqueue order
func (s *BoltStorage) Dequeue(ctx context.Context) (*Task, error) {
	var task *Task

	err := s.db.Update(func(tx *bolt.Tx) error {
		taskBucket := tx.Bucket(bucketTasks)
		now := time.Now()

		claim := func(c *bolt.Cursor, v []byte) (bool, error) {
			data := taskBucket.Get(v)
			if data == nil {
				// Task was deleted, clean up index
				return false, c.Delete()
			}

			var t Task
			if err := json.Unmarshal(data, &t); err != nil {
				return false, c.Delete()
			}
			if t.Status != StatusPending && t.Status != StatusDeferred {
				// Stale index entry
				return false, c.Delete()
			}

			t.Status = StatusRunning
			t.UpdatedAt = now

			out, err := json.Marshal(&t)
			if err != nil {
				return false, err
			}
			if err := taskBucket.Put([]byte(t.ID), out); err != nil {
				return false, err
			}
			if err := c.Delete(); err != nil {
				return false, err
			}

			task = &t
			return true, nil
		}

		c := tx.Bucket(bucketDeferred).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if parseTimestampFromKey(k).After(now) {
				break // All remaining are in the future
			}
			if ok, err := claim(c, v); err != nil || ok {
				return err
			}
		}

		c = tx.Bucket(bucketPending).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ok, err := claim(c, v); err != nil || ok {
				return err
			}
		}

		return nil
	})

	return task, err
}

// Update stores the task; deferred tasks are indexed by their retry time
func (s *BoltStorage) Update(ctx context.Context, task *Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		taskBucket := tx.Bucket(bucketTasks)
		task.UpdatedAt = time.Now()

		if old := taskBucket.Get([]byte(task.ID)); old != nil {
			var prev Task
			if err := json.Unmarshal(old, &prev); err == nil && prev.Status == StatusDeferred {
				if err := tx.Bucket(bucketDeferred).Delete(makeIndexKey(prev.NextRetryAt, prev.ID)); err != nil {
					return fmt.Errorf("failed to remove deferred index: %w", err)
				}
			}
		}

		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		if err := taskBucket.Put([]byte(task.ID), data); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}

		if task.Status == StatusDeferred {
			indexKey := makeIndexKey(task.NextRetryAt, task.ID)
			if err := tx.Bucket(bucketDeferred).Put(indexKey, []byte(task.ID)); err != nil {
				return fmt.Errorf("failed to add to deferred index: %w", err)
			}
		}
		return nil
	})
}

// Get retrieves a task by ID
func (s *BoltStorage) Get(ctx context.Context, id string) (*Task, error) {
	var task *Task

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return nil
		}
		task = &Task{}
		return json.Unmarshal(data, task)
	})

	return task, err
}

// List returns tasks matching filter
func (s *BoltStorage) List(ctx context.Context, filter ListFilter) ([]*Task, error) {
	var out []*Task

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTasks).Cursor()
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				continue
			}
			if filter.Status != "" && t.Status != filter.Status {
				continue
			}
			if filter.Kind != "" && t.Kind != filter.Kind {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}

			out = append(out, &t)
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return out, err
}

// Stats returns queue statistics
func (s *BoltStorage) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}

			stats.Total++
			switch t.Status {
			case StatusPending:
				stats.Pending++
			case StatusRunning:
				stats.Running++
			case StatusDone:
				stats.Done++
			case StatusFailed:
				stats.Failed++
			case StatusDeferred:
				stats.Deferred++
			}
			return nil
		})
	})

	return stats, err
}

// QueueStats adapts Stats for the metrics sampler
func (s *BoltStorage) QueueStats(ctx context.Context) (*metrics.QueueStats, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &metrics.QueueStats{
		Pending:  stats.Pending,
		Running:  stats.Running,
		Deferred: stats.Deferred,
	}, nil
}

// Recover puts tasks left running by a previous process back in the pending
// index. It returns the number of tasks requeued.
func (s *BoltStorage) Recover(ctx context.Context) (int, error) {
	requeued := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		taskBucket := tx.Bucket(bucketTasks)
		pendingBucket := tx.Bucket(bucketPending)

		var stuck []Task
		err := taskBucket.ForEach(func(k, v []byte) error {
			var t Task
			if err := json.Unmarshal(v, &t); err == nil && t.Status == StatusRunning {
				stuck = append(stuck, t)
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, t := range stuck {
			t.Status = StatusPending
			t.UpdatedAt = time.Now()
			data, err := json.Marshal(&t)
			if err != nil {
				return err
			}
			if err := taskBucket.Put([]byte(t.ID), data); err != nil {
				return err
			}
			if err := pendingBucket.Put(makeIndexKey(t.CreatedAt, t.ID), []byte(t.ID)); err != nil {
				return err
			}
			requeued++
		}
		return nil
	})

	return requeued, err
}

// CleanupFinished removes done and failed tasks last updated before now-maxAge
func (s *BoltStorage) CleanupFinished(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		taskBucket := tx.Bucket(bucketTasks)

		var toDelete [][]byte
		err := taskBucket.ForEach(func(k, v []byte) error {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			finished := t.Status == StatusDone || t.Status == StatusFailed
			if finished && t.UpdatedAt.Before(cutoff) {
				toDelete = append(toDelete, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range toDelete {
			if err := taskBucket.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

// Close closes the database connection
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	return []byte(t.UTC().Format(indexTimeFormat) + "|" + id)
}

// parseTimestampFromKey extracts timestamp from index key
func parseTimestampFromKey(key []byte) time.Time {
	s := string(key)
	i := strings.IndexByte(s, '|')
	if i < 0 {
		return time.Time{}
	}
	ts, _ := time.Parse(indexTimeFormat, s[:i])
	return ts
}
