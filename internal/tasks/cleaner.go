package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cleaner periodically removes finished tasks from storage
type Cleaner struct {
	storage  *BoltStorage
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewCleaner creates a cleaner that drops done and failed tasks older than maxAge
func NewCleaner(storage *BoltStorage, maxAge, interval time.Duration, logger *slog.Logger) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Cleaner{
		storage:  storage,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger.With("component", "tasks_cleaner"),
		done:     make(chan struct{}),
	}
}

// Start starts the cleanup loop; it is a no-op when retention is disabled
func (c *Cleaner) Start(ctx context.Context) {
	if c.maxAge <= 0 {
		return
	}

	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info("cleaner started", "max_age", c.maxAge, "interval", c.interval)
}

// Stop stops the cleaner and waits for the loop to exit
func (c *Cleaner) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Cleaner) loop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup pass
func (c *Cleaner) RunOnce(ctx context.Context) {
	deleted, err := c.storage.CleanupFinished(ctx, c.maxAge)
	if err != nil {
		c.logger.Error("failed to cleanup finished tasks", "error", err)
		return
	}
	if deleted > 0 {
		c.logger.Info("cleaned up finished tasks", "deleted", deleted)
	}
}
