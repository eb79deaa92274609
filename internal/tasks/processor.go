package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeeSinLiang/Janus-sub000/internal/metrics"
)

// Handler runs one task
type Handler interface {
	Handle(ctx context.Context, task *Task) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, task *Task) error

func (f HandlerFunc) Handle(ctx context.Context, task *Task) error {
	return f(ctx, task)
}

// Mux dispatches tasks to a handler by kind
type Mux struct {
	handlers map[Kind]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[Kind]Handler)}
}

// HandleKind registers h for kind
func (m *Mux) HandleKind(kind Kind, h Handler) {
	m.handlers[kind] = h
}

func (m *Mux) Handle(ctx context.Context, task *Task) error {
	h, ok := m.handlers[task.Kind]
	if !ok {
		return Permanent(fmt.Errorf("no handler for task kind %q", task.Kind))
	}
	return h.Handle(ctx, task)
}

// Processor runs queued tasks on a fixed pool of workers
type Processor struct {
	queue           Queue
	handler         Handler
	workers         int
	retryInterval   time.Duration
	maxRetries      int
	processInterval time.Duration
	taskTimeout     time.Duration
	logger          *slog.Logger

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// ProcessorConfig contains processor configuration
type ProcessorConfig struct {
	Workers         int
	RetryInterval   time.Duration
	MaxRetries      int
	ProcessInterval time.Duration
	TaskTimeout     time.Duration
}

// NewProcessor creates a new task processor
func NewProcessor(q Queue, handler Handler, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.ProcessInterval <= 0 {
		cfg.ProcessInterval = time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}

	return &Processor{
		queue:           q,
		handler:         handler,
		workers:         cfg.Workers,
		retryInterval:   cfg.RetryInterval,
		maxRetries:      cfg.MaxRetries,
		processInterval: cfg.ProcessInterval,
		taskTimeout:     cfg.TaskTimeout,
		logger:          logger.With("component", "tasks"),
		wake:            make(chan struct{}, cfg.Workers),
		stopCh:          make(chan struct{}),
	}
}

// Enqueue stores the task and nudges an idle worker
func (p *Processor) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if err := p.queue.Enqueue(ctx, task); err != nil {
		return err
	}

	select {
	case p.wake <- struct{}{}:
	default:
	}

	p.logger.Debug("task enqueued", "task_id", task.ID, "kind", task.Kind, "post_id", task.PostID)
	return nil
}

// Start starts the processor workers
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting task processor", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop stops the processor and waits for running tasks
func (p *Processor) Stop() {
	p.logger.Info("stopping task processor")
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("task processor stopped")
}

func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", id)
	logger.Debug("worker started")

	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped by context")
			return
		case <-p.stopCh:
			logger.Debug("worker stopped by signal")
			return
		case <-ticker.C:
		case <-p.wake:
		}

		// Drain whatever is runnable before sleeping again
		for p.processOne(ctx, logger) {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			default:
			}
		}
	}
}

// processOne runs a single task. It reports whether a task was taken.
func (p *Processor) processOne(ctx context.Context, logger *slog.Logger) bool {
	task, err := p.queue.Dequeue(ctx)
	if err != nil {
		logger.Error("failed to dequeue task", "error", err)
		return false
	}
	if task == nil {
		return false
	}

	logger = logger.With("task_id", task.ID, "kind", task.Kind, "post_id", task.PostID)
	logger.Debug("processing task")

	runCtx, cancel := context.WithTimeout(ctx, p.taskTimeout)
	err = p.handler.Handle(runCtx, task)
	cancel()

	if err == nil {
		task.Status = StatusDone
		task.LastError = ""
		if err := p.queue.Update(ctx, task); err != nil {
			logger.Error("failed to update task status", "error", err)
		}
		metrics.IncTasks(string(task.Kind), metrics.ResultSuccess)
		logger.Info("task done")
		return true
	}

	logger.Warn("task failed", "error", err, "retry_count", task.RetryCount)

	task.RetryCount++
	task.LastError = err.Error()

	if !IsPermanent(err) && task.RetryCount < p.maxRetries {
		backoff := p.calculateBackoff(task.RetryCount)
		task.Status = StatusDeferred
		task.NextRetryAt = time.Now().Add(backoff)
		metrics.IncTasks(string(task.Kind), "retry")

		logger.Info("task deferred",
			"retry_count", task.RetryCount,
			"next_retry_at", task.NextRetryAt,
			"backoff", backoff,
		)
	} else {
		task.Status = StatusFailed
		metrics.IncTasks(string(task.Kind), metrics.ResultFailure)
		logger.Error("task failed permanently",
			"retry_count", task.RetryCount,
			"max_retries", p.maxRetries,
		)
	}

	if err := p.queue.Update(ctx, task); err != nil {
		logger.Error("failed to update task status", "error", err)
	}
	return true
}

// calculateBackoff doubles retry_interval per attempt, capped at one hour
func (p *Processor) calculateBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	multiplier := 12
	if retryCount < 5 {
		multiplier = min(1<<(retryCount-1), 12)
	}

	backoff := time.Duration(multiplier) * p.retryInterval
	if backoff > time.Hour {
		return time.Hour
	}
	return backoff
}
