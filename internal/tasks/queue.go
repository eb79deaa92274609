package tasks

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by Enqueue once max_pending tasks are waiting
var ErrQueueFull = errors.New("task queue is full")

// Queue defines the interface for task queue operations
type Queue interface {
	// Enqueue adds a task to the queue.
	// Returns ErrQueueFull when the queue refuses more work.
	Enqueue(ctx context.Context, task *Task) error

	// Dequeue takes the next runnable task and marks it running.
	// Returns nil, nil if nothing is runnable.
	Dequeue(ctx context.Context) (*Task, error)

	// Update stores the task's new status
	Update(ctx context.Context, task *Task) error

	// Get retrieves a task by ID, nil if absent
	Get(ctx context.Context, id string) (*Task, error)

	// List returns tasks with optional filtering
	List(ctx context.Context, filter ListFilter) ([]*Task, error)

	// Stats returns queue statistics
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the storage connection
	Close() error
}

// Enqueuer is the narrow view producers need
type Enqueuer interface {
	Enqueue(ctx context.Context, task *Task) error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
