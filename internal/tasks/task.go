package tasks

import (
	"time"
)

// Kind selects the handler that runs a task
type Kind string

const (
	// KindRegenerateContent rewrites the variants of a post whose trigger fired
	KindRegenerateContent Kind = "regenerate_content"
	// KindGenerateContent writes the first variants of a freshly planned post
	KindGenerateContent Kind = "generate_content"
)

// Status represents the status of a task in the queue
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
	StatusDeferred Status = "deferred"
)

// Task is a unit of background work
type Task struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	PostID      string    `json:"post_id,omitempty"`
	CampaignID  string    `json:"campaign_id,omitempty"`
	Lease       string    `json:"lease,omitempty"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	NextRetryAt time.Time `json:"next_retry_at"`
	RetryCount  int       `json:"retry_count"`
	LastError   string    `json:"last_error,omitempty"`
}

// Stats represents queue statistics
type Stats struct {
	Pending  int64 `json:"pending"`
	Running  int64 `json:"running"`
	Done     int64 `json:"done"`
	Failed   int64 `json:"failed"`
	Deferred int64 `json:"deferred"`
	Total    int64 `json:"total"`
}

// ListFilter represents filter options for listing tasks
type ListFilter struct {
	Status Status
	Kind   Kind
	Limit  int
	Offset int
}
