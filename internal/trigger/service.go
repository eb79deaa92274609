package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/metrics"
	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
	"github.com/LeeSinLiang/Janus-sub000/internal/retry"
	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
)

// Skip reasons reported by Check
const (
	SkipInFlight  = "regeneration already in progress"
	SkipQueueFull = "task queue is full"
)

// Dispatched is a firing that was claimed and queued for regeneration
type Dispatched struct {
	Firing
	TaskID string `json:"task_id"`
}

// Skipped is a firing that was not dispatched
type Skipped struct {
	PostID string `json:"post_id"`
	Reason string `json:"reason"`
}

// CheckResult summarizes one trigger check
type CheckResult struct {
	Checked int          `json:"checked"`
	Fired   []Dispatched `json:"fired"`
	Skipped []Skipped    `json:"skipped"`
}

// Service runs trigger checks against the store and manages trigger
// configuration
type Service struct {
	store    *repository.Store
	retry    *retry.Executor
	enqueuer tasks.Enqueuer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a trigger service
func NewService(store *repository.Store, exec *retry.Executor, enqueuer tasks.Enqueuer, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		retry:    exec,
		enqueuer: enqueuer,
		logger:   logger.With("component", "trigger"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Check evaluates every armed post and dispatches the ones that fire. It
// returns as soon as the regeneration tasks are queued.
func (s *Service) Check(ctx context.Context) (*CheckResult, error) {
	metrics.IncTriggerChecks()

	snaps, err := s.loadSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{Checked: len(snaps), Fired: []Dispatched{}, Skipped: []Skipped{}}
	now := s.now()

	for _, f := range Evaluate(now, snaps) {
		logger := s.logger.With("post_id", f.PostID, "campaign_id", f.CampaignID)

		lease, err := retry.DoValue(ctx, s.retry, func() (string, error) {
			return s.store.Posts.ClaimForRegeneration(ctx, f.PostID, now)
		})
		if err != nil {
			return result, fmt.Errorf("failed to claim post %s: %w", f.PostID, err)
		}
		if lease == "" {
			logger.Debug("trigger fired but post is already claimed")
			metrics.IncTriggerFirings(string(f.Metric), "skipped")
			result.Skipped = append(result.Skipped, Skipped{PostID: f.PostID, Reason: SkipInFlight})
			continue
		}

		task := &tasks.Task{Kind: tasks.KindRegenerateContent, PostID: f.PostID, CampaignID: f.CampaignID, Lease: lease}
		if err := s.enqueuer.Enqueue(ctx, task); err != nil {
			// Give the lease back so the next check can try again
			if rerr := s.retry.Do(ctx, func() error { return s.store.Posts.ReleaseLease(ctx, f.PostID, lease) }); rerr != nil {
				logger.Error("failed to release lease", "error", rerr)
			}
			if errors.Is(err, tasks.ErrQueueFull) {
				logger.Warn("trigger fired but task queue is full")
				metrics.IncTriggerFirings(string(f.Metric), "rejected")
				result.Skipped = append(result.Skipped, Skipped{PostID: f.PostID, Reason: SkipQueueFull})
				continue
			}
			return result, fmt.Errorf("failed to enqueue regeneration for post %s: %w", f.PostID, err)
		}

		logger.Info("trigger fired",
			"metric", f.Metric,
			"comparison", f.Comparison,
			"threshold", f.Threshold,
			"variants", f.Variants,
			"elapsed", f.Elapsed,
		)
		metrics.IncTriggerFirings(string(f.Metric), "dispatched")
		result.Fired = append(result.Fired, Dispatched{Firing: f, TaskID: task.ID})
	}

	return result, nil
}

func (s *Service) loadSnapshots(ctx context.Context) ([]Snapshot, error) {
	posts, err := s.store.Posts.ListTriggerCandidates(ctx)
	if err != nil {
		return nil, err
	}

	snaps := make([]Snapshot, 0, len(posts))
	for _, p := range posts {
		if !p.Trigger.Metric.Valid() {
			s.logger.Warn("skipping trigger with unknown metric", "post_id", p.ID, "metric", p.Trigger.Metric)
			continue
		}
		slots, err := s.store.Metrics.ListByPost(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, Snapshot{Post: p, Metrics: slots})
	}
	return snaps, nil
}

// Configure parses a natural language prompt and arms the post's trigger
func (s *Service) Configure(ctx context.Context, postID, condition, prompt string) (*models.Trigger, error) {
	t, err := ParsePrompt(condition, prompt)
	if err != nil {
		return nil, err
	}

	err = s.retry.Do(ctx, func() error {
		return s.store.Posts.SetTrigger(ctx, postID, t)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("trigger configured",
		"post_id", postID,
		"metric", t.Metric,
		"comparison", t.Comparison,
		"threshold", t.Value,
		"duration", t.Duration,
	)
	return t, nil
}

// Clear disarms the post's trigger
func (s *Service) Clear(ctx context.Context, postID string) error {
	err := s.retry.Do(ctx, func() error {
		return s.store.Posts.SetTrigger(ctx, postID, nil)
	})
	if err != nil {
		return err
	}
	s.logger.Info("trigger cleared", "post_id", postID)
	return nil
}
