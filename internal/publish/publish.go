// Package publish sends a post's current A and B variants to the platform.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/metrics"
	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/platform"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
	"github.com/LeeSinLiang/Janus-sub000/internal/retry"
)

var (
	// ErrPublishFailed is returned when no variant could be published
	ErrPublishFailed = errors.New("publish failed")
	// ErrNoVariants is returned for posts without content
	ErrNoVariants = errors.New("post has no content variants")
	// ErrArchived is returned for posts replaced by a newer strategy
	ErrArchived = errors.New("post is archived")
)

// VariantResult is the outcome for one variant
type VariantResult struct {
	Label          models.VariantLabel `json:"variant"`
	VariantRowID   string              `json:"variant_row_id"`
	PlatformPostID string              `json:"platform_post_id,omitempty"`
	// AlreadyLive is set when this exact variant row was published before
	AlreadyLive bool   `json:"already_live,omitempty"`
	Error       string `json:"error,omitempty"`

	err error
}

func (r *VariantResult) ok() bool {
	return r.err == nil
}

// Result is the outcome of a publish
type Result struct {
	PostID   string            `json:"post_id"`
	Status   models.PostStatus `json:"status"`
	PostedAt *time.Time        `json:"posted_time,omitempty"`
	Variants []VariantResult   `json:"variants"`
}

// Pipeline publishes posts
type Pipeline struct {
	store     *repository.Store
	retry     *retry.Executor
	publisher platform.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewPipeline(store *repository.Store, exec *retry.Executor, publisher platform.Publisher, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		retry:     exec,
		publisher: publisher,
		logger:    logger.With("component", "publish"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Publish posts the latest A and B variants concurrently. Each variant that
// goes live gets its metrics slot bound to the platform id. Slots still
// bound to an older version of their variant are unbound first, so a
// variant that fails to go live never reports the old version's counters.
// When at least one variant is live the post is marked published; when both
// fail the post is left as it was and the error carries both causes.
func (p *Pipeline) Publish(ctx context.Context, postID string) (*Result, error) {
	logger := p.logger.With("post_id", postID)

	post, err := p.store.Posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if !post.IsActive {
		return nil, fmt.Errorf("post %s: %w", postID, ErrArchived)
	}

	latest, err := p.store.Variants.Latest(ctx, postID)
	if err != nil {
		return nil, err
	}
	if len(latest) == 0 {
		return nil, fmt.Errorf("post %s: %w", postID, ErrNoVariants)
	}
	slots, err := p.store.Metrics.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if err := p.unbindSuperseded(ctx, logger, postID, latest, slots); err != nil {
		return nil, err
	}

	var results []*VariantResult
	var wg sync.WaitGroup
	for _, label := range models.Labels {
		v, ok := latest[label]
		if !ok {
			continue
		}

		r := &VariantResult{Label: label, VariantRowID: v.ID}
		results = append(results, r)

		if slot := slots[label]; slot.Published() && slot.VariantRowID == v.ID {
			r.PlatformPostID = slot.PlatformPostID
			r.AlreadyLive = true
			continue
		}

		wg.Add(1)
		go func(v *models.ContentVariant, r *VariantResult) {
			defer wg.Done()
			r.PlatformPostID, r.err = p.publishVariant(ctx, postID, v)
		}(v, r)
	}
	wg.Wait()

	res := &Result{PostID: postID, Status: post.Status, PostedAt: post.PostedTime}
	var (
		errs      []error
		published int
	)
	for _, r := range results {
		if r.ok() {
			if !r.AlreadyLive {
				published++
			}
		} else {
			r.Error = r.err.Error()
			errs = append(errs, fmt.Errorf("variant %s: %w", r.Label, r.err))
			logger.Warn("variant publish failed", "variant", r.Label, "error", r.err)
		}
		res.Variants = append(res.Variants, *r)
	}

	if len(errs) == len(results) {
		return res, fmt.Errorf("%w: %w", ErrPublishFailed, errors.Join(errs...))
	}
	if published == 0 {
		logger.Debug("all variants already live")
		return res, nil
	}

	at := p.now()
	err = p.retry.Do(ctx, func() error {
		return p.store.InTx(ctx, func(tx *repository.Store) error {
			if err := tx.Posts.MarkPublished(ctx, postID, at); err != nil {
				return err
			}
			_, err := tx.Campaigns.AdvancePhase(ctx, post.CampaignID, models.PhaseActive,
				models.PhaseContentCreation, models.PhaseScheduled)
			return err
		})
	})
	if err != nil {
		return res, err
	}

	res.Status = models.StatusPublished
	res.PostedAt = &at
	if updated, err := p.store.Posts.GetByID(ctx, postID); err == nil {
		// an earlier partial publish keeps its posted time
		res.PostedAt = updated.PostedTime
	}
	logger.Info("post published", "variants", published, "failed", len(errs))
	return res, nil
}

// unbindSuperseded detaches slots whose variant row is no longer the latest
// for its label
func (p *Pipeline) unbindSuperseded(ctx context.Context, logger *slog.Logger, postID string,
	latest map[models.VariantLabel]*models.ContentVariant, slots map[models.VariantLabel]*models.PostMetrics) error {

	for label, slot := range slots {
		v, ok := latest[label]
		if !ok || slot.VariantRowID == "" || slot.VariantRowID == v.ID {
			continue
		}
		err := p.retry.Do(ctx, func() error {
			return p.store.Metrics.Unbind(ctx, postID, label)
		})
		if err != nil {
			return err
		}
		logger.Debug("unbound superseded variant", "variant", label, "platform_post_id", slot.PlatformPostID)
		*slot = models.PostMetrics{PostID: postID, Variant: label, CommentList: []string{}}
	}
	return nil
}

// publishVariant posts one variant and binds its metrics slot
func (p *Pipeline) publishVariant(ctx context.Context, postID string, v *models.ContentVariant) (string, error) {
	label := string(v.VariantID)

	platformID, err := p.publisher.Post(ctx, v.Content, v.MediaURL)
	if err != nil {
		metrics.IncPublishAttempts(label, metrics.ResultFailure)
		return "", err
	}

	err = p.retry.Do(ctx, func() error {
		return p.store.Metrics.UpsertPublished(ctx, postID, v.VariantID, platformID, v.ID)
	})
	if err != nil {
		metrics.IncPublishAttempts(label, metrics.ResultFailure)
		return "", fmt.Errorf("published as %s but failed to record it: %w", platformID, err)
	}

	metrics.IncPublishAttempts(label, metrics.ResultSuccess)
	return platformID, nil
}
