// Package regen writes content for posts: the first A/B pair of a freshly
// planned post and improved pairs when a trigger fires.
package regen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/llm"
	"github.com/LeeSinLiang/Janus-sub000/internal/metrics"
	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/notify"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
	"github.com/LeeSinLiang/Janus-sub000/internal/retry"
	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
)

// ErrNotArmed is returned when a regeneration task finds no trigger on its post
var ErrNotArmed = errors.New("post has no trigger")

// Worker runs content generation tasks
type Worker struct {
	store     *repository.Store
	retry     *retry.Executor
	generator llm.ContentGenerator
	notifier  notify.Notifier
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// Config contains worker settings
type Config struct {
	// GenerationTimeout bounds each call to the generator
	GenerationTimeout time.Duration
}

// NewWorker creates a worker. notifier may be nil.
func NewWorker(store *repository.Store, exec *retry.Executor, gen llm.ContentGenerator, notifier notify.Notifier, cfg Config, logger *slog.Logger) *Worker {
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 90 * time.Second
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Worker{
		store:     store,
		retry:     exec,
		generator: gen,
		notifier:  notifier,
		timeout:   cfg.GenerationTimeout,
		logger:    logger.With("component", "regen"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Register installs the worker's handlers on mux
func (w *Worker) Register(mux *tasks.Mux) {
	mux.HandleKind(tasks.KindRegenerateContent, tasks.HandlerFunc(func(ctx context.Context, t *tasks.Task) error {
		return w.Regenerate(ctx, t.PostID, t.Lease)
	}))
	mux.HandleKind(tasks.KindGenerateContent, tasks.HandlerFunc(func(ctx context.Context, t *tasks.Task) error {
		return w.Generate(ctx, t.PostID)
	}))
}

// Regenerate writes a new A/B pair for a post whose trigger fired, holding
// the lease the trigger check claimed. The new variants, the reset to draft,
// the cleared trigger and the campaign insight commit together; on any
// failure the lease is released and the post keeps its trigger so the next
// check fires it again. A task whose lease was reaped or superseded while
// it waited does nothing.
func (w *Worker) Regenerate(ctx context.Context, postID, lease string) error {
	logger := w.logger.With("post_id", postID)

	held, err := retry.DoValue(ctx, w.retry, func() (bool, error) {
		return w.store.Posts.StartRegeneration(ctx, postID, lease, w.now())
	})
	if err != nil {
		return err
	}
	if !held {
		logger.Warn("regeneration lease lost before start, skipping")
		return nil
	}

	err = w.regenerate(ctx, logger, postID, lease)
	if err == nil {
		metrics.IncRegenerations(metrics.ResultSuccess)
		return nil
	}
	if errors.Is(err, repository.ErrLeaseLost) {
		logger.Warn("regeneration lease lost, discarding generated content")
		return nil
	}

	metrics.IncRegenerations(metrics.ResultFailure)
	logger.Error("regeneration failed", "error", err)

	if rerr := w.retry.Do(ctx, func() error { return w.store.Posts.ReleaseLease(ctx, postID, lease) }); rerr != nil {
		logger.Error("failed to release lease", "error", rerr)
	}

	body := fmt.Sprintf("Content regeneration for post %s failed: %v\nThe trigger stays armed and will fire again on the next check.", postID, err)
	if nerr := w.notifier.Notify(ctx, "regeneration failed", body); nerr != nil {
		logger.Warn("failed to send notification", "error", nerr)
	}

	// The trigger check owns retries for this task kind
	return tasks.Permanent(err)
}

func (w *Worker) regenerate(ctx context.Context, logger *slog.Logger, postID, lease string) error {
	post, err := w.store.Posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if !post.IsActive {
		return fmt.Errorf("post %s is archived", postID)
	}
	if post.Trigger == nil {
		return fmt.Errorf("post %s: %w", postID, ErrNotArmed)
	}

	campaign, err := w.store.Campaigns.GetByID(ctx, post.CampaignID)
	if err != nil {
		return err
	}
	latest, err := w.store.Variants.Latest(ctx, postID)
	if err != nil {
		return err
	}
	slots, err := w.store.Metrics.ListByPost(ctx, postID)
	if err != nil {
		return err
	}

	req := llm.RegenerateRequest{
		GenerateRequest: generateRequest(campaign, post),
		Analysis:        buildAnalysis(post, latest, slots, w.now()),
		Instruction:     post.Trigger.Prompt,
	}
	for _, label := range models.Labels {
		if v, ok := latest[label]; ok {
			req.Prior = append(req.Prior, *v)
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, w.timeout)
	content, err := w.generator.Regenerate(genCtx, req)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to generate content: %w", err)
	}
	if err := content.Validate(); err != nil {
		return err
	}

	insight := models.Insight{
		Kind:   models.InsightRegeneration,
		PostID: postID,
		Message: fmt.Sprintf("Regenerated %q after %s %s %d (%s)",
			post.Title, post.Trigger.Metric, post.Trigger.Comparison, post.Trigger.Value, triggeredLabels(req.Analysis)),
	}

	err = w.retry.Do(ctx, func() error {
		return w.store.InTx(ctx, func(tx *repository.Store) error {
			if err := storeVariants(ctx, tx, postID, content); err != nil {
				return err
			}
			if err := tx.Posts.CompleteRegeneration(ctx, postID, lease); err != nil {
				return err
			}
			return tx.Campaigns.AppendInsight(ctx, post.CampaignID, insight)
		})
	})
	if err != nil {
		return err
	}

	logger.Info("content regenerated", "campaign_id", post.CampaignID, "metric", post.Trigger.Metric)
	return nil
}

// Generate writes the first A/B pair of a post. Posts that already have
// content or were archived in the meantime are left alone. Generator errors
// are returned as is so the queue retries them.
func (w *Worker) Generate(ctx context.Context, postID string) error {
	logger := w.logger.With("post_id", postID)

	post, err := w.store.Posts.GetByID(ctx, postID)
	if errors.Is(err, repository.ErrNotFound) {
		return tasks.Permanent(err)
	}
	if err != nil {
		return err
	}
	if !post.IsActive {
		logger.Info("skipping content generation for archived post")
		return nil
	}

	n, err := w.store.Variants.CountByPost(ctx, postID)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Debug("post already has content")
		return nil
	}

	campaign, err := w.store.Campaigns.GetByID(ctx, post.CampaignID)
	if err != nil {
		return err
	}

	genCtx, cancel := context.WithTimeout(ctx, w.timeout)
	content, err := w.generator.Generate(genCtx, generateRequest(campaign, post))
	cancel()
	if err != nil {
		return fmt.Errorf("failed to generate content: %w", err)
	}
	if err := content.Validate(); err != nil {
		return err
	}

	var scheduled bool
	err = w.retry.Do(ctx, func() error {
		return w.store.InTx(ctx, func(tx *repository.Store) error {
			if err := storeVariants(ctx, tx, postID, content); err != nil {
				return err
			}
			remaining, err := tx.Variants.CountPostsWithoutVariants(ctx, post.CampaignID)
			if err != nil {
				return err
			}
			if remaining > 0 {
				return nil
			}
			scheduled, err = tx.Campaigns.AdvancePhase(ctx, post.CampaignID, models.PhaseScheduled, models.PhaseContentCreation)
			return err
		})
	})
	if err != nil {
		return err
	}

	logger.Info("content generated", "campaign_id", post.CampaignID)
	if scheduled {
		logger.Info("all posts have content, campaign scheduled", "campaign_id", post.CampaignID)
	}
	return nil
}

func storeVariants(ctx context.Context, tx *repository.Store, postID string, content *llm.Content) error {
	for _, label := range models.Labels {
		v := content.Get(label)
		row := &models.ContentVariant{
			PostID:    postID,
			VariantID: label,
			Content:   v.Content,
			MediaURL:  v.MediaURL,
			Metadata: models.VariantMeta{
				Hook:      v.Hook,
				Hashtags:  v.Hashtags,
				Reasoning: v.Reasoning,
			},
		}
		if err := tx.Variants.Create(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func generateRequest(c *models.Campaign, p *models.Post) llm.GenerateRequest {
	return llm.GenerateRequest{
		Title:          p.Title,
		Description:    p.Description,
		Phase:          p.Phase,
		CampaignName:   c.Name,
		ProductContext: c.Description,
		Goals:          c.Metadata.Goals,
	}
}

// buildAnalysis reports each variant's counters and whether it met the
// trigger condition
func buildAnalysis(p *models.Post, latest map[models.VariantLabel]*models.ContentVariant,
	slots map[models.VariantLabel]*models.PostMetrics, now time.Time) llm.Analysis {

	t := p.Trigger
	a := llm.Analysis{
		Metric:     t.Metric,
		Comparison: t.Comparison,
		Threshold:  t.Value,
	}
	if p.PostedTime != nil {
		a.Elapsed = now.Sub(*p.PostedTime)
	}

	for _, label := range models.Labels {
		slot := slots[label]
		if slot == nil {
			continue
		}
		va := llm.VariantAnalysis{
			Label:       label,
			Likes:       slot.Likes,
			Retweets:    slot.Retweets,
			Comments:    slot.Comments,
			Impressions: slot.Impressions,
			CommentList: slot.CommentList,
		}
		if v, ok := latest[label]; ok {
			va.Content = v.Content
		}
		if current, ok := slot.Value(t.Metric); ok && slot.Published() {
			va.Triggered = t.Comparison.Compare(current, t.Value)
		}
		a.Variants = append(a.Variants, va)
	}
	return a
}

func triggeredLabels(a llm.Analysis) string {
	var out string
	for _, v := range a.Variants {
		if !v.Triggered {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += "variant " + string(v.Label)
	}
	if out == "" {
		return "no variant"
	}
	return out
}
