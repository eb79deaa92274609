// Package poller refreshes engagement metrics for published variants and
// runs the trigger check on a fixed interval.
package poller

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
	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
	"github.com/LeeSinLiang/Janus-sub000/internal/trigger"
)

// batchSize is the most ids requested in one metrics call
const batchSize = 100

// BatchGateway is implemented by gateways that can fetch many posts at once
type BatchGateway interface {
	GetMetricsBatch(ctx context.Context, ids []string) (map[string]*platform.Metrics, error)
}

// Checker runs a trigger check
type Checker interface {
	Check(ctx context.Context) (*trigger.CheckResult, error)
}

// TaskLister lists queued tasks
type TaskLister interface {
	List(ctx context.Context, filter tasks.ListFilter) ([]*tasks.Task, error)
}

// RefreshResult summarizes one metrics refresh
type RefreshResult struct {
	Slots   int `json:"slots"`
	Updated int `json:"updated"`
	Missing int `json:"missing"`
	Failed  int `json:"failed"`
}

// Config contains poller settings
type Config struct {
	Interval time.Duration
	// LeaseTTL is how long a regeneration may hold its post before the
	// lease is considered abandoned
	LeaseTTL time.Duration
	// Tasks, when set, keeps leases whose regeneration task is still
	// queued or running from being released
	Tasks TaskLister
}

// Poller keeps metrics fresh and fires triggers
type Poller struct {
	store    *repository.Store
	retry    *retry.Executor
	gateway  platform.MetricsGateway
	checker  Checker
	interval time.Duration
	leaseTTL time.Duration
	tasks    TaskLister
	logger   *slog.Logger
	now      func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a poller. checker may be nil to only refresh metrics.
func New(store *repository.Store, exec *retry.Executor, gateway platform.MetricsGateway, checker Checker, cfg Config, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 15 * time.Minute
	}
	return &Poller{
		store:    store,
		retry:    exec,
		gateway:  gateway,
		checker:  checker,
		interval: cfg.Interval,
		leaseTTL: cfg.LeaseTTL,
		tasks:    cfg.Tasks,
		logger:   logger.With("component", "poller"),
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// Start starts the polling loop
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("starting poller", "interval", p.interval)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				if err := p.RunOnce(ctx); err != nil {
					p.logger.Error("poll failed", "error", err)
				}
			}
		}
	}()
}

// Stop stops the loop and waits for the current poll
func (p *Poller) Stop() {
	close(p.stopCh)
	p.wg.Wait()
	p.logger.Info("poller stopped")
}

// RunOnce refreshes metrics, frees abandoned regeneration leases and runs
// the trigger check
func (p *Poller) RunOnce(ctx context.Context) error {
	if _, err := p.RefreshMetrics(ctx); err != nil {
		// stale counters still let triggers fire
		p.logger.Warn("metrics refresh failed", "error", err)
	}

	released, err := p.ReleaseStaleLeases(ctx)
	if err != nil {
		return err
	}
	if len(released) > 0 {
		p.logger.Warn("released abandoned regeneration leases", "posts", released)
	}

	if p.checker == nil {
		return nil
	}
	res, err := p.checker.Check(ctx)
	if err != nil {
		return err
	}
	if len(res.Fired) > 0 {
		p.logger.Info("triggers fired", "checked", res.Checked, "fired", len(res.Fired))
	}
	return nil
}

// ReleaseStaleLeases frees posts whose regeneration started more than the
// lease TTL ago and has no task left in the queue
func (p *Poller) ReleaseStaleLeases(ctx context.Context) ([]string, error) {
	keep, err := p.queuedRegenerations(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := p.now().Add(-p.leaseTTL)
	return retry.DoValue(ctx, p.retry, func() ([]string, error) {
		return p.store.Posts.ReleaseStaleLeases(ctx, cutoff, keep)
	})
}

// queuedRegenerations returns the posts with an unfinished regeneration task
func (p *Poller) queuedRegenerations(ctx context.Context) (map[string]bool, error) {
	if p.tasks == nil {
		return nil, nil
	}

	list, err := p.tasks.List(ctx, tasks.ListFilter{Kind: tasks.KindRegenerateContent})
	if err != nil {
		return nil, fmt.Errorf("failed to list regeneration tasks: %w", err)
	}

	keep := make(map[string]bool)
	for _, t := range list {
		switch t.Status {
		case tasks.StatusPending, tasks.StatusRunning, tasks.StatusDeferred:
			keep[t.PostID] = true
		}
	}
	return keep, nil
}

// RefreshMetrics fetches counters for every live variant and stores them
func (p *Poller) RefreshMetrics(ctx context.Context) (*RefreshResult, error) {
	slots, err := p.store.Metrics.ListPollable(ctx)
	if err != nil {
		metrics.IncMetricsPolls(metrics.ResultFailure)
		return nil, err
	}

	res := &RefreshResult{Slots: len(slots)}
	if len(slots) == 0 {
		return res, nil
	}

	fetched, err := p.fetch(ctx, slots)
	if err != nil {
		metrics.IncMetricsPolls(metrics.ResultFailure)
		return res, err
	}

	for _, slot := range slots {
		m, ok := fetched[slot.PlatformPostID]
		if !ok {
			res.Missing++
			p.logger.Debug("platform post not found", "post_id", slot.PostID, "variant", slot.Variant, "platform_post_id", slot.PlatformPostID)
			continue
		}
		counts := repository.Counts{
			Likes:       m.Likes,
			Retweets:    m.Retweets,
			Comments:    m.Comments,
			Impressions: m.Impressions,
			CommentList: m.CommentList,
		}
		err := p.retry.Do(ctx, func() error {
			return p.store.Metrics.UpdateCounts(ctx, slot.PostID, slot.Variant, counts)
		})
		if err != nil {
			res.Failed++
			p.logger.Error("failed to store metrics", "post_id", slot.PostID, "variant", slot.Variant, "error", err)
			continue
		}
		res.Updated++
	}

	if res.Failed > 0 {
		metrics.IncMetricsPolls(metrics.ResultFailure)
	} else {
		metrics.IncMetricsPolls(metrics.ResultSuccess)
	}
	return res, nil
}

func (p *Poller) fetch(ctx context.Context, slots []models.PostMetrics) (map[string]*platform.Metrics, error) {
	out := make(map[string]*platform.Metrics, len(slots))

	if batch, ok := p.gateway.(BatchGateway); ok {
		ids := make([]string, 0, len(slots))
		for _, s := range slots {
			ids = append(ids, s.PlatformPostID)
		}
		for start := 0; start < len(ids); start += batchSize {
			end := min(start+batchSize, len(ids))
			got, err := batch.GetMetricsBatch(ctx, ids[start:end])
			if err != nil {
				return nil, err
			}
			for id, m := range got {
				out[id] = m
			}
		}
		return out, nil
	}

	for _, s := range slots {
		m, err := p.gateway.GetMetrics(ctx, s.PlatformPostID)
		if errors.Is(err, platform.ErrPostNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[s.PlatformPostID] = m
	}
	return out, nil
}
