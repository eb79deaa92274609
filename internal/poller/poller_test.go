package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/platform"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository/repotest"
	"github.com/LeeSinLiang/Janus-sub000/internal/retry"
	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
	"github.com/LeeSinLiang/Janus-sub000/internal/trigger"
)

type mockGateway struct {
	metrics map[string]*platform.Metrics
	err     error
	calls   int
}

func (m *mockGateway) GetMetrics(ctx context.Context, id string) (*platform.Metrics, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	got, ok := m.metrics[id]
	if !ok {
		return nil, platform.ErrPostNotFound
	}
	return got, nil
}

type mockBatchGateway struct {
	mockGateway
	batches [][]string
}

func (m *mockBatchGateway) GetMetricsBatch(ctx context.Context, ids []string) (map[string]*platform.Metrics, error) {
	m.batches = append(m.batches, ids)
	out := make(map[string]*platform.Metrics)
	for _, id := range ids {
		if got, ok := m.metrics[id]; ok {
			out[id] = got
		}
	}
	return out, nil
}

type mockChecker struct {
	calls int
	err   error
}

func (m *mockChecker) Check(ctx context.Context) (*trigger.CheckResult, error) {
	m.calls++
	return &trigger.CheckResult{}, m.err
}

func newTestPoller(t *testing.T, gw platform.MetricsGateway, checker Checker) (*Poller, *repository.Store) {
	t.Helper()
	store := repotest.NewStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(store, retry.New(3, time.Millisecond, 5*time.Millisecond), gw, checker, Config{Interval: time.Hour, LeaseTTL: 10 * time.Minute}, logger)
	return p, store
}

func TestRefreshMetrics(t *testing.T) {
	ctx := context.Background()
	gw := &mockGateway{metrics: map[string]*platform.Metrics{
		"N1-A": {Likes: 7, Impressions: 120, CommentList: []string{"nice"}},
		"N1-B": {Likes: 2, Retweets: 1},
	}}
	p, store := newTestPoller(t, gw, nil)

	c := repotest.Campaign(t, store, "Launch")
	post := repotest.Published(t, store, c.ID, "N1", 1, time.Now(), nil)
	gone := repotest.Published(t, store, c.ID, "N2", 1, time.Now(), nil)

	res, err := p.RefreshMetrics(ctx)
	if err != nil {
		t.Fatalf("RefreshMetrics() error = %v", err)
	}
	if res.Slots != 4 || res.Updated != 2 || res.Missing != 2 {
		t.Errorf("Result = %+v", res)
	}

	slots, _ := store.Metrics.ListByPost(ctx, post.ID)
	a := slots[models.VariantA]
	if a.Likes != 7 || a.Impressions != 120 || len(a.CommentList) != 1 {
		t.Errorf("slot A = %+v", a)
	}
	if b := slots[models.VariantB]; b.Likes != 2 || b.Retweets != 1 {
		t.Errorf("slot B = %+v", b)
	}

	slots, _ = store.Metrics.ListByPost(ctx, gone.ID)
	if slots[models.VariantA].Likes != 0 {
		t.Errorf("missing post counters changed: %+v", slots[models.VariantA])
	}
}

func TestRefreshMetricsBatches(t *testing.T) {
	gw := &mockBatchGateway{mockGateway: mockGateway{metrics: map[string]*platform.Metrics{"N1-A": {Likes: 1}}}}
	p, store := newTestPoller(t, gw, nil)

	c := repotest.Campaign(t, store, "Launch")
	repotest.Published(t, store, c.ID, "N1", 1, time.Now(), nil)

	res, err := p.RefreshMetrics(context.Background())
	if err != nil {
		t.Fatalf("RefreshMetrics() error = %v", err)
	}
	if len(gw.batches) != 1 || len(gw.batches[0]) != 2 {
		t.Errorf("batches = %v", gw.batches)
	}
	if gw.calls != 0 {
		t.Errorf("single fetches = %d, want 0", gw.calls)
	}
	if res.Updated != 1 || res.Missing != 1 {
		t.Errorf("Result = %+v", res)
	}
}

func TestRefreshMetricsGatewayError(t *testing.T) {
	gw := &mockGateway{err: errors.New("connection refused")}
	p, store := newTestPoller(t, gw, nil)

	c := repotest.Campaign(t, store, "Launch")
	repotest.Published(t, store, c.ID, "N1", 1, time.Now(), nil)

	if _, err := p.RefreshMetrics(context.Background()); err == nil {
		t.Error("RefreshMetrics() should fail")
	}
}

func TestRefreshMetricsSkipsUnpublished(t *testing.T) {
	gw := &mockGateway{}
	p, store := newTestPoller(t, gw, nil)

	c := repotest.Campaign(t, store, "Launch")
	post := repotest.Post(t, store, c.ID, "N1", 1)
	repotest.Variants(t, store, post.ID)

	res, err := p.RefreshMetrics(context.Background())
	if err != nil {
		t.Fatalf("RefreshMetrics() error = %v", err)
	}
	if res.Slots != 0 || gw.calls != 0 {
		t.Errorf("Result = %+v, calls = %d", res, gw.calls)
	}
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	checker := &mockChecker{}
	p, store := newTestPoller(t, &mockGateway{err: errors.New("down")}, checker)

	c := repotest.Campaign(t, store, "Launch")
	trig := &models.Trigger{Metric: models.MetricLikes, Value: 5, Comparison: models.LessThan}
	stale := repotest.Published(t, store, c.ID, "N1", 1, time.Now(), trig)
	fresh := repotest.Published(t, store, c.ID, "N2", 1, time.Now(), trig)

	if lease, _ := store.Posts.ClaimForRegeneration(ctx, stale.ID, time.Now().Add(-time.Hour)); lease == "" {
		t.Fatal("failed to claim stale post")
	}
	if lease, _ := store.Posts.ClaimForRegeneration(ctx, fresh.ID, time.Now()); lease == "" {
		t.Fatal("failed to claim fresh post")
	}

	// a failed refresh does not stop the check
	if err := p.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if checker.calls != 1 {
		t.Errorf("checks = %d, want 1", checker.calls)
	}

	got, _ := store.Posts.GetByID(ctx, stale.ID)
	if got.Regenerating {
		t.Error("stale lease should be released")
	}
	got, _ = store.Posts.GetByID(ctx, fresh.ID)
	if !got.Regenerating {
		t.Error("fresh lease should be kept")
	}

	checker.err = errors.New("db locked")
	if err := p.RunOnce(ctx); err == nil {
		t.Error("RunOnce() should return the check error")
	}
}

type mockTasks struct {
	tasks []*tasks.Task
}

func (m *mockTasks) List(ctx context.Context, filter tasks.ListFilter) ([]*tasks.Task, error) {
	var out []*tasks.Task
	for _, t := range m.tasks {
		if filter.Kind == "" || t.Kind == filter.Kind {
			out = append(out, t)
		}
	}
	return out, nil
}

func TestStaleLeaseKeptWhileTaskQueued(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPoller(t, &mockGateway{}, nil)

	c := repotest.Campaign(t, store, "Launch")
	trig := &models.Trigger{Metric: models.MetricLikes, Value: 5, Comparison: models.LessThan}
	waiting := repotest.Published(t, store, c.ID, "N1", 1, time.Now(), trig)
	finished := repotest.Published(t, store, c.ID, "N2", 1, time.Now(), trig)

	for _, post := range []*models.Post{waiting, finished} {
		if lease, _ := store.Posts.ClaimForRegeneration(ctx, post.ID, time.Now().Add(-time.Hour)); lease == "" {
			t.Fatal("failed to claim post")
		}
	}
	p.tasks = &mockTasks{tasks: []*tasks.Task{
		{Kind: tasks.KindRegenerateContent, PostID: waiting.ID, Status: tasks.StatusPending},
		{Kind: tasks.KindRegenerateContent, PostID: finished.ID, Status: tasks.StatusFailed},
		{Kind: tasks.KindGenerateContent, PostID: finished.ID, Status: tasks.StatusPending},
	}}

	released, err := p.ReleaseStaleLeases(ctx)
	if err != nil {
		t.Fatalf("ReleaseStaleLeases() error = %v", err)
	}
	if len(released) != 1 || released[0] != finished.ID {
		t.Errorf("released = %v, want [%s]", released, finished.ID)
	}

	got, _ := store.Posts.GetByID(ctx, waiting.ID)
	if !got.Regenerating {
		t.Error("lease of a queued regeneration should be kept")
	}
}

func TestStartStop(t *testing.T) {
	checker := &mockChecker{}
	p, _ := newTestPoller(t, &mockGateway{}, checker)
	p.interval = 5 * time.Millisecond

	p.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	if checker.calls == 0 {
		t.Error("poller never ran")
	}
}
