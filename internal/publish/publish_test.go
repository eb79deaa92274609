package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository/repotest"
	"github.com/LeeSinLiang/Janus-sub000/internal/retry"
)

// mockPublisher fails any text containing a configured marker
type mockPublisher struct {
	mu     sync.Mutex
	failOn map[string]error
	posted []string
}

func (m *mockPublisher) Post(ctx context.Context, text, mediaURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for marker, err := range m.failOn {
		if strings.Contains(text, marker) {
			return "", err
		}
	}
	m.posted = append(m.posted, text)
	return "tw-" + text, nil
}

func newTestPipeline(t *testing.T, pub *mockPublisher) (*Pipeline, *repository.Store) {
	t.Helper()
	store := repotest.NewStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPipeline(store, retry.New(3, time.Millisecond, 5*time.Millisecond), pub, logger), store
}

func TestPublishBothVariants(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	p, store := newTestPipeline(t, pub)

	c := repotest.Campaign(t, store, "Launch")
	if _, err := store.Campaigns.AdvancePhase(ctx, c.ID, models.PhaseScheduled); err != nil {
		t.Fatalf("AdvancePhase() error = %v", err)
	}
	post := repotest.Post(t, store, c.ID, "N1", 1)
	variants := repotest.Variants(t, store, post.ID)

	res, err := p.Publish(ctx, post.ID)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if res.Status != models.StatusPublished || res.PostedAt == nil {
		t.Errorf("Result = %+v", res)
	}
	if len(pub.posted) != 2 {
		t.Errorf("posted = %v", pub.posted)
	}

	slots, err := store.Metrics.ListByPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("ListByPost() error = %v", err)
	}
	for _, label := range models.Labels {
		slot := slots[label]
		if !slot.Published() {
			t.Fatalf("slot %s not bound", label)
		}
		if slot.VariantRowID != variants[label].ID {
			t.Errorf("slot %s variant row = %q, want %q", label, slot.VariantRowID, variants[label].ID)
		}
		if slot.PlatformPostID != "tw-content "+string(label) {
			t.Errorf("slot %s platform id = %q", label, slot.PlatformPostID)
		}
	}

	campaign, _ := store.Campaigns.GetByID(ctx, c.ID)
	if campaign.Phase != models.PhaseActive {
		t.Errorf("Phase = %q, want active", campaign.Phase)
	}
}

func TestPublishPartialFailure(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{failOn: map[string]error{"content B": errors.New("rate limited")}}
	p, store := newTestPipeline(t, pub)

	c := repotest.Campaign(t, store, "Launch")
	post := repotest.Post(t, store, c.ID, "N1", 1)
	repotest.Variants(t, store, post.ID)

	res, err := p.Publish(ctx, post.ID)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if res.Status != models.StatusPublished {
		t.Errorf("Status = %q, want published", res.Status)
	}

	var failed *VariantResult
	for i := range res.Variants {
		if res.Variants[i].Label == models.VariantB {
			failed = &res.Variants[i]
		}
	}
	if failed == nil || !strings.Contains(failed.Error, "rate limited") {
		t.Errorf("variant B result = %+v", failed)
	}

	slots, _ := store.Metrics.ListByPost(ctx, post.ID)
	if !slots[models.VariantA].Published() {
		t.Error("slot A should be bound")
	}
	if slots[models.VariantB].Published() {
		t.Error("slot B should not be bound")
	}

	got, _ := store.Posts.GetByID(ctx, post.ID)
	firstPosted := *got.PostedTime

	// retrying publishes only the missing variant and keeps the posted time
	pub.failOn = nil
	res, err = p.Publish(ctx, post.ID)
	if err != nil {
		t.Fatalf("Publish() retry error = %v", err)
	}
	if len(pub.posted) != 2 {
		t.Errorf("posted = %v, want A once and B once", pub.posted)
	}
	if !res.PostedAt.Equal(firstPosted) {
		t.Errorf("PostedAt = %v, want %v", res.PostedAt, firstPosted)
	}
}

func TestPublishBothFail(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{failOn: map[string]error{"content": errors.New("platform down")}}
	p, store := newTestPipeline(t, pub)

	c := repotest.Campaign(t, store, "Launch")
	post := repotest.Post(t, store, c.ID, "N1", 1)
	repotest.Variants(t, store, post.ID)

	res, err := p.Publish(ctx, post.ID)
	if !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("Publish() error = %v, want ErrPublishFailed", err)
	}
	if strings.Count(err.Error(), "platform down") != 2 {
		t.Errorf("error %q should carry both causes", err)
	}
	if len(res.Variants) != 2 {
		t.Errorf("Variants = %+v", res.Variants)
	}

	got, _ := store.Posts.GetByID(ctx, post.ID)
	if got.Status != models.StatusDraft || got.PostedTime != nil {
		t.Errorf("post = %s posted %v, want untouched draft", got.Status, got.PostedTime)
	}
}

func TestPublishAlreadyLive(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	p, store := newTestPipeline(t, pub)

	c := repotest.Campaign(t, store, "Launch")
	post := repotest.Published(t, store, c.ID, "N1", 1, time.Now().Add(-time.Hour), nil)

	res, err := p.Publish(ctx, post.ID)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(pub.posted) != 0 {
		t.Errorf("posted = %v, want nothing", pub.posted)
	}
	for _, v := range res.Variants {
		if !v.AlreadyLive {
			t.Errorf("variant %s should be already live", v.Label)
		}
	}
}

func TestRepublishAfterRegenerationUnbindsFailedVariant(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{failOn: map[string]error{"regenerated B": errors.New("rate limited")}}
	p, store := newTestPipeline(t, pub)

	c := repotest.Campaign(t, store, "Launch")
	trig := &models.Trigger{Metric: models.MetricLikes, Value: 5, Comparison: models.LessThan}
	post := repotest.Published(t, store, c.ID, "N1", 1, time.Now().Add(-time.Hour), trig)
	repotest.SetCounts(t, store, post.ID, models.VariantB, repository.Counts{Likes: 2, Impressions: 90})

	// regeneration stores a new pair and resets the post to draft
	lease, err := store.Posts.ClaimForRegeneration(ctx, post.ID, time.Now())
	if err != nil || lease == "" {
		t.Fatalf("ClaimForRegeneration() = %q, %v", lease, err)
	}
	fresh := make(map[models.VariantLabel]*models.ContentVariant)
	for _, label := range models.Labels {
		v := &models.ContentVariant{PostID: post.ID, VariantID: label, Content: "regenerated " + string(label)}
		if err := store.Variants.Create(ctx, v); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		fresh[label] = v
	}
	if err := store.Posts.CompleteRegeneration(ctx, post.ID, lease); err != nil {
		t.Fatalf("CompleteRegeneration() error = %v", err)
	}

	res, err := p.Publish(ctx, post.ID)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if res.Status != models.StatusPublished {
		t.Errorf("Status = %q, want published", res.Status)
	}

	slots, err := store.Metrics.ListByPost(ctx, post.ID)
	if err != nil {
		t.Fatalf("ListByPost() error = %v", err)
	}
	a, b := slots[models.VariantA], slots[models.VariantB]
	if !a.Published() || a.VariantRowID != fresh[models.VariantA].ID {
		t.Errorf("slot A = %+v, want bound to the regenerated row", a)
	}
	if b.Published() || b.VariantRowID != "" {
		t.Errorf("slot B = %+v, want unbound", b)
	}
	if b.Likes != 0 || b.Impressions != 0 {
		t.Errorf("slot B counters = %d likes, %d impressions, want zeroed", b.Likes, b.Impressions)
	}
	for _, v := range res.Variants {
		if v.Label == models.VariantB && (v.PlatformPostID != "" || v.Error == "") {
			t.Errorf("variant B result = %+v", v)
		}
	}

	pollable, err := store.Metrics.ListPollable(ctx)
	if err != nil {
		t.Fatalf("ListPollable() error = %v", err)
	}
	for _, slot := range pollable {
		if slot.PlatformPostID == "N1-B" {
			t.Error("superseded platform post is still polled")
		}
	}
}

func TestPublishErrors(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPipeline(t, &mockPublisher{})

	c := repotest.Campaign(t, store, "Launch")
	empty := repotest.Post(t, store, c.ID, "N1", 1)

	archived := repotest.Post(t, store, c.ID, "N2", 2)
	repotest.Variants(t, store, archived.ID)
	if _, err := store.Posts.ArchiveFromPhase(ctx, c.ID, 2); err != nil {
		t.Fatalf("ArchiveFromPhase() error = %v", err)
	}

	tests := []struct {
		name   string
		postID string
		want   error
	}{
		{"no variants", empty.ID, ErrNoVariants},
		{"archived", archived.ID, ErrArchived},
		{"missing", "missing", repository.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Publish(ctx, tt.postID); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}
