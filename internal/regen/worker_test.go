package regen

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/llm"
	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository/repotest"
	"github.com/LeeSinLiang/Janus-sub000/internal/retry"
	"github.com/LeeSinLiang/Janus-sub000/internal/tasks"
)

type fakeGenerator struct {
	llm.Mock
	err         error
	lastRequest llm.RegenerateRequest
	// during runs while the generator is busy
	during func()
}

func (f *fakeGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.Content, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.Mock.Generate(ctx, req)
}

func (f *fakeGenerator) Regenerate(ctx context.Context, req llm.RegenerateRequest) (*llm.Content, error) {
	f.lastRequest = req
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.Mock.Regenerate(ctx, req)
}

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *recordingNotifier) Notify(ctx context.Context, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return nil
}

func newTestWorker(t *testing.T, gen llm.ContentGenerator, n *recordingNotifier) (*Worker, *repository.Store) {
	t.Helper()
	store := repotest.NewStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWorker(store, retry.New(3, time.Millisecond, 5*time.Millisecond), gen, n, Config{GenerationTimeout: time.Second}, logger)
	return w, store
}

var lowLikes = &models.Trigger{Metric: models.MetricLikes, Value: 10, Comparison: models.LessThan, Duration: 3600, Prompt: "make it punchier"}

// armed seeds a published post whose trigger fired and whose lease is held
func armed(t *testing.T, store *repository.Store, campaignID, nodeID string) (*models.Post, string) {
	t.Helper()
	p := repotest.Published(t, store, campaignID, nodeID, 1, time.Now().Add(-2*time.Hour), lowLikes)
	repotest.SetCounts(t, store, p.ID, models.VariantA, repository.Counts{Likes: 3, Impressions: 400})
	repotest.SetCounts(t, store, p.ID, models.VariantB, repository.Counts{Likes: 12, Impressions: 500})

	lease, err := store.Posts.ClaimForRegeneration(context.Background(), p.ID, time.Now())
	if err != nil || lease == "" {
		t.Fatalf("ClaimForRegeneration() = %q, %v", lease, err)
	}
	return p, lease
}

func TestRegenerateStoresNewVersion(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	w, store := newTestWorker(t, gen, &recordingNotifier{})

	c := repotest.Campaign(t, store, "Launch")
	p, lease := armed(t, store, c.ID, "N1")

	if err := w.Regenerate(ctx, p.ID, lease); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}

	got, err := store.Posts.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != models.StatusDraft {
		t.Errorf("Status = %q, want draft", got.Status)
	}
	if got.Trigger != nil {
		t.Errorf("Trigger = %+v, want cleared", got.Trigger)
	}
	if got.SelectedVariant != nil {
		t.Errorf("SelectedVariant = %v, want cleared", *got.SelectedVariant)
	}
	if got.Regenerating {
		t.Error("lease should be released")
	}

	n, err := store.Variants.CountByPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("CountByPost() error = %v", err)
	}
	if n != 4 {
		t.Errorf("variant rows = %d, want 4", n)
	}

	latest, err := store.Variants.Latest(ctx, p.ID)
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if !strings.Contains(latest[models.VariantA].Content, "make it punchier") {
		t.Errorf("latest A = %q, want regenerated content", latest[models.VariantA].Content)
	}

	campaign, err := store.Campaigns.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(campaign.Insights) != 1 || campaign.Insights[0].Kind != models.InsightRegeneration {
		t.Fatalf("Insights = %+v", campaign.Insights)
	}
	if campaign.Insights[0].PostID != p.ID {
		t.Errorf("insight post = %q, want %q", campaign.Insights[0].PostID, p.ID)
	}
}

func TestRegenerateAnalysis(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	w, store := newTestWorker(t, gen, &recordingNotifier{})

	c := repotest.Campaign(t, store, "Launch")
	p, lease := armed(t, store, c.ID, "N1")

	if err := w.Regenerate(ctx, p.ID, lease); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}

	req := gen.lastRequest
	if req.Instruction != "make it punchier" {
		t.Errorf("Instruction = %q", req.Instruction)
	}
	if len(req.Prior) != 2 {
		t.Fatalf("Prior = %d variants, want 2", len(req.Prior))
	}
	if req.Analysis.Metric != models.MetricLikes || req.Analysis.Threshold != 10 {
		t.Errorf("Analysis = %+v", req.Analysis)
	}
	if req.Analysis.Elapsed < 2*time.Hour-time.Minute {
		t.Errorf("Elapsed = %v, want about 2h", req.Analysis.Elapsed)
	}

	triggered := map[models.VariantLabel]bool{}
	for _, v := range req.Analysis.Variants {
		triggered[v.Label] = v.Triggered
	}
	if !triggered[models.VariantA] || triggered[models.VariantB] {
		t.Errorf("triggered = %v, want only A", triggered)
	}
}

func TestRegenerateHistoryGrows(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWorker(t, &fakeGenerator{}, &recordingNotifier{})

	c := repotest.Campaign(t, store, "Launch")
	p := repotest.Published(t, store, c.ID, "N1", 1, time.Now().Add(-2*time.Hour), nil)

	const rounds = 3
	for i := 0; i < rounds; i++ {
		if err := store.Posts.SetTrigger(ctx, p.ID, lowLikes); err != nil {
			t.Fatalf("SetTrigger() error = %v", err)
		}
		lease, err := store.Posts.ClaimForRegeneration(ctx, p.ID, time.Now())
		if err != nil || lease == "" {
			t.Fatalf("ClaimForRegeneration() = %q, %v", lease, err)
		}
		if err := w.Regenerate(ctx, p.ID, lease); err != nil {
			t.Fatalf("Regenerate() round %d error = %v", i, err)
		}
	}

	variants, err := store.Variants.ListByPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("ListByPost() error = %v", err)
	}
	countA := 0
	for _, v := range variants {
		if v.VariantID == models.VariantA {
			countA++
		}
	}
	if countA != rounds+1 {
		t.Errorf("A rows = %d, want %d", countA, rounds+1)
	}

	campaign, err := store.Campaigns.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if len(campaign.Insights) != rounds {
		t.Errorf("Insights = %d, want %d", len(campaign.Insights), rounds)
	}
}

func TestRegenerateFailureKeepsTrigger(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{err: errors.New("model overloaded")}
	n := &recordingNotifier{}
	w, store := newTestWorker(t, gen, n)

	c := repotest.Campaign(t, store, "Launch")
	p, lease := armed(t, store, c.ID, "N1")

	err := w.Regenerate(ctx, p.ID, lease)
	if err == nil {
		t.Fatal("Regenerate() should fail")
	}
	if !tasks.IsPermanent(err) {
		t.Errorf("error %v should be permanent", err)
	}

	got, err := store.Posts.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Trigger == nil {
		t.Error("trigger should stay armed")
	}
	if got.Regenerating {
		t.Error("lease should be released")
	}
	if got.Status != models.StatusPublished {
		t.Errorf("Status = %q, want published", got.Status)
	}

	count, _ := store.Variants.CountByPost(ctx, p.ID)
	if count != 2 {
		t.Errorf("variant rows = %d, want 2", count)
	}
	if len(n.subjects) != 1 {
		t.Errorf("notifications = %v, want 1", n.subjects)
	}

	// the next check can claim it again
	again, err := store.Posts.ClaimForRegeneration(ctx, p.ID, time.Now())
	if err != nil || again == "" {
		t.Errorf("ClaimForRegeneration() = %q, %v; want claimable", again, err)
	}
}

func TestRegenerateWithoutTrigger(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWorker(t, &fakeGenerator{}, &recordingNotifier{})

	c := repotest.Campaign(t, store, "Launch")
	p, lease := armed(t, store, c.ID, "N1")

	// cleared while the task waited
	if err := store.Posts.SetTrigger(ctx, p.ID, nil); err != nil {
		t.Fatalf("SetTrigger() error = %v", err)
	}

	err := w.Regenerate(ctx, p.ID, lease)
	if !errors.Is(err, ErrNotArmed) {
		t.Fatalf("Regenerate() error = %v, want ErrNotArmed", err)
	}
	got, _ := store.Posts.GetByID(ctx, p.ID)
	if got.Regenerating {
		t.Error("lease should be released")
	}
}

func TestRegenerateReapedWhileQueued(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	n := &recordingNotifier{}
	w, store := newTestWorker(t, gen, n)

	c := repotest.Campaign(t, store, "Launch")
	p, stale := armed(t, store, c.ID, "N1")

	// the lease expires while the task sits in the queue and the next
	// check claims the post again
	if _, err := store.Posts.ReleaseStaleLeases(ctx, time.Now().Add(time.Minute), nil); err != nil {
		t.Fatalf("ReleaseStaleLeases() error = %v", err)
	}
	current, err := store.Posts.ClaimForRegeneration(ctx, p.ID, time.Now())
	if err != nil || current == "" {
		t.Fatalf("ClaimForRegeneration() = %q, %v", current, err)
	}

	if err := w.Regenerate(ctx, p.ID, stale); err != nil {
		t.Fatalf("Regenerate() with reaped lease error = %v", err)
	}
	if count, _ := store.Variants.CountByPost(ctx, p.ID); count != 2 {
		t.Errorf("variant rows = %d, want 2", count)
	}
	if len(n.subjects) != 0 {
		t.Errorf("notifications = %v, want none", n.subjects)
	}

	if err := w.Regenerate(ctx, p.ID, current); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if count, _ := store.Variants.CountByPost(ctx, p.ID); count != 4 {
		t.Errorf("variant rows = %d, want 4", count)
	}
}

func TestRegenerateLeaseLostDuringGeneration(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{}
	w, store := newTestWorker(t, gen, &recordingNotifier{})

	c := repotest.Campaign(t, store, "Launch")
	p, lease := armed(t, store, c.ID, "N1")

	var current string
	gen.during = func() {
		store.Posts.ReleaseStaleLeases(ctx, time.Now().Add(time.Minute), nil)
		current, _ = store.Posts.ClaimForRegeneration(ctx, p.ID, time.Now())
	}

	if err := w.Regenerate(ctx, p.ID, lease); err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if current == "" {
		t.Fatal("post was not reclaimed")
	}

	got, err := store.Posts.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !got.Regenerating || got.Trigger == nil || got.Status != models.StatusPublished {
		t.Errorf("post = %+v, want the new claim untouched", got)
	}
	if count, _ := store.Variants.CountByPost(ctx, p.ID); count != 2 {
		t.Errorf("variant rows = %d, want 2", count)
	}
}

func TestGenerateAdvancesPhase(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWorker(t, &fakeGenerator{}, &recordingNotifier{})

	c := repotest.Campaign(t, store, "Launch")
	if _, err := store.Campaigns.AdvancePhase(ctx, c.ID, models.PhaseContentCreation); err != nil {
		t.Fatalf("AdvancePhase() error = %v", err)
	}
	p1 := repotest.Post(t, store, c.ID, "N1", 1)
	p2 := repotest.Post(t, store, c.ID, "N2", 2)

	if err := w.Generate(ctx, p1.ID); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	campaign, _ := store.Campaigns.GetByID(ctx, c.ID)
	if campaign.Phase != models.PhaseContentCreation {
		t.Errorf("Phase = %q, want content_creation while posts lack content", campaign.Phase)
	}

	if err := w.Generate(ctx, p2.ID); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	campaign, _ = store.Campaigns.GetByID(ctx, c.ID)
	if campaign.Phase != models.PhaseScheduled {
		t.Errorf("Phase = %q, want scheduled", campaign.Phase)
	}

	// a second run is a no-op
	if err := w.Generate(ctx, p1.ID); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	n, _ := store.Variants.CountByPost(ctx, p1.ID)
	if n != 2 {
		t.Errorf("variant rows = %d, want 2", n)
	}
}

func TestGenerateErrors(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGenerator{err: errors.New("timeout")}
	w, store := newTestWorker(t, gen, &recordingNotifier{})

	c := repotest.Campaign(t, store, "Launch")
	p := repotest.Post(t, store, c.ID, "N1", 1)

	err := w.Generate(ctx, p.ID)
	if err == nil {
		t.Fatal("Generate() should fail")
	}
	if tasks.IsPermanent(err) {
		t.Error("generator errors should be retried")
	}

	err = w.Generate(ctx, "missing")
	if !tasks.IsPermanent(err) {
		t.Errorf("Generate(missing) error = %v, want permanent", err)
	}
}

func TestRegisterRoutesKinds(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWorker(t, &fakeGenerator{}, &recordingNotifier{})
	mux := tasks.NewMux()
	w.Register(mux)

	c := repotest.Campaign(t, store, "Launch")
	p := repotest.Post(t, store, c.ID, "N1", 1)

	if err := mux.Handle(ctx, &tasks.Task{Kind: tasks.KindGenerateContent, PostID: p.ID}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	n, _ := store.Variants.CountByPost(ctx, p.ID)
	if n != 2 {
		t.Errorf("variant rows = %d, want 2", n)
	}
}
