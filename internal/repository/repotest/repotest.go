// Package repotest seeds stores for tests of the packages built on the
// repositories.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/db/dbtest"
	"github.com/LeeSinLiang/Janus-sub000/internal/models"
	"github.com/LeeSinLiang/Janus-sub000/internal/repository"
)

// NewStore returns a store over a fresh migrated database
func NewStore(t testing.TB) *repository.Store {
	t.Helper()
	return repository.NewStore(dbtest.New(t).DB)
}

// Campaign creates a campaign in the planning phase
func Campaign(t testing.TB, s *repository.Store, name string) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		Name:        name,
		Description: "Janus helps founders ship marketing on autopilot",
		Metadata:    models.CampaignMeta{Goals: "1000 signups"},
	}
	if err := s.Campaigns.Create(context.Background(), c); err != nil {
		t.Fatalf("failed to create campaign: %v", err)
	}
	return c
}

// Post creates an active draft post in phase
func Post(t testing.TB, s *repository.Store, campaignID, nodeID string, phase int) *models.Post {
	t.Helper()
	p := &models.Post{
		CampaignID:  campaignID,
		NodeID:      nodeID,
		Title:       "Post " + nodeID,
		Description: "Description of " + nodeID,
		Phase:       models.PhaseLabel(phase),
		IsActive:    true,
	}
	if err := s.Posts.Create(context.Background(), p); err != nil {
		t.Fatalf("failed to create post: %v", err)
	}
	return p
}

// Variants stores one A and one B variant for the post
func Variants(t testing.TB, s *repository.Store, postID string) map[models.VariantLabel]*models.ContentVariant {
	t.Helper()
	out := make(map[models.VariantLabel]*models.ContentVariant, 2)
	for _, label := range models.Labels {
		v := &models.ContentVariant{PostID: postID, VariantID: label, Content: "content " + string(label)}
		if err := s.Variants.Create(context.Background(), v); err != nil {
			t.Fatalf("failed to create variant: %v", err)
		}
		out[label] = v
	}
	return out
}

// Published creates a post with variants that went live at postedAt. Both
// slots are bound to platform ids "<nodeID>-A" and "<nodeID>-B".
func Published(t testing.TB, s *repository.Store, campaignID, nodeID string, phase int, postedAt time.Time, trigger *models.Trigger) *models.Post {
	t.Helper()
	ctx := context.Background()

	p := &models.Post{
		CampaignID:  campaignID,
		NodeID:      nodeID,
		Title:       "Post " + nodeID,
		Description: "Description of " + nodeID,
		Phase:       models.PhaseLabel(phase),
		IsActive:    true,
		Status:      models.StatusPublished,
		PostedTime:  &postedAt,
		Trigger:     trigger,
	}
	if err := s.Posts.Create(ctx, p); err != nil {
		t.Fatalf("failed to create post: %v", err)
	}

	for label, v := range Variants(t, s, p.ID) {
		if err := s.Metrics.UpsertPublished(ctx, p.ID, label, nodeID+"-"+string(label), v.ID); err != nil {
			t.Fatalf("failed to bind metrics slot: %v", err)
		}
	}
	return p
}

// SetCounts overwrites the counters of one slot
func SetCounts(t testing.TB, s *repository.Store, postID string, label models.VariantLabel, c repository.Counts) {
	t.Helper()
	if err := s.Metrics.UpdateCounts(context.Background(), postID, label, c); err != nil {
		t.Fatalf("failed to set counts: %v", err)
	}
}
