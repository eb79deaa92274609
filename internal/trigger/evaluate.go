// Package trigger decides which published posts have met their performance
// condition and dispatches them for regeneration.
package trigger

import (
	"time"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

// Snapshot is a trigger candidate with its metric slots
type Snapshot struct {
	Post    models.Post
	Metrics map[models.VariantLabel]*models.PostMetrics
}

// Firing is a post whose condition holds for at least one variant
type Firing struct {
	PostID     string                        `json:"post_id"`
	CampaignID string                        `json:"campaign_id"`
	Metric     models.Metric                 `json:"metric"`
	Comparison models.Comparator             `json:"comparison"`
	Threshold  int64                         `json:"threshold"`
	Variants   []models.VariantLabel         `json:"variants"`
	Values     map[models.VariantLabel]int64 `json:"values"`
	Elapsed    time.Duration                 `json:"elapsed"`
}

// Evaluate returns the firings among snaps at time now. It has no side
// effects; posts that are not published, not active, unarmed, too young or
// watch an unknown metric are left out.
func Evaluate(now time.Time, snaps []Snapshot) []Firing {
	var out []Firing
	for i := range snaps {
		if f, ok := evaluate(now, &snaps[i]); ok {
			out = append(out, f)
		}
	}
	return out
}

func evaluate(now time.Time, s *Snapshot) (Firing, bool) {
	p := &s.Post
	t := p.Trigger
	if t == nil || !p.IsActive || p.Status != models.StatusPublished {
		return Firing{}, false
	}
	if !t.Metric.Valid() || !t.Comparison.Valid() {
		return Firing{}, false
	}

	var elapsed time.Duration
	if p.PostedTime != nil {
		elapsed = now.Sub(*p.PostedTime)
	}
	if t.Duration > 0 {
		if p.PostedTime == nil || elapsed < time.Duration(t.Duration)*time.Second {
			return Firing{}, false
		}
	}

	f := Firing{
		PostID:     p.ID,
		CampaignID: p.CampaignID,
		Metric:     t.Metric,
		Comparison: t.Comparison,
		Threshold:  t.Value,
		Values:     make(map[models.VariantLabel]int64, 2),
		Elapsed:    elapsed,
	}

	for _, label := range models.Labels {
		slot := s.Metrics[label]
		if !slot.Published() {
			continue
		}
		current, ok := slot.Value(t.Metric)
		if !ok {
			continue
		}
		f.Values[label] = current
		if t.Comparison.Compare(current, t.Value) {
			f.Variants = append(f.Variants, label)
		}
	}

	return f, len(f.Variants) > 0
}
