package models

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

// PostStatus is the publishing state of a post
type PostStatus string

const (
	StatusDraft         PostStatus = "draft"
	StatusPendingReview PostStatus = "pending_review"
	StatusScheduled     PostStatus = "scheduled"
	StatusPublished     PostStatus = "published"
	StatusAnalyzed      PostStatus = "analyzed"
)

// Valid reports whether s is a known post status
func (s PostStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingReview, StatusScheduled, StatusPublished, StatusAnalyzed:
		return true
	}
	return false
}

// VariantLabel names one side of an A/B pair
type VariantLabel string

const (
	VariantA VariantLabel = "A"
	VariantB VariantLabel = "B"
)

// Labels lists the variant labels in publishing order
var Labels = []VariantLabel{VariantA, VariantB}

// Valid reports whether l is A or B
func (l VariantLabel) Valid() bool {
	return l == VariantA || l == VariantB
}

// Metric is an engagement counter a trigger can watch
type Metric string

const (
	MetricLikes       Metric = "likes"
	MetricRetweets    Metric = "retweets"
	MetricComments    Metric = "comments"
	MetricImpressions Metric = "impressions"
)

// Valid reports whether m is a known metric
func (m Metric) Valid() bool {
	switch m {
	case MetricLikes, MetricRetweets, MetricComments, MetricImpressions:
		return true
	}
	return false
}

// Comparator is the comparison a trigger applies
type Comparator string

const (
	LessThan    Comparator = "<"
	Equal       Comparator = "="
	GreaterThan Comparator = ">"
)

// Valid reports whether c is a known comparator
func (c Comparator) Valid() bool {
	return c == LessThan || c == Equal || c == GreaterThan
}

// Compare applies c to (current, threshold)
func (c Comparator) Compare(current, threshold int64) bool {
	switch c {
	case LessThan:
		return current < threshold
	case Equal:
		return current == threshold
	case GreaterThan:
		return current > threshold
	}
	return false
}

// Trigger is the performance condition attached to a post
type Trigger struct {
	Metric     Metric     `json:"condition"`
	Value      int64      `json:"value"`
	Comparison Comparator `json:"comparison"`
	Duration   int64      `json:"duration"` // seconds, 0 = no gating
	Prompt     string     `json:"prompt"`
}

// Validate checks that the trigger is complete
// MaxTriggerDuration is the longest gating window in seconds, the most a
// time.Duration can hold
const MaxTriggerDuration = int64(math.MaxInt64 / int64(time.Second))

func (t *Trigger) Validate() error {
	if !t.Metric.Valid() {
		return fmt.Errorf("unknown metric %q", t.Metric)
	}
	if !t.Comparison.Valid() {
		return fmt.Errorf("unknown comparison %q", t.Comparison)
	}
	if t.Duration < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	if t.Duration > MaxTriggerDuration {
		return fmt.Errorf("duration must not exceed %d seconds", MaxTriggerDuration)
	}
	return nil
}

// Post is a node in a campaign's strategy graph
type Post struct {
	ID              string        `json:"id"`
	CampaignID      string        `json:"campaign_id"`
	NodeID          string        `json:"node_id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Phase           string        `json:"phase"`
	Version         int           `json:"version"`
	IsActive        bool          `json:"is_active"`
	Status          PostStatus    `json:"status"`
	PostedTime      *time.Time    `json:"posted_time,omitempty"`
	Trigger         *Trigger      `json:"trigger,omitempty"`
	SelectedVariant *VariantLabel `json:"selected_variant,omitempty"`
	Regenerating    bool          `json:"regenerating"`
	RegenStartedAt  *time.Time    `json:"regen_started_at,omitempty"`
	NextPosts       []string      `json:"next_posts,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// PhaseNumber returns the number encoded in the post's phase label
func (p *Post) PhaseNumber() int {
	return PhaseNumber(p.Phase)
}

var phasePattern = regexp.MustCompile(`(?i)phase\s*(\d+)`)

// PhaseNumber extracts N from labels like "Phase N" or "Phase N (New)".
// Labels without a number yield 0.
func PhaseNumber(label string) int {
	m := phasePattern.FindStringSubmatch(label)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// PhaseLabel formats the canonical label for phase n
func PhaseLabel(n int) string {
	return "Phase " + strconv.Itoa(n)
}

// Link is a directed edge between two posts
type Link struct {
	FromPostID string `json:"from_post_id"`
	ToPostID   string `json:"to_post_id"`
}
