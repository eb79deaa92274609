package models

import "time"

// DefaultPlatform is the platform variants target unless told otherwise
const DefaultPlatform = "x"

// ContentVariant is one generated body for a post. Several rows may share a
// label; the newest one is current.
type ContentVariant struct {
	ID        string       `json:"id"`
	PostID    string       `json:"post_id"`
	VariantID VariantLabel `json:"variant_id"`
	Content   string       `json:"content"`
	Platform  string       `json:"platform"`
	MediaURL  string       `json:"media_url,omitempty"`
	Metadata  VariantMeta  `json:"metadata"`
	CreatedAt time.Time    `json:"created_at"`
}

// VariantMeta carries the generator's notes about a variant
type VariantMeta struct {
	Hook      string   `json:"hook,omitempty"`
	Hashtags  []string `json:"hashtags,omitempty"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// PostMetrics holds the engagement counters of one published variant slot
type PostMetrics struct {
	PostID         string       `json:"post_id"`
	Variant        VariantLabel `json:"variant"`
	Likes          int64        `json:"likes"`
	Retweets       int64        `json:"retweets"`
	Comments       int64        `json:"comments"`
	Impressions    int64        `json:"impressions"`
	CommentList    []string     `json:"comment_list"`
	PlatformPostID string       `json:"platform_post_id,omitempty"`
	VariantRowID   string       `json:"variant_row_id,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Value returns the counter tracked by metric m
func (pm *PostMetrics) Value(m Metric) (int64, bool) {
	switch m {
	case MetricLikes:
		return pm.Likes, true
	case MetricRetweets:
		return pm.Retweets, true
	case MetricComments:
		return pm.Comments, true
	case MetricImpressions:
		return pm.Impressions, true
	}
	return 0, false
}

// Published reports whether the slot has a live platform post
func (pm *PostMetrics) Published() bool {
	return pm != nil && pm.PlatformPostID != ""
}
