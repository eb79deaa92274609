package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

type MetricsRepository struct {
	db DBTX
}

func NewMetricsRepository(db DBTX) *MetricsRepository {
	return &MetricsRepository{db: db}
}

const metricsColumns = `post_id, variant, likes, retweets, comments, impressions, comment_list, platform_post_id, variant_row_id, updated_at`

// Counts is a snapshot of engagement counters fetched from the platform
type Counts struct {
	Likes       int64
	Retweets    int64
	Comments    int64
	Impressions int64
	CommentList []string
}

// UpsertPublished binds a variant slot to a freshly published platform post
// and zeroes its counters
func (r *MetricsRepository) UpsertPublished(ctx context.Context, postID string, label models.VariantLabel, platformPostID, variantRowID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO post_metrics (post_id, variant, likes, retweets, comments, impressions, comment_list,
			platform_post_id, variant_row_id, updated_at)
		VALUES (?, ?, 0, 0, 0, 0, '[]', ?, ?, ?)
		ON CONFLICT (post_id, variant) DO UPDATE SET
			likes = 0, retweets = 0, comments = 0, impressions = 0, comment_list = '[]',
			platform_post_id = excluded.platform_post_id,
			variant_row_id = excluded.variant_row_id,
			updated_at = excluded.updated_at`,
		postID, string(label), platformPostID, variantRowID, now())
	if err != nil {
		return fmt.Errorf("failed to store published variant: %w", err)
	}
	return nil
}

// Unbind detaches a slot from its platform post and zeroes its counters.
// Missing slots are ignored.
func (r *MetricsRepository) Unbind(ctx context.Context, postID string, label models.VariantLabel) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE post_metrics SET likes = 0, retweets = 0, comments = 0, impressions = 0, comment_list = '[]',
			platform_post_id = NULL, variant_row_id = NULL, updated_at = ?
		WHERE post_id = ? AND variant = ?`, now(), postID, string(label))
	if err != nil {
		return fmt.Errorf("failed to unbind metrics slot: %w", err)
	}
	return nil
}

// UpdateCounts overwrites the counters of a slot with the latest poll
func (r *MetricsRepository) UpdateCounts(ctx context.Context, postID string, label models.VariantLabel, c Counts) error {
	comments := c.CommentList
	if comments == nil {
		comments = []string{}
	}
	list, err := json.Marshal(comments)
	if err != nil {
		return fmt.Errorf("failed to marshal comments: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE post_metrics SET likes = ?, retweets = ?, comments = ?, impressions = ?, comment_list = ?, updated_at = ?
		WHERE post_id = ? AND variant = ?`,
		c.Likes, c.Retweets, c.Comments, c.Impressions, string(list), now(), postID, string(label))
	if err != nil {
		return fmt.Errorf("failed to update metrics: %w", err)
	}
	return expectOne(res, "metrics", postID+"/"+string(label))
}

// ListByPost returns the metric slots of a post keyed by variant label
func (r *MetricsRepository) ListByPost(ctx context.Context, postID string) (map[models.VariantLabel]*models.PostMetrics, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+metricsColumns+` FROM post_metrics WHERE post_id = ?`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	out := make(map[models.VariantLabel]*models.PostMetrics, 2)
	for rows.Next() {
		pm, err := scanMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metrics: %w", err)
		}
		out[pm.Variant] = pm
	}
	return out, rows.Err()
}

// ListPollable returns every slot with a live platform post on an active,
// published post
func (r *MetricsRepository) ListPollable(ctx context.Context) ([]models.PostMetrics, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.post_id, m.variant, m.likes, m.retweets, m.comments, m.impressions, m.comment_list,
			m.platform_post_id, m.variant_row_id, m.updated_at
		FROM post_metrics m
		JOIN posts p ON p.id = m.post_id
		WHERE p.is_active = 1 AND p.status = ? AND m.platform_post_id IS NOT NULL AND m.platform_post_id != ''
		ORDER BY m.updated_at`, string(models.StatusPublished))
	if err != nil {
		return nil, fmt.Errorf("failed to list pollable metrics: %w", err)
	}
	defer rows.Close()

	var out []models.PostMetrics
	for rows.Next() {
		pm, err := scanMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan metrics: %w", err)
		}
		out = append(out, *pm)
	}
	return out, rows.Err()
}

func scanMetrics(row rowScanner) (*models.PostMetrics, error) {
	var (
		pm         models.PostMetrics
		comments   sql.NullString
		platformID sql.NullString
		variantRow sql.NullString
	)

	err := row.Scan(&pm.PostID, &pm.Variant, &pm.Likes, &pm.Retweets, &pm.Comments, &pm.Impressions,
		&comments, &platformID, &variantRow, &pm.UpdatedAt)
	if err != nil {
		return nil, err
	}

	pm.PlatformPostID = platformID.String
	pm.VariantRowID = variantRow.String
	pm.CommentList = []string{}
	if comments.Valid && comments.String != "" {
		if err := json.Unmarshal([]byte(comments.String), &pm.CommentList); err != nil {
			return nil, fmt.Errorf("failed to parse comment list: %w", err)
		}
	}
	return &pm, nil
}
