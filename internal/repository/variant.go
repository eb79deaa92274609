package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

type VariantRepository struct {
	db DBTX
}

func NewVariantRepository(db DBTX) *VariantRepository {
	return &VariantRepository{db: db}
}

const variantColumns = `id, post_id, variant_id, content, platform, media_url, metadata, created_at`

// Create appends a variant row. Earlier rows with the same label are kept.
func (r *VariantRepository) Create(ctx context.Context, v *models.ContentVariant) error {
	if !v.VariantID.Valid() {
		return fmt.Errorf("invalid variant label %q", v.VariantID)
	}
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Platform == "" {
		v.Platform = models.DefaultPlatform
	}
	v.CreatedAt = now()

	meta, err := json.Marshal(v.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal variant metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO content_variants (`+variantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.PostID, string(v.VariantID), v.Content, v.Platform, v.MediaURL, string(meta), v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create content variant: %w", err)
	}
	return nil
}

// ListByPost returns every variant of a post, newest first
func (r *VariantRepository) ListByPost(ctx context.Context, postID string) ([]models.ContentVariant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+variantColumns+` FROM content_variants
		WHERE post_id = ?
		ORDER BY created_at DESC, rowid DESC`, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to list content variants: %w", err)
	}
	defer rows.Close()

	var variants []models.ContentVariant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content variant: %w", err)
		}
		variants = append(variants, *v)
	}
	return variants, rows.Err()
}

// Latest returns the current variant for each label present on the post
func (r *VariantRepository) Latest(ctx context.Context, postID string) (map[models.VariantLabel]*models.ContentVariant, error) {
	variants, err := r.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	latest := make(map[models.VariantLabel]*models.ContentVariant, 2)
	for i := range variants {
		v := &variants[i]
		if _, seen := latest[v.VariantID]; !seen {
			latest[v.VariantID] = v
		}
	}
	return latest, nil
}

// CountByPost returns the number of variant rows stored for a post
func (r *VariantRepository) CountByPost(ctx context.Context, postID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM content_variants WHERE post_id = ?`, postID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count content variants: %w", err)
	}
	return n, nil
}

// CountPostsWithoutVariants counts active posts of a campaign that have no
// content yet
func (r *VariantRepository) CountPostsWithoutVariants(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM posts p
		WHERE p.campaign_id = ? AND p.is_active = 1
			AND NOT EXISTS (SELECT 1 FROM content_variants v WHERE v.post_id = p.id)`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count posts without content: %w", err)
	}
	return n, nil
}

func scanVariant(row rowScanner) (*models.ContentVariant, error) {
	var (
		v        models.ContentVariant
		mediaURL sql.NullString
		meta     sql.NullString
	)

	if err := row.Scan(&v.ID, &v.PostID, &v.VariantID, &v.Content, &v.Platform, &mediaURL, &meta, &v.CreatedAt); err != nil {
		return nil, err
	}

	v.MediaURL = mediaURL.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &v.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse variant metadata: %w", err)
		}
	}
	return &v, nil
}
