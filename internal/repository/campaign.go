package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

type CampaignRepository struct {
	db DBTX
}

func NewCampaignRepository(db DBTX) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `id, name, description, phase, current_version, strategy, metadata, insights, created_at, updated_at`

// Create creates a new campaign at version 1
func (r *CampaignRepository) Create(ctx context.Context, c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Phase == "" {
		c.Phase = models.PhasePlanning
	}
	if c.CurrentVersion == 0 {
		c.CurrentVersion = 1
	}
	if c.Insights == nil {
		c.Insights = []models.Insight{}
	}
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt

	meta, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign metadata: %w", err)
	}
	insights, err := json.Marshal(c.Insights)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign insights: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO campaigns (`+campaignColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Description, string(c.Phase), c.CurrentVersion, c.Strategy, string(meta), string(insights), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID
func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*models.Campaign, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return c, nil
}

// List returns campaigns, newest first
func (r *CampaignRepository) List(ctx context.Context, limit, offset int) ([]models.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+campaignColumns+` FROM campaigns
		ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []models.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, rows.Err()
}

// BumpVersion increments current_version and returns the new value
func (r *CampaignRepository) BumpVersion(ctx context.Context, id string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET current_version = current_version + 1, updated_at = ?
		WHERE id = ?`, now(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to bump campaign version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}

	var version int
	if err := r.db.QueryRowContext(ctx, `SELECT current_version FROM campaigns WHERE id = ?`, id).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read campaign version: %w", err)
	}
	return version, nil
}

// UpdateStrategy stores the serialized strategy diagram and its metadata
func (r *CampaignRepository) UpdateStrategy(ctx context.Context, id, strategy string, meta models.CampaignMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign metadata: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns SET strategy = ?, metadata = ?, updated_at = ?
		WHERE id = ?`, strategy, string(data), now(), id)
	if err != nil {
		return fmt.Errorf("failed to update campaign strategy: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendInsight appends one entry to the campaign's insight log
func (r *CampaignRepository) AppendInsight(ctx context.Context, id string, insight models.Insight) error {
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = now()
	}
	data, err := json.Marshal(insight)
	if err != nil {
		return fmt.Errorf("failed to marshal insight: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE campaigns
		SET insights = json_insert(COALESCE(insights, '[]'), '$[#]', json(?)), updated_at = ?
		WHERE id = ?`, string(data), now(), id)
	if err != nil {
		return fmt.Errorf("failed to append insight: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return nil
}

// AdvancePhase moves the campaign to phase `to` if it currently sits in one
// of `from`. It reports whether the phase changed.
func (r *CampaignRepository) AdvancePhase(ctx context.Context, id string, to models.CampaignPhase, from ...models.CampaignPhase) (bool, error) {
	query := `UPDATE campaigns SET phase = ?, updated_at = ? WHERE id = ?`
	args := []any{string(to), now(), id}

	if len(from) > 0 {
		query += ` AND phase IN (?` + repeatPlaceholder(len(from)-1) + `)`
		for _, p := range from {
			args = append(args, string(p))
		}
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update campaign phase: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*models.Campaign, error) {
	var (
		c           models.Campaign
		description sql.NullString
		strategy    sql.NullString
		meta        sql.NullString
		insights    sql.NullString
	)

	err := row.Scan(&c.ID, &c.Name, &description, &c.Phase, &c.CurrentVersion, &strategy, &meta, &insights, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.Description = description.String
	c.Strategy = strategy.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse campaign metadata: %w", err)
		}
	}
	c.Insights = []models.Insight{}
	if insights.Valid && insights.String != "" {
		if err := json.Unmarshal([]byte(insights.String), &c.Insights); err != nil {
			return nil, fmt.Errorf("failed to parse campaign insights: %w", err)
		}
	}
	return &c, nil
}

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
