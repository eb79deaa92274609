package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/LeeSinLiang/Janus-sub000/internal/models"
)

type PostRepository struct {
	db DBTX
}

func NewPostRepository(db DBTX) *PostRepository {
	return &PostRepository{db: db}
}

const postColumns = `id, campaign_id, node_id, title, description, phase, version, is_active, status, posted_time,
	trigger_condition, trigger_value, trigger_comparison, trigger_duration, trigger_prompt,
	selected_variant, regenerating, regen_started_at, created_at, updated_at`

// Create inserts a post; phase_number is derived from the phase label
func (r *PostRepository) Create(ctx context.Context, p *models.Post) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = models.StatusDraft
	}
	if p.Version == 0 {
		p.Version = 1
	}
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt

	var (
		metric, comparison, prompt sql.NullString
		value, duration            sql.NullInt64
		selected                   sql.NullString
	)
	if t := p.Trigger; t != nil {
		metric = sql.NullString{String: string(t.Metric), Valid: true}
		comparison = sql.NullString{String: string(t.Comparison), Valid: true}
		prompt = sql.NullString{String: t.Prompt, Valid: true}
		value = sql.NullInt64{Int64: t.Value, Valid: true}
		duration = sql.NullInt64{Int64: t.Duration, Valid: true}
	}
	if p.SelectedVariant != nil {
		selected = sql.NullString{String: string(*p.SelectedVariant), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO posts (id, campaign_id, node_id, title, description, phase, phase_number, version, is_active, status,
			posted_time, trigger_condition, trigger_value, trigger_comparison, trigger_duration, trigger_prompt,
			selected_variant, regenerating, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		p.ID, p.CampaignID, p.NodeID, p.Title, p.Description, p.Phase, models.PhaseNumber(p.Phase), p.Version,
		boolToInt(p.IsActive), string(p.Status), nullTime(p.PostedTime),
		metric, value, comparison, duration, prompt, selected, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// GetByID returns a post by ID, including its outgoing links
func (r *PostRepository) GetByID(ctx context.Context, id string) (*models.Post, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	next, err := r.nextPosts(ctx, id)
	if err != nil {
		return nil, err
	}
	p.NextPosts = next
	return p, nil
}

// ListByCampaign returns a campaign's posts ordered by phase and creation.
// Archived posts are included only when includeArchived is set.
func (r *PostRepository) ListByCampaign(ctx context.Context, campaignID string, includeArchived bool) ([]models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE campaign_id = ?`
	if !includeArchived {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY phase_number, created_at, rowid`

	posts, err := r.query(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}

	links, err := r.ListLinks(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	attachLinks(posts, links)
	return posts, nil
}

// ListActiveBeforePhase returns the active posts whose phase number is
// strictly below phase
func (r *PostRepository) ListActiveBeforePhase(ctx context.Context, campaignID string, phase int) ([]models.Post, error) {
	return r.query(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE campaign_id = ? AND is_active = 1 AND phase_number < ?
		ORDER BY phase_number, created_at, rowid`, campaignID, phase)
}

// CountActiveBeforePhase counts active posts with phase number below phase
func (r *PostRepository) CountActiveBeforePhase(ctx context.Context, campaignID string, phase int) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM posts
		WHERE campaign_id = ? AND is_active = 1 AND phase_number < ?`, campaignID, phase).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

// ArchiveFromPhase deactivates every active post with phase number >= phase.
// Already archived posts are untouched, so repeating the call is a no-op.
func (r *PostRepository) ArchiveFromPhase(ctx context.Context, campaignID string, phase int) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET is_active = 0, updated_at = ?
		WHERE campaign_id = ? AND is_active = 1 AND phase_number >= ?`, now(), campaignID, phase)
	if err != nil {
		return 0, fmt.Errorf("failed to archive posts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count archived posts: %w", err)
	}
	return int(n), nil
}

// AddLink records the edge from -> to. Both posts must belong to the same
// campaign. Adding an existing edge is a no-op.
func (r *PostRepository) AddLink(ctx context.Context, fromID, toID string) error {
	var fromCampaign, toCampaign string
	err := r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT campaign_id FROM posts WHERE id = ?),
			(SELECT campaign_id FROM posts WHERE id = ?)`, fromID, toID).Scan(&nullableString{&fromCampaign}, &nullableString{&toCampaign})
	if err != nil {
		return fmt.Errorf("failed to look up linked posts: %w", err)
	}
	if fromCampaign == "" {
		return fmt.Errorf("post %s: %w", fromID, ErrNotFound)
	}
	if toCampaign == "" {
		return fmt.Errorf("post %s: %w", toID, ErrNotFound)
	}
	if fromCampaign != toCampaign {
		return ErrCrossCampaignLink
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO post_links (from_post_id, to_post_id) VALUES (?, ?)`, fromID, toID); err != nil {
		return fmt.Errorf("failed to create post link: %w", err)
	}
	return nil
}

// ListLinks returns the edges between active posts of a campaign
func (r *PostRepository) ListLinks(ctx context.Context, campaignID string) ([]models.Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.from_post_id, l.to_post_id
		FROM post_links l
		JOIN posts f ON f.id = l.from_post_id
		JOIN posts t ON t.id = l.to_post_id
		WHERE f.campaign_id = ? AND f.is_active = 1 AND t.is_active = 1
		ORDER BY f.phase_number, l.rowid`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list post links: %w", err)
	}
	defer rows.Close()

	var links []models.Link
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.FromPostID, &l.ToPostID); err != nil {
			return nil, fmt.Errorf("failed to scan post link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// SetTrigger stores the trigger configuration; nil clears it. A new
// trigger is refused with ErrRegenerating while the post is leased, since
// completing the regeneration would wipe it.
func (r *PostRepository) SetTrigger(ctx context.Context, id string, t *models.Trigger) error {
	var res sql.Result
	var err error
	if t == nil {
		res, err = r.db.ExecContext(ctx, `
			UPDATE posts SET trigger_condition = NULL, trigger_value = NULL, trigger_comparison = NULL,
				trigger_duration = NULL, trigger_prompt = NULL, updated_at = ?
			WHERE id = ?`, now(), id)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE posts SET trigger_condition = ?, trigger_value = ?, trigger_comparison = ?,
				trigger_duration = ?, trigger_prompt = ?, updated_at = ?
			WHERE id = ? AND regenerating = 0`,
			string(t.Metric), t.Value, string(t.Comparison), t.Duration, t.Prompt, now(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to set trigger: %w", err)
	}
	if err := expectOne(res, "post", id); err != nil {
		if t == nil || !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("post %s: %w", id, ErrRegenerating)
	}
	return nil
}

// SelectVariant records which variant the user picked
func (r *PostRepository) SelectVariant(ctx context.Context, id string, label models.VariantLabel) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET selected_variant = ?, updated_at = ? WHERE id = ?`, string(label), now(), id)
	if err != nil {
		return fmt.Errorf("failed to select variant: %w", err)
	}
	return expectOne(res, "post", id)
}

// MarkPublished sets status published. posted_time is reset only when the
// post was not already published.
func (r *PostRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET
			posted_time = CASE WHEN status = ? AND posted_time IS NOT NULL THEN posted_time ELSE ? END,
			status = ?, updated_at = ?
		WHERE id = ?`, string(models.StatusPublished), at, string(models.StatusPublished), now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark post published: %w", err)
	}
	return expectOne(res, "post", id)
}

// ListTriggerCandidates returns published, active posts that carry a trigger
// and are not currently being regenerated
func (r *PostRepository) ListTriggerCandidates(ctx context.Context) ([]models.Post, error) {
	return r.query(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE is_active = 1 AND status = ? AND trigger_condition IS NOT NULL AND regenerating = 0
		ORDER BY posted_time, rowid`, string(models.StatusPublished))
}

// ClaimForRegeneration takes the regeneration lease. It succeeds only for an
// active post whose trigger is still armed and which nobody else holds, and
// returns the lease token the holder must present later. An empty token
// means the post was not claimed.
func (r *PostRepository) ClaimForRegeneration(ctx context.Context, id string, at time.Time) (string, error) {
	lease := uuid.New().String()
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET regenerating = 1, regen_started_at = ?, regen_lease = ?, updated_at = ?
		WHERE id = ? AND is_active = 1 AND trigger_condition IS NOT NULL AND regenerating = 0`,
		at, lease, now(), id)
	if err != nil {
		return "", fmt.Errorf("failed to claim post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to claim post: %w", err)
	}
	if n != 1 {
		return "", nil
	}
	return lease, nil
}

// StartRegeneration confirms lease is still held and restarts its clock so
// the time spent queued does not count against the lease TTL
func (r *PostRepository) StartRegeneration(ctx context.Context, id, lease string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET regen_started_at = ?, updated_at = ?
		WHERE id = ? AND regenerating = 1 AND regen_lease = ?`, at, now(), id, lease)
	if err != nil {
		return false, fmt.Errorf("failed to start regeneration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to start regeneration: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease drops the regeneration lease without touching anything else.
// Only the holder of lease can release it.
func (r *PostRepository) ReleaseLease(ctx context.Context, id, lease string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE posts SET regenerating = 0, regen_started_at = NULL, regen_lease = NULL, updated_at = ?
		WHERE id = ? AND regenerating = 1 AND regen_lease = ?`, now(), id, lease)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// ReleaseStaleLeases drops leases taken before cutoff and returns the IDs of
// the posts released. Posts listed in keep are left alone.
func (r *PostRepository) ReleaseStaleLeases(ctx context.Context, cutoff time.Time, keep map[string]bool) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, regen_started_at, COALESCE(regen_lease, '') FROM posts WHERE regenerating = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}

	type lease struct{ id, token string }
	var stale []lease
	for rows.Next() {
		var l lease
		var started sql.NullTime
		if err := rows.Scan(&l.id, &started, &l.token); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		if keep[l.id] {
			continue
		}
		if !started.Valid || started.Time.Before(cutoff) {
			stale = append(stale, l)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	released := make([]string, 0, len(stale))
	for _, l := range stale {
		_, err := r.db.ExecContext(ctx, `
			UPDATE posts SET regenerating = 0, regen_started_at = NULL, regen_lease = NULL, updated_at = ?
			WHERE id = ? AND regenerating = 1 AND COALESCE(regen_lease, '') = ?`, now(), l.id, l.token)
		if err != nil {
			return nil, fmt.Errorf("failed to release lease: %w", err)
		}
		released = append(released, l.id)
	}
	return released, nil
}

// CompleteRegeneration resets a post after new variants were stored: back to
// draft, trigger and selection cleared, lease released. It fails with
// ErrLeaseLost when lease no longer holds the post.
func (r *PostRepository) CompleteRegeneration(ctx context.Context, id, lease string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET status = ?, trigger_condition = NULL, trigger_value = NULL, trigger_comparison = NULL,
			trigger_duration = NULL, trigger_prompt = NULL, selected_variant = NULL,
			regenerating = 0, regen_started_at = NULL, regen_lease = NULL, updated_at = ?
		WHERE id = ? AND regenerating = 1 AND regen_lease = ?`, string(models.StatusDraft), now(), id, lease)
	if err != nil {
		return fmt.Errorf("failed to reset regenerated post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("post %s: %w", id, ErrLeaseLost)
	}
	return nil
}

func (r *PostRepository) query(ctx context.Context, query string, args ...any) ([]models.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, *p)
	}
	return posts, rows.Err()
}

func (r *PostRepository) nextPosts(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT l.to_post_id FROM post_links l
		JOIN posts t ON t.id = l.to_post_id
		WHERE l.from_post_id = ? AND t.is_active = 1
		ORDER BY l.rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list next posts: %w", err)
	}
	defer rows.Close()

	var next []string
	for rows.Next() {
		var to string
		if err := rows.Scan(&to); err != nil {
			return nil, fmt.Errorf("failed to scan next post: %w", err)
		}
		next = append(next, to)
	}
	return next, rows.Err()
}

func attachLinks(posts []models.Post, links []models.Link) {
	idx := make(map[string]int, len(posts))
	for i := range posts {
		idx[posts[i].ID] = i
	}
	for _, l := range links {
		if i, ok := idx[l.FromPostID]; ok {
			posts[i].NextPosts = append(posts[i].NextPosts, l.ToPostID)
		}
	}
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		p           models.Post
		description sql.NullString
		isActive    int
		postedTime  sql.NullTime
		metric      sql.NullString
		value       sql.NullInt64
		comparison  sql.NullString
		duration    sql.NullInt64
		prompt      sql.NullString
		selected    sql.NullString
		regen       int
		regenStart  sql.NullTime
	)

	err := row.Scan(&p.ID, &p.CampaignID, &p.NodeID, &p.Title, &description, &p.Phase, &p.Version, &isActive,
		&p.Status, &postedTime, &metric, &value, &comparison, &duration, &prompt,
		&selected, &regen, &regenStart, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Description = description.String
	p.IsActive = isActive == 1
	p.PostedTime = timePtr(postedTime)
	p.Regenerating = regen == 1
	p.RegenStartedAt = timePtr(regenStart)

	if metric.Valid {
		p.Trigger = &models.Trigger{
			Metric:     models.Metric(metric.String),
			Value:      value.Int64,
			Comparison: models.Comparator(comparison.String),
			Duration:   duration.Int64,
			Prompt:     prompt.String,
		}
	}
	if selected.Valid {
		label := models.VariantLabel(selected.String)
		p.SelectedVariant = &label
	}
	return &p, nil
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// nullableString scans a possibly NULL text column into a plain string
type nullableString struct {
	dst *string
}

func (n *nullableString) Scan(src any) error {
	var ns sql.NullString
	if err := ns.Scan(src); err != nil {
		return err
	}
	*n.dst = ns.String
	return nil
}
