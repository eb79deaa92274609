package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrCrossCampaignLink is returned when a link would join posts of
	// different campaigns
	ErrCrossCampaignLink = errors.New("posts belong to different campaigns")
	// ErrRegenerating is returned when a post is held by a regeneration
	ErrRegenerating = errors.New("post is being regenerated")
	// ErrLeaseLost is returned when the regeneration lease was released or
	// taken over by another claim
	ErrLeaseLost = errors.New("regeneration lease lost")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store groups the repositories over one connection or transaction
type Store struct {
	db *sql.DB

	Campaigns *CampaignRepository
	Posts     *PostRepository
	Variants  *VariantRepository
	Metrics   *MetricsRepository
}

// NewStore creates a store backed by db
func NewStore(db *sql.DB) *Store {
	s := newStore(db)
	s.db = db
	return s
}

func newStore(q DBTX) *Store {
	return &Store{
		Campaigns: &CampaignRepository{db: q},
		Posts:     &PostRepository{db: q},
		Variants:  &VariantRepository{db: q},
		Metrics:   &MetricsRepository{db: q},
	}
}

// InTx runs fn against a store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise. Calling
// InTx on a transaction-bound store runs fn inside the existing transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.db == nil {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(newStore(tx)); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
