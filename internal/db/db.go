package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

// New opens the SQLite database at path in WAL mode. Write transactions take
// the reserved lock at BEGIN so concurrent writers queue on busy_timeout
// instead of failing halfway through.
func New(path string, busyTimeout time.Duration) (*DB, error) {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on&_txlock=immediate",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Migrate() error {
	migrations := []string{
		migrationCampaigns,
		migrationPosts,
		migrationPostLinks,
		migrationContentVariants,
		migrationPostMetrics,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const migrationCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    phase TEXT NOT NULL DEFAULT 'planning',
    current_version INTEGER NOT NULL DEFAULT 1,
    strategy TEXT,
    metadata JSON,
    insights JSON,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const migrationPosts = `
CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    campaign_id TEXT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
    node_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    phase TEXT NOT NULL,
    phase_number INTEGER NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    is_active INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL DEFAULT 'draft',
    posted_time TIMESTAMP,
    trigger_condition TEXT,
    trigger_value INTEGER,
    trigger_comparison TEXT,
    trigger_duration INTEGER,
    trigger_prompt TEXT,
    selected_variant TEXT,
    regenerating INTEGER NOT NULL DEFAULT 0,
    regen_started_at TIMESTAMP,
    regen_lease TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_posts_campaign_active ON posts(campaign_id, is_active, phase_number);
CREATE INDEX IF NOT EXISTS idx_posts_trigger ON posts(status, is_active) WHERE trigger_condition IS NOT NULL;
`

const migrationPostLinks = `
CREATE TABLE IF NOT EXISTS post_links (
    from_post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    to_post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    PRIMARY KEY (from_post_id, to_post_id)
);
CREATE INDEX IF NOT EXISTS idx_post_links_to ON post_links(to_post_id);
`

const migrationContentVariants = `
CREATE TABLE IF NOT EXISTS content_variants (
    id TEXT PRIMARY KEY,
    post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    variant_id TEXT NOT NULL,
    content TEXT NOT NULL,
    platform TEXT NOT NULL DEFAULT 'x',
    media_url TEXT,
    metadata JSON,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_content_variants_post ON content_variants(post_id, variant_id, created_at);
`

const migrationPostMetrics = `
CREATE TABLE IF NOT EXISTS post_metrics (
    post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
    variant TEXT NOT NULL,
    likes INTEGER NOT NULL DEFAULT 0,
    retweets INTEGER NOT NULL DEFAULT 0,
    comments INTEGER NOT NULL DEFAULT 0,
    impressions INTEGER NOT NULL DEFAULT 0,
    comment_list JSON,
    platform_post_id TEXT,
    variant_row_id TEXT,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (post_id, variant)
);
`
