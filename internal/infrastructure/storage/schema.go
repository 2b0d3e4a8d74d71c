package storage

import (
	"context"
	"fmt"
)

// On-boot schema setup, executed once at process start. Statements are
// idempotent so restarts and concurrent instances are safe.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS posted_news (
		normalized_title TEXT NOT NULL,
		posted_date      DATE NOT NULL,
		full_title       TEXT NOT NULL,
		posted_at        TIMESTAMPTZ NOT NULL,
		source           TEXT NOT NULL,
		slot             INT NOT NULL,
		category         TEXT,
		status           TEXT NOT NULL,
		channel_type     TEXT NOT NULL,
		article_url      TEXT NOT NULL,
		telegraph_url    TEXT,
		PRIMARY KEY (normalized_title, posted_date)
	)`,
	`CREATE INDEX IF NOT EXISTS posted_news_posted_at_idx ON posted_news (posted_at)`,
	`CREATE TABLE IF NOT EXISTS runs (
		id            UUID PRIMARY KEY,
		date          DATE NOT NULL,
		slot          INT NOT NULL,
		status        TEXT NOT NULL,
		scheduled_at  TIMESTAMPTZ,
		started_at    TIMESTAMPTZ,
		finished_at   TIMESTAMPTZ,
		posts_sent    INT NOT NULL DEFAULT 0,
		source_counts JSONB,
		error         TEXT,
		UNIQUE (date, slot)
	)`,
	`CREATE TABLE IF NOT EXISTS daily_stats (
		date           DATE PRIMARY KEY,
		posts_count    INT NOT NULL DEFAULT 0,
		runs_completed INT NOT NULL DEFAULT 0,
		last_slot_done INT NOT NULL DEFAULT -1,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS bot_stats (
		id                   INT PRIMARY KEY,
		bot_started_at       TIMESTAMPTZ NOT NULL,
		total_posts_all_time BIGINT NOT NULL DEFAULT 0
	)`,
}

// Migrate creates missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
