package postgres

import (
	"context"
	"fmt"
)

// schema is applied at startup; statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS scrape_jobs (
	job_id           TEXT PRIMARY KEY,
	source_type      TEXT NOT NULL,
	target_url       TEXT NOT NULL,
	asin             TEXT NOT NULL DEFAULT '',
	max_items        INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL,
	progress_message TEXT NOT NULL DEFAULT '',
	progress_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_found      INTEGER,
	captured         INTEGER NOT NULL DEFAULT 0,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	started_at       TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ
)`,
	`CREATE INDEX IF NOT EXISTS scrape_jobs_created_idx
	ON scrape_jobs (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS scraped_reviews (
	job_id        TEXT NOT NULL REFERENCES scrape_jobs (job_id) ON DELETE CASCADE,
	review_id     TEXT NOT NULL,
	author        TEXT NOT NULL DEFAULT '',
	rating        DOUBLE PRECISION NOT NULL DEFAULT 0,
	title         TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL DEFAULT '',
	review_date   TEXT NOT NULL DEFAULT '',
	verified      BOOLEAN NOT NULL DEFAULT FALSE,
	helpful_votes INTEGER NOT NULL DEFAULT 0,
	window_label  TEXT NOT NULL DEFAULT '',
	image_count   INTEGER NOT NULL DEFAULT 0,
	image_urls    TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	upvotes       INTEGER NOT NULL DEFAULT 0,
	downvotes     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (job_id, review_id)
)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
