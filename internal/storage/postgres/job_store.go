// Package postgres provides the Postgres-backed JobStore.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/productpulse/review-scraper/internal/scraper"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// JobStore persists jobs in scrape_jobs and review rows in
// scraped_reviews. AppendRecords runs in a transaction so rows and
// counters land together or not at all.
type JobStore struct {
	pool dbPool
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool dbPool) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `job_id, source_type, target_url, asin, max_items, status,
progress_message, progress_percent, total_found, captured, error_message,
created_at, started_at, completed_at`

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job scraper.Job) error {
	query := `
INSERT INTO scrape_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		string(job.Source),
		job.Target.URL,
		job.Target.ASIN,
		job.MaxItems,
		string(job.Status),
		job.ProgressMessage,
		job.ProgressPercent,
		job.TotalFound,
		job.Captured,
		job.ErrorMessage,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("create job %s: %w", job.ID, scraper.ErrConflict)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (scraper.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE job_id = $1`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Job{}, scraper.ErrNotFound
		}
		return scraper.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *JobStore) ListJobs(ctx context.Context, filter scraper.JobFilter) ([]scraper.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_jobs WHERE 1=1`
	args := []any{}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Source != nil {
		args = append(args, string(*filter.Source))
		query += fmt.Sprintf(" AND source_type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, job_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []scraper.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs rows: %w", err)
	}
	return jobs, nil
}

// MarkStarted transitions pending -> in_progress, keeping the original
// start time when resuming.
func (s *JobStore) MarkStarted(ctx context.Context, jobID string, at time.Time) error {
	query := `
UPDATE scrape_jobs
SET status = 'in_progress', started_at = COALESCE(started_at, $2)
WHERE job_id = $1 AND status IN ('pending', 'in_progress')`
	tag, err := s.pool.Exec(ctx, query, jobID, at)
	if err != nil {
		return fmt.Errorf("mark started: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardError(ctx, jobID, "mark started")
	}
	return nil
}

// UpdateProgress overwrites the progress fields; the stored percent is
// clamped so it never decreases.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, p scraper.Progress) error {
	tag, err := s.pool.Exec(ctx, progressQuery, progressArgs(jobID, p)...)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardError(ctx, jobID, "update progress")
	}
	return nil
}

const progressQuery = `
UPDATE scrape_jobs
SET progress_message = $2,
    progress_percent = LEAST(100, GREATEST(progress_percent, $3)),
    captured = $4,
    total_found = COALESCE($5, total_found)
WHERE job_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`

func progressArgs(jobID string, p scraper.Progress) []any {
	return []any{jobID, p.Message, p.Percent, p.Captured, p.TotalFound}
}

// AppendRecords inserts rows and applies the progress update in one
// transaction. Replayed review ids are ignored by the unique index.
func (s *JobStore) AppendRecords(
	ctx context.Context,
	jobID string,
	records []scraper.ReviewRecord,
	p scraper.Progress,
) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insert := `
INSERT INTO scraped_reviews (
	job_id, review_id, author, rating, title, body, review_date,
	verified, helpful_votes, window_label, image_count, image_urls,
	city, upvotes, downvotes
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (job_id, review_id) DO NOTHING`
	for _, rec := range records {
		if _, err := tx.Exec(ctx, insert,
			jobID,
			rec.ReviewID,
			rec.Author,
			rec.Rating,
			rec.Title,
			rec.Body,
			rec.Date,
			rec.Verified,
			rec.HelpfulVotes,
			rec.Window,
			rec.ImageCount,
			rec.ImageURLs,
			rec.City,
			rec.Upvotes,
			rec.Downvotes,
		); err != nil {
			return fmt.Errorf("insert review %s: %w", rec.ReviewID, err)
		}
	}

	tag, err := tx.Exec(ctx, progressQuery, progressArgs(jobID, p)...)
	if err != nil {
		return fmt.Errorf("append progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardError(ctx, jobID, "append records")
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// CompleteJob writes a terminal status; terminal rows are left alone.
func (s *JobStore) CompleteJob(
	ctx context.Context,
	jobID string,
	status scraper.JobStatus,
	message, errText string,
	at time.Time,
) error {
	if !status.Terminal() {
		return fmt.Errorf("complete job %s: status %q is not terminal", jobID, status)
	}
	query := `
UPDATE scrape_jobs
SET status = $2,
    progress_message = $3,
    error_message = $4,
    completed_at = $5,
    progress_percent = CASE WHEN $2 = 'completed' THEN 100 ELSE progress_percent END
WHERE job_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), message, errText, at)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.guardError(ctx, jobID, "complete job")
	}
	return nil
}

// CancelJob transitions pending/in_progress -> cancelled and returns
// the updated row.
func (s *JobStore) CancelJob(ctx context.Context, jobID string, at time.Time) (scraper.Job, error) {
	query := `
UPDATE scrape_jobs
SET status = 'cancelled', progress_message = 'cancelled', completed_at = $2
WHERE job_id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
RETURNING ` + jobColumns
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return scraper.Job{}, s.guardError(ctx, jobID, "cancel job")
		}
		return scraper.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	return job, nil
}

// ListRecords returns all review rows captured for a job.
func (s *JobStore) ListRecords(ctx context.Context, jobID string) ([]scraper.ReviewRecord, error) {
	query := `
SELECT job_id, review_id, author, rating, title, body, review_date,
       verified, helpful_votes, window_label, image_count, image_urls,
       city, upvotes, downvotes
FROM scraped_reviews WHERE job_id = $1 ORDER BY review_id`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	records := []scraper.ReviewRecord{}
	for rows.Next() {
		var rec scraper.ReviewRecord
		if err := rows.Scan(
			&rec.JobID,
			&rec.ReviewID,
			&rec.Author,
			&rec.Rating,
			&rec.Title,
			&rec.Body,
			&rec.Date,
			&rec.Verified,
			&rec.HelpfulVotes,
			&rec.Window,
			&rec.ImageCount,
			&rec.ImageURLs,
			&rec.City,
			&rec.Upvotes,
			&rec.Downvotes,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records rows: %w", err)
	}
	return records, nil
}

// ListRecordIDs returns the review ids captured for a job.
func (s *JobStore) ListRecordIDs(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT review_id FROM scraped_reviews WHERE job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list record ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan record id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list record ids rows: %w", err)
	}
	return ids, nil
}

// guardError distinguishes a missing job from a terminal one after a
// guarded update matched no rows.
func (s *JobStore) guardError(ctx context.Context, jobID, op string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scrape_jobs WHERE job_id = $1)`, jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, jobID, err)
	}
	if !exists {
		return scraper.ErrNotFound
	}
	return fmt.Errorf("%s %s: %w", op, jobID, scraper.ErrConflict)
}

func scanJob(row pgx.Row) (scraper.Job, error) {
	var (
		job    scraper.Job
		source string
		status string
	)
	err := row.Scan(
		&job.ID,
		&source,
		&job.Target.URL,
		&job.Target.ASIN,
		&job.MaxItems,
		&status,
		&job.ProgressMessage,
		&job.ProgressPercent,
		&job.TotalFound,
		&job.Captured,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return scraper.Job{}, err
	}
	job.Source = scraper.SourceType(source)
	job.Status = scraper.JobStatus(status)
	return job, nil
}
