package scraper

import (
	"context"
	"time"
)

// Extractor enumerates one source's review pages. Implementations must
// be retry-safe: a repeated FetchPage with the same cursor may return
// overlapping records, which the deduplicator suppresses downstream.
type Extractor interface {
	// OpenSession resolves per-job credentials (tokens, cookies) for
	// the target. Sources without session state return a zero Session.
	OpenSession(ctx context.Context, target Target) (Session, error)
	// FirstCursor returns the cursor for the first fetch.
	FirstCursor() Cursor
	// WindowCount reports how many pagination windows the traversal
	// spans, or 0 when the source paginates by bare page number.
	WindowCount() int
	// FetchPage retrieves one page of records at the cursor.
	FetchPage(ctx context.Context, target Target, sess Session, cursor Cursor) (Page, error)
}

// JobStore persists jobs and their captured records.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]Job, error)

	// MarkStarted transitions pending -> in_progress. Calling it on a
	// job already in_progress is a no-op (resume after restart);
	// calling it on a terminal job returns ErrConflict.
	MarkStarted(ctx context.Context, jobID string, at time.Time) error
	// UpdateProgress overwrites message/counters; the stored percent
	// never decreases. Terminal job -> ErrConflict.
	UpdateProgress(ctx context.Context, jobID string, p Progress) error
	// AppendRecords persists records and progress atomically: both
	// visible together or neither. Terminal job -> ErrConflict.
	AppendRecords(ctx context.Context, jobID string, records []ReviewRecord, p Progress) error
	// CompleteJob writes a terminal status. Terminal -> terminal is
	// refused with ErrConflict.
	CompleteJob(ctx context.Context, jobID string, status JobStatus, message, errText string, at time.Time) error
	// CancelJob transitions pending/in_progress -> cancelled and
	// returns the updated job. Terminal -> ErrConflict.
	CancelJob(ctx context.Context, jobID string, at time.Time) (Job, error)

	ListRecords(ctx context.Context, jobID string) ([]ReviewRecord, error)
	ListRecordIDs(ctx context.Context, jobID string) ([]string, error)
}

// RetryPolicy decides retry behavior for transient source failures.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
