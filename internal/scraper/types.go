// Package scraper defines core types shared across subsystems.
package scraper

import "time"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store. Transitions are
// one-directional: pending -> in_progress -> {completed, failed}, plus
// pending/in_progress -> cancelled. Terminal states are write-once.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status allows no further mutation.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusInProgress, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// SourceType identifies which extractor handles a job.
type SourceType string

// Supported source types.
const (
	SourceAmazonReviews   SourceType = "amazon_reviews"
	SourceAmazonCount     SourceType = "amazon_count"
	SourceFlipkartReviews SourceType = "flipkart_reviews"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceAmazonReviews, SourceAmazonCount, SourceFlipkartReviews:
		return true
	default:
		return false
	}
}

// CountOnly reports whether the source produces a total count and no
// review rows; the orchestrator skips the pagination loop for these.
func (t SourceType) CountOnly() bool {
	return t == SourceAmazonCount
}

// Target is the validated reference to the product being scraped.
type Target struct {
	URL string `json:"url"`
	// ASIN is populated for Amazon targets, extracted from the URL.
	ASIN string `json:"asin,omitempty"`
}

// Job is the metadata persisted for each submitted scrape request.
type Job struct {
	ID       string     `json:"job_id"`
	Source   SourceType `json:"source_type"`
	Target   Target     `json:"target"`
	MaxItems int        `json:"max_items,omitempty"`

	Status          JobStatus `json:"status"`
	ProgressMessage string    `json:"progress_message,omitempty"`
	ProgressPercent float64   `json:"progress_percent"`
	TotalFound      *int      `json:"total_found,omitempty"`
	Captured        int       `json:"captured"`
	ErrorMessage    string    `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ReviewRecord is one captured review row, owned by its job.
// (JobID, ReviewID) is unique; the deduplicator enforces this before
// persistence.
type ReviewRecord struct {
	JobID    string `json:"-"`
	ReviewID string `json:"review_id"`

	Author       string  `json:"author,omitempty"`
	Rating       float64 `json:"rating,omitempty"`
	Title        string  `json:"title,omitempty"`
	Body         string  `json:"review_text,omitempty"`
	Date         string  `json:"review_date,omitempty"`
	Verified     bool    `json:"verified_purchase,omitempty"`
	HelpfulVotes int     `json:"helpful_votes,omitempty"`

	// Window is the pagination window the row was captured under,
	// e.g. the star filter label.
	Window     string `json:"window,omitempty"`
	ImageCount int    `json:"image_count,omitempty"`
	ImageURLs  string `json:"image_urls,omitempty"`

	// Flipkart-specific extras; zero-valued for other sources.
	City      string `json:"city,omitempty"`
	Upvotes   int    `json:"upvotes,omitempty"`
	Downvotes int    `json:"downvotes,omitempty"`
}

// Cursor marks where in the source's enumeration the orchestrator is.
// It is transient: created when traversal starts, advanced after each
// successful page, discarded when traversal ends.
type Cursor struct {
	// WindowIndex counts completed-or-current pagination windows,
	// used for coarse progress when no total is known.
	WindowIndex int
	// Window is the current window label (star filter); empty for
	// sources that paginate by bare page number.
	Window string
	// Page is the 1-based page within the window.
	Page int
	// Empties counts consecutive pages in the current window that
	// yielded no records; extractors use it to stop runaway windows.
	Empties int
}

// Page is the result of one extractor fetch.
type Page struct {
	Records []ReviewRecord
	// Next is the cursor for the following fetch; ignored when Done.
	Next Cursor
	// Done signals end of data for the whole traversal.
	Done bool
	// TotalHint reports the source's total item count when the page
	// exposes one; nil otherwise.
	TotalHint *int
	// PagesHint reports the source's total page count for sources that
	// expose pagination metadata instead of item totals.
	PagesHint *int
}

// Session carries per-job credentials handed to the extractor on every
// call, replacing any implicit shared session state.
type Session struct {
	CSRFToken string
	Cookie    string
}

// Progress is the per-page progress delta persisted with records.
type Progress struct {
	Message    string
	Percent    float64
	Captured   int
	TotalFound *int
}

// JobFilter selects jobs for listing. Nil fields match everything.
type JobFilter struct {
	Status *JobStatus
	Source *SourceType
	Limit  int
	Offset int
}

// JobResult is returned by the results endpoint once a job completes.
type JobResult struct {
	JobID        string         `json:"job_id"`
	Status       JobStatus      `json:"status"`
	TotalReviews int            `json:"total_reviews"`
	Reviews      []ReviewRecord `json:"reviews"`
}
