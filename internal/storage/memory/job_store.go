// Package memory provides an in-memory JobStore for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/productpulse/review-scraper/internal/scraper"
)

// JobStore keeps jobs and review rows in process memory. All methods
// return copies so callers never observe a partially applied write.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]scraper.Job
	records map[string][]scraper.ReviewRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]scraper.Job),
		records: make(map[string][]scraper.ReviewRecord),
	}
}

// CreateJob stores a new job. The id must be unused.
func (s *JobStore) CreateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, scraper.ErrConflict)
	}
	s.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, scraper.ErrNotFound
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *JobStore) ListJobs(_ context.Context, filter scraper.JobFilter) ([]scraper.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scraper.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		if filter.Source != nil && job.Source != *filter.Source {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []scraper.Job{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// MarkStarted transitions pending -> in_progress. Already running jobs
// are left untouched so resumed jobs keep their original start time.
func (s *JobStore) MarkStarted(_ context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("mark started %s: %w", jobID, scraper.ErrConflict)
	}
	job.Status = scraper.JobStatusInProgress
	if job.StartedAt == nil {
		job.StartedAt = pointerTime(at)
	}
	s.jobs[jobID] = job
	return nil
}

// UpdateProgress overwrites the progress fields. The persisted percent
// never decreases.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, p scraper.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("update progress %s: %w", jobID, scraper.ErrConflict)
	}
	applyProgress(&job, p)
	s.jobs[jobID] = job
	return nil
}

// AppendRecords persists rows and progress together. Memory writes are
// applied under one lock acquisition, so readers see both or neither.
func (s *JobStore) AppendRecords(
	_ context.Context,
	jobID string,
	records []scraper.ReviewRecord,
	p scraper.Progress,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("append records %s: %w", jobID, scraper.ErrConflict)
	}
	for _, rec := range records {
		rec.JobID = jobID
		s.records[jobID] = append(s.records[jobID], rec)
	}
	applyProgress(&job, p)
	s.jobs[jobID] = job
	return nil
}

// CompleteJob writes a terminal status. Terminal jobs are immutable.
func (s *JobStore) CompleteJob(
	_ context.Context,
	jobID string,
	status scraper.JobStatus,
	message, errText string,
	at time.Time,
) error {
	if !status.Terminal() {
		return fmt.Errorf("complete job %s: status %q is not terminal", jobID, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.ErrNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("complete job %s: %w", jobID, scraper.ErrConflict)
	}
	job.Status = status
	job.ProgressMessage = message
	job.ErrorMessage = errText
	job.CompletedAt = pointerTime(at)
	if status == scraper.JobStatusCompleted {
		job.ProgressPercent = 100
	}
	s.jobs[jobID] = job
	return nil
}

// CancelJob transitions pending/in_progress -> cancelled and returns
// the updated job.
func (s *JobStore) CancelJob(_ context.Context, jobID string, at time.Time) (scraper.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scraper.Job{}, scraper.ErrNotFound
	}
	if job.Status.Terminal() {
		return scraper.Job{}, fmt.Errorf("cancel job %s: %w", jobID, scraper.ErrConflict)
	}
	job.Status = scraper.JobStatusCancelled
	job.ProgressMessage = "cancelled"
	job.CompletedAt = pointerTime(at)
	s.jobs[jobID] = job
	return job, nil
}

// ListRecords returns all review rows captured for a job, in insertion
// order.
func (s *JobStore) ListRecords(_ context.Context, jobID string) ([]scraper.ReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, scraper.ErrNotFound
	}
	records := s.records[jobID]
	out := make([]scraper.ReviewRecord, len(records))
	copy(out, records)
	return out, nil
}

// ListRecordIDs returns the review ids captured for a job.
func (s *JobStore) ListRecordIDs(_ context.Context, jobID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, scraper.ErrNotFound
	}
	records := s.records[jobID]
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ReviewID)
	}
	return ids, nil
}

func applyProgress(job *scraper.Job, p scraper.Progress) {
	job.ProgressMessage = p.Message
	if p.Percent > job.ProgressPercent {
		job.ProgressPercent = p.Percent
	}
	if job.ProgressPercent > 100 {
		job.ProgressPercent = 100
	}
	job.Captured = p.Captured
	if p.TotalFound != nil {
		job.TotalFound = p.TotalFound
	}
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
