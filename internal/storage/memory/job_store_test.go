package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/productpulse/review-scraper/internal/scraper"
)

func newJob(id string, source scraper.SourceType, createdAt time.Time) scraper.Job {
	return scraper.Job{
		ID:        id,
		Source:    source,
		Target:    scraper.Target{URL: "https://www.amazon.com/dp/B0CX23V2ZK", ASIN: "B0CX23V2ZK"},
		Status:    scraper.JobStatusPending,
		CreatedAt: createdAt,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	job := newJob("j1", scraper.SourceAmazonReviews, time.Now())

	require.NoError(t, store.CreateJob(ctx, job))
	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, job, got)

	require.ErrorIs(t, store.CreateJob(ctx, job), scraper.ErrConflict)

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, scraper.ErrNotFound)
}

func TestListJobsFilterAndOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	base := time.Now()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", scraper.SourceAmazonReviews, base)))
	require.NoError(t, store.CreateJob(ctx, newJob("j2", scraper.SourceFlipkartReviews, base.Add(time.Second))))
	require.NoError(t, store.CreateJob(ctx, newJob("j3", scraper.SourceAmazonReviews, base.Add(2*time.Second))))
	_, err := store.CancelJob(ctx, "j2", base.Add(3*time.Second))
	require.NoError(t, err)

	all, err := store.ListJobs(ctx, scraper.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "j3", all[0].ID)
	require.Equal(t, "j1", all[2].ID)

	cancelled := scraper.JobStatusCancelled
	got, err := store.ListJobs(ctx, scraper.JobFilter{Status: &cancelled})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "j2", got[0].ID)

	amazon := scraper.SourceAmazonReviews
	got, err = store.ListJobs(ctx, scraper.JobFilter{Source: &amazon, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "j1", got[0].ID)

	got, err = store.ListJobs(ctx, scraper.JobFilter{Offset: 10})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestProgressPercentNeverDecreases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	require.NoError(t, store.CreateJob(ctx, newJob("j1", scraper.SourceAmazonReviews, time.Now())))
	require.NoError(t, store.MarkStarted(ctx, "j1", time.Now()))

	require.NoError(t, store.UpdateProgress(ctx, "j1", scraper.Progress{Message: "page 3", Percent: 40, Captured: 30}))
	require.NoError(t, store.UpdateProgress(ctx, "j1", scraper.Progress{Message: "window restart", Percent: 25, Captured: 30}))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 40.0, job.ProgressPercent)
	require.Equal(t, "window restart", job.ProgressMessage)
}

func TestAppendRecordsAtomicWithProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	require.NoError(t, store.CreateJob(ctx, newJob("j1", scraper.SourceAmazonReviews, time.Now())))
	require.NoError(t, store.MarkStarted(ctx, "j1", time.Now()))

	total := 20
	records := []scraper.ReviewRecord{
		{ReviewID: "R1", Rating: 5, Body: "great"},
		{ReviewID: "R2", Rating: 4, Body: "good"},
	}
	require.NoError(t, store.AppendRecords(ctx, "j1", records, scraper.Progress{
		Message: "five_star page 1", Percent: 10, Captured: 2, TotalFound: &total,
	}))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, 2, job.Captured)
	require.NotNil(t, job.TotalFound)
	require.Equal(t, 20, *job.TotalFound)

	rows, err := store.ListRecords(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "j1", rows[0].JobID)

	ids, err := store.ListRecordIDs(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, []string{"R1", "R2"}, ids)
}

func TestTerminalStatesAreWriteOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	now := time.Now()
	require.NoError(t, store.CreateJob(ctx, newJob("j1", scraper.SourceAmazonReviews, now)))
	require.NoError(t, store.MarkStarted(ctx, "j1", now))
	require.NoError(t, store.CompleteJob(ctx, "j1", scraper.JobStatusCompleted, "done", "", now))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCompleted, job.Status)
	require.Equal(t, 100.0, job.ProgressPercent)
	require.NotNil(t, job.CompletedAt)

	require.ErrorIs(t, store.CompleteJob(ctx, "j1", scraper.JobStatusFailed, "", "late", now), scraper.ErrConflict)
	require.ErrorIs(t, store.MarkStarted(ctx, "j1", now), scraper.ErrConflict)
	require.ErrorIs(t, store.UpdateProgress(ctx, "j1", scraper.Progress{Percent: 50}), scraper.ErrConflict)
	require.ErrorIs(t, store.AppendRecords(ctx, "j1", nil, scraper.Progress{}), scraper.ErrConflict)
	_, err = store.CancelJob(ctx, "j1", now)
	require.ErrorIs(t, err, scraper.ErrConflict)
}

func TestCompleteJobRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	require.NoError(t, store.CreateJob(ctx, newJob("j1", scraper.SourceAmazonReviews, time.Now())))

	err := store.CompleteJob(ctx, "j1", scraper.JobStatusInProgress, "", "", time.Now())
	require.Error(t, err)
}

func TestCancelPendingJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	now := time.Now()
	require.NoError(t, store.CreateJob(ctx, newJob("j1", scraper.SourceAmazonReviews, now)))

	job, err := store.CancelJob(ctx, "j1", now)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStatusCancelled, job.Status)
	require.NotNil(t, job.CompletedAt)
	require.Nil(t, job.StartedAt)
}

func TestMarkStartedKeepsOriginalStartTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewJobStore()
	first := time.Now()
	require.NoError(t, store.CreateJob(ctx, newJob("j1", scraper.SourceAmazonReviews, first)))
	require.NoError(t, store.MarkStarted(ctx, "j1", first))
	require.NoError(t, store.MarkStarted(ctx, "j1", first.Add(time.Hour)))

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, job.StartedAt)
	require.True(t, job.StartedAt.Equal(first))
}
