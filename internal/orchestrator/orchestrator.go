// Package orchestrator runs scrape jobs in the background and owns the
// job lifecycle state machine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/productpulse/review-scraper/internal/clock/system"
	"github.com/productpulse/review-scraper/internal/dedup"
	"github.com/productpulse/review-scraper/internal/metrics"
	"github.com/productpulse/review-scraper/internal/progress"
	"github.com/productpulse/review-scraper/internal/scraper"
)

// Config controls job execution.
type Config struct {
	// MaxConcurrent caps simultaneously running jobs; submissions
	// beyond it are rejected with ErrCapacity.
	MaxConcurrent int
	// FetchTimeout bounds each extractor call.
	FetchTimeout time.Duration
	// PageDelay is the pause between successive page fetches.
	PageDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 45 * time.Second
	}
}

// Orchestrator schedules jobs onto goroutines, one per job, each
// tracked by a cancellable handle.
type Orchestrator struct {
	cfg        Config
	store      scraper.JobStore
	extractors map[scraper.SourceType]scraper.Extractor
	retry      scraper.RetryPolicy
	clock      scraper.Clock
	ids        scraper.IDGenerator
	emitter    progress.Emitter
	logger     *zap.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	handles map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an Orchestrator. The extractors map binds each source type
// to its implementation.
func New(
	cfg Config,
	store scraper.JobStore,
	extractors map[scraper.SourceType]scraper.Extractor,
	retry scraper.RetryPolicy,
	clock scraper.Clock,
	ids scraper.IDGenerator,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Orchestrator {
	cfg.applyDefaults()
	if retry == nil {
		retry = scraper.NewExponentialRetryPolicy()
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		extractors: extractors,
		retry:      retry,
		clock:      clock,
		ids:        ids,
		emitter:    emitter,
		logger:     logger.Named("orchestrator"),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		handles:    map[string]context.CancelFunc{},
	}
}

// Submit validates capacity, persists the job in pending state, and
// launches its goroutine. No job row exists when an error is returned.
func (o *Orchestrator) Submit(ctx context.Context, source scraper.SourceType, target scraper.Target, maxItems int) (scraper.Job, error) {
	if _, ok := o.extractors[source]; !ok {
		return scraper.Job{}, scraper.NewValidationError("source_type", fmt.Sprintf("no extractor for %q", source))
	}
	id, err := o.ids.NewID()
	if err != nil {
		return scraper.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := scraper.Job{
		ID:              id,
		Source:          source,
		Target:          target,
		MaxItems:        maxItems,
		Status:          scraper.JobStatusPending,
		ProgressMessage: "queued",
		CreatedAt:       o.clock.Now(),
	}

	o.mu.Lock()
	if len(o.handles) >= o.cfg.MaxConcurrent {
		o.mu.Unlock()
		return scraper.Job{}, scraper.ErrCapacity
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		o.mu.Unlock()
		return scraper.Job{}, fmt.Errorf("persist job: %w", err)
	}
	o.launchLocked(job)
	o.mu.Unlock()

	o.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("source", string(job.Source)),
		zap.String("url", job.Target.URL),
	)
	return job, nil
}

// Cancel transitions the job to cancelled and stops its goroutine. The
// store write happens first so the terminal state survives even if the
// goroutine is mid-fetch.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (scraper.Job, error) {
	job, err := o.store.CancelJob(ctx, jobID, o.clock.Now())
	if err != nil {
		return scraper.Job{}, err
	}

	o.mu.Lock()
	cancel, running := o.handles[jobID]
	o.mu.Unlock()
	if running {
		cancel()
	} else {
		// No goroutine observes this job, so report the terminal
		// event here.
		o.emit(progress.Event{
			JobID: job.ID, Source: string(job.Source),
			TS: o.clock.Now(), Stage: progress.StageJobCancelled,
		})
		metrics.ObserveJob(string(job.Source), string(scraper.JobStatusCancelled))
	}
	o.logger.Info("job cancelled", zap.String("job_id", jobID))
	return job, nil
}

// Recover relaunches jobs left pending or in_progress by a previous
// process. Captured review ids are rehydrated inside the job loop, so
// replayed pages deduplicate instead of double-counting.
func (o *Orchestrator) Recover(ctx context.Context) error {
	relaunched := 0
	for _, status := range []scraper.JobStatus{scraper.JobStatusPending, scraper.JobStatusInProgress} {
		status := status
		jobs, err := o.store.ListJobs(ctx, scraper.JobFilter{Status: &status})
		if err != nil {
			return fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			o.mu.Lock()
			if _, exists := o.handles[job.ID]; !exists {
				o.launchLocked(job)
				relaunched++
			}
			o.mu.Unlock()
		}
	}
	if relaunched > 0 {
		o.logger.Info("recovered interrupted jobs", zap.Int("count", relaunched))
	}
	return nil
}

// Shutdown cancels every running job and waits for the goroutines to
// stop. Interrupted jobs stay in_progress for the next Recover.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.baseCancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown wait: %w", ctx.Err())
	}
}

// Running reports the number of jobs currently holding a handle.
func (o *Orchestrator) Running() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.handles)
}

func (o *Orchestrator) launchLocked(job scraper.Job) {
	ctx, cancel := context.WithCancel(o.baseCtx)
	o.handles[job.ID] = cancel
	o.wg.Add(1)
	go o.run(ctx, job)
}

func (o *Orchestrator) run(ctx context.Context, job scraper.Job) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		if cancel, ok := o.handles[job.ID]; ok {
			cancel()
			delete(o.handles, job.ID)
		}
		o.mu.Unlock()
	}()
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()

	logger := o.logger.With(zap.String("job_id", job.ID), zap.String("source", string(job.Source)))
	started := o.clock.Now()

	if err := o.store.MarkStarted(context.WithoutCancel(ctx), job.ID, started); err != nil {
		if errors.Is(err, scraper.ErrConflict) {
			// cancelled between submission and start
			o.finishObserved(job, started)
			return
		}
		logger.Error("mark started failed", zap.Error(err))
		return
	}
	o.emit(progress.Event{
		JobID: job.ID, Source: string(job.Source),
		TS: started, Stage: progress.StageJobStart,
	})

	ext := o.extractors[job.Source]
	if ext == nil {
		o.failJob(job, started, fmt.Errorf("no extractor for source %q", job.Source))
		return
	}

	if job.Source.CountOnly() {
		o.runCountOnly(ctx, logger, job, ext, started)
		return
	}
	o.runPaginated(ctx, logger, job, ext, started)
}

func (o *Orchestrator) runCountOnly(
	ctx context.Context,
	logger *zap.Logger,
	job scraper.Job,
	ext scraper.Extractor,
	started time.Time,
) {
	sess, err := o.openSession(ctx, ext, job)
	if err != nil {
		o.finishFetchFailure(ctx, job, started, err)
		return
	}
	page, err := o.fetchPage(ctx, job, ext, sess, ext.FirstCursor())
	if err != nil {
		o.finishFetchFailure(ctx, job, started, err)
		return
	}

	total := 0
	if page.TotalHint != nil {
		total = *page.TotalHint
	}
	err = o.store.UpdateProgress(context.WithoutCancel(ctx), job.ID, scraper.Progress{
		Message:    fmt.Sprintf("found %d reviews", total),
		Percent:    100,
		TotalFound: &total,
	})
	if err != nil {
		o.finishStoreFailure(job, started, err)
		return
	}
	logger.Info("count captured", zap.Int("total", total))
	o.completeJob(job, started, fmt.Sprintf("found %d reviews", total))
}

func (o *Orchestrator) runPaginated(
	ctx context.Context,
	logger *zap.Logger,
	job scraper.Job,
	ext scraper.Extractor,
	started time.Time,
) {
	seen := dedup.New()
	if err := seen.Rehydrate(ctx, o.store, job.ID); err != nil {
		o.failJob(job, started, fmt.Errorf("rehydrate dedup set: %w", err))
		return
	}
	captured := seen.Len()
	if job.MaxItems > 0 && captured >= job.MaxItems {
		o.completeJob(job, started, fmt.Sprintf("review cap reached (%d)", job.MaxItems))
		return
	}

	sess, err := o.openSession(ctx, ext, job)
	if err != nil {
		o.finishFetchFailure(ctx, job, started, err)
		return
	}

	cursor := ext.FirstCursor()
	windowCount := ext.WindowCount()
	var totalFound *int

	for {
		if ctx.Err() != nil {
			o.finishObserved(job, started)
			return
		}

		fetchStart := o.clock.Now()
		page, err := o.fetchPage(ctx, job, ext, sess, cursor)
		fetchDur := o.clock.Now().Sub(fetchStart)
		if err != nil {
			metrics.ObserveFetch(string(job.Source), "error", fetchDur)
			o.emit(progress.Event{
				JobID: job.ID, Source: string(job.Source),
				TS: o.clock.Now(), Stage: progress.StagePageError,
				Window: cursor.Window, Note: err.Error(),
			})
			o.finishFetchFailure(ctx, job, started, err)
			return
		}
		metrics.ObserveFetch(string(job.Source), "success", fetchDur)

		if page.TotalHint != nil {
			totalFound = page.TotalHint
		}

		fresh := make([]scraper.ReviewRecord, 0, len(page.Records))
		for _, rec := range page.Records {
			if seen.Admit(rec.ReviewID) {
				fresh = append(fresh, rec)
			}
		}
		capReached := false
		if job.MaxItems > 0 && captured+len(fresh) >= job.MaxItems {
			fresh = fresh[:job.MaxItems-captured]
			capReached = true
		}
		captured += len(fresh)

		prog := scraper.Progress{
			Message:    progressMessage(cursor, captured),
			Percent:    progressPercent(captured, totalFound, cursor, page, windowCount),
			Captured:   captured,
			TotalFound: totalFound,
		}
		if err := o.store.AppendRecords(context.WithoutCancel(ctx), job.ID, fresh, prog); err != nil {
			o.finishStoreFailure(job, started, err)
			return
		}
		metrics.ObserveReviews(string(job.Source), len(fresh))
		o.emit(progress.Event{
			JobID: job.ID, Source: string(job.Source),
			TS: o.clock.Now(), Stage: progress.StagePageDone,
			Window: cursor.Window, NewRecords: len(fresh),
			Captured: captured, Dur: fetchDur,
		})
		logger.Debug("page persisted",
			zap.String("window", cursor.Window),
			zap.Int("page", cursor.Page),
			zap.Int("new", len(fresh)),
			zap.Int("captured", captured),
		)

		if capReached {
			o.completeJob(job, started, fmt.Sprintf("review cap reached (%d)", job.MaxItems))
			return
		}
		if page.Done {
			o.completeJob(job, started, fmt.Sprintf("captured %d reviews", captured))
			return
		}
		cursor = page.Next

		if o.cfg.PageDelay > 0 {
			select {
			case <-time.After(o.cfg.PageDelay):
			case <-ctx.Done():
			}
		}
	}
}

// openSession resolves credentials with the same retry budget as page
// fetches.
func (o *Orchestrator) openSession(ctx context.Context, ext scraper.Extractor, job scraper.Job) (scraper.Session, error) {
	var sess scraper.Session
	err := o.withRetry(ctx, job, func(callCtx context.Context) error {
		var err error
		sess, err = ext.OpenSession(callCtx, job.Target)
		return err
	})
	return sess, err
}

func (o *Orchestrator) fetchPage(
	ctx context.Context,
	job scraper.Job,
	ext scraper.Extractor,
	sess scraper.Session,
	cursor scraper.Cursor,
) (scraper.Page, error) {
	var page scraper.Page
	err := o.withRetry(ctx, job, func(callCtx context.Context) error {
		var err error
		page, err = ext.FetchPage(callCtx, job.Target, sess, cursor)
		return err
	})
	return page, err
}

// withRetry runs op under the per-call timeout, retrying transient
// failures with backoff until the policy gives up.
func (o *Orchestrator) withRetry(ctx context.Context, job scraper.Job, op func(context.Context) error) error {
	attempt := 0
	for {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
		err := op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !o.retry.ShouldRetry(err, attempt) {
			return err
		}
		metrics.ObserveRetry(string(job.Source))
		o.logger.Warn("transient source failure, retrying",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-time.After(o.retry.Backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
		attempt++
	}
}

func progressMessage(cursor scraper.Cursor, captured int) string {
	if cursor.Window != "" {
		return fmt.Sprintf("%s page %d, %d reviews captured", cursor.Window, cursor.Page, captured)
	}
	return fmt.Sprintf("page %d, %d reviews captured", cursor.Page, captured)
}

// progressPercent prefers item totals, falls back to page totals, then
// window position. The store clamps it monotone, so a conservative
// estimate here never moves the bar backwards.
func progressPercent(captured int, totalFound *int, cursor scraper.Cursor, page scraper.Page, windowCount int) float64 {
	switch {
	case totalFound != nil && *totalFound > 0:
		pct := float64(captured) / float64(*totalFound) * 100
		if pct > 99 {
			pct = 99
		}
		return pct
	case page.PagesHint != nil && *page.PagesHint > 0:
		pct := float64(cursor.Page) / float64(*page.PagesHint) * 100
		if pct > 99 {
			pct = 99
		}
		return pct
	case windowCount > 0:
		return float64(cursor.WindowIndex) / float64(windowCount) * 100
	default:
		return 0
	}
}

// finishFetchFailure distinguishes cancellation from genuine source
// failure once a fetch comes back with an error.
func (o *Orchestrator) finishFetchFailure(ctx context.Context, job scraper.Job, started time.Time, err error) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		o.finishObserved(job, started)
		return
	}
	o.failJob(job, started, err)
}

// finishStoreFailure handles a persistence error; ErrConflict means a
// concurrent cancel already wrote the terminal state.
func (o *Orchestrator) finishStoreFailure(job scraper.Job, started time.Time, err error) {
	if errors.Is(err, scraper.ErrConflict) {
		o.finishObserved(job, started)
		return
	}
	o.failJob(job, started, err)
}

// finishObserved ends the goroutine after someone else decided the
// job's fate: emit the terminal event if the row says cancelled, stay
// silent on shutdown so Recover can resume the job.
func (o *Orchestrator) finishObserved(job scraper.Job, started time.Time) {
	stored, err := o.store.GetJob(context.Background(), job.ID)
	if err != nil || stored.Status != scraper.JobStatusCancelled {
		return
	}
	now := o.clock.Now()
	o.emit(progress.Event{
		JobID: job.ID, Source: string(job.Source),
		TS: now, Stage: progress.StageJobCancelled,
		Captured: stored.Captured, Dur: now.Sub(started),
	})
	metrics.ObserveJob(string(job.Source), string(scraper.JobStatusCancelled))
}

func (o *Orchestrator) completeJob(job scraper.Job, started time.Time, message string) {
	now := o.clock.Now()
	err := o.store.CompleteJob(context.Background(), job.ID, scraper.JobStatusCompleted, message, "", now)
	if err != nil {
		if errors.Is(err, scraper.ErrConflict) {
			o.finishObserved(job, started)
			return
		}
		o.logger.Error("complete job failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	o.emit(progress.Event{
		JobID: job.ID, Source: string(job.Source),
		TS: now, Stage: progress.StageJobDone, Dur: now.Sub(started),
	})
	metrics.ObserveJob(string(job.Source), string(scraper.JobStatusCompleted))
	o.logger.Info("job completed", zap.String("job_id", job.ID), zap.String("message", message))
}

func (o *Orchestrator) failJob(job scraper.Job, started time.Time, cause error) {
	now := o.clock.Now()
	err := o.store.CompleteJob(context.Background(), job.ID, scraper.JobStatusFailed, "failed", cause.Error(), now)
	if err != nil {
		if errors.Is(err, scraper.ErrConflict) {
			o.finishObserved(job, started)
			return
		}
		o.logger.Error("fail job write failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	o.emit(progress.Event{
		JobID: job.ID, Source: string(job.Source),
		TS: now, Stage: progress.StageJobError,
		Dur: now.Sub(started), Note: cause.Error(),
	})
	metrics.ObserveJob(string(job.Source), string(scraper.JobStatusFailed))
	o.logger.Warn("job failed", zap.String("job_id", job.ID), zap.Error(cause))
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(evt)
}
