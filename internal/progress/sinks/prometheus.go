package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/productpulse/review-scraper/internal/progress"
)

// PrometheusSink exports scrape progress metrics via Prometheus. It owns all
// collectors for jobs started/finished/running and per-source page counters.
type PrometheusSink struct {
	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	jobsRunning  prometheus.Gauge
	jobRuntime   *prometheus.HistogramVec

	pageFetches  *prometheus.CounterVec
	pageRecords  *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_jobs_started_total",
			Help: "Total jobs that have started, partitioned by source.",
		}, []string{"source"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_jobs_finished_total",
			Help: "Total jobs finished, partitioned by source and result.",
		}, []string{"source", "result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrape_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrape_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"source", "result"}),
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_page_fetches_total",
			Help: "Page fetch completions partitioned by source and outcome.",
		}, []string{"source", "outcome"}),
		pageRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_page_records_total",
			Help: "Unique records contributed by pages, per source.",
		}, []string{"source"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrape_page_duration_seconds",
			Help:    "Page fetch duration partitioned by source.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsFinished,
		s.jobsRunning,
		s.jobRuntime,
		s.pageFetches,
		s.pageRecords,
		s.pageDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	source := evt.Source
	if source == "" {
		source = "unknown"
	}
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.WithLabelValues(source).Inc()
		if s.tracker.start(evt.JobID) {
			s.jobsRunning.Inc()
		}
	case progress.StageJobDone:
		s.finishJob(evt, source, "success")
	case progress.StageJobError:
		s.finishJob(evt, source, "error")
	case progress.StageJobCancelled:
		s.finishJob(evt, source, "cancelled")
	case progress.StagePageDone:
		s.pageFetches.WithLabelValues(source, "success").Inc()
		if evt.NewRecords > 0 {
			s.pageRecords.WithLabelValues(source).Add(float64(evt.NewRecords))
		}
		if evt.Dur > 0 {
			s.pageDuration.WithLabelValues(source).Observe(evt.Dur.Seconds())
		}
	case progress.StagePageError:
		s.pageFetches.WithLabelValues(source, "error").Inc()
	}
}

func (s *PrometheusSink) finishJob(evt progress.Event, source, result string) {
	s.jobsFinished.WithLabelValues(source, result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(source, result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.JobID) {
		s.jobsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
