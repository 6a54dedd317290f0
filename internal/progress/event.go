package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart     Stage = "JOB_START"
	StageJobDone      Stage = "JOB_DONE"
	StageJobError     Stage = "JOB_ERROR"
	StageJobCancelled Stage = "JOB_CANCELLED"
	StagePageDone     Stage = "PAGE_DONE"
	StagePageError    Stage = "PAGE_ERROR"
)

// Event captures a single milestone of a scrape job.
type Event struct {
	// JobID identifies the job run.
	JobID string
	// Source is the job's source type label (e.g. amazon_reviews).
	Source string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or page milestone occurred.
	Stage Stage
	// Window optionally scopes page events to a pagination window.
	Window string
	// NewRecords is the number of unique records the page contributed.
	NewRecords int
	// Captured is the job's running unique-record total.
	Captured int
	// Dur captures fetch latency for page events and wall time for
	// job completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobDone, StageJobError, StageJobCancelled:
	case StagePageDone, StagePageError:
		if e.Source == "" {
			return errors.New("page events require a source")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.NewRecords < 0 || e.Captured < 0 {
		return errors.New("record counts must be >= 0")
	}
	return nil
}
