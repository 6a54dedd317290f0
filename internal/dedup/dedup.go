// Package dedup tracks review ids already captured by a job.
package dedup

import "context"

// RecordIDLister is the slice of the job store the set rehydrates from.
type RecordIDLister interface {
	ListRecordIDs(ctx context.Context, jobID string) ([]string, error)
}

// Set is a per-job first-seen-wins membership set over verbatim review
// ids. It is owned by a single job goroutine and is not safe for
// concurrent use.
type Set struct {
	seen map[string]struct{}
}

// New returns an empty Set.
func New() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Admit records id and reports whether it was seen for the first time.
// Empty ids are always rejected.
func (s *Set) Admit(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Len returns the number of admitted ids.
func (s *Set) Len() int {
	return len(s.seen)
}

// Rehydrate loads the ids already persisted for jobID so that replayed
// pages after a restart are suppressed instead of duplicated.
func (s *Set) Rehydrate(ctx context.Context, store RecordIDLister, jobID string) error {
	ids, err := store.ListRecordIDs(ctx, jobID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id != "" {
			s.seen[id] = struct{}{}
		}
	}
	return nil
}
