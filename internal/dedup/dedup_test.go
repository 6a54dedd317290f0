package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	ids []string
	err error
}

func (f *fakeLister) ListRecordIDs(_ context.Context, _ string) ([]string, error) {
	return f.ids, f.err
}

func TestAdmitFirstSeenWins(t *testing.T) {
	t.Parallel()

	s := New()
	require.True(t, s.Admit("R1"))
	require.False(t, s.Admit("R1"))
	require.True(t, s.Admit("R2"))
	require.Equal(t, 2, s.Len())
}

func TestAdmitVerbatimIDs(t *testing.T) {
	t.Parallel()

	// Ids are compared byte-for-byte; no normalization.
	s := New()
	require.True(t, s.Admit("R1ABC"))
	require.True(t, s.Admit("r1abc"))
	require.True(t, s.Admit(" R1ABC"))
	require.False(t, s.Admit(""))
}

func TestRehydrateSuppressesReplay(t *testing.T) {
	t.Parallel()

	s := New()
	lister := &fakeLister{ids: []string{"R1", "R2", ""}}
	require.NoError(t, s.Rehydrate(context.Background(), lister, "job-1"))

	require.Equal(t, 2, s.Len())
	require.False(t, s.Admit("R1"))
	require.False(t, s.Admit("R2"))
	require.True(t, s.Admit("R3"))
}

func TestRehydrateError(t *testing.T) {
	t.Parallel()

	s := New()
	lister := &fakeLister{err: errors.New("store down")}
	require.Error(t, s.Rehydrate(context.Background(), lister, "job-1"))
	require.Equal(t, 0, s.Len())
}
