package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "georate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestBoundaryCache_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetBoundary(ctx, "tract:2023:42:101")
	require.NoError(t, err)
	assert.False(t, ok)

	payload := []byte(`{"type":"FeatureCollection","features":[]}`)
	require.NoError(t, s.PutBoundary(ctx, "tract:2023:42:101", payload))

	got, ok, err := s.GetBoundary(ctx, "tract:2023:42:101")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestCache_UpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutEstimate(ctx, "k", []byte("v1")))
	require.NoError(t, s.PutEstimate(ctx, "k", []byte("v2")))

	got, ok, err := s.GetEstimate(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v2"), got)
}

func TestStatusAndClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBoundary(ctx, "b1", []byte("abcd")))
	require.NoError(t, s.PutEstimate(ctx, "e1", []byte("xy")))
	require.NoError(t, s.PutEstimate(ctx, "e2", []byte("z")))

	cs, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cs.BoundaryEntries)
	assert.Equal(t, int64(4), cs.BoundaryBytes)
	assert.Equal(t, 2, cs.EstimateEntries)
	assert.Equal(t, int64(3), cs.EstimateBytes)

	n, err := s.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	cs, err = s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, cs.BoundaryEntries+cs.EstimateEntries)
}

func TestRunLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	params := map[string]any{"state": "42", "scale": 1000.0}
	run, err := s.CreateRun(ctx, "events.csv", params)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, RunStatusRunning, run.Status)

	require.NoError(t, s.CompleteRun(ctx, run.ID, 100, 97, 3, 42))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, RunStatusComplete, runs[0].Status)
	assert.Equal(t, 100, runs[0].Points)
	assert.Equal(t, 97, runs[0].Matched)
	assert.Equal(t, 3, runs[0].Unassigned)
	assert.Equal(t, 42, runs[0].Regions)
	assert.Equal(t, "42", runs[0].Params["state"])
	require.NotNil(t, runs[0].FinishedAt)
}

func TestFailRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, "events.csv", nil)
	require.NoError(t, err)

	require.NoError(t, s.FailRun(ctx, run.ID, eris.New("boundary fetch failed")))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "boundary fetch failed")
}

func TestCompleteRun_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.CompleteRun(context.Background(), "nope", 0, 0, 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateRun(ctx, "a.csv", nil)
	require.NoError(t, err)
	second, err := s.CreateRun(ctx, "b.csv", nil)
	require.NoError(t, err)
	_ = first

	runs, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, second.ID, runs[0].ID)
}
