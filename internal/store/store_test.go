package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/andresmejia3/facescan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a throwaway Postgres container and connects a Store to it.
// It requires Docker to be running.
func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("facescan_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, connStr)
	require.NoError(t, err, "connect store")
	t.Cleanup(func() { s.Close(ctx) })
	return s, ctx
}

func TestStoreIntegration(t *testing.T) {
	s, ctx := newTestStore(t)

	require.NoError(t, s.EnsureVideoMetadata(ctx, "vid_123", "/tmp/video.mp4"))
	// Second registration only refreshes the row.
	require.NoError(t, s.EnsureVideoMetadata(ctx, "vid_123", "/tmp/moved.mp4"))

	runID, err := s.StartRun(ctx, "vid_123", RunParams{SamplingRate: 0.5, Threshold: 0.45})
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, "vid_123")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)
	assert.Equal(t, "/tmp/moved.mp4", runs[0].VideoPath)

	matches := []types.MatchEvent{
		{Timestamp: 4, Confidence: 0.7, Distance: 0.3, PersonID: "p-1", PersonName: "Ada", FrameIndex: 40},
		{Timestamp: 8, Confidence: 0.6, Distance: 0.4, FrameIndex: 80, TargetIndex: 1},
	}
	require.NoError(t, s.FinishRun(ctx, runID, RunSummary{FrameSkip: 20, SampledFrames: 5, Matches: matches}))

	runs, err = s.ListRuns(ctx, "")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, runID, got.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.FinishedAt)
	assert.Equal(t, 20, got.FrameSkip)
	assert.Equal(t, 5, got.SampledFrames)
	assert.Equal(t, 2, got.MatchCount)
	assert.InDelta(t, 0.45, got.Threshold, 1e-9)

	stored, err := s.GetRunMatches(ctx, runID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, 40, stored[0].FrameIndex)
	assert.Equal(t, "Ada", stored[0].PersonName)
	assert.Equal(t, 1, stored[1].TargetIndex)
	assert.Empty(t, stored[1].PersonID)
}

func TestStoreFailRun(t *testing.T) {
	s, ctx := newTestStore(t)

	require.NoError(t, s.EnsureVideoMetadata(ctx, "vid_fail", "/tmp/broken.mp4"))
	runID, err := s.StartRun(ctx, "vid_fail", RunParams{SamplingRate: 1, Threshold: 0.3})
	require.NoError(t, err)

	require.NoError(t, s.FailRun(ctx, runID, errors.New("frame 3 failed")))

	runs, err := s.ListRuns(ctx, "vid_fail")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Equal(t, "frame 3 failed", runs[0].Error)
	assert.Zero(t, runs[0].MatchCount)

	none, err := s.ListRuns(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreReset(t *testing.T) {
	s, ctx := newTestStore(t)

	require.NoError(t, s.EnsureVideoMetadata(ctx, "vid_reset", "/tmp/a.mp4"))
	require.NoError(t, s.Reset(ctx))

	// Tables are gone until the schema is recreated.
	_, err := s.ListRuns(ctx, "")
	assert.Error(t, err)

	require.NoError(t, initSchema(ctx, s.conn))
	runs, err := s.ListRuns(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, runs)
}
