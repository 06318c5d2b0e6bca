package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/facescan/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNoDatabase is returned by commands that need a database when none is configured.
var ErrNoDatabase = errors.New("no database configured (set --db or FACESCAN_DATABASE_URL)")

// Store manages the PostgreSQL connection that records scan runs and their matches.
type Store struct {
	conn *pgx.Conn
}

// RunParams are the settings a run was started with.
type RunParams struct {
	SamplingRate float64
	Threshold    float64
}

// RunSummary is what a finished run reports.
type RunSummary struct {
	FrameSkip     int
	SampledFrames int
	Matches       []types.MatchEvent
}

// Run is one recorded scan.
type Run struct {
	ID            uuid.UUID
	VideoID       string
	VideoPath     string
	Status        string
	StartedAt     time.Time
	FinishedAt    *time.Time
	SamplingRate  float64
	Threshold     float64
	FrameSkip     int
	SampledFrames int
	MatchCount    int
	Error         string
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS scan_runs (
			id UUID PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES video_metadata(id),
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			sampling_rate DOUBLE PRECISION NOT NULL,
			threshold DOUBLE PRECISION NOT NULL,
			frame_skip INT NOT NULL DEFAULT 0,
			sampled_frames INT NOT NULL DEFAULT 0,
			match_count INT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS match_events (
			run_id UUID NOT NULL REFERENCES scan_runs(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			frame_index INT NOT NULL,
			target_index INT NOT NULL,
			ts_seconds DOUBLE PRECISION NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			distance DOUBLE PRECISION NOT NULL,
			person_id TEXT NOT NULL,
			person_name TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
		CREATE INDEX IF NOT EXISTS scan_runs_video_id_idx ON scan_runs (video_id);
		CREATE INDEX IF NOT EXISTS match_events_person_idx ON match_events (person_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the timestamp.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, path, indexed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path
	`, videoID, path)
	return err
}

// StartRun records a new run in the running state and returns its ID.
func (s *Store) StartRun(ctx context.Context, videoID string, p RunParams) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO scan_runs (id, video_id, status, sampling_rate, threshold)
		VALUES ($1, $2, $3, $4, $5)
	`, id, videoID, StatusRunning, p.SamplingRate, p.Threshold)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FinishRun stores the matches of a completed run and marks it completed, atomically.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, sum RunSummary) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if len(sum.Matches) > 0 {
		batch := &pgx.Batch{}
		for i, m := range sum.Matches {
			batch.Queue(`
				INSERT INTO match_events (run_id, seq, frame_index, target_index, ts_seconds, confidence, distance, person_id, person_name)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, runID, i, m.FrameIndex, m.TargetIndex, m.Timestamp, m.Confidence, m.Distance, m.PersonID, m.PersonName)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert matches: %w", err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE scan_runs
		SET status = $2, finished_at = NOW(), frame_skip = $3, sampled_frames = $4, match_count = $5
		WHERE id = $1
	`, runID, StatusCompleted, sum.FrameSkip, sum.SampledFrames, len(sum.Matches))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return tx.Commit(ctx)
}

// FailRun marks a run failed with the given cause.
func (s *Store) FailRun(ctx context.Context, runID uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.conn.Exec(ctx, `
		UPDATE scan_runs SET status = $2, finished_at = NOW(), error = $3 WHERE id = $1
	`, runID, StatusFailed, msg)
	return err
}

// ListRuns returns runs newest first, optionally restricted to one video.
func (s *Store) ListRuns(ctx context.Context, videoID string) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT r.id, r.video_id, v.path, r.status, r.started_at, r.finished_at,
		       r.sampling_rate, r.threshold, r.frame_skip, r.sampled_frames, r.match_count, r.error
		FROM scan_runs r
		JOIN video_metadata v ON v.id = r.video_id
		WHERE $1 = '' OR r.video_id = $1
		ORDER BY r.started_at DESC
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.VideoID, &r.VideoPath, &r.Status, &r.StartedAt, &r.FinishedAt,
			&r.SamplingRate, &r.Threshold, &r.FrameSkip, &r.SampledFrames, &r.MatchCount, &r.Error); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunMatches returns the stored matches of a run in their original order.
func (s *Store) GetRunMatches(ctx context.Context, runID uuid.UUID) ([]types.MatchEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT frame_index, target_index, ts_seconds, confidence, distance, person_id, person_name
		FROM match_events WHERE run_id = $1 ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.MatchEvent
	for rows.Next() {
		var m types.MatchEvent
		if err := rows.Scan(&m.FrameIndex, &m.TargetIndex, &m.Timestamp, &m.Confidence, &m.Distance, &m.PersonID, &m.PersonName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS match_events CASCADE;
		DROP TABLE IF EXISTS scan_runs CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
