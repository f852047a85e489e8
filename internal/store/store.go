// Package store persists the boundary and estimate caches and the run
// history in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path and
// configures WAL mode.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "store: exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS boundary_cache (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS estimate_cache (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	input_path  TEXT NOT NULL,
	params      TEXT NOT NULL,
	points      INTEGER NOT NULL DEFAULT 0,
	matched     INTEGER NOT NULL DEFAULT 0,
	unassigned  INTEGER NOT NULL DEFAULT 0,
	regions     INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT,
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Migrate creates the cache and run-history tables.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "store: migrate")
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Boundary cache. Entries never expire: tract boundaries for a given
// vintage are static reference data.

func (s *Store) GetBoundary(ctx context.Context, key string) ([]byte, bool, error) {
	return s.getCache(ctx, "boundary_cache", key)
}

func (s *Store) PutBoundary(ctx context.Context, key string, payload []byte) error {
	return s.putCache(ctx, "boundary_cache", key, payload)
}

// Estimate cache.

func (s *Store) GetEstimate(ctx context.Context, key string) ([]byte, bool, error) {
	return s.getCache(ctx, "estimate_cache", key)
}

func (s *Store) PutEstimate(ctx context.Context, key string, payload []byte) error {
	return s.putCache(ctx, "estimate_cache", key, payload)
}

func (s *Store) getCache(ctx context.Context, table, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM `+table+` WHERE key = ?`, key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "store: get %s", table)
	}
	return payload, true, nil
}

func (s *Store) putCache(ctx context.Context, table, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (key, payload, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at`,
		key, payload, time.Now().UTC(),
	)
	return eris.Wrapf(err, "store: put %s", table)
}

// CacheStatus reports entry counts and payload bytes per cache table.
type CacheStatus struct {
	BoundaryEntries int
	BoundaryBytes   int64
	EstimateEntries int
	EstimateBytes   int64
}

func (s *Store) Status(ctx context.Context) (*CacheStatus, error) {
	var cs CacheStatus
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM boundary_cache`,
	).Scan(&cs.BoundaryEntries, &cs.BoundaryBytes)
	if err != nil {
		return nil, eris.Wrap(err, "store: boundary cache status")
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(payload)), 0) FROM estimate_cache`,
	).Scan(&cs.EstimateEntries, &cs.EstimateBytes)
	if err != nil {
		return nil, eris.Wrap(err, "store: estimate cache status")
	}
	return &cs, nil
}

// ClearCache deletes every cache entry. Returns entries removed.
func (s *Store) ClearCache(ctx context.Context) (int, error) {
	total := 0
	for _, table := range []string{"boundary_cache", "estimate_cache"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table)
		if err != nil {
			return total, eris.Wrapf(err, "store: clear %s", table)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, eris.Wrap(err, "store: rows affected")
		}
		total += int(n)
	}
	return total, nil
}

// Run records one pipeline execution.
type Run struct {
	ID         string
	InputPath  string
	Params     map[string]any
	Points     int
	Matched    int
	Unassigned int
	Regions    int
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Run statuses.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusFailed   = "failed"
)

// CreateRun inserts a new run in status running and returns it.
func (s *Store) CreateRun(ctx context.Context, inputPath string, params map[string]any) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, input_path, params, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, inputPath, string(paramsJSON), RunStatusRunning, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: insert run")
	}

	return &Run{
		ID:        id,
		InputPath: inputPath,
		Params:    params,
		Status:    RunStatusRunning,
		StartedAt: now,
	}, nil
}

// CompleteRun marks a run complete with its final counts.
func (s *Store) CompleteRun(ctx context.Context, id string, points, matched, unassigned, regions int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET points = ?, matched = ?, unassigned = ?, regions = ?,
		 status = ?, finished_at = ? WHERE id = ?`,
		points, matched, unassigned, regions, RunStatusComplete, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "store: complete run %s", id)
	}
	return checkRowsAffected(res, id)
}

// FailRun marks a run failed with its error message.
func (s *Store) FailRun(ctx context.Context, id string, runErr error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		RunStatusFailed, runErr.Error(), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "store: fail run %s", id)
	}
	return checkRowsAffected(res, id)
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, input_path, params, points, matched, unassigned, regions,
		 status, COALESCE(error, ''), started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var paramsJSON string
		var finished sql.NullTime
		if err := rows.Scan(
			&r.ID, &r.InputPath, &paramsJSON, &r.Points, &r.Matched,
			&r.Unassigned, &r.Regions, &r.Status, &r.Error, &r.StartedAt, &finished,
		); err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal params")
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "store: list runs iterate")
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}
