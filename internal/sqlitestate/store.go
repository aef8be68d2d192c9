// Package sqlitestate records completed swarm download jobs for
// operator querying. Unlike the teacher's downloader/state.go, this is
// deliberately write-only: there is no read path that feeds a prior
// job's chunk state back into a new Scheduler run. A crashed or
// cancelled job simply starts over from scratch on its next attempt.
package sqlitestate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/libp2p/go-libp2p/core/peer"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	target_filename TEXT NOT NULL,
	target_path     TEXT NOT NULL,
	total_bytes     INTEGER NOT NULL,
	elapsed_ms      INTEGER NOT NULL,
	completed_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS job_sources (
	job_id   INTEGER NOT NULL REFERENCES jobs(id),
	peer_id  TEXT NOT NULL,
	chunks   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_sources_job_id ON job_sources(job_id);
`

// Store is a handle to the completed-jobs ledger.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the sqlite file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestate: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestate: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CompletedJob is the record written once a job finishes successfully.
type CompletedJob struct {
	TargetFilename  string
	TargetPath      string
	TotalBytes      int64
	Elapsed         time.Duration
	ChunksPerSource map[peer.ID]int
}

// RecordCompletedJob inserts one row for the job and one row per
// contributing source. It is a pure write: there is no corresponding
// "resume this job" read path, by design.
func (s *Store) RecordCompletedJob(ctx context.Context, job CompletedJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestate: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (target_filename, target_path, total_bytes, elapsed_ms, completed_at)
		VALUES (?, ?, ?, ?, ?)`,
		job.TargetFilename, job.TargetPath, job.TotalBytes, job.Elapsed.Milliseconds(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("sqlitestate: insert job: %w", err)
	}

	jobID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlitestate: job id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO job_sources (job_id, peer_id, chunks) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlitestate: prepare source insert: %w", err)
	}
	defer stmt.Close()

	for id, chunks := range job.ChunksPerSource {
		if _, err := stmt.ExecContext(ctx, jobID, id.String(), chunks); err != nil {
			return fmt.Errorf("sqlitestate: insert source %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// JobSummary is one row from ListRecent.
type JobSummary struct {
	ID             int64
	TargetFilename string
	TotalBytes     int64
	Elapsed        time.Duration
	CompletedAt    time.Time
	SourceCount    int
}

// ListRecent returns the most recently completed jobs, newest first,
// for operator inspection (e.g. a `swarmget history` subcommand).
func (s *Store) ListRecent(ctx context.Context, limit int) ([]JobSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT j.id, j.target_filename, j.total_bytes, j.elapsed_ms, j.completed_at,
		       (SELECT COUNT(*) FROM job_sources WHERE job_id = j.id)
		FROM jobs j
		ORDER BY j.completed_at DESC, j.id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlitestate: list recent: %w", err)
	}
	defer rows.Close()

	var out []JobSummary
	for rows.Next() {
		var js JobSummary
		var elapsedMs, completedAt int64
		if err := rows.Scan(&js.ID, &js.TargetFilename, &js.TotalBytes, &elapsedMs, &completedAt, &js.SourceCount); err != nil {
			return nil, fmt.Errorf("sqlitestate: scan row: %w", err)
		}
		js.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		js.CompletedAt = time.Unix(completedAt, 0)
		out = append(out, js)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestate: iterate rows: %w", err)
	}
	return out, nil
}
