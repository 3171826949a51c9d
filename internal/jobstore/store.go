// Package jobstore keeps a local SQLite ledger of jobs run by the worker.
// The remote queue stays the source of truth for job progress; the ledger
// records what this worker submitted and how it ended.
package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a job id is not in the ledger.
var ErrNotFound = errors.New("job not found")

// Status is the ledger state of a job.
type Status string

const (
	StatusPending   Status = "pending"   // accepted from intake, not yet submitted
	StatusQueued    Status = "queued"    // submitted, waiting on the remote queue
	StatusRunning   Status = "running"   // remote reported IN_PROGRESS
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one ledger row.
type Job struct {
	ID        string    `json:"id"`
	Endpoint  string    `json:"endpoint"`
	RequestID string    `json:"request_id,omitempty"`
	Status    Status    `json:"status"`
	Prompt    string    `json:"prompt"`
	Result    string    `json:"result,omitempty"` // raw JSON output
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const schema = `CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	endpoint TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	result_json TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);`

// Store is a SQLite-backed job ledger. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the ledger at path. Use ":memory:" for
// an ephemeral ledger.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open job ledger: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create jobs table: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Create inserts a pending job.
func (s *Store) Create(ctx context.Context, id, endpoint, prompt string) error {
	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, endpoint, status, prompt, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, endpoint, StatusPending, prompt, now, now)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", id, err)
	}
	return nil
}

// SetRequestID records the remote request id and marks the job queued.
func (s *Store) SetRequestID(ctx context.Context, id, requestID string) error {
	return s.update(ctx, id,
		`UPDATE jobs SET request_id = ?, status = ?, updated_at = ? WHERE id = ?`,
		requestID, StatusQueued, s.now().UTC(), id)
}

// UpdateStatus moves a job to status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status) error {
	return s.update(ctx, id,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		status, s.now().UTC(), id)
}

// IncrementAttempts bumps the attempt counter before a new try.
func (s *Store) IncrementAttempts(ctx context.Context, id string) error {
	return s.update(ctx, id,
		`UPDATE jobs SET attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		s.now().UTC(), id)
}

// Complete stores the raw result and marks the job completed.
func (s *Store) Complete(ctx context.Context, id, resultJSON string) error {
	return s.update(ctx, id,
		`UPDATE jobs SET status = ?, result_json = ?, error = '', updated_at = ? WHERE id = ?`,
		StatusCompleted, resultJSON, s.now().UTC(), id)
}

// Fail records the final error and marks the job failed.
func (s *Store) Fail(ctx context.Context, id, reason string) error {
	return s.update(ctx, id,
		`UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, reason, s.now().UTC(), id)
}

// Get returns the job with id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, endpoint, request_id, status, prompt, result_json, error, attempts, created_at, updated_at
		 FROM jobs WHERE id = ?`, id)

	var j Job
	err := row.Scan(&j.ID, &j.Endpoint, &j.RequestID, &j.Status, &j.Prompt,
		&j.Result, &j.Error, &j.Attempts, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}
	return &j, nil
}

// Ready implements health.ReadinessChecker.
func (s *Store) Ready(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
