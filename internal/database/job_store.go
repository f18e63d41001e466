// Package database provides the Postgres-backed job and document store.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dealbridge/dealroom-capture/internal/engine"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrJobNotFound is returned when a job ID has no row.
var ErrJobNotFound = errors.New("job not found")

// Config controls the Postgres connection pool for job metadata.
type Config struct {
	DSN             string
	JobsTable       string
	DocumentsTable  string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the pool surface the store needs. pgxmock satisfies it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// JobStore persists jobs and staged-document rows in Postgres.
type JobStore struct {
	pool      pgxPool
	jobs      string
	documents string
}

// New creates a Postgres-backed JobStore using the provided config.
func New(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return newWithPool(pool, cfg.JobsTable, cfg.DocumentsTable)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxPool, jobsTable, documentsTable string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return newWithPool(pool, jobsTable, documentsTable)
}

func newWithPool(pool pgxPool, jobsTable, documentsTable string) (*JobStore, error) {
	if jobsTable == "" {
		jobsTable = "capture_jobs"
	}
	if documentsTable == "" {
		documentsTable = "capture_documents"
	}
	for _, table := range []string{jobsTable, documentsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &JobStore{pool: pool, jobs: jobsTable, documents: documentsTable}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row in queued status.
func (s *JobStore) CreateJob(ctx context.Context, job engine.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, submitted_at, parameters, counters)
VALUES ($1, $2, $3, $4, $5)`, s.jobs)
	if _, err := s.pool.Exec(ctx, query, job.ID, string(job.Status), job.Submitted, params, counters); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus transitions a job, stamping started_at on the first move
// to running and finished_at on any terminal status.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status engine.JobStatus, errText string, counters engine.JobCounters) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, now()) ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('succeeded', 'failed', 'canceled') THEN now() ELSE finished_at END
WHERE id = $1`, s.jobs)
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errText, countersJSON)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", jobID, ErrJobNotFound)
	}
	return nil
}

// RecordDocument appends a staged-document row for a job.
func (s *JobStore) RecordDocument(ctx context.Context, doc engine.DocumentRecord) error {
	if doc.JobID == "" {
		return fmt.Errorf("document job id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (job_id, deal_id, name, size_bytes, content_hash, blob_uri, staged_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.documents)
	args := []any{doc.JobID, doc.DealID, doc.Name, doc.SizeBytes, doc.ContentHash, doc.BlobURI, doc.StagedAt}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetJob fetches a job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (engine.Job, error) {
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, counters
FROM %s WHERE id = $1`, s.jobs)

	var (
		job          engine.Job
		status       string
		paramsJSON   []byte
		countersJSON []byte
	)
	row := s.pool.QueryRow(ctx, query, jobID)
	err := row.Scan(&job.ID, &status, &job.Submitted, &job.Started, &job.Finished, &job.ErrorText, &paramsJSON, &countersJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return engine.Job{}, fmt.Errorf("get job %s: %w", jobID, ErrJobNotFound)
	}
	if err != nil {
		return engine.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.Status = engine.JobStatus(status)
	if err := json.Unmarshal(paramsJSON, &job.Parameters); err != nil {
		return engine.Job{}, fmt.Errorf("unmarshal parameters: %w", err)
	}
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
			return engine.Job{}, fmt.Errorf("unmarshal counters: %w", err)
		}
	}
	return job, nil
}

// ListDocuments returns the staged documents for a job in staging order.
func (s *JobStore) ListDocuments(ctx context.Context, jobID string) ([]engine.DocumentRecord, error) {
	query := fmt.Sprintf(`
SELECT job_id, deal_id, name, size_bytes, content_hash, blob_uri, staged_at
FROM %s WHERE job_id = $1 ORDER BY staged_at, name`, s.documents)

	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []engine.DocumentRecord
	for rows.Next() {
		var d engine.DocumentRecord
		if err := rows.Scan(&d.JobID, &d.DealID, &d.Name, &d.SizeBytes, &d.ContentHash, &d.BlobURI, &d.StagedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
