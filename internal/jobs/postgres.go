package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doctriage/doctriage/constants"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	file_name          TEXT NOT NULL,
	file_path          TEXT NOT NULL DEFAULT '',
	quality            TEXT NOT NULL,
	model              TEXT NOT NULL DEFAULT '',
	callback_url       TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL,
	started_at         TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	processing_time_ms DOUBLE PRECISION,
	result             JSONB,
	error              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at);
`

// PostgresStore persists jobs in Postgres for multi-instance deployments.
type PostgresStore struct {
	pool   *pgxpool.Pool
	expiry time.Duration
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string, expiry time.Duration, logger *slog.Logger) (*PostgresStore, error) {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return &PostgresStore{pool: pool, expiry: expiry, logger: logger}, nil
}

func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, file_name, file_path, quality, model, callback_url, status, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.FileName, job.FilePath, string(job.Quality), job.Model, job.CallbackURL,
		string(job.Status), job.Progress, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, file_name, file_path, quality, model, callback_url, status, progress,
		       created_at, started_at, completed_at, processing_time_ms, result, error
		FROM jobs WHERE id = $1`, id)

	var (
		job        Job
		quality    string
		status     string
		procTimeMS *float64
		result     []byte
	)
	err := row.Scan(&job.ID, &job.FileName, &job.FilePath, &quality, &job.Model, &job.CallbackURL,
		&status, &job.Progress, &job.CreatedAt, &job.StartedAt, &job.CompletedAt, &procTimeMS, &result, &job.Error)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job %s: %w", id, err)
	}

	job.Quality = constants.Quality(quality)
	job.Status = constants.JobStatus(status)
	job.ProcessingTimeMS = procTimeMS
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	return &job, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, started_at = now(), progress = 10 WHERE id = $2`,
		string(constants.JobStatusProcessing), id)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, id string, result json.RawMessage, processingTimeMS float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, completed_at = now(), progress = 100, processing_time_ms = $2, result = $3
		WHERE id = $4`,
		string(constants.JobStatusCompleted), processingTimeMS, []byte(result), id)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, completed_at = now(), progress = 100, error = $2 WHERE id = $3`,
		string(constants.JobStatusFailed), errMsg, id)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.expiry)

	rows, err := s.pool.Query(ctx, `SELECT file_path FROM jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select expired jobs: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, err
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	for _, p := range paths {
		RemoveUpload(p, s.logger)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
