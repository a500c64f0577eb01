package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/doctriage/doctriage/constants"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id                 TEXT PRIMARY KEY,
	file_name          TEXT NOT NULL,
	file_path          TEXT NOT NULL DEFAULT '',
	quality            TEXT NOT NULL,
	model              TEXT NOT NULL DEFAULT '',
	callback_url       TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	progress           INTEGER NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL,
	started_at         TEXT,
	completed_at       TEXT,
	processing_time_ms REAL,
	result             TEXT,
	error              TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at);
`

// SQLiteStore persists jobs in a local SQLite database, surviving service
// restarts without external infrastructure.
type SQLiteStore struct {
	db     *sql.DB
	expiry time.Duration
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) the database at dsn and
// ensures the schema exists.
func NewSQLiteStore(ctx context.Context, dsn string, expiry time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// modernc sqlite is not safe for concurrent writes over multiple
	// connections in one process.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, expiry: expiry, logger: logger}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, file_name, file_path, quality, model, callback_url, status, progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.FileName, job.FilePath, string(job.Quality), job.Model, job.CallbackURL,
		string(job.Status), job.Progress, job.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, file_name, file_path, quality, model, callback_url, status, progress,
		       created_at, started_at, completed_at, processing_time_ms, result, error
		FROM jobs WHERE id = ?`, id)

	var (
		job        Job
		quality    string
		status     string
		createdAt  string
		startedAt  sql.NullString
		completed  sql.NullString
		procTimeMS sql.NullFloat64
		result     sql.NullString
	)
	err := row.Scan(&job.ID, &job.FileName, &job.FilePath, &quality, &job.Model, &job.CallbackURL,
		&status, &job.Progress, &createdAt, &startedAt, &completed, &procTimeMS, &result, &job.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job %s: %w", id, err)
	}

	job.Quality = constants.Quality(quality)
	job.Status = constants.JobStatus(status)
	if job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("job %s created_at: %w", id, err)
	}
	if t, ok := parseNullTime(startedAt); ok {
		job.StartedAt = t
	}
	if t, ok := parseNullTime(completed); ok {
		job.CompletedAt = t
	}
	if procTimeMS.Valid {
		job.ProcessingTimeMS = &procTimeMS.Float64
	}
	if result.Valid && result.String != "" {
		job.Result = json.RawMessage(result.String)
	}
	return &job, nil
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, id string) error {
	return s.update(ctx, id, `
		UPDATE jobs SET status = ?, started_at = ?, progress = 10 WHERE id = ?`,
		string(constants.JobStatusProcessing), time.Now().UTC().Format(time.RFC3339Nano), id)
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, result json.RawMessage, processingTimeMS float64) error {
	return s.update(ctx, id, `
		UPDATE jobs SET status = ?, completed_at = ?, progress = 100, processing_time_ms = ?, result = ?
		WHERE id = ?`,
		string(constants.JobStatusCompleted), time.Now().UTC().Format(time.RFC3339Nano),
		processingTimeMS, string(result), id)
}

func (s *SQLiteStore) Fail(ctx context.Context, id string, errMsg string) error {
	return s.update(ctx, id, `
		UPDATE jobs SET status = ?, completed_at = ?, progress = 100, error = ? WHERE id = ?`,
		string(constants.JobStatusFailed), time.Now().UTC().Format(time.RFC3339Nano), errMsg, id)
}

func (s *SQLiteStore) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.expiry).Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(ctx, `SELECT file_path FROM jobs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select expired jobs: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return 0, err
		}
		paths = append(paths, p)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	for _, p := range paths {
		RemoveUpload(p, s.logger)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func parseNullTime(ns sql.NullString) (*time.Time, bool) {
	if !ns.Valid || ns.String == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, false
	}
	return &t, true
}
