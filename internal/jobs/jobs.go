// Package jobs tracks async extraction jobs: creation, status
// transitions, result storage and expiry. Stores come in memory, SQLite
// and Postgres flavors behind one interface.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doctriage/doctriage/constants"
)

// DefaultExpiry is how long finished and stale jobs are retained.
const DefaultExpiry = 24 * time.Hour

// ErrNotFound is returned by Get for unknown job ids.
var ErrNotFound = errors.New("job not found")

// Job is one async extraction request with its lifecycle state.
type Job struct {
	ID          string              `json:"job_id"`
	FileName    string              `json:"file_name"`
	FilePath    string              `json:"-"` // uploaded temp file, removed after processing
	Quality     constants.Quality   `json:"quality"`
	Model       string              `json:"model,omitempty"`
	CallbackURL string              `json:"callback_url,omitempty"`
	Status      constants.JobStatus `json:"status"`
	Progress    int                 `json:"progress"` // 0-100

	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ProcessingTimeMS *float64   `json:"processing_time_ms,omitempty"`

	Result json.RawMessage `json:"-"` // serialized ExtractionResult when completed
	Error  string          `json:"error,omitempty"`
}

// NewJob builds a pending job with a fresh id.
func NewJob(fileName, filePath string, quality constants.Quality, model, callbackURL string) *Job {
	return &Job{
		ID:          uuid.New().String(),
		FileName:    fileName,
		FilePath:    filePath,
		Quality:     quality,
		Model:       model,
		CallbackURL: callbackURL,
		Status:      constants.JobStatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

// Store persists jobs. All methods are safe for concurrent use.
type Store interface {
	Create(ctx context.Context, job *Job) error
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Job, error)
	// MarkProcessing moves a job to processing and stamps its start time.
	MarkProcessing(ctx context.Context, id string) error
	// Complete stores the result and moves the job to completed.
	Complete(ctx context.Context, id string, result json.RawMessage, processingTimeMS float64) error
	// Fail records the error and moves the job to failed.
	Fail(ctx context.Context, id string, errMsg string) error
	// CleanupExpired drops jobs older than the store's expiry, removing
	// any leftover upload files, and returns how many were dropped.
	CleanupExpired(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore is the development store.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	expiry time.Duration
	logger *slog.Logger
}

func NewMemoryStore(expiry time.Duration, logger *slog.Logger) *MemoryStore {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{jobs: map[string]*Job{}, expiry: expiry, logger: logger}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = constants.JobStatusProcessing
	job.StartedAt = &now
	job.Progress = 10
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, id string, result json.RawMessage, processingTimeMS float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = constants.JobStatusCompleted
	job.CompletedAt = &now
	job.Progress = 100
	job.Result = result
	job.ProcessingTimeMS = &processingTimeMS
	return nil
}

func (s *MemoryStore) Fail(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	job.Status = constants.JobStatusFailed
	job.CompletedAt = &now
	job.Progress = 100
	job.Error = errMsg
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-s.expiry)
	n := 0
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			RemoveUpload(job.FilePath, s.logger)
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }

// RemoveUpload deletes a job's uploaded temp file, tolerating files
// already gone.
func RemoveUpload(path string, logger *slog.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn("jobs.upload_cleanup_failed", "path", path, "error", err)
	}
}
