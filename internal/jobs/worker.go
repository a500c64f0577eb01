package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/process"
)

// Extractor is what the worker needs from the processing layer.
type Extractor interface {
	Extract(ctx context.Context, path string, quality constants.Quality, modelOverride string) process.ExtractionResult
}

// Worker executes jobs against a Store and notifies callbacks.
type Worker struct {
	store     Store
	extractor Extractor
	client    *http.Client
	logger    *slog.Logger
}

func NewWorker(store Store, extractor Extractor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:     store,
		extractor: extractor,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

// Start runs the job in a new goroutine.
func (w *Worker) Start(ctx context.Context, job *Job) {
	go w.Run(ctx, job)
}

// Run processes one job to completion. The uploaded file is removed on
// every outcome; webhook delivery happens after the terminal state is
// stored.
func (w *Worker) Run(ctx context.Context, job *Job) {
	defer RemoveUpload(job.FilePath, w.logger)

	if err := w.store.MarkProcessing(ctx, job.ID); err != nil {
		w.logger.Error("jobs.mark_processing_failed", "job_id", job.ID, "error", err)
		return
	}

	result := w.extractor.Extract(ctx, job.FilePath, job.Quality, job.Model)

	if result.Success {
		payload, err := json.Marshal(result)
		if err != nil {
			w.fail(ctx, job, "serialize result: "+err.Error())
		} else if err := w.store.Complete(ctx, job.ID, payload, result.ProcessingTimeMS); err != nil {
			w.logger.Error("jobs.complete_failed", "job_id", job.ID, "error", err)
		} else {
			w.logger.Info("jobs.completed", "job_id", job.ID, "file", job.FileName,
				"duration_ms", result.ProcessingTimeMS)
		}
	} else {
		errMsg := result.Error
		if errMsg == "" {
			errMsg = "extraction failed"
		}
		w.fail(ctx, job, errMsg)
	}

	if job.CallbackURL != "" {
		w.sendWebhook(ctx, job.ID)
	}
}

func (w *Worker) fail(ctx context.Context, job *Job, errMsg string) {
	if err := w.store.Fail(ctx, job.ID, errMsg); err != nil {
		w.logger.Error("jobs.fail_failed", "job_id", job.ID, "error", err)
		return
	}
	w.logger.Warn("jobs.failed", "job_id", job.ID, "file", job.FileName, "error", errMsg)
}

// sendWebhook POSTs the terminal status to the job's callback URL.
// Delivery is best effort; failures are logged and not retried.
func (w *Worker) sendWebhook(ctx context.Context, jobID string) {
	job, err := w.store.Get(ctx, jobID)
	if err != nil || job.CallbackURL == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{
		"job_id":    job.ID,
		"status":    string(job.Status),
		"file_name": job.FileName,
	})
	if err != nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(payload))
	if err != nil {
		w.logger.Warn("jobs.webhook_build_failed", "job_id", job.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Warn("jobs.webhook_failed", "job_id", job.ID, "url", job.CallbackURL, "error", err)
		return
	}
	defer resp.Body.Close()

	w.logger.Info("jobs.webhook_sent", "job_id", job.ID, "url", job.CallbackURL, "status", resp.StatusCode)
}
