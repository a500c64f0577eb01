// Package server is the HTTP surface: synchronous classify/extract,
// async jobs, and batch reporting.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/backend"
	"github.com/doctriage/doctriage/internal/common"
	"github.com/doctriage/doctriage/internal/export"
	"github.com/doctriage/doctriage/internal/jobs"
	"github.com/doctriage/doctriage/internal/process"
)

// batchRequestSchema validates POST /api/v1/batch bodies before any file
// is touched.
const batchRequestSchema = `{
	"type": "object",
	"required": ["files"],
	"properties": {
		"files": {
			"type": "array",
			"minItems": 1,
			"maxItems": 500,
			"items": {"type": "string", "minLength": 1}
		},
		"quality": {"enum": ["fast", "balanced", "accurate"]},
		"model": {"type": "string"}
	},
	"additionalProperties": false
}`

type batchRequest struct {
	Files   []string `json:"files"`
	Quality string   `json:"quality"`
	Model   string   `json:"model"`
}

// Server wires the extraction pipeline to chi. Construct with New and
// mount Handler.
type Server struct {
	processor *process.Processor
	store     jobs.Store
	worker    *jobs.Worker
	primary   backend.OCRBackend
	fallback  backend.OCRBackend
	cfg       common.ServerConfig
	logger    *slog.Logger
	started   time.Time

	batchSchema *jsonschema.Schema
}

func New(processor *process.Processor, store jobs.Store, worker *jobs.Worker, primary, fallback backend.OCRBackend, cfg common.ServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 50
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("batch.json", strings.NewReader(batchRequestSchema)); err != nil {
		return nil, fmt.Errorf("add batch schema: %w", err)
	}
	schema, err := compiler.Compile("batch.json")
	if err != nil {
		return nil, fmt.Errorf("compile batch schema: %w", err)
	}

	return &Server{
		processor:   processor,
		store:       store,
		worker:      worker,
		primary:     primary,
		fallback:    fallback,
		cfg:         cfg,
		logger:      logger,
		started:     time.Now(),
		batchSchema: schema,
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/classify", s.handleClassify)
		r.Post("/extract", s.handleExtract)
		r.Post("/extract/async", s.handleExtractAsync)
		r.Get("/jobs/{jobID}", s.handleJobStatus)
		r.Get("/jobs/{jobID}/result", s.handleJobResult)
		r.Post("/batch", s.handleBatch)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	backends := map[string]bool{}
	if s.primary != nil {
		backends[s.primary.Name()] = s.primary.IsAvailable()
	}
	if s.fallback != nil {
		backends[s.fallback.Name()] = s.fallback.IsAvailable()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"backends":       backends,
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	path, cleanup, ok := s.saveUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()

	c, err := s.processor.Classify(r.Context(), path)
	if err != nil {
		if errors.Is(err, common.ErrDecode) {
			s.writeError(w, http.StatusUnprocessableEntity, "could not parse PDF")
			return
		}
		s.logger.Error("server.classify_failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "classification failed")
		return
	}
	s.writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	path, cleanup, ok := s.saveUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()

	quality := constants.NormalizeQuality(r.URL.Query().Get("quality"))
	model := r.URL.Query().Get("model")

	result := s.processor.Extract(r.Context(), path, quality, model)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExtractAsync(w http.ResponseWriter, r *http.Request) {
	// Async uploads live until the worker finishes with them; cleanup is
	// the worker's job, not this handler's.
	path, fileName, ok := s.saveUploadPersistent(w, r)
	if !ok {
		return
	}

	if _, err := s.store.CleanupExpired(r.Context()); err != nil {
		s.logger.Warn("server.job_cleanup_failed", "error", err)
	}

	quality := constants.NormalizeQuality(r.URL.Query().Get("quality"))
	job := jobs.NewJob(fileName, path,
		quality,
		r.URL.Query().Get("model"),
		r.URL.Query().Get("callback_url"),
	)
	if err := s.store.Create(r.Context(), job); err != nil {
		jobs.RemoveUpload(path, s.logger)
		s.logger.Error("server.job_create_failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}

	// The request context dies with this response; the worker gets its own.
	s.worker.Start(context.WithoutCancel(r.Context()), job)

	s.logger.Info("server.job_created", "job_id", job.ID, "file", fileName, "quality", quality)
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":     job.ID,
		"status":     string(job.Status),
		"status_url": "/api/v1/jobs/" + job.ID,
		"result_url": "/api/v1/jobs/" + job.ID + "/result",
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}

	switch job.Status {
	case constants.JobStatusPending:
		s.writeError(w, http.StatusConflict, "job is pending")
	case constants.JobStatusProcessing:
		s.writeError(w, http.StatusConflict, "job is still processing")
	case constants.JobStatusFailed:
		msg := job.Error
		if msg == "" {
			msg = "extraction failed"
		}
		s.writeError(w, http.StatusInternalServerError, msg)
	default:
		if len(job.Result) == 0 {
			s.writeError(w, http.StatusInternalServerError, "result not available")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(job.Result)
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.batchSchema.Validate(raw); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid batch request: "+err.Error())
		return
	}

	var req batchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid batch request")
		return
	}
	quality := constants.NormalizeQuality(req.Quality)

	results := make([]process.ExtractionResult, 0, len(req.Files))
	for _, path := range req.Files {
		results = append(results, s.processor.Extract(r.Context(), path, quality, req.Model))
	}

	report, err := export.BuildReport(results)
	if err != nil {
		s.logger.Error("server.batch_report_failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="extraction-report.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report)
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	job, err := s.store.Get(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, jobs.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("server.job_lookup_failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "job lookup failed")
		return nil, false
	}
	return job, true
}

// saveUpload stores the multipart "file" part under the upload dir and
// returns a cleanup that removes it. On any rejection it has already
// written the response.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (string, func(), bool) {
	path, _, ok := s.saveUploadPersistent(w, r)
	if !ok {
		return "", nil, false
	}
	return path, func() { jobs.RemoveUpload(path, s.logger) }, true
}

func (s *Server) saveUploadPersistent(w http.ResponseWriter, r *http.Request) (path, fileName string, ok bool) {
	if err := r.ParseMultipartForm(s.cfg.MaxUploadMB << 20); err != nil {
		s.writeError(w, http.StatusBadRequest, "expected multipart upload")
		return "", "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field")
		return "", "", false
	}
	defer file.Close()

	fileName = filepath.Base(header.Filename)
	if !constants.IsPDFExt(filepath.Ext(fileName)) {
		s.writeError(w, http.StatusBadRequest, "only PDF files are supported")
		return "", "", false
	}

	dst, err := os.CreateTemp(s.cfg.UploadDir, "doctriage-upload-*.pdf")
	if err != nil {
		s.logger.Error("server.upload_tmp_failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "could not store upload")
		return "", "", false
	}
	if _, err := io.Copy(dst, file); err != nil {
		_ = dst.Close()
		jobs.RemoveUpload(dst.Name(), s.logger)
		s.writeError(w, http.StatusInternalServerError, "could not store upload")
		return "", "", false
	}
	if err := dst.Close(); err != nil {
		jobs.RemoveUpload(dst.Name(), s.logger)
		s.writeError(w, http.StatusInternalServerError, "could not store upload")
		return "", "", false
	}
	return dst.Name(), fileName, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("server.write_response_failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
