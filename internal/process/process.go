// Package process implements two-pass extraction: classify first, then
// visit every page and pull its text natively or through OCR, degrading
// per page (primary, fallback, direct) without ever failing the document
// for a page-level OCR problem.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/backend"
	"github.com/doctriage/doctriage/internal/classify"
	"github.com/doctriage/doctriage/internal/common"
	"github.com/doctriage/doctriage/internal/document"
	"github.com/doctriage/doctriage/internal/route"
)

// PageOCRResult is the per-page outcome of one extraction call.
type PageOCRResult struct {
	PageNumber       int                        `json:"page_number"`
	Text             string                     `json:"text"`
	Confidence       float64                    `json:"confidence"` // 1.0 for direct, backend-reported otherwise
	Method           constants.ExtractionMethod `json:"method"`
	WordCount        int                        `json:"word_count"`
	ProcessingTimeMS float64                    `json:"processing_time_ms"`
}

// PageError records a page where OCR was attempted and produced no usable
// text. Pages that never needed OCR never appear here.
type PageError struct {
	PageNumber int    `json:"page_number"`
	Backend    string `json:"backend"`
	Error      string `json:"error"`
}

// BackendStatus snapshots backend configuration and per-call OCR counts.
type BackendStatus struct {
	PrimaryName       string `json:"primary_name"`
	PrimaryAvailable  bool   `json:"primary_available"`
	FallbackName      string `json:"fallback_name,omitempty"`
	FallbackAvailable bool   `json:"fallback_available"`

	AttemptedPages  int `json:"attempted_pages"` // pages where needs_ocr was true
	SuccessfulPages int `json:"successful_pages"`
	FailedPages     int `json:"failed_pages"`
}

// ExtractionResult is the top-level outcome of Extract. Success stays
// true as long as classification and the page loop complete, even when
// every OCR page degraded to direct text.
type ExtractionResult struct {
	Success          bool              `json:"success"`
	FileName         string            `json:"file_name"`
	PDFType          constants.PDFType `json:"pdf_type"`
	TotalPages       int               `json:"total_pages"`
	Text             string            `json:"text"`
	WordCount        int               `json:"word_count"`
	Confidence       float64           `json:"confidence"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
	ExtractionMethod string            `json:"extraction_method"`

	Pages      []PageOCRResult `json:"pages,omitempty"`
	Error      string          `json:"error,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	Backends   *BackendStatus  `json:"backend_status,omitempty"`
	PageErrors []PageError     `json:"page_errors"`
}

// Config is the processor's construction-time configuration.
type Config struct {
	// TextThreshold is retained for compatibility with older callers; the
	// processor itself does not consult it.
	TextThreshold int
	// EnableTwoPass and ConfidenceThreshold are reserved.
	EnableTwoPass       bool
	ConfidenceThreshold float64

	// FallbackOnError gates whether the fallback backend is tried at all.
	FallbackOnError bool
	// IncludePageMarkers gates "--- Page N ---" headers in assembled text.
	IncludePageMarkers bool
}

// DefaultConfig matches the service's production behavior.
func DefaultConfig() Config {
	return Config{
		TextThreshold:       50,
		EnableTwoPass:       true,
		ConfidenceThreshold: 0.7,
		FallbackOnError:     true,
		IncludePageMarkers:  true,
	}
}

// Processor runs the two-pass strategy. Backends may be nil. Instances
// hold no per-call state and are safe for concurrent use.
type Processor struct {
	primary  backend.OCRBackend
	fallback backend.OCRBackend
	detector *classify.Detector
	source   document.Source
	cfg      Config
	logger   *slog.Logger
}

func NewProcessor(primary, fallback backend.OCRBackend, detector *classify.Detector, source document.Source, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		primary:  primary,
		fallback: fallback,
		detector: detector,
		source:   source,
		cfg:      cfg,
		logger:   logger,
	}
}

// Classify exposes document classification without extraction.
func (p *Processor) Classify(ctx context.Context, path string) (*classify.Classification, error) {
	return p.detector.Classify(ctx, path)
}

// Extract runs the full pipeline on the file at path. modelOverride, when
// non-empty, replaces the primary backend's configured model for this
// call. A missing or unreadable file yields a failure result, not an
// error; per-page OCR failures degrade locally and are listed in
// PageErrors.
func (p *Processor) Extract(ctx context.Context, path string, quality constants.Quality, modelOverride string) ExtractionResult {
	start := time.Now()
	quality = constants.NormalizeQuality(string(quality))
	fileName := filepath.Base(path)

	classification, err := p.detector.Classify(ctx, path)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return failureResult(fileName, constants.PDFTypeUnknown, 0, "none", start,
				fmt.Sprintf("File not found: %s", path))
		}
		return failureResult(fileName, constants.PDFTypeUnknown, 0, "error", start, err.Error())
	}

	status := p.backendStatus()

	doc, err := p.source.Open(ctx, path)
	if err != nil {
		return failureResult(fileName, classification.PDFType, classification.TotalPages, "error", start, err.Error())
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			p.logger.Warn("process.close_failed", "path", path, "error", cerr)
		}
	}()

	pages, pageErrors := p.processPages(ctx, doc, path, classification, quality, modelOverride)

	fullText := p.assembleText(pages)
	method := p.extractionMethod(classification, pages)

	status.AttemptedPages = countOCRNeeded(classification, quality)
	status.FailedPages = len(pageErrors)
	status.SuccessfulPages = status.AttemptedPages - status.FailedPages

	result := ExtractionResult{
		Success:          true,
		FileName:         fileName,
		PDFType:          classification.PDFType,
		TotalPages:       classification.TotalPages,
		Text:             fullText,
		WordCount:        backend.WordCount(fullText),
		Confidence:       classification.Confidence,
		ProcessingTimeMS: msSince(start),
		ExtractionMethod: method,
		Pages:            pages,
		Metadata: map[string]any{
			"quality":      string(quality),
			"text_pages":   classification.TextPages,
			"image_pages":  classification.ImagePages,
			"hybrid_pages": classification.HybridPages,
		},
		Backends:   status,
		PageErrors: pageErrors,
	}

	p.logger.Info("process.ok",
		"file", fileName,
		"pdf_type", result.PDFType,
		"quality", quality,
		"pages", result.TotalPages,
		"method", result.ExtractionMethod,
		"words", result.WordCount,
		"ocr_attempted", status.AttemptedPages,
		"ocr_failed", status.FailedPages,
		"duration_ms", result.ProcessingTimeMS,
	)
	return result
}

// processPages visits pages 1..N in order. Page failures never abort the
// loop.
func (p *Processor) processPages(ctx context.Context, doc document.Document, path string, c *classify.Classification, quality constants.Quality, modelOverride string) ([]PageOCRResult, []PageError) {
	pages := make([]PageOCRResult, 0, c.TotalPages)
	pageErrors := []PageError{}

	for page := 1; page <= c.TotalPages; page++ {
		pageStart := time.Now()
		needsOCR := route.NeedsOCR(page, c, quality)

		text, confidence, method, pageErr := p.extractPageText(ctx, doc, path, page, needsOCR, modelOverride)
		if pageErr != nil {
			pageErrors = append(pageErrors, *pageErr)
		}

		pages = append(pages, PageOCRResult{
			PageNumber:       page,
			Text:             text,
			Confidence:       confidence,
			Method:           method,
			WordCount:        backend.WordCount(text),
			ProcessingTimeMS: msSince(pageStart),
		})
	}
	return pages, pageErrors
}

// extractPageText produces one page's text. When needsOCR is true it runs
// the primary-fallback-direct chain; a non-nil PageError means OCR was
// needed and yielded nothing usable.
func (p *Processor) extractPageText(ctx context.Context, doc document.Document, path string, page int, needsOCR bool, modelOverride string) (string, float64, constants.ExtractionMethod, *PageError) {
	if needsOCR {
		if res, ok := p.extractWithOCR(ctx, path, page, modelOverride); ok {
			return res.Text, res.Confidence, res.Method, nil
		} else {
			text := p.directText(doc, path, page)
			return text, 1.0, constants.MethodDirect, &PageError{
				PageNumber: page,
				Backend:    res.failedBackend,
				Error:      res.failedError,
			}
		}
	}

	text := p.directText(doc, path, page)
	return text, 1.0, constants.MethodDirect, nil
}

// ocrOutcome carries either a successful OCR result or the error that
// should be reported for the page.
type ocrOutcome struct {
	Text       string
	Confidence float64
	Method     constants.ExtractionMethod

	failedBackend string
	failedError   string
}

// extractWithOCR tries the primary backend, then the fallback. OCR is
// gated on a configured primary: with none, the page degrades straight
// to direct text and the fallback is never consulted. The returned
// outcome is usable iff ok is true; otherwise its failed fields name the
// backend and error to report.
func (p *Processor) extractWithOCR(ctx context.Context, path string, page int, modelOverride string) (ocrOutcome, bool) {
	if p.primary == nil {
		return ocrOutcome{failedBackend: "none", failedError: "backend unavailable"}, false
	}

	opts := backend.Options{Model: modelOverride}

	// Candidate error, replaced as the chain progresses.
	var failed ocrOutcome

	if p.primary.IsAvailable() {
		res, err := p.primary.ExtractText(ctx, path, page, opts)
		switch {
		case err != nil:
			p.logOCRFailure("process.primary_ocr_failed", p.primary.Name(), page, err)
			failed = ocrOutcome{failedBackend: p.primary.Name(), failedError: err.Error()}
		case strings.TrimSpace(res.Text) != "":
			return ocrOutcome{Text: res.Text, Confidence: res.Confidence, Method: res.Method}, true
		default:
			failed = ocrOutcome{failedBackend: p.primary.Name(), failedError: "empty response from primary backend"}
		}
	} else {
		failed = ocrOutcome{failedBackend: p.primary.Name(), failedError: "backend unavailable"}
	}

	if p.cfg.FallbackOnError && p.fallback != nil && p.fallback.IsAvailable() {
		res, err := p.fallback.ExtractText(ctx, path, page, opts)
		switch {
		case err != nil:
			p.logOCRFailure("process.fallback_ocr_failed", p.fallback.Name(), page, err)
			failed = ocrOutcome{failedBackend: p.fallback.Name(), failedError: err.Error()}
		case strings.TrimSpace(res.Text) != "":
			return ocrOutcome{Text: res.Text, Confidence: res.Confidence, Method: res.Method}, true
		}
	}

	return failed, false
}

// logOCRFailure logs rate-limit-class failures at a lower level; the
// distinction never changes control flow.
func (p *Processor) logOCRFailure(event, backendName string, page int, err error) {
	var rle *backend.RateLimitError
	if errors.As(err, &rle) {
		p.logger.Info(event, "backend", backendName, "page", page, "rate_limited", true,
			"retry_after", rle.RetryAfter, "error", err)
		return
	}
	p.logger.Warn(event, "backend", backendName, "page", page, "error", err)
}

func (p *Processor) directText(doc document.Document, path string, page int) string {
	text, err := doc.PageText(page)
	if err != nil {
		p.logger.Warn("process.direct_text_failed", "file", filepath.Base(path), "page", page, "error", err)
		return ""
	}
	return text
}

// assembleText joins non-empty page texts with a blank line, optionally
// prefixed with per-page markers.
func (p *Processor) assembleText(pages []PageOCRResult) string {
	parts := make([]string, 0, len(pages))
	for _, pg := range pages {
		if strings.TrimSpace(pg.Text) == "" {
			continue
		}
		if !p.cfg.IncludePageMarkers {
			parts = append(parts, pg.Text)
			continue
		}
		var marker string
		if pg.Method == constants.MethodDirect {
			marker = fmt.Sprintf("--- Page %d ---", pg.PageNumber)
		} else {
			marker = fmt.Sprintf("--- Page %d (OCR: %s) ---", pg.PageNumber, pg.Method)
		}
		parts = append(parts, marker+"\n"+pg.Text)
	}
	return strings.Join(parts, "\n\n")
}

// extractionMethod summarizes how the document's text was obtained.
func (p *Processor) extractionMethod(c *classify.Classification, pages []PageOCRResult) string {
	used := map[string]struct{}{}
	for _, pg := range pages {
		if pg.Method != constants.MethodDirect {
			used[string(pg.Method)] = struct{}{}
		}
	}
	if len(used) > 0 {
		names := make([]string, 0, len(used))
		for m := range used {
			names = append(names, m)
		}
		sort.Strings(names)
		return fmt.Sprintf("hybrid (direct + %s)", strings.Join(names, ", "))
	}

	if c.PDFType == constants.PDFTypePureImage && p.primary != nil {
		return "direct (no OCR backend available)"
	}
	return "direct"
}

func (p *Processor) backendStatus() *BackendStatus {
	s := &BackendStatus{PrimaryName: "none"}
	if p.primary != nil {
		s.PrimaryName = p.primary.Name()
		s.PrimaryAvailable = p.primary.IsAvailable()
	}
	if p.fallback != nil {
		s.FallbackName = p.fallback.Name()
		s.FallbackAvailable = p.fallback.IsAvailable()
	}
	return s
}

func countOCRNeeded(c *classify.Classification, quality constants.Quality) int {
	n := 0
	for page := 1; page <= c.TotalPages; page++ {
		if route.NeedsOCR(page, c, quality) {
			n++
		}
	}
	return n
}

func failureResult(fileName string, pdfType constants.PDFType, totalPages int, method string, start time.Time, errMsg string) ExtractionResult {
	return ExtractionResult{
		Success:          false,
		FileName:         fileName,
		PDFType:          pdfType,
		TotalPages:       totalPages,
		ExtractionMethod: method,
		ProcessingTimeMS: msSince(start),
		Error:            errMsg,
		PageErrors:       []PageError{},
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}
