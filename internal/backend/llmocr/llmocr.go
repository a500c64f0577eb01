// Package llmocr is the remote OCR backend: it sends a single PDF page to
// a vision-capable LLM behind the Langdock API and returns the model's
// transcription. Highest quality, costs money per page.
package llmocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/backend"
	"github.com/doctriage/doctriage/internal/document"
)

const (
	DefaultUploadURL    = "https://api.langdock.com/attachment/v1/upload"
	DefaultAssistantURL = "https://api.langdock.com/assistant/v1/chat/completions"
	DefaultModel        = "claude-sonnet-4-5@20250929"

	// llmConfidence is reported for every successful LLM extraction; the
	// API exposes no per-word signal.
	llmConfidence = 0.95
)

// OCRPrompt instructs the model to transcribe verbatim. German, matching
// the invoice corpus this service was built for.
const OCRPrompt = `Extrahiere den gesamten Text aus diesem Dokument.

Regeln:
- Gib NUR den extrahierten Text zurück, keine Erklärungen
- Behalte die ursprüngliche Formatierung bei (Absätze, Listen, Tabellen)
- Bei Tabellen: Trenne Spalten mit | und Zeilen mit Zeilenumbrüchen
- Ignoriere Wasserzeichen und Hintergründe
- Bei unleserlichen Stellen schreibe [unleserlich]

Text:`

const assistantInstructions = "Du bist ein präziser OCR-Assistent. Extrahiere Text exakt wie er im Dokument steht."

type Config struct {
	APIKey       string
	Model        string // default DefaultModel
	UploadURL    string
	AssistantURL string
	Temperature  float64       // 0.0 for deterministic transcription
	Timeout      time.Duration // per-request; default 120s
}

// Backend uploads one page at a time and asks the model to transcribe it.
type Backend struct {
	cfg    Config
	client *http.Client
	source document.Source
	logger *slog.Logger
}

var _ backend.OCRBackend = (*Backend)(nil)

// New builds a Backend. source supplies single-page splitting; it must not
// be nil.
func New(cfg Config, source document.Source, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}
	if cfg.AssistantURL == "" {
		cfg.AssistantURL = DefaultAssistantURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Backend{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		source: source,
		logger: logger,
	}
}

// WithHTTPClient swaps the HTTP client; intended for tests.
func (b *Backend) WithHTTPClient(c *http.Client) *Backend {
	b.client = c
	return b
}

func (b *Backend) Name() string { return "llm_ocr" }

// IsAvailable reports whether an API key is configured.
func (b *Backend) IsAvailable() bool { return b.cfg.APIKey != "" }

// ExtractText splits out page (1-indexed) of the PDF at path, uploads it
// and asks the model for a transcription. opts.Model and opts.Prompt
// override the configured defaults for this call only.
func (b *Backend) ExtractText(ctx context.Context, path string, page int, opts backend.Options) (backend.OCRResult, error) {
	if !b.IsAvailable() {
		return backend.OCRResult{}, fmt.Errorf("llm_ocr: api key not configured")
	}
	start := time.Now()

	model := b.cfg.Model
	if opts.Model != "" {
		model = opts.Model
	}
	prompt := OCRPrompt
	if opts.Prompt != "" {
		prompt = opts.Prompt
	}

	pagePDF, cleanup, err := b.splitPage(ctx, path, page)
	if err != nil {
		return backend.OCRResult{}, err
	}
	defer cleanup()

	attachmentID, err := b.upload(ctx, pagePDF, fmt.Sprintf("%s.p%d.pdf", filepath.Base(path), page))
	if err != nil {
		return backend.OCRResult{}, err
	}

	text, err := b.transcribe(ctx, attachmentID, model, prompt)
	if err != nil {
		return backend.OCRResult{}, err
	}

	elapsed := time.Since(start)
	b.logger.Debug("llmocr.page_ok",
		"file", filepath.Base(path), "page", page, "model", model,
		"bytes", len(text), "duration_ms", elapsed.Milliseconds(),
	)

	return backend.OCRResult{
		Text:       text,
		Confidence: llmConfidence,
		Method:     constants.MethodLLMOCR,
		PageNumber: page,
		WordCount:  backend.WordCount(text),
		Metadata: map[string]any{
			"model":              model,
			"processing_time_ms": elapsed.Milliseconds(),
		},
	}, nil
}

// splitPage writes a single-page PDF for the requested page into a scoped
// temp dir. The returned cleanup removes the dir on every exit path.
func (b *Backend) splitPage(ctx context.Context, path string, page int) (string, func(), error) {
	tmpDir, err := os.MkdirTemp("", "doctriage-llm-*")
	if err != nil {
		return "", nil, fmt.Errorf("llm_ocr temp dir: %w", err)
	}
	cleanup := func() {
		if rerr := os.RemoveAll(tmpDir); rerr != nil {
			b.logger.Warn("llmocr.tmp_cleanup_failed", "dir", tmpDir, "error", rerr)
		}
	}

	doc, err := b.source.Open(ctx, path)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			b.logger.Warn("llmocr.close_failed", "path", path, "error", cerr)
		}
	}()

	pagePDF, err := doc.ExtractPage(ctx, page, tmpDir)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("split page %d: %w", page, err)
	}
	return pagePDF, cleanup, nil
}

// upload posts the page file as a multipart attachment and returns the
// attachment id.
func (b *Backend) upload(ctx context.Context, path, filename string) (string, error) {
	reqID := uuid.New().String()
	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open page file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read page file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.UploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	b.logger.Info("llmocr.http.upload", "req_id", reqID, "url", b.cfg.UploadURL, "content_length", body.Len())

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error("llmocr.http.upload_error", "req_id", reqID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return "", err
	}
	defer closeBody(resp.Body, b.logger, reqID)

	raw, _ := io.ReadAll(resp.Body)
	b.logger.Info("llmocr.http.upload_response", "req_id", reqID, "status", resp.StatusCode,
		"bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())

	if err := checkStatus(resp, raw, "upload"); err != nil {
		return "", err
	}

	var parsed struct {
		AttachmentID string `json:"attachmentId"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if parsed.AttachmentID == "" {
		return "", fmt.Errorf("upload response missing attachmentId")
	}
	return parsed.AttachmentID, nil
}

// transcribe asks the assistant endpoint to OCR the uploaded attachment.
func (b *Backend) transcribe(ctx context.Context, attachmentID, model, prompt string) (string, error) {
	reqID := uuid.New().String()
	start := time.Now()

	payload := map[string]any{
		"assistant": map[string]any{
			"name":         "OCR-Assistent",
			"model":        model,
			"temperature":  b.cfg.Temperature,
			"instructions": assistantInstructions,
		},
		"messages": []map[string]any{
			{
				"role":          "user",
				"content":       prompt,
				"attachmentIds": []string{attachmentID},
			},
		},
	}
	bs, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.AssistantURL, bytes.NewReader(bs))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	b.logger.Info("llmocr.http.completion", "req_id", reqID, "url", b.cfg.AssistantURL,
		"model", model, "content_length", len(bs))

	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Error("llmocr.http.completion_error", "req_id", reqID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return "", err
	}
	defer closeBody(resp.Body, b.logger, reqID)

	raw, _ := io.ReadAll(resp.Body)
	b.logger.Info("llmocr.http.completion_response", "req_id", reqID, "status", resp.StatusCode,
		"bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())

	if err := checkStatus(resp, raw, "completion"); err != nil {
		return "", err
	}
	return extractAssistantText(raw)
}

// checkStatus maps non-2xx responses to errors, surfacing 429 as a
// RateLimitError with the Retry-After hint when present.
func checkStatus(resp *http.Response, raw []byte, op string) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	base := fmt.Errorf("%s failed: status %d: %s", op, resp.StatusCode, truncate(string(raw), 256))
	if resp.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &backend.RateLimitError{Backend: "llm_ocr", RetryAfter: retryAfter, Err: base}
	}
	return base
}

// extractAssistantText pulls the transcription out of the result array.
// The assistant message content is either a plain string or a list of
// typed parts.
func extractAssistantText(raw []byte) (string, error) {
	var parsed struct {
		Result []struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Result) == 0 {
		return "", fmt.Errorf("completion response has no result messages")
	}

	for i := len(parsed.Result) - 1; i >= 0; i-- {
		msg := parsed.Result[i]
		if msg.Role != "assistant" || len(msg.Content) == 0 {
			continue
		}

		var s string
		if err := json.Unmarshal(msg.Content, &s); err == nil {
			return strings.TrimSpace(s), nil
		}

		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(msg.Content, &parts); err == nil {
			for _, p := range parts {
				if p.Type == "text" {
					return strings.TrimSpace(p.Text), nil
				}
			}
		}
	}
	return "", fmt.Errorf("no assistant text in completion response")
}

func closeBody(body io.ReadCloser, logger *slog.Logger, reqID string) {
	if err := body.Close(); err != nil {
		logger.Warn("llmocr.http.body_close_error", "req_id", reqID, "error", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
