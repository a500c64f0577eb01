package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/classify"
	"github.com/doctriage/doctriage/internal/common"
	"github.com/doctriage/doctriage/internal/document"
	"github.com/doctriage/doctriage/internal/document/doctest"
	"github.com/doctriage/doctriage/internal/jobs"
	"github.com/doctriage/doctriage/internal/process"
)

func newTestServer(t *testing.T) (*Server, jobs.Store) {
	t.Helper()

	src := document.NewPDFSource()
	detector := classify.NewDetector(src, classify.Config{}, nil)
	processor := process.NewProcessor(nil, nil, detector, src, process.DefaultConfig(), nil)
	store := jobs.NewMemoryStore(time.Hour, nil)
	worker := jobs.NewWorker(store, processor, nil)

	srv, err := New(processor, store, worker, nil, nil,
		common.ServerConfig{UploadDir: t.TempDir(), MaxUploadMB: 10}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, store
}

func uploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["status"] != "ok" {
		t.Errorf("payload = %v", payload)
	}
}

func TestClassifyUpload(t *testing.T) {
	srv, _ := newTestServer(t)
	pdf := doctest.BuildPDF(
		doctest.PageSpec{TextBlocks: 3, Text: "Invoice body"},
		doctest.PageSpec{TextBlocks: 2, Text: "More text"},
	)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/classify", "invoice.pdf", pdf))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var c classify.Classification
	if err := json.Unmarshal(rec.Body.Bytes(), &c); err != nil {
		t.Fatal(err)
	}
	if c.PDFType != constants.PDFTypePureText {
		t.Errorf("PDFType = %s", c.PDFType)
	}
	if c.TotalPages != 2 {
		t.Errorf("TotalPages = %d", c.TotalPages)
	}
}

func TestClassifyRejectsNonPDF(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/classify", "notes.txt", []byte("hi")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestClassifyGarbagePDF(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/classify", "junk.pdf", []byte("not a pdf")))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestExtractUpload(t *testing.T) {
	srv, _ := newTestServer(t)
	pdf := doctest.BuildPDF(doctest.PageSpec{TextBlocks: 2, Text: "Betrag 99 EUR"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/extract?quality=fast", "invoice.pdf", pdf))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var res process.ExtractionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Errorf("Success = false: %s", res.Error)
	}
	if !strings.Contains(res.Text, "Betrag 99 EUR") {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Metadata["quality"] != "fast" {
		t.Errorf("quality = %v", res.Metadata["quality"])
	}
}

func TestExtractAsyncLifecycle(t *testing.T) {
	srv, store := newTestServer(t)
	pdf := doctest.BuildPDF(doctest.PageSpec{TextBlocks: 2, Text: "async body"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/api/v1/extract/async?quality=fast", "doc.pdf", pdf))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var accepted map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatal(err)
	}
	jobID := accepted["job_id"]
	if jobID == "" {
		t.Fatalf("response = %v", accepted)
	}
	if accepted["status_url"] != "/api/v1/jobs/"+jobID {
		t.Errorf("status_url = %q", accepted["status_url"])
	}

	deadline := time.After(10 * time.Second)
	for {
		job, err := store.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if job.Status == constants.JobStatusCompleted {
			break
		}
		if job.Status == constants.JobStatusFailed {
			t.Fatalf("job failed: %s", job.Error)
		}
		select {
		case <-deadline:
			t.Fatalf("job stuck in %s", job.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/result", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d: %s", rec.Code, rec.Body.String())
	}
	var res process.ExtractionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Text, "async body") {
		t.Errorf("result Text = %q", res.Text)
	}
}

func TestJobStatusUnknown(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/does-not-exist", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestJobResultNotFinished(t *testing.T) {
	srv, store := newTestServer(t)

	job := jobs.NewJob("doc.pdf", "", constants.QualityBalanced, "", "")
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/result", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestBatchReport(t *testing.T) {
	srv, _ := newTestServer(t)

	path, err := doctest.WritePDF(t.TempDir(), "batch.pdf",
		doctest.PageSpec{TextBlocks: 2, Text: "batch text"})
	if err != nil {
		t.Fatal(err)
	}

	body, _ := json.Marshal(map[string]any{
		"files":   []string{path},
		"quality": "fast",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheet") {
		t.Errorf("Content-Type = %q", ct)
	}

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("response not a workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Summary")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("summary rows = %d, want 2", len(rows))
	}
	if rows[1][1] != "pure_text" {
		t.Errorf("summary row = %v", rows[1])
	}
}

func TestBatchValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"not json", "{{{"},
		{"missing files", `{"quality":"fast"}`},
		{"empty files", `{"files":[]}`},
		{"bad quality", `{"files":["a.pdf"],"quality":"turbo"}`},
		{"unknown field", `{"files":["a.pdf"],"surprise":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/batch", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestBatchMissingFileReported(t *testing.T) {
	srv, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"files": []string{"/nope/missing.pdf"}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := f.GetRows("Summary")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[1][8] != "failed" {
		t.Errorf("summary rows = %v, want one failed row", rows)
	}
}
