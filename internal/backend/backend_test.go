package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/doctriage/doctriage/constants"
)

func TestWordCount(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"one two three", 3},
		{"  padded   out\ttabs\nnewlines  ", 4},
		{"line1\nline2\n\nline3", 3},
	}
	for _, tc := range tests {
		if got := WordCount(tc.text); got != tc.want {
			t.Errorf("WordCount(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestRateLimitErrorUnwrap(t *testing.T) {
	cause := errors.New("status 429")
	err := fmt.Errorf("page 3: %w", &RateLimitError{Backend: "llm_ocr", RetryAfter: 30 * time.Second, Err: cause})

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatal("errors.As failed to find RateLimitError")
	}
	if rle.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v", rle.RetryAfter)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is failed to reach the cause")
	}
}

// pageFake scripts per-page outcomes for ExtractDocument tests.
type pageFake struct {
	texts map[int]string
	errs  map[int]error
}

func (f *pageFake) Name() string      { return "fake" }
func (f *pageFake) IsAvailable() bool { return true }

func (f *pageFake) ExtractText(_ context.Context, _ string, page int, _ Options) (OCRResult, error) {
	if err, ok := f.errs[page]; ok {
		return OCRResult{}, err
	}
	text := f.texts[page]
	return OCRResult{
		Text:       text,
		Confidence: 0.9,
		Method:     constants.MethodTesseract,
		PageNumber: page,
		WordCount:  WordCount(text),
	}, nil
}

func TestExtractDocumentAggregates(t *testing.T) {
	f := &pageFake{texts: map[int]string{1: "alpha beta", 2: "gamma"}}

	res := ExtractDocument(context.Background(), f, "/tmp/doc.pdf", []int{1, 2}, Options{}, nil)
	if !res.Success {
		t.Fatal("Success = false")
	}
	if res.FileName != "doc.pdf" {
		t.Errorf("FileName = %q", res.FileName)
	}
	if res.TotalPages != 2 || len(res.Pages) != 2 {
		t.Errorf("pages = %d/%d, want 2/2", res.TotalPages, len(res.Pages))
	}
	if res.TotalWordCount != 3 {
		t.Errorf("TotalWordCount = %d, want 3", res.TotalWordCount)
	}
}

// One page failing must not abort the remaining pages.
func TestExtractDocumentToleratesPageFailure(t *testing.T) {
	f := &pageFake{
		texts: map[int]string{1: "ok", 3: "also ok"},
		errs:  map[int]error{2: errors.New("render failed")},
	}

	res := ExtractDocument(context.Background(), f, "doc.pdf", []int{1, 2, 3}, Options{}, nil)
	if len(res.Pages) != 3 {
		t.Fatalf("len(Pages) = %d, want 3", len(res.Pages))
	}
	if res.Pages[1].Error == "" {
		t.Error("failed page has no recorded error")
	}
	if res.Pages[1].Text != "" {
		t.Errorf("failed page has text %q", res.Pages[1].Text)
	}
	if res.Pages[2].Text != "also ok" {
		t.Errorf("page after failure = %+v, extraction did not continue", res.Pages[2])
	}
	if res.TotalWordCount != 3 {
		t.Errorf("TotalWordCount = %d, want 3 (failed page excluded)", res.TotalWordCount)
	}
}
