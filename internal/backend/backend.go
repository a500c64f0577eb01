// Package backend defines the OCR capability surface shared by all
// concrete engines: report availability, extract text from one page.
// Backends are interchangeable and independently failable.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/doctriage/doctriage/constants"
)

// Options carries per-call extraction options.
type Options struct {
	// Model overrides the backend's configured model. Only meaningful
	// for LLM-based backends; others ignore it.
	Model string
	// Prompt overrides the backend's OCR prompt, when it has one.
	Prompt string
}

// OCRResult is the outcome of extracting one page.
type OCRResult struct {
	Text       string
	Confidence float64
	Method     constants.ExtractionMethod
	PageNumber int
	WordCount  int
	Metadata   map[string]any
}

// OCRBackend is implemented by every OCR engine.
//
// IsAvailable must be cheap and side-effect free: it answers whether the
// backend is usable right now (credentials present, binary reachable).
// ExtractText extracts one page (1-indexed) of the file at path; it
// returns a backend-specific error when extraction cannot complete.
// Rate-limit-class failures are reported via RateLimitError so callers
// can tell them apart from terminal errors.
type OCRBackend interface {
	Name() string
	IsAvailable() bool
	ExtractText(ctx context.Context, path string, page int, opts Options) (OCRResult, error)
}

// RateLimitError marks a transient, rate-limit-class backend failure.
// The processor uses this distinction for log verbosity only; it never
// changes control flow.
type RateLimitError struct {
	Backend    string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %v", e.Backend, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// WordCount counts whitespace-separated tokens, the word-count measure
// used across all results.
func WordCount(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			inWord = false
		default:
			if !inWord {
				n++
				inWord = true
			}
		}
	}
	return n
}
