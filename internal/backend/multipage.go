package backend

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"
)

// PageResult is one page's outcome within a multi-page extraction.
type PageResult struct {
	PageNumber     int
	Text           string
	Confidence     float64
	Method         string
	WordCount      int
	ProcessingTime time.Duration
	Error          string // set when this page failed; Text is then empty
}

// DocumentResult aggregates a multi-page extraction.
type DocumentResult struct {
	Success        bool
	FileName       string
	Pages          []PageResult
	TotalPages     int
	TotalWordCount int
	ProcessingTime time.Duration
}

// ExtractDocument runs b over each requested page independently and
// aggregates the outcomes. A failing page is recorded with its error and
// does not abort the remaining pages. Backends with a cheaper batch path
// can offer their own; this is the common fallback.
func ExtractDocument(ctx context.Context, b OCRBackend, path string, pages []int, opts Options, logger *slog.Logger) DocumentResult {
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	out := DocumentResult{
		FileName:   filepath.Base(path),
		TotalPages: len(pages),
	}

	for _, page := range pages {
		pageStart := time.Now()
		res, err := b.ExtractText(ctx, path, page, opts)
		elapsed := time.Since(pageStart)

		if err != nil {
			logger.Warn("backend.page_failed",
				"backend", b.Name(), "file", out.FileName, "page", page, "error", err)
			out.Pages = append(out.Pages, PageResult{
				PageNumber:     page,
				ProcessingTime: elapsed,
				Error:          err.Error(),
			})
			continue
		}

		out.Pages = append(out.Pages, PageResult{
			PageNumber:     page,
			Text:           res.Text,
			Confidence:     res.Confidence,
			Method:         string(res.Method),
			WordCount:      res.WordCount,
			ProcessingTime: elapsed,
		})
		out.TotalWordCount += res.WordCount
	}

	out.Success = true
	out.ProcessingTime = time.Since(start)
	return out
}
