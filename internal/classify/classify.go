// Package classify labels PDF pages and documents by their content-block
// composition. Text-bearing pages can skip OCR entirely; image-bearing
// pages are routed to it.
package classify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/common"
	"github.com/doctriage/doctriage/internal/document"
)

// PageAnalysis is the classification evidence for a single page.
type PageAnalysis struct {
	PageNumber      int `json:"page_number"` // 1-indexed
	TextBlocks      int `json:"text_blocks"`
	ImageBlocks     int `json:"image_blocks"`
	TotalBlocks     int `json:"total_blocks"`
	IsTextDominant  bool `json:"is_text_dominant"`
	IsImageDominant bool `json:"is_image_dominant"`
	HasMixedContent bool `json:"has_mixed_content"`
}

// Classification is the aggregate result for a document. The three page
// lists partition 1..TotalPages: every page lands in exactly one of them.
type Classification struct {
	PDFType     constants.PDFType `json:"pdf_type"`
	TotalPages  int               `json:"total_pages"`
	TextPages   []int             `json:"text_pages"`
	ImagePages  []int             `json:"image_pages"`
	HybridPages []int             `json:"hybrid_pages"`

	TotalTextBlocks  int            `json:"total_text_blocks"`
	TotalImageBlocks int            `json:"total_image_blocks"`
	Pages            []PageAnalysis `json:"pages,omitempty"`

	// Confidence in [0,1]: dominance ratio of the more frequent block
	// kind. 0.5 when no blocks exist, 0.0 for an empty document.
	Confidence float64 `json:"confidence"`
}

// IsImagePage reports whether page was categorized as an image page.
func (c *Classification) IsImagePage(page int) bool { return slices.Contains(c.ImagePages, page) }

// IsHybridPage reports whether page was categorized as a hybrid page.
func (c *Classification) IsHybridPage(page int) bool { return slices.Contains(c.HybridPages, page) }

// IsTextPage reports whether page was categorized as a text page.
func (c *Classification) IsTextPage(page int) bool { return slices.Contains(c.TextPages, page) }

func (c *Classification) String() string {
	return fmt.Sprintf("PDFType: %s | Pages: %d (text: %d, image: %d, hybrid: %d) | Blocks: %d text, %d image | Confidence: %.2f",
		c.PDFType, c.TotalPages, len(c.TextPages), len(c.ImagePages), len(c.HybridPages),
		c.TotalTextBlocks, c.TotalImageBlocks, c.Confidence)
}

// Config holds the construction-time thresholds. Instances of Detector
// are the unit of threshold configuration; thresholds are not per-call.
type Config struct {
	TextBlockThreshold  int // min text blocks for a "text page"; default 2
	ImageBlockThreshold int // min image blocks for an "image page"; default 1
}

// Detector classifies documents using block-count evidence from a Source.
type Detector struct {
	cfg    Config
	source document.Source
	logger *slog.Logger
}

func NewDetector(source document.Source, cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TextBlockThreshold <= 0 {
		cfg.TextBlockThreshold = 2
	}
	if cfg.ImageBlockThreshold <= 0 {
		cfg.ImageBlockThreshold = 1
	}
	return &Detector{cfg: cfg, source: source, logger: logger}
}

// AnalyzePage categorizes one page's blocks. Both dominance flags may be
// true at once; a page meeting both thresholds has mixed content.
func (d *Detector) AnalyzePage(blocks document.BlockCounts, pageNumber int) PageAnalysis {
	textDominant := blocks.Text >= d.cfg.TextBlockThreshold
	imageDominant := blocks.Image >= d.cfg.ImageBlockThreshold

	return PageAnalysis{
		PageNumber:      pageNumber,
		TextBlocks:      blocks.Text,
		ImageBlocks:     blocks.Image,
		TotalBlocks:     blocks.Total(),
		IsTextDominant:  textDominant,
		IsImageDominant: imageDominant,
		HasMixedContent: textDominant && imageDominant,
	}
}

// Classify opens the document at path and aggregates per-page analyses
// into a document-level classification. Missing paths return an error
// wrapping common.ErrNotFound; unparseable files propagate the source's
// decode error.
func (d *Detector) Classify(ctx context.Context, path string) (*Classification, error) {
	doc, err := d.source.Open(ctx, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrNotFound, path)
		}
		return nil, err
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			d.logger.Warn("classify.close_failed", "path", path, "error", cerr)
		}
	}()

	totalPages := doc.PageCount()
	if totalPages == 0 {
		d.logger.Warn("classify.empty_document", "file", filepath.Base(path))
		return &Classification{
			PDFType:    constants.PDFTypeUnknown,
			TotalPages: 0,
			Confidence: 0.0,
		}, nil
	}

	result := &Classification{TotalPages: totalPages}
	for page := 1; page <= totalPages; page++ {
		blocks, err := doc.PageBlocks(page)
		if err != nil {
			return nil, fmt.Errorf("page %d blocks: %w", page, err)
		}
		analysis := d.AnalyzePage(blocks, page)
		result.Pages = append(result.Pages, analysis)
		result.TotalTextBlocks += analysis.TextBlocks
		result.TotalImageBlocks += analysis.ImageBlocks

		switch {
		case analysis.HasMixedContent:
			result.HybridPages = append(result.HybridPages, page)
		case analysis.IsTextDominant:
			result.TextPages = append(result.TextPages, page)
		case analysis.IsImageDominant:
			result.ImagePages = append(result.ImagePages, page)
		default:
			// Insufficient evidence of native text: assume scanned.
			result.ImagePages = append(result.ImagePages, page)
		}
	}

	result.PDFType = documentType(totalPages, len(result.TextPages), len(result.ImagePages))
	result.Confidence = confidence(result.TotalTextBlocks, result.TotalImageBlocks, totalPages)

	d.logger.Info("classify.ok",
		"file", filepath.Base(path),
		"pdf_type", result.PDFType,
		"pages", totalPages,
		"text_pages", len(result.TextPages),
		"image_pages", len(result.ImagePages),
		"hybrid_pages", len(result.HybridPages),
		"confidence", result.Confidence,
	)
	return result, nil
}

func documentType(total, textPages, imagePages int) constants.PDFType {
	switch {
	case textPages == total:
		return constants.PDFTypePureText
	case imagePages == total:
		return constants.PDFTypePureImage
	default:
		return constants.PDFTypeHybrid
	}
}

func confidence(textBlocks, imageBlocks, totalPages int) float64 {
	if totalPages == 0 {
		return 0.0
	}
	total := textBlocks + imageBlocks
	if total == 0 {
		return 0.5 // no blocks anywhere: genuine uncertainty
	}
	return float64(max(textBlocks, imageBlocks)) / float64(total)
}
