// Package route maps a document classification and a quality preference
// onto an extraction plan: which pages read natively, which pages go to
// OCR, and what that will cost.
package route

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/backend"
	"github.com/doctriage/doctriage/internal/classify"
)

// Strategy names the page-selection rule applied to a document.
type Strategy string

const (
	StrategyDirectOnly   Strategy = "direct_only"   // no OCR at all
	StrategyOCRAll       Strategy = "ocr_all"       // every page through OCR
	StrategyOCRSelective Strategy = "ocr_selective" // OCR only pages that need it
)

// CostEstimate predicts cost and wall time for an extraction plan.
// Direct extraction is free; only OCR pages cost money.
type CostEstimate struct {
	OCRCostEUR    float64 `json:"ocr_cost_eur"`
	DirectCostEUR float64 `json:"direct_cost_eur"`
	TotalCostEUR  float64 `json:"total_cost_eur"`

	OCRTimeSeconds    float64 `json:"ocr_time_seconds"`
	DirectTimeSeconds float64 `json:"direct_time_seconds"`
	TotalTimeSeconds  float64 `json:"total_time_seconds"`
}

// Decision is the routing outcome for one classified document.
type Decision struct {
	PDFType  constants.PDFType `json:"pdf_type"`
	Strategy Strategy          `json:"strategy"`

	DirectPages []int `json:"direct_pages"` // 1-indexed
	OCRPages    []int `json:"ocr_pages"`    // 1-indexed

	EstimatedCost        float64 `json:"estimated_cost"`
	EstimatedTimeSeconds float64 `json:"estimated_time_seconds"`

	Quality    constants.Quality `json:"quality"`
	TotalPages int               `json:"total_pages"`
	Reasoning  string            `json:"reasoning"`
}

// Config carries the router's cost model. Zero values take the defaults
// below.
type Config struct {
	CostPerOCRPage    float64 // EUR; default 0.005
	TimePerOCRPage    float64 // seconds; default 3.0
	TimePerDirectPage float64 // seconds; default 0.1
}

const (
	defaultCostPerOCRPage    = 0.005
	defaultTimePerOCRPage    = 3.0
	defaultTimePerDirectPage = 0.1
)

// Router chooses extraction plans. Backends may be nil; a router with no
// usable backend degrades every plan to direct-only.
type Router struct {
	primary  backend.OCRBackend
	fallback backend.OCRBackend
	cfg      Config
	logger   *slog.Logger
}

func NewRouter(primary, fallback backend.OCRBackend, cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CostPerOCRPage <= 0 {
		cfg.CostPerOCRPage = defaultCostPerOCRPage
	}
	if cfg.TimePerOCRPage <= 0 {
		cfg.TimePerOCRPage = defaultTimePerOCRPage
	}
	if cfg.TimePerDirectPage <= 0 {
		cfg.TimePerDirectPage = defaultTimePerDirectPage
	}
	return &Router{primary: primary, fallback: fallback, cfg: cfg, logger: logger}
}

// HasOCRBackend reports whether at least one backend is usable right now.
func (r *Router) HasOCRBackend() bool {
	if r.primary != nil && r.primary.IsAvailable() {
		return true
	}
	if r.fallback != nil && r.fallback.IsAvailable() {
		return true
	}
	return false
}

// Route plans extraction for a classified document. Unknown quality
// values normalize to balanced. The decision is advisory: the processor
// re-derives per-page need via NeedsOCR, so both always agree.
func (r *Router) Route(c *classify.Classification, quality constants.Quality) Decision {
	quality = constants.NormalizeQuality(string(quality))

	strategy := determineStrategy(c.PDFType, quality)
	if strategy != StrategyDirectOnly && !r.HasOCRBackend() {
		strategy = StrategyDirectOnly
	}

	direct, ocr := selectPages(c, strategy, quality)
	est := r.EstimateCost(len(ocr), len(direct))

	d := Decision{
		PDFType:              c.PDFType,
		Strategy:             strategy,
		DirectPages:          direct,
		OCRPages:             ocr,
		EstimatedCost:        est.TotalCostEUR,
		EstimatedTimeSeconds: est.TotalTimeSeconds,
		Quality:              quality,
		TotalPages:           c.TotalPages,
		Reasoning:            r.reasoning(c.PDFType, quality, strategy, direct, ocr),
	}

	r.logger.Debug("route.ok",
		"pdf_type", d.PDFType, "quality", d.Quality, "strategy", d.Strategy,
		"direct_pages", len(d.DirectPages), "ocr_pages", len(d.OCRPages),
		"estimated_cost_eur", d.EstimatedCost,
	)
	return d
}

// EstimateCost prices a plan of ocrPages OCR pages and directPages native
// reads.
func (r *Router) EstimateCost(ocrPages, directPages int) CostEstimate {
	est := CostEstimate{
		OCRCostEUR:        float64(ocrPages) * r.cfg.CostPerOCRPage,
		OCRTimeSeconds:    float64(ocrPages) * r.cfg.TimePerOCRPage,
		DirectTimeSeconds: float64(directPages) * r.cfg.TimePerDirectPage,
	}
	est.TotalCostEUR = est.OCRCostEUR + est.DirectCostEUR
	est.TotalTimeSeconds = est.OCRTimeSeconds + est.DirectTimeSeconds
	return est
}

// NeedsOCR is the per-page routing rule shared by the router and the
// processor: image pages for balanced and accurate, hybrid pages only for
// accurate, never for fast.
func NeedsOCR(page int, c *classify.Classification, quality constants.Quality) bool {
	if quality == constants.QualityFast {
		return false
	}
	if c.IsImagePage(page) {
		return true
	}
	return quality == constants.QualityAccurate && c.IsHybridPage(page)
}

func determineStrategy(pdfType constants.PDFType, quality constants.Quality) Strategy {
	if quality == constants.QualityFast {
		return StrategyDirectOnly
	}
	switch pdfType {
	case constants.PDFTypePureText:
		return StrategyDirectOnly
	case constants.PDFTypePureImage:
		return StrategyOCRAll
	case constants.PDFTypeHybrid:
		return StrategyOCRSelective
	default: // unknown
		return StrategyDirectOnly
	}
}

func selectPages(c *classify.Classification, strategy Strategy, quality constants.Quality) (direct, ocr []int) {
	all := make([]int, 0, c.TotalPages)
	for p := 1; p <= c.TotalPages; p++ {
		all = append(all, p)
	}

	switch strategy {
	case StrategyDirectOnly:
		return all, []int{}
	case StrategyOCRAll:
		return []int{}, all
	}

	// Selective: text pages read natively, image pages OCR; hybrid pages
	// depend on quality.
	direct = append([]int{}, c.TextPages...)
	ocr = append([]int{}, c.ImagePages...)
	if quality == constants.QualityAccurate {
		ocr = append(ocr, c.HybridPages...)
	} else {
		direct = append(direct, c.HybridPages...)
	}
	slices.Sort(direct)
	slices.Sort(ocr)
	return direct, ocr
}

func (r *Router) reasoning(pdfType constants.PDFType, quality constants.Quality, strategy Strategy, direct, ocr []int) string {
	parts := []string{
		fmt.Sprintf("PDF type: %s", pdfType),
		fmt.Sprintf("Quality: %s", quality),
		fmt.Sprintf("Strategy: %s", strategy),
	}

	if len(direct) > 0 {
		if len(direct) <= 5 {
			parts = append(parts, fmt.Sprintf("Direct extraction: pages %v", direct))
		} else {
			parts = append(parts, fmt.Sprintf("Direct extraction: %d pages", len(direct)))
		}
	}
	if len(ocr) > 0 {
		if len(ocr) <= 5 {
			parts = append(parts, fmt.Sprintf("OCR extraction: pages %v", ocr))
		} else {
			parts = append(parts, fmt.Sprintf("OCR extraction: %d pages", len(ocr)))
		}
	}

	if len(ocr) == 0 {
		parts = append(parts, "No OCR required")
	} else if !r.HasOCRBackend() {
		parts = append(parts, "(OCR backend unavailable, using direct only)")
	}
	return strings.Join(parts, " | ")
}
