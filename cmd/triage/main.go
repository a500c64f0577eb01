// Command triage runs the extraction pipeline against local files without
// the HTTP server: classify a PDF, preview its routing plan, extract its
// text, or batch a directory into an xlsx report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/backend"
	"github.com/doctriage/doctriage/internal/backend/llmocr"
	"github.com/doctriage/doctriage/internal/backend/tesseract"
	"github.com/doctriage/doctriage/internal/classify"
	"github.com/doctriage/doctriage/internal/common"
	"github.com/doctriage/doctriage/internal/document"
	"github.com/doctriage/doctriage/internal/export"
	"github.com/doctriage/doctriage/internal/process"
	"github.com/doctriage/doctriage/internal/route"
)

const usage = `usage: triage <command> [flags] <file...>

commands:
  classify  classify a PDF as pure_text, pure_image or hybrid
  route     show the routing plan and cost estimate for a PDF
  extract   extract text from a PDF
  batch     extract a set of PDFs and write an xlsx report
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	level := slog.LevelWarn
	if os.Getenv("TRIAGE_VERBOSE") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	app := newApp(common.LoadConfig(), logger)
	ctx := context.Background()

	var err error
	switch os.Args[1] {
	case "classify":
		err = app.classify(ctx, os.Args[2:])
	case "route":
		err = app.route(ctx, os.Args[2:])
	case "extract":
		err = app.extract(ctx, os.Args[2:])
	case "batch":
		err = app.batch(ctx, os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "triage %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

type app struct {
	cfg       *common.Config
	logger    *slog.Logger
	detector  *classify.Detector
	processor *process.Processor
	router    *route.Router
}

func newApp(cfg *common.Config, logger *slog.Logger) *app {
	source := document.NewPDFSource()

	var primary backend.OCRBackend
	if cfg.LLM.APIKey != "" {
		primary = llmocr.New(llmocr.Config{
			APIKey:       cfg.LLM.APIKey,
			Model:        cfg.LLM.Model,
			UploadURL:    cfg.LLM.UploadURL,
			AssistantURL: cfg.LLM.AssistantURL,
			Temperature:  cfg.LLM.Temperature,
			Timeout:      cfg.LLM.Timeout,
		}, source, logger)
	}
	fallback := tesseract.New(tesseract.Config{
		Tesseract:   cfg.Tesseract.Tesseract,
		Pdftoppm:    cfg.Tesseract.Pdftoppm,
		Lang:        cfg.Tesseract.Lang,
		DPI:         cfg.Tesseract.DPI,
		TessdataDir: cfg.Tesseract.TessdataDir,
		PSM:         cfg.Tesseract.PSM,
		OEM:         cfg.Tesseract.OEM,
	}, logger)

	detector := classify.NewDetector(source, classify.Config{}, logger)
	return &app{
		cfg:      cfg,
		logger:   logger,
		detector: detector,
		processor: process.NewProcessor(primary, fallback, detector, source, process.Config{
			TextThreshold:       cfg.Processor.TextThreshold,
			EnableTwoPass:       cfg.Processor.EnableTwoPass,
			ConfidenceThreshold: cfg.Processor.ConfidenceThreshold,
			FallbackOnError:     cfg.Processor.FallbackOnError,
			IncludePageMarkers:  cfg.Processor.IncludePageMarkers,
		}, logger),
		router: route.NewRouter(primary, fallback, route.Config{
			CostPerOCRPage:    cfg.Router.CostPerOCRPage,
			TimePerOCRPage:    cfg.Router.TimePerOCRPage,
			TimePerDirectPage: cfg.Router.TimePerDirectPage,
		}, logger),
	}
}

func (a *app) classify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("classify", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one file, got %d", fs.NArg())
	}

	c, err := a.detector.Classify(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return printJSON(c)
}

func (a *app) route(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	quality := fs.String("quality", "balanced", "fast | balanced | accurate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one file, got %d", fs.NArg())
	}

	c, err := a.detector.Classify(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	d := a.router.Route(c, constants.NormalizeQuality(*quality))
	return printJSON(d)
}

func (a *app) extract(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	quality := fs.String("quality", "balanced", "fast | balanced | accurate")
	model := fs.String("model", "", "override the LLM OCR model")
	textOnly := fs.Bool("text", false, "print extracted text instead of the full JSON result")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one file, got %d", fs.NArg())
	}

	result := a.processor.Extract(ctx, fs.Arg(0), constants.NormalizeQuality(*quality), *model)
	if !result.Success {
		return fmt.Errorf("%s", result.Error)
	}
	if *textOnly {
		fmt.Println(result.Text)
		return nil
	}
	return printJSON(result)
}

func (a *app) batch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	dir := fs.String("dir", "", "directory to scan for PDFs (alternative to listing files)")
	out := fs.String("out", "extraction-report.xlsx", "output xlsx path")
	quality := fs.String("quality", "balanced", "fast | balanced | accurate")
	model := fs.String("model", "", "override the LLM OCR model")
	if err := fs.Parse(args); err != nil {
		return err
	}

	files := fs.Args()
	if *dir != "" {
		found, err := listPDFs(*dir)
		if err != nil {
			return err
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return fmt.Errorf("no input files; pass paths or --dir")
	}

	q := constants.NormalizeQuality(*quality)
	results := make([]process.ExtractionResult, 0, len(files))
	for _, path := range files {
		res := a.processor.Extract(ctx, path, q, *model)
		status := "ok"
		if !res.Success {
			status = "failed"
		}
		fmt.Fprintf(os.Stderr, "%-8s %s (%s, %d pages, %d words)\n",
			status, path, res.PDFType, res.TotalPages, res.WordCount)
		results = append(results, res)
	}

	report, err := export.BuildReport(results)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, report, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(os.Stderr, "report written to %s (%d files)\n", *out, len(files))
	return nil
}

func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if constants.IsPDFExt(filepath.Ext(e.Name())) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
