// Package tesseract is the local OCR backend: it rasterizes one PDF page
// with pdftoppm and feeds it to the tesseract binary. Free, offline, good
// for simple documents.
package tesseract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/backend"
)

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"

	Lang        string // default "eng"
	DPI         int    // rasterization DPI, default 300
	TessdataDir string

	PSM int // e.g. 6 is good for a uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	DisableTSVConfidence bool // skip the second tesseract pass
}

type Backend struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

var _ backend.OCRBackend = (*Backend)(nil)

func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &Backend{cfg: cfg, runner: execRunner{}, logger: logger}
}

func (b *Backend) Name() string { return "tesseract" }

// IsAvailable reports whether both required binaries are reachable.
func (b *Backend) IsAvailable() bool {
	return binaryReachable(b.cfg.Tesseract) && binaryReachable(b.cfg.Pdftoppm)
}

func binaryReachable(bin string) bool {
	if filepath.IsAbs(bin) {
		_, err := os.Stat(bin)
		return err == nil
	}
	_, err := exec.LookPath(bin)
	return err == nil
}

// ExtractText rasterizes page (1-indexed) of the PDF at path and OCRs it.
// The page image lives in a scoped temp dir removed on every exit path.
func (b *Backend) ExtractText(ctx context.Context, path string, page int, opts backend.Options) (backend.OCRResult, error) {
	_ = opts // model/prompt overrides only apply to LLM backends
	start := time.Now()

	tmpDir, err := os.MkdirTemp("", "doctriage-tess-*")
	if err != nil {
		return backend.OCRResult{}, fmt.Errorf("tesseract temp dir: %w", err)
	}
	defer func() {
		if rerr := os.RemoveAll(tmpDir); rerr != nil {
			b.logger.Warn("tesseract.tmp_cleanup_failed", "dir", tmpDir, "error", rerr)
		}
	}()

	img, err := b.rasterizePage(ctx, path, page, tmpDir)
	if err != nil {
		return backend.OCRResult{}, err
	}

	text, err := b.ocrImage(ctx, img)
	if err != nil {
		return backend.OCRResult{}, err
	}
	text = cleanOCRText(text)

	conf := 0.5 // default when no per-word data is usable
	if !b.cfg.DisableTSVConfidence {
		if c, terr := b.tsvConfidence(ctx, img); terr == nil && c > 0 {
			conf = c
		} else if terr != nil {
			b.logger.Debug("tesseract.tsv_confidence_failed", "page", page, "error", terr)
		}
	}

	b.logger.Debug("tesseract.page_ok",
		"file", filepath.Base(path), "page", page,
		"bytes", len(text), "confidence", conf,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return backend.OCRResult{
		Text:       text,
		Confidence: conf,
		Method:     constants.MethodTesseract,
		PageNumber: page,
		WordCount:  backend.WordCount(text),
		Metadata:   map[string]any{"lang": b.cfg.Lang, "dpi": b.cfg.DPI},
	}, nil
}

// rasterizePage renders exactly one page to PNG and returns the image path.
func (b *Backend) rasterizePage(ctx context.Context, path string, page int, tmpDir string) (string, error) {
	prefix := filepath.Join(tmpDir, "page")
	pg := strconv.Itoa(page)

	// pdftoppm -f N -l N -r <dpi> -png <in.pdf> <tmp/page>
	_, errb, err := b.runner.Run(ctx, b.cfg.Pdftoppm,
		"-f", pg, "-l", pg, "-r", strconv.Itoa(b.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm page %d: %w (%s)", page, err, truncate(string(errb), 512))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return "", fmt.Errorf("pdftoppm rendered no image for page %d", page)
	}
	return matches[0], nil
}

func (b *Backend) ocrImage(ctx context.Context, img string) (string, error) {
	args := b.tesseractArgs(img)

	out, errb, err := b.runner.Run(ctx, b.cfg.Tesseract, args...)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w (%s)", err, truncate(string(errb), 512))
	}
	return string(out), nil
}

// tsvConfidence runs tesseract in TSV mode and returns the mean word
// confidence scaled to 0..1.
func (b *Backend) tsvConfidence(ctx context.Context, img string) (float64, error) {
	args := append(b.tesseractArgs(img), "tsv")

	out, errb, err := b.runner.Run(ctx, b.cfg.Tesseract, args...)
	if err != nil {
		return 0, fmt.Errorf("tesseract tsv: %w (%s)", err, truncate(string(errb), 512))
	}

	var sum float64
	var n int
	for i, ln := range strings.Split(string(out), "\n") {
		if i == 0 || ln == "" { // header
			continue
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		conf := cols[10]
		if conf == "" || conf == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(conf, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n) / 100.0, nil
}

func (b *Backend) tesseractArgs(img string) []string {
	args := []string{img, "stdout", "-l", b.cfg.Lang}
	if b.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(b.cfg.PSM))
	}
	if b.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(b.cfg.OEM))
	}
	if b.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", b.cfg.TessdataDir)
	}
	return args
}

// cleanOCRText drops form feeds and trailing per-line whitespace that
// tesseract tends to emit.
func cleanOCRText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\f", ""), "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimRight(ln, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
