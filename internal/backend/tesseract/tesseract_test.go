package tesseract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/backend"
)

// fakeRunner scripts pdftoppm and tesseract invocations. The pdftoppm
// stub drops a PNG where the real binary would.
type fakeRunner struct {
	ocrText string
	tsvOut  string
	ocrErr  error
	ppmErr  error

	invocations [][]string
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	r.invocations = append(r.invocations, append([]string{name}, args...))

	if strings.Contains(name, "pdftoppm") {
		if r.ppmErr != nil {
			return nil, []byte("pdftoppm exploded"), r.ppmErr
		}
		prefix := args[len(args)-1]
		if err := os.WriteFile(prefix+"-1.png", []byte("png"), 0o644); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil
	}

	// tesseract
	if r.ocrErr != nil {
		return nil, []byte("tesseract exploded"), r.ocrErr
	}
	if args[len(args)-1] == "tsv" {
		return []byte(r.tsvOut), nil, nil
	}
	return []byte(r.ocrText), nil, nil
}

func newTestBackend(r Runner) *Backend {
	return New(Config{Lang: "deu", DPI: 150}, nil).WithRunner(r)
}

func TestExtractText(t *testing.T) {
	runner := &fakeRunner{
		ocrText: "Rechnung Nr. 42\nBetrag: 99,00 EUR\n\f",
		tsvOut: "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
			"5\t1\t1\t1\t1\t1\t10\t10\t50\t12\t90\tRechnung\n" +
			"5\t1\t1\t1\t1\t2\t70\t10\t30\t12\t80\tNr.\n" +
			"5\t1\t1\t1\t1\t3\t0\t0\t0\t0\t-1\t\n",
	}
	b := newTestBackend(runner)

	res, err := b.ExtractText(context.Background(), "/data/invoice.pdf", 2, backend.Options{})
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if !strings.Contains(res.Text, "Rechnung Nr. 42") {
		t.Errorf("Text = %q", res.Text)
	}
	if strings.Contains(res.Text, "\f") {
		t.Error("form feed not stripped")
	}
	if res.Method != constants.MethodTesseract {
		t.Errorf("Method = %s", res.Method)
	}
	if res.PageNumber != 2 {
		t.Errorf("PageNumber = %d, want 2", res.PageNumber)
	}
	// Mean of conf 90 and 80, -1 rows skipped.
	if res.Confidence < 0.84 || res.Confidence > 0.86 {
		t.Errorf("Confidence = %v, want 0.85", res.Confidence)
	}
	if res.WordCount != 6 {
		t.Errorf("WordCount = %d, want 6", res.WordCount)
	}
}

func TestExtractTextPageSelection(t *testing.T) {
	runner := &fakeRunner{ocrText: "x"}
	b := newTestBackend(runner)

	if _, err := b.ExtractText(context.Background(), "doc.pdf", 7, backend.Options{}); err != nil {
		t.Fatalf("ExtractText: %v", err)
	}

	ppm := runner.invocations[0]
	joined := strings.Join(ppm, " ")
	if !strings.Contains(joined, "-f 7 -l 7") {
		t.Errorf("pdftoppm args = %v, want single-page selection", ppm)
	}
	if !strings.Contains(joined, "-r 150") {
		t.Errorf("pdftoppm args = %v, want configured DPI", ppm)
	}
}

func TestExtractTextDefaultConfidenceWithoutTSV(t *testing.T) {
	runner := &fakeRunner{ocrText: "hello"}
	b := New(Config{DisableTSVConfidence: true}, nil).WithRunner(runner)

	res, err := b.ExtractText(context.Background(), "doc.pdf", 1, backend.Options{})
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if res.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want default 0.5", res.Confidence)
	}
	// Only pdftoppm and the OCR pass; no tsv invocation.
	if len(runner.invocations) != 2 {
		t.Errorf("invocations = %d, want 2", len(runner.invocations))
	}
}

func TestExtractTextRasterizationFailure(t *testing.T) {
	runner := &fakeRunner{ppmErr: errors.New("exit status 1")}
	b := newTestBackend(runner)

	_, err := b.ExtractText(context.Background(), "doc.pdf", 1, backend.Options{})
	if err == nil {
		t.Fatal("want error from failed rasterization")
	}
	if !strings.Contains(err.Error(), "pdftoppm") {
		t.Errorf("err = %v", err)
	}
}

func TestExtractTextOCRFailure(t *testing.T) {
	runner := &fakeRunner{ocrErr: errors.New("exit status 1")}
	b := newTestBackend(runner)

	_, err := b.ExtractText(context.Background(), "doc.pdf", 1, backend.Options{})
	if err == nil {
		t.Fatal("want error from failed OCR")
	}
}

// The per-page temp dir must be gone after the call, success or not.
func TestExtractTextCleansTempDir(t *testing.T) {
	countTmp := func() int {
		matches, _ := filepath.Glob(filepath.Join(os.TempDir(), "doctriage-tess-*"))
		return len(matches)
	}
	before := countTmp()

	runner := &fakeRunner{ocrText: "x"}
	b := newTestBackend(runner)
	if _, err := b.ExtractText(context.Background(), "doc.pdf", 1, backend.Options{}); err != nil {
		t.Fatalf("ExtractText: %v", err)
	}

	runner.ocrErr = errors.New("fail")
	b.ExtractText(context.Background(), "doc.pdf", 1, backend.Options{})

	if after := countTmp(); after != before {
		t.Errorf("temp dirs leaked: %d before, %d after", before, after)
	}
}

func TestTesseractArgs(t *testing.T) {
	b := New(Config{Lang: "deu", PSM: 6, OEM: 1, TessdataDir: "/opt/tessdata"}, nil)
	args := b.tesseractArgs("img.png")
	joined := strings.Join(args, " ")
	for _, want := range []string{"img.png", "stdout", "-l deu", "--psm 6", "--oem 1", "--tessdata-dir /opt/tessdata"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %v missing %q", args, want)
		}
	}
}

func TestName(t *testing.T) {
	if got := New(Config{}, nil).Name(); got != "tesseract" {
		t.Errorf("Name = %q", got)
	}
}
