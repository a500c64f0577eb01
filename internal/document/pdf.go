package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/doctriage/doctriage/internal/common"
)

// PDFSource opens PDF files with pdfcpu.
type PDFSource struct {
	conf *model.Configuration
}

func NewPDFSource() *PDFSource {
	return &PDFSource{conf: model.NewDefaultConfiguration()}
}

// Open reads, validates and optimizes the PDF at path. Optimization is
// required so per-page image XObject numbers are resolvable.
func (s *PDFSource) Open(ctx context.Context, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err // keeps fs.ErrNotExist in the chain
	}

	pctx, err := api.ReadValidateAndOptimize(f, s.conf)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: pdfcpu read %s: %v", common.ErrDecode, filepath.Base(path), err)
	}

	return &pdfDocument{path: path, file: f, ctx: pctx, conf: s.conf}, nil
}

type pdfDocument struct {
	path string
	file *os.File
	ctx  *model.Context
	conf *model.Configuration
}

func (d *pdfDocument) PageCount() int { return d.ctx.PageCount }

func (d *pdfDocument) PageBlocks(page int) (BlockCounts, error) {
	if page < 1 || page > d.ctx.PageCount {
		return BlockCounts{}, fmt.Errorf("page %d out of range 1..%d", page, d.ctx.PageCount)
	}

	var counts BlockCounts
	counts.Image = len(pdfcpu.ImageObjNrs(d.ctx, page))

	data, err := d.pageContent(page)
	if err == nil {
		counts.Text = countTextBlocks(data)
	}
	// A page without a readable content stream simply has zero text blocks.
	return counts, nil
}

func (d *pdfDocument) PageText(page int) (string, error) {
	if page < 1 || page > d.ctx.PageCount {
		return "", fmt.Errorf("page %d out of range 1..%d", page, d.ctx.PageCount)
	}
	data, err := d.pageContent(page)
	if err != nil {
		return "", nil // no content stream -> no native text
	}
	return scanContentText(data), nil
}

// ExtractPage trims the source PDF down to one page in dir.
func (d *pdfDocument) ExtractPage(ctx context.Context, page int, dir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if page < 1 || page > d.ctx.PageCount {
		return "", fmt.Errorf("page %d out of range 1..%d", page, d.ctx.PageCount)
	}

	base := strings.TrimSuffix(filepath.Base(d.path), filepath.Ext(d.path))
	out := filepath.Join(dir, fmt.Sprintf("%s_page_%d.pdf", base, page))
	if err := api.TrimFile(d.path, out, []string{strconv.Itoa(page)}, d.conf); err != nil {
		return "", fmt.Errorf("trim page %d: %w", page, err)
	}
	return out, nil
}

func (d *pdfDocument) Close() error { return d.file.Close() }

func (d *pdfDocument) pageContent(page int) ([]byte, error) {
	r, err := pdfcpu.ExtractPageContent(d.ctx, page)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// countTextBlocks counts BT..ET text objects in a page content stream,
// the closest content-stream analog of a layout text block.
func countTextBlocks(data []byte) int {
	n := 0
	for _, tok := range bytes.Fields(data) {
		if bytes.Equal(tok, []byte("BT")) {
			n++
		}
	}
	return n
}

// pdfStringRe matches PDF string literals in parentheses: (text here)
var pdfStringRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// scanContentText pulls visible text out of a page content stream by
// walking the text-showing operators.
func scanContentText(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			appendShownText(&sb, line, false)
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			appendShownText(&sb, line, true)
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return normalizeSpace(sb.String())
}

func appendShownText(sb *strings.Builder, line []byte, newline bool) {
	for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
		text := decodePDFString(m[1])
		if text == "" {
			continue
		}
		if newline {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}
}

// decodePDFString handles the basic PDF string escape sequences,
// including octal escapes like \040.
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for j := 0; j < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; j++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

// normalizeSpace collapses runs of whitespace but keeps line breaks.
func normalizeSpace(text string) string {
	var sb strings.Builder
	space := false
	for _, r := range text {
		switch {
		case r == '\n':
			sb.WriteByte('\n')
			space = true
		case r == ' ' || r == '\t' || r == '\r':
			if !space && sb.Len() > 0 {
				sb.WriteByte(' ')
				space = true
			}
		default:
			sb.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(sb.String())
}
