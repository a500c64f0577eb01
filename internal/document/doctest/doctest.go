// Package doctest provides in-memory document fakes and raw PDF builders
// for tests. The fakes keep classifier and processor tests independent of
// pdfcpu; the builders feed the pdfcpu-backed source in document tests.
package doctest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/doctriage/doctriage/internal/document"
)

// Page describes one fake page.
type Page struct {
	TextBlocks  int
	ImageBlocks int
	Text        string // native text returned by PageText
}

// Doc is an in-memory document.Document.
type Doc struct {
	Pages  []Page
	Closed bool
}

func (d *Doc) PageCount() int { return len(d.Pages) }

func (d *Doc) PageBlocks(page int) (document.BlockCounts, error) {
	if page < 1 || page > len(d.Pages) {
		return document.BlockCounts{}, fmt.Errorf("page %d out of range", page)
	}
	p := d.Pages[page-1]
	return document.BlockCounts{Text: p.TextBlocks, Image: p.ImageBlocks}, nil
}

func (d *Doc) PageText(page int) (string, error) {
	if page < 1 || page > len(d.Pages) {
		return "", fmt.Errorf("page %d out of range", page)
	}
	return d.Pages[page-1].Text, nil
}

func (d *Doc) ExtractPage(_ context.Context, page int, dir string) (string, error) {
	if page < 1 || page > len(d.Pages) {
		return "", fmt.Errorf("page %d out of range", page)
	}
	out := filepath.Join(dir, fmt.Sprintf("fake_page_%d.pdf", page))
	if err := os.WriteFile(out, []byte("%PDF-fake"), 0o600); err != nil {
		return "", err
	}
	return out, nil
}

func (d *Doc) Close() error {
	d.Closed = true
	return nil
}

// Source is an in-memory document.Source keyed by path. Paths not present
// report fs.ErrNotExist; paths in Broken report the given decode error.
type Source struct {
	Docs   map[string]*Doc
	Broken map[string]error
}

func NewSource() *Source {
	return &Source{Docs: map[string]*Doc{}, Broken: map[string]error{}}
}

// Add registers a document under path and returns it.
func (s *Source) Add(path string, pages ...Page) *Doc {
	d := &Doc{Pages: pages}
	s.Docs[path] = d
	return d
}

func (s *Source) Open(_ context.Context, path string) (document.Document, error) {
	if err, ok := s.Broken[path]; ok {
		return nil, err
	}
	if d, ok := s.Docs[path]; ok {
		return d, nil
	}
	return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
}

// PageSpec describes one page of a built raw PDF.
type PageSpec struct {
	TextBlocks int    // number of BT..ET text objects
	Text       string // text repeated in each text block
	Image      bool   // include a 1x1 image XObject drawn on the page
}

// BuildPDF assembles a minimal but well-formed PDF with the given pages.
// Offsets are exact so strict xref parsers accept the file.
func BuildPDF(pages ...PageSpec) []byte {
	type object struct {
		body     string
		stream   string
		isStream bool
	}

	// 1: catalog, 2: pages, 3: font, then per page: page, contents[, image].
	kids := make([]string, 0, len(pages))

	next := 4
	pageObjs := make([]int, len(pages))
	contentObjs := make([]int, len(pages))
	imageObjs := make([]int, len(pages))
	for i := range pages {
		pageObjs[i] = next
		next++
		contentObjs[i] = next
		next++
		if pages[i].Image {
			imageObjs[i] = next
			next++
		}
	}
	total := next - 1

	objAt := make([]object, total+1)
	objAt[1] = object{body: "<< /Type /Catalog /Pages 2 0 R >>"}
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", pageObjs[i]))
	}
	objAt[2] = object{body: fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>",
		strings.Join(kids, " "), len(pages))}
	objAt[3] = object{body: "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"}

	for i, p := range pages {
		res := "/Font << /F1 3 0 R >>"
		if p.Image {
			res += fmt.Sprintf(" /XObject << /Im1 %d 0 R >>", imageObjs[i])
		}
		objAt[pageObjs[i]] = object{body: fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << %s >> >>",
			contentObjs[i], res)}

		var cs strings.Builder
		text := p.Text
		if text == "" {
			text = "Sample text"
		}
		for j := 0; j < p.TextBlocks; j++ {
			fmt.Fprintf(&cs, "BT\n/F1 12 Tf\n72 %d Td\n(%s) Tj\nET\n", 720-14*j, escapePDFText(text))
		}
		if p.Image {
			cs.WriteString("q 100 0 0 100 72 560 cm /Im1 Do Q\n")
		}
		objAt[contentObjs[i]] = object{
			body:     fmt.Sprintf("<< /Length %d >>", cs.Len()),
			stream:   cs.String(),
			isStream: true,
		}

		if p.Image {
			img := "\xff\xff\xff"
			objAt[imageObjs[i]] = object{
				body: fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width 1 /Height 1 "+
					"/ColorSpace /DeviceRGB /BitsPerComponent 8 /Length %d >>", len(img)),
				stream:   img,
				isStream: true,
			}
		}
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, total+1)
	for n := 1; n <= total; n++ {
		offsets[n] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\n", n, objAt[n].body)
		if objAt[n].isStream {
			b.WriteString("stream\n")
			b.WriteString(objAt[n].stream)
			b.WriteString("\nendstream\n")
		}
		b.WriteString("endobj\n")
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n", total+1)
	b.WriteString("0000000000 65535 f \n")
	for n := 1; n <= total; n++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", total+1, xref)

	return []byte(b.String())
}

func escapePDFText(text string) string {
	text = strings.ReplaceAll(text, `\`, `\\`)
	text = strings.ReplaceAll(text, "(", `\(`)
	return strings.ReplaceAll(text, ")", `\)`)
}

// WritePDF builds a PDF and writes it under dir, returning the path.
func WritePDF(dir, name string, pages ...PageSpec) (string, error) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, BuildPDF(pages...), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

var _ document.Source = (*Source)(nil)
var _ document.Document = (*Doc)(nil)
