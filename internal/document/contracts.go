// Package document is the file-access layer: it opens a PDF and exposes
// page count, per-page block evidence, native page text, and single-page
// splitting for OCR submission.
package document

import "context"

// BlockCounts is the per-page content-block evidence used for
// classification. Blocks of any other kind are not counted.
type BlockCounts struct {
	Text  int
	Image int
}

// Total returns the number of counted blocks on the page.
func (b BlockCounts) Total() int { return b.Text + b.Image }

// Document is one open document. Pages are 1-indexed everywhere.
type Document interface {
	PageCount() int
	// PageBlocks returns the text/image block counts for a page.
	PageBlocks(page int) (BlockCounts, error)
	// PageText returns the natively embedded text of a page (direct
	// extraction, no OCR).
	PageText(page int) (string, error)
	// ExtractPage writes a single-page copy of the document into dir and
	// returns its path. The caller owns the file and must remove it.
	ExtractPage(ctx context.Context, page int, dir string) (string, error)
	Close() error
}

// Source opens documents by path. Implementations report missing paths
// with an fs.ErrNotExist-class error and unparseable files with an error
// wrapping common.ErrDecode.
type Source interface {
	Open(ctx context.Context, path string) (Document, error)
}
