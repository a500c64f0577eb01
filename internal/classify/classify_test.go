package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/doctriage/doctriage/constants"
	"github.com/doctriage/doctriage/internal/common"
	"github.com/doctriage/doctriage/internal/document"
	"github.com/doctriage/doctriage/internal/document/doctest"
)

func newTestDetector(src document.Source) *Detector {
	return NewDetector(src, Config{}, nil)
}

func TestAnalyzePage(t *testing.T) {
	d := newTestDetector(doctest.NewSource())

	tests := []struct {
		name          string
		blocks        document.BlockCounts
		textDominant  bool
		imageDominant bool
		mixed         bool
	}{
		{"text only", document.BlockCounts{Text: 5}, true, false, false},
		{"image only", document.BlockCounts{Image: 2}, false, true, false},
		{"mixed content", document.BlockCounts{Text: 3, Image: 1}, true, true, true},
		{"below both thresholds", document.BlockCounts{Text: 1}, false, false, false},
		{"empty page", document.BlockCounts{}, false, false, false},
		{"text at threshold", document.BlockCounts{Text: 2}, true, false, false},
		{"image at threshold", document.BlockCounts{Image: 1}, false, true, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := d.AnalyzePage(tc.blocks, 1)
			if a.IsTextDominant != tc.textDominant {
				t.Errorf("IsTextDominant = %v, want %v", a.IsTextDominant, tc.textDominant)
			}
			if a.IsImageDominant != tc.imageDominant {
				t.Errorf("IsImageDominant = %v, want %v", a.IsImageDominant, tc.imageDominant)
			}
			if a.HasMixedContent != tc.mixed {
				t.Errorf("HasMixedContent = %v, want %v", a.HasMixedContent, tc.mixed)
			}
			if a.TotalBlocks != tc.blocks.Total() {
				t.Errorf("TotalBlocks = %d, want %d", a.TotalBlocks, tc.blocks.Total())
			}
		})
	}
}

func TestClassifyPureText(t *testing.T) {
	src := doctest.NewSource()
	src.Add("report.pdf",
		doctest.Page{TextBlocks: 5},
		doctest.Page{TextBlocks: 3},
	)

	c, err := newTestDetector(src).Classify(context.Background(), "report.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.PDFType != constants.PDFTypePureText {
		t.Errorf("PDFType = %s, want %s", c.PDFType, constants.PDFTypePureText)
	}
	if got, want := len(c.TextPages), 2; got != want {
		t.Errorf("len(TextPages) = %d, want %d", got, want)
	}
	if c.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", c.Confidence)
	}
}

func TestClassifyPureImage(t *testing.T) {
	src := doctest.NewSource()
	src.Add("scan.pdf",
		doctest.Page{ImageBlocks: 1},
		doctest.Page{ImageBlocks: 2},
	)

	c, err := newTestDetector(src).Classify(context.Background(), "scan.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.PDFType != constants.PDFTypePureImage {
		t.Errorf("PDFType = %s, want %s", c.PDFType, constants.PDFTypePureImage)
	}
	if got, want := len(c.ImagePages), 2; got != want {
		t.Errorf("len(ImagePages) = %d, want %d", got, want)
	}
}

func TestClassifyHybrid(t *testing.T) {
	src := doctest.NewSource()
	src.Add("mixed.pdf",
		doctest.Page{TextBlocks: 4},                // text page
		doctest.Page{ImageBlocks: 1},               // image page
		doctest.Page{TextBlocks: 3, ImageBlocks: 2}, // hybrid page
	)

	c, err := newTestDetector(src).Classify(context.Background(), "mixed.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.PDFType != constants.PDFTypeHybrid {
		t.Errorf("PDFType = %s, want %s", c.PDFType, constants.PDFTypeHybrid)
	}
	if !c.IsTextPage(1) || !c.IsImagePage(2) || !c.IsHybridPage(3) {
		t.Errorf("page categorization wrong: text=%v image=%v hybrid=%v",
			c.TextPages, c.ImagePages, c.HybridPages)
	}
}

// Every page must land in exactly one of the three lists.
func TestClassifyPageListsPartition(t *testing.T) {
	src := doctest.NewSource()
	src.Add("doc.pdf",
		doctest.Page{TextBlocks: 2},
		doctest.Page{},
		doctest.Page{TextBlocks: 2, ImageBlocks: 1},
		doctest.Page{ImageBlocks: 3},
		doctest.Page{TextBlocks: 1}, // below text threshold -> image page
	)

	c, err := newTestDetector(src).Classify(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}

	seen := map[int]int{}
	for _, p := range c.TextPages {
		seen[p]++
	}
	for _, p := range c.ImagePages {
		seen[p]++
	}
	for _, p := range c.HybridPages {
		seen[p]++
	}
	if len(seen) != c.TotalPages {
		t.Fatalf("page lists cover %d pages, want %d", len(seen), c.TotalPages)
	}
	for page := 1; page <= c.TotalPages; page++ {
		if seen[page] != 1 {
			t.Errorf("page %d appears %d times across page lists, want exactly 1", page, seen[page])
		}
	}
}

// Pages with no blocks at all count as image pages: no evidence of
// native text means we assume a scan.
func TestClassifyZeroBlockPageIsImagePage(t *testing.T) {
	src := doctest.NewSource()
	src.Add("blank.pdf", doctest.Page{})

	c, err := newTestDetector(src).Classify(context.Background(), "blank.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !c.IsImagePage(1) {
		t.Errorf("zero-block page not categorized as image page: %+v", c)
	}
	if c.PDFType != constants.PDFTypePureImage {
		t.Errorf("PDFType = %s, want %s", c.PDFType, constants.PDFTypePureImage)
	}
	if c.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5 for zero blocks", c.Confidence)
	}
}

func TestClassifyEmptyDocument(t *testing.T) {
	src := doctest.NewSource()
	src.Add("empty.pdf")

	c, err := newTestDetector(src).Classify(context.Background(), "empty.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if c.PDFType != constants.PDFTypeUnknown {
		t.Errorf("PDFType = %s, want %s", c.PDFType, constants.PDFTypeUnknown)
	}
	if c.Confidence != 0.0 {
		t.Errorf("Confidence = %v, want 0.0", c.Confidence)
	}
	if len(c.TextPages)+len(c.ImagePages)+len(c.HybridPages) != 0 {
		t.Errorf("empty document has non-empty page lists: %+v", c)
	}
}

func TestClassifyMissingFile(t *testing.T) {
	_, err := newTestDetector(doctest.NewSource()).Classify(context.Background(), "missing.pdf")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want common.ErrNotFound", err)
	}
}

func TestClassifyDecodeError(t *testing.T) {
	src := doctest.NewSource()
	decodeErr := common.WrapError(common.ErrDecode, "not a pdf")
	src.Broken["garbage.pdf"] = decodeErr

	_, err := newTestDetector(src).Classify(context.Background(), "garbage.pdf")
	if !errors.Is(err, common.ErrDecode) {
		t.Fatalf("err = %v, want common.ErrDecode", err)
	}
}

func TestClassifyConfidenceBounds(t *testing.T) {
	cases := []struct {
		name  string
		pages []doctest.Page
		want  float64
	}{
		{"all text", []doctest.Page{{TextBlocks: 4}}, 1.0},
		{"all image", []doctest.Page{{ImageBlocks: 3}}, 1.0},
		{"three to one", []doctest.Page{{TextBlocks: 3, ImageBlocks: 1}}, 0.75},
		{"even split", []doctest.Page{{TextBlocks: 2, ImageBlocks: 2}}, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := doctest.NewSource()
			src.Add("f.pdf", tc.pages...)
			c, err := newTestDetector(src).Classify(context.Background(), "f.pdf")
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if c.Confidence != tc.want {
				t.Errorf("Confidence = %v, want %v", c.Confidence, tc.want)
			}
			if c.Confidence < 0 || c.Confidence > 1 {
				t.Errorf("Confidence %v out of [0,1]", c.Confidence)
			}
		})
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	src := doctest.NewSource()
	src.Add("doc.pdf", doctest.Page{TextBlocks: 3})

	d := NewDetector(src, Config{TextBlockThreshold: 5, ImageBlockThreshold: 1}, nil)
	c, err := d.Classify(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	// 3 text blocks < threshold 5: page falls through to image.
	if c.PDFType != constants.PDFTypePureImage {
		t.Errorf("PDFType = %s, want %s", c.PDFType, constants.PDFTypePureImage)
	}
}

func TestClassifyClosesDocument(t *testing.T) {
	src := doctest.NewSource()
	doc := src.Add("doc.pdf", doctest.Page{TextBlocks: 2})

	if _, err := newTestDetector(src).Classify(context.Background(), "doc.pdf"); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !doc.Closed {
		t.Error("document not closed after classification")
	}
}
