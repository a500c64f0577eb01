// Package export renders batch extraction outcomes as an xlsx workbook
// for downstream bookkeeping tools.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/doctriage/doctriage/internal/process"
)

const (
	summarySheet = "Summary"
	errorsSheet  = "Page Errors"
)

var summaryHeader = []string{
	"File", "Type", "Pages", "Method", "Words", "Confidence", "Time (ms)", "OCR Errors", "Status", "Error",
}

var errorsHeader = []string{"File", "Page", "Backend", "Error"}

// BuildReport writes one summary row per result plus a sheet listing
// every page-level OCR error.
func BuildReport(results []process.ExtractionResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename summary sheet: %w", err)
	}
	if _, err := f.NewSheet(errorsSheet); err != nil {
		return nil, fmt.Errorf("create errors sheet: %w", err)
	}

	if err := writeRow(f, summarySheet, 1, toAnies(summaryHeader)); err != nil {
		return nil, err
	}
	if err := writeRow(f, errorsSheet, 1, toAnies(errorsHeader)); err != nil {
		return nil, err
	}

	errRow := 2
	for i, res := range results {
		status := "ok"
		if !res.Success {
			status = "failed"
		}
		row := []any{
			res.FileName,
			string(res.PDFType),
			res.TotalPages,
			res.ExtractionMethod,
			res.WordCount,
			res.Confidence,
			res.ProcessingTimeMS,
			len(res.PageErrors),
			status,
			res.Error,
		}
		if err := writeRow(f, summarySheet, i+2, row); err != nil {
			return nil, err
		}

		for _, pe := range res.PageErrors {
			if err := writeRow(f, errorsSheet, errRow, []any{res.FileName, pe.PageNumber, pe.Backend, pe.Error}); err != nil {
				return nil, err
			}
			errRow++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAnies(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
