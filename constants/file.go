package constants

import "strings"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsPDFExt reports whether ext names a PDF file. The service only
// accepts PDFs; images are handled one level down by the OCR backends.
func IsPDFExt(ext string) bool {
	return NormalizeExt(ext) == "pdf"
}
