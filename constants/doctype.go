package constants

// PDFType classifies a document by its content structure.
type PDFType string

// Stable values (returned on the wire, store exact strings).
const (
	PDFTypePureText  PDFType = "pure_text"  // every page carries readable text blocks
	PDFTypePureImage PDFType = "pure_image" // every page is scanned/image-based
	PDFTypeHybrid    PDFType = "hybrid"     // mixed page composition
	PDFTypeUnknown   PDFType = "unknown"    // empty document or classification failed
)
