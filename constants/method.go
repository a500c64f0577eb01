package constants

// ExtractionMethod tags how a page's text was obtained.
type ExtractionMethod string

const (
	MethodDirect    ExtractionMethod = "direct"    // native PDF text extraction
	MethodLLMOCR    ExtractionMethod = "llm_ocr"   // vision-LLM OCR
	MethodTesseract ExtractionMethod = "tesseract" // local Tesseract OCR
)
