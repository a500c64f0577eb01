package constants

// Quality is the caller-specified trade-off knob controlling how
// aggressively OCR is applied.
type Quality string

// Stable values (accepted on the wire and in config).
const (
	QualityFast     Quality = "fast"     // direct extraction only, no OCR
	QualityBalanced Quality = "balanced" // OCR for image pages only
	QualityAccurate Quality = "accurate" // OCR for image and hybrid pages
)

// NormalizeQuality maps a raw quality string to a closed Quality value.
// Unrecognized input falls back to QualityBalanced rather than erroring,
// so callers never have to pre-validate the knob.
func NormalizeQuality(raw string) Quality {
	switch Quality(raw) {
	case QualityFast, QualityBalanced, QualityAccurate:
		return Quality(raw)
	default:
		return QualityBalanced
	}
}
