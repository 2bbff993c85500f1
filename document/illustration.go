package document

import "unicode/utf8"

// Ellipsis marks a truncated caption.
const Ellipsis = "..."

// Illustration is the result of one accepted generation request.
type Illustration struct {
	// ImageData is the base64-encoded image returned by the backend.
	ImageData string
	// TargetBlock is the block selected when the request was made. It is
	// never recomputed, even if the document changes while the job runs.
	TargetBlock int
	// Caption is empty when no caption should be shown.
	Caption string
}

// Caption truncates text to at most length characters, ending with Ellipsis when cut.
func Caption(text string, length int) string {
	if utf8.RuneCountInString(text) <= length {
		return text
	}
	runes := []rune(text)
	keep := max(length-utf8.RuneCountInString(Ellipsis), 0)
	return string(runes[:keep]) + Ellipsis
}
