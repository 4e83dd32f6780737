package extract

import "fmt"

// UnsupportedFormatError is returned when no extractor handles the MIME type.
// It is permanent: retrying the same bytes cannot succeed.
type UnsupportedFormatError struct {
	MimeType string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported document type %q", e.MimeType)
}

// ExtractionError wraps a failure inside a matched extractor.
type ExtractionError struct {
	MimeType string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.MimeType, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }
