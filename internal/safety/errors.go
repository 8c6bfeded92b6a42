package safety

import "errors"

var (
	// ErrUnsupportedLanguage is returned when the requested language has no catalog.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrInvalidInput is returned for text or parameters the detector cannot scan.
	ErrInvalidInput = errors.New("invalid input")
)
