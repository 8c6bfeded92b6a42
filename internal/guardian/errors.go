package guardian

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/straja-ai/piiguard/internal/redact"
)

var (
	// ErrMissingIdentifier rejects a record without a stable id before any
	// work is done on it.
	ErrMissingIdentifier = errors.New("record has no identifier")
	// ErrUnknownLevel is returned for a protection level outside the known set.
	ErrUnknownLevel = errors.New("unknown protection level")
)

// FieldError records why one field was passed through unprotected.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

func (e *FieldError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = redact.String(e.Err.Error())
	}
	return json.Marshal(struct {
		Field string `json:"field"`
		Error string `json:"error"`
	}{e.Field, msg})
}
