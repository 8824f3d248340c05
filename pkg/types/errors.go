package types

import (
	"errors"
	"strings"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrNilEvent       = errors.New("event cannot be nil")
	ErrSelfMessage    = errors.New("receiver cannot be the sender")
)

// FieldError describes a single rejected field
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// ValidationError is returned when an event payload breaks a field rule
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Err != nil {
			return e.Err.Error()
		}
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Error)
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err carries field-level validation detail
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
