package protocol

import (
	"errors"
	"fmt"
)

var (
	// Transport errors
	ErrEndOfStream   = errors.New("end of stream")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size (65535 bytes)")

	// Codec errors
	ErrUnsupportedField      = errors.New("unsupported field")
	ErrFieldTooLong          = errors.New("field value too long")
	ErrUnexpectedEndOfBuffer = errors.New("unexpected end of buffer")
	ErrInvalidCharacter      = errors.New("invalid character")
	ErrInvalidLengthPrefix   = errors.New("invalid length prefix")
	ErrInvalidMTI            = errors.New("invalid MTI")
)

// FieldError reports where in a message packing or unpacking failed.
// Field 0 is the MTI and field 1 the bitmap.
type FieldError struct {
	Op     string // "pack" or "unpack"
	Field  int
	Offset int
	Err    error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s field=%d offset=%d: %v", e.Op, e.Field, e.Offset, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies codec and transport errors into short labels for
// logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrEndOfStream):
		return "end_of_stream"
	case errors.Is(err, ErrFrameTooLarge):
		return "frame_too_large"
	case errors.Is(err, ErrUnsupportedField):
		return "unsupported_field"
	case errors.Is(err, ErrFieldTooLong):
		return "field_too_long"
	case errors.Is(err, ErrUnexpectedEndOfBuffer):
		return "unexpected_end_of_buffer"
	case errors.Is(err, ErrInvalidCharacter):
		return "invalid_character"
	case errors.Is(err, ErrInvalidLengthPrefix):
		return "invalid_length_prefix"
	case errors.Is(err, ErrInvalidMTI):
		return "invalid_mti"
	default:
		return "other"
	}
}
