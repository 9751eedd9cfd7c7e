package errs

import (
	"errors"
	"fmt"
)

// Validation reasons
const (
	ReasonUnsupportedFormat = "unsupported_format"
	ReasonIndexOutOfRange   = "index_out_of_range"
	ReasonNoSession         = "no_session"
)

// ValidationError reports bad caller input. No state is changed when it is returned.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("validation error [%s]: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("validation error [%s]", e.Reason)
}

// NewUnsupportedFormatError creates an error for a file that is not a .nii scan
func NewUnsupportedFormatError(name string) *ValidationError {
	return &ValidationError{
		Reason: ReasonUnsupportedFormat,
		Detail: fmt.Sprintf("only .nii files can be uploaded, got %q", name),
	}
}

// NewIndexOutOfRangeError creates an error for a slice index outside the session
func NewIndexOutOfRangeError(index, sliceCount int) *ValidationError {
	return &ValidationError{
		Reason: ReasonIndexOutOfRange,
		Detail: fmt.Sprintf("slice %d outside [0, %d)", index, sliceCount),
	}
}

// NewNoSessionError creates an error for operations that need an uploaded scan
func NewNoSessionError() *ValidationError {
	return &ValidationError{
		Reason: ReasonNoSession,
		Detail: "no scan has been uploaded",
	}
}

// TransportError reports an unreachable endpoint or a non-success response.
type TransportError struct {
	Op         string
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Cause != nil:
		return fmt.Sprintf("transport error during %s: status %d (caused by: %v)", e.Op, e.StatusCode, e.Cause)
	case e.StatusCode != 0:
		return fmt.Sprintf("transport error during %s: status %d", e.Op, e.StatusCode)
	case e.Cause != nil:
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("transport error during %s", e.Op)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// CorruptStateError describes an unreadable durable record.
// It is never returned to callers of the core; the record is dropped and logged.
type CorruptStateError struct {
	Store string
	Key   string
	Cause error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("corrupt %s record %q: %v", e.Store, e.Key, e.Cause)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsTransport reports whether err is or wraps a *TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

// HasReason reports whether err is a *ValidationError with the given reason.
func HasReason(err error, reason string) bool {
	var v *ValidationError
	return errors.As(err, &v) && v.Reason == reason
}
