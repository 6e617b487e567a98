// Package perr provides a coded error type with wrapping and metadata.
// Always import it as perr.
package perr

import (
	stderrs "errors"
	"fmt"
)

// Code classifies an error for callers that need to decide whether to abort
type Code uint8

const (
	// CodeUnknown is for unclassified errors
	CodeUnknown Code = iota

	// CodeConfig is for invalid parameters detected at the call that uses them
	CodeConfig

	// CodeValidation is for configuration documents failing struct validation
	CodeValidation

	// CodeParse is for malformed user input such as selection strings
	CodeParse

	// CodeRange is for empty or inverted numeric ranges
	CodeRange

	// CodeShape is for incompatible array shapes
	CodeShape

	// CodeIO is for store and file failures
	CodeIO
)

func (c Code) String() string {
	switch c {
	case CodeConfig:
		return "config"
	case CodeValidation:
		return "validation"
	case CodeParse:
		return "parse"
	case CodeRange:
		return "range"
	case CodeShape:
		return "shape"
	case CodeIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is the structured error type.
// msg is developer facing; field names the offending parameter; op tags the
// operation; orig is the wrapped cause.
type Error struct {
	orig  error
	msg   string
	code  Code
	field string
	op    string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.msg == "" && e.orig != nil {
		// wrapper added by WithField or WithOp around a foreign error
		if e.field != "" {
			return fmt.Sprintf("%v (%s)", e.orig, e.field)
		}
		return e.orig.Error()
	}
	msg := e.msg
	if e.field != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.field)
	}
	if e.orig != nil {
		return fmt.Sprintf("%s: %v", msg, e.orig)
	}
	return msg
}

// Unwrap returns the wrapped error, if any
func (e *Error) Unwrap() error { return e.orig }

// Code returns the error code
func (e *Error) Code() Code { return e.code }

// Field returns the offending field, if any
func (e *Error) Field() string { return e.field }

// Op returns the operation label, if set
func (e *Error) Op() string { return e.op }

// New returns a new *Error with the given code and message
func New(code Code, msg string) error { return &Error{code: code, msg: msg} }

// Newf returns a new *Error with code and formatted message
func Newf(code Code, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...)}
}

// Wrap returns a new *Error that wraps orig with code and message
func Wrap(orig error, code Code, msg string) error {
	return &Error{code: code, msg: msg, orig: orig}
}

// Wrapf returns a new *Error that wraps orig with code and formatted message
func Wrapf(orig error, code Code, format string, a ...any) error {
	return &Error{code: code, msg: fmt.Sprintf(format, a...), orig: orig}
}

// As unwraps and returns (*Error, true) if err is one of ours
func As(err error) (*Error, bool) {
	var e *Error
	if stderrs.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CodeOf extracts a Code from any error, defaulting to CodeUnknown
func CodeOf(err error) Code {
	if e, ok := As(err); ok {
		return e.code
	}
	return CodeUnknown
}

// IsCode reports whether err has the given code
func IsCode(err error, code Code) bool { return CodeOf(err) == code }

// WithField attaches a field to an *Error (copy-on-write). Any other error,
// including one that wraps an *Error, is wrapped keeping its message and
// code; a foreign error gets CodeUnknown.
func WithField(err error, field string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		c := *e
		c.field = field
		return &c
	}
	return &Error{code: CodeOf(err), field: field, orig: err}
}

// WithOp attaches an operation label to an *Error (copy-on-write). An error
// wrapping an *Error is wrapped keeping its message and code; a foreign error
// is returned unchanged.
func WithOp(err error, op string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		c := *e
		c.op = op
		return &c
	}
	if _, ok := As(err); ok {
		return &Error{code: CodeOf(err), op: op, orig: err}
	}
	return err
}

// Configf returns a configuration error naming the offending field
func Configf(field, format string, a ...any) error {
	return &Error{code: CodeConfig, msg: fmt.Sprintf(format, a...), field: field}
}

// Shapef returns a shape error
func Shapef(format string, a ...any) error { return Newf(CodeShape, format, a...) }
