package audio

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures so callers can branch on the
// category without string matching.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidInput
	KindUnsupportedFormat
	KindConversionFailed
	KindInsufficientResources
	KindConfiguration
	KindComponentNotReady
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindUnsupportedFormat:
		return "unsupported format"
	case KindConversionFailed:
		return "conversion failed"
	case KindInsufficientResources:
		return "insufficient resources"
	case KindConfiguration:
		return "configuration error"
	case KindComponentNotReady:
		return "component not ready"
	default:
		return "unknown error"
	}
}

// Error is the pipeline error type. Op names the failing operation,
// Kind classifies the failure, and Err optionally wraps a cause.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with a formatted cause.
func NewError(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WrapError attaches kind and op to an existing cause.
func WrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether any error in err's chain is a pipeline Error
// of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		err = e.Err
		if err == nil {
			return false
		}
	}
	return false
}
