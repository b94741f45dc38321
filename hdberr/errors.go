// Package hdberr defines the error taxonomy shared by every layer of the
// compaction and query engine: blockfile, materializer, segment writers,
// compaction orchestrator, sparse WAND reader, cache, and log/cursor/GC
// machinery. Callers should prefer Is/Code over string matching.
package hdberr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Code is one of the taxonomy kinds from spec.md section 7.
type Code int

const (
	Unknown Code = iota
	InvalidArgument
	NotFound
	FailedPrecondition
	Aborted
	AlreadyExists
	ResourceExhausted
	Internal
	Unimplemented
)

func (c Code) String() string {
	switch c {
	case InvalidArgument:
		return "invalid_argument"
	case NotFound:
		return "not_found"
	case FailedPrecondition:
		return "failed_precondition"
	case Aborted:
		return "aborted"
	case AlreadyExists:
		return "already_exists"
	case ResourceExhausted:
		return "resource_exhausted"
	case Internal:
		return "internal"
	case Unimplemented:
		return "unimplemented"
	default:
		return "unknown"
	}
}

// Error is a typed, wrappable error carrying a taxonomy Code.
type Error struct {
	Code Code
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a bare typed error.
func New(code Code, msg string) error {
	return &Error{Code: code, msg: msg}
}

// Newf builds a bare typed error with formatting.
func Newf(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a taxonomy code and stack-preserving wrap (via
// github.com/pkg/errors) to an underlying error. Used at the boundary
// where a lower-level failure (Arrow decode, object-store I/O) needs a
// caller-visible classification.
func Wrap(code Code, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, msg: msg, err: pkgerrors.WithStack(cause)}
}

// CodeOf extracts the taxonomy Code of err, walking Unwrap chains.
// Returns Unknown if no *Error is found.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Is reports whether err (or any error it wraps) carries the given Code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
