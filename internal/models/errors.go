package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can map them to exit codes and
// HTTP statuses without string matching.
type ErrorKind string

// Error kinds propagated across subsystem boundaries.
const (
	KindConfigInvalid      ErrorKind = "CONFIG_INVALID"
	KindProbeFailed        ErrorKind = "PROBE_FAILED"
	KindTranscodeFailed    ErrorKind = "TRANSCODE_FAILED"
	KindPlanOversize       ErrorKind = "PLAN_OVERSIZE"
	KindUploadFailed       ErrorKind = "UPLOAD_FAILED"
	KindFetchTimeout       ErrorKind = "FETCH_TIMEOUT"
	KindFetchFailed        ErrorKind = "FETCH_FAILED"
	KindAccountUnavailable ErrorKind = "ACCOUNT_UNAVAILABLE"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindIntegrityViolation ErrorKind = "INTEGRITY_VIOLATION"
	KindConflict           ErrorKind = "CONFLICT"
)

// TaggedError is an error carrying an ErrorKind. Business-rule errors are
// never retried; infrastructure errors are retried at their site before
// being wrapped.
type TaggedError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// E constructs a TaggedError with a formatted detail message.
func E(kind ErrorKind, format string, args ...any) *TaggedError {
	return &TaggedError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs a TaggedError wrapping an underlying cause.
func Wrap(kind ErrorKind, err error, format string, args ...any) *TaggedError {
	return &TaggedError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Error implements the error interface.
func (e *TaggedError) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *TaggedError) Unwrap() error {
	return e.Err
}

// Is matches two TaggedErrors by kind, so errors.Is(err, models.E(kind, ""))
// style sentinels work.
func (e *TaggedError) Is(target error) bool {
	var t *TaggedError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf extracts the ErrorKind from an error chain. Untagged errors report
// an empty kind.
func KindOf(err error) ErrorKind {
	var t *TaggedError
	if errors.As(err, &t) {
		return t.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
