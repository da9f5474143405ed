package entity

import (
	"context"
	"errors"
)

// Failure classes shared by adapters and services. Wrap them with %w and
// test with errors.Is.
var (
	// ErrTransient marks failures expected to clear on retry (network, timeouts, 429, 5xx).
	ErrTransient = errors.New("transient upstream failure")

	// ErrNotFound marks an id the upstream does not know.
	ErrNotFound = errors.New("not found")

	// ErrCycleDetected marks a recipe dependency that loops back on itself.
	ErrCycleDetected = errors.New("recipe cycle detected")

	// ErrSchemaMismatch marks an upstream payload that could not be decoded or validated.
	ErrSchemaMismatch = errors.New("upstream schema mismatch")

	// ErrFatal marks a failure that retrying cannot fix (auth, malformed request).
	ErrFatal = errors.New("fatal failure")

	// ErrOutOfOrder marks a price snapshot older than the newest stored for its item.
	ErrOutOfOrder = errors.New("snapshot older than latest stored")
)

// ErrorKind returns a short reason string for status reporting.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ErrFatal):
		return "fatal"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrCycleDetected):
		return "cycle_detected"
	case errors.Is(err, ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "error"
	}
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
