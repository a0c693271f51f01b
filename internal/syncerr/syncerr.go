// Package syncerr implements the closed SyncError variant spec.md §9
// replaces the original's untyped exception handling with, plus the pure
// retry/blacklist policy the scheduler consults before re-attempting a
// failed pair. Grounded on the teacher's internal/graph/errors.go sentinel
// style, generalized from a flat var block to a tagged struct because the
// resolver needs to carry a wrapped cause alongside the category.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind is the closed set of sync failure categories (spec.md §9).
type Kind int

// The closed set of SyncError kinds.
const (
	KindNetwork Kind = iota
	KindAuth
	KindHTTP
	KindLocalIO
	KindInvariantViolation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindHTTP:
		return "http"
	case KindLocalIO:
		return "local_io"
	case KindInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// SyncError is the single error type every in-scope component returns for a
// sync-relevant failure, so the scheduler can switch on Kind without type
// assertions on arbitrary wrapped errors.
type SyncError struct {
	Kind    Kind
	Status  int // HTTP status code, only meaningful when Kind == KindHTTP
	Message string
	Cause   error
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Cause }

// Network wraps a transport-level failure (timeout, connection refused,
// DNS) that the scheduler treats as transiently retryable.
func Network(message string, cause error) *SyncError {
	return &SyncError{Kind: KindNetwork, Message: message, Cause: cause}
}

// Auth marks a failure the scheduler treats as requiring user
// re-authentication rather than a retry; the controller should
// MarkInvalid the binding.
func Auth(message string, cause error) *SyncError {
	return &SyncError{Kind: KindAuth, Message: message, Cause: cause}
}

// HTTP wraps a non-2xx remote response that isn't one of the other
// categories (e.g. a 507 insufficient storage).
func HTTP(status int, message string, cause error) *SyncError {
	return &SyncError{Kind: KindHTTP, Status: status, Message: message, Cause: cause}
}

// LocalIO wraps a local filesystem failure (permission denied, disk full,
// path too long).
func LocalIO(message string, cause error) *SyncError {
	return &SyncError{Kind: KindLocalIO, Message: message, Cause: cause}
}

// InvariantViolation marks a bug: a pair row observed in a state the data
// model rules out. The scheduler never retries these; they are logged at
// error level and the pair is skipped until an operator investigates.
func InvariantViolation(message string) *SyncError {
	return &SyncError{Kind: KindInvariantViolation, Message: message}
}

// As extracts a *SyncError from err, following the wrap chain.
func As(err error) (*SyncError, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se, true
	}

	return nil, false
}

// Retryable reports whether the scheduler should re-attempt the pair on its
// next loop iteration rather than applying error_skip_period backoff
// (spec.md §4.H, supplemented from original_source/synchronizer.py's
// per-pair error-cooldown behavior).
func Retryable(err error) bool {
	se, ok := As(err)
	if !ok {
		return true // unclassified errors default to retryable
	}

	switch se.Kind {
	case KindNetwork:
		return true
	case KindHTTP:
		// 5xx and 429 are transient; 4xx other than 429 reflect a request
		// the remote will reject again unchanged.
		return se.Status == 429 || se.Status >= 500
	case KindLocalIO:
		return true
	case KindAuth, KindInvariantViolation:
		return false
	default:
		return true
	}
}

// Blacklistable reports whether repeated failure on this pair should count
// toward the scheduler's error_skip_period cooldown (spec.md §4.H), as
// opposed to being surfaced immediately on every loop.
func Blacklistable(err error) bool {
	se, ok := As(err)
	if !ok {
		return true
	}

	return se.Kind != KindInvariantViolation
}
