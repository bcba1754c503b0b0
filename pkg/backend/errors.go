package backend

import (
	"errors"
	"fmt"
	"os"
)

// Sentinel errors used for simple equality-style checks.
var (
	ErrInvalid  = os.ErrInvalid  // invalid argument
	ErrExist    = os.ErrExist    // revision or store already exists
	ErrNotExist = os.ErrNotExist // revision or data does not exist
	ErrReadOnly = errors.New("backend is read-only")
	ErrClosed   = errors.New("backend is closed")
)

// Behavior interfaces used when inspecting error chains via errors.As.
type temporary interface{ Temporary() bool }
type retryable interface{ Retryable() bool }

// BackendError wraps errors coming from a physical store (badger, bolt, ...).
// It exposes Retryable() to indicate transient failures.
type BackendError struct {
	Backend   string // partition or driver name, e.g. "default", "badger"
	Op        string // operation, e.g. "store", "retrieve"
	Cause     error
	Transient bool
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Cause)
}

// Unwrap returns the wrapped cause.
func (e *BackendError) Unwrap() error { return e.Cause }

// Retryable reports whether the backend error is transient.
func (e *BackendError) Retryable() bool { return e.Transient }

// NewBackendError constructs a *BackendError describing an operation against a backend.
func NewBackendError(backend, op string, cause error, transient bool) error {
	return &BackendError{Backend: backend, Op: op, Cause: cause, Transient: transient}
}

// NotFoundError reports a revision id (or data id) missing from a backend
// partition. It unwraps to ErrNotExist.
type NotFoundError struct {
	Backend string
	RevID   string
	DataID  string
}

func (e *NotFoundError) Error() string {
	if e.DataID != "" {
		return fmt.Sprintf("%s: data %q of revision %q not found", e.Backend, e.DataID, e.RevID)
	}
	return fmt.Sprintf("%s: revision %q not found", e.Backend, e.RevID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotExist }

// IntegrityError reports that computed data size or hash does not match the
// value declared in revision metadata. Nothing is written when it is returned.
type IntegrityError struct {
	Field    string
	Expected any
	Actual   any
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf(
		"computed data %s (%v) does not match data %s declared in metadata (%v)",
		e.Field, e.Actual, e.Field, e.Expected,
	)
}

func (e *IntegrityError) Unwrap() error { return ErrInvalid }

// TransientError marks a transient (retryable) failure, e.g. a store that is
// temporarily locked by another process.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string   { return e.Cause.Error() }
func (e *TransientError) Unwrap() error   { return e.Cause }
func (e *TransientError) Temporary() bool { return true }
func (e *TransientError) Retryable() bool { return true }

// NewTransientError constructs a *TransientError wrapping the provided cause.
func NewTransientError(cause error) error {
	return &TransientError{Cause: cause}
}

// IsNotFound reports whether err is (or wraps) a missing revision condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// IsBackendError reports whether err is (or wraps) a BackendError.
func IsBackendError(err error) bool {
	if err == nil {
		return false
	}
	var be *BackendError
	return errors.As(err, &be)
}

// IsRetryable inspects the error chain for a Retryable() bool implementation and
// returns its result (false if none found).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// IsTemporary inspects the error chain for a Temporary() bool implementation and
// returns its result (false if none found).
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return false
}
