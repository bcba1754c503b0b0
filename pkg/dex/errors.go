package dex

import (
	"errors"
	"fmt"
	"os"
	"time"
)

var (
	ErrExist    = os.ErrExist
	ErrNotExist = os.ErrNotExist
	ErrInvalid  = os.ErrInvalid

	// ErrLockTimeout indicates an index writer lock could not be acquired
	// before the configured timeout.
	ErrLockTimeout = errors.New("writer lock acquire timeout")

	// ErrClosed is returned by operations that need the live indexes while
	// they are not open.
	ErrClosed = errors.New("index is not open")

	// ErrOpen is returned by operations that need the live indexes closed.
	ErrOpen = errors.New("index is open")
)

// WriterTimeoutError reports a write that could not acquire the writer of an
// index. The index may now be missing that write; an administrator must run
// an update or rebuild.
type WriterTimeoutError struct {
	Index  string
	RevID  string
	ItemID string
	Waited time.Duration
}

func (e *WriterTimeoutError) Error() string {
	return fmt.Sprintf("index %s degraded: writer busy for %s while writing revid %q itemid %q; run update",
		e.Index, e.Waited, e.RevID, e.ItemID)
}

func (e *WriterTimeoutError) Unwrap() error { return ErrLockTimeout }

// IsWriterTimeout reports whether err is, or wraps, a writer timeout.
func IsWriterTimeout(err error) bool {
	var wt *WriterTimeoutError
	return errors.As(err, &wt) || errors.Is(err, ErrLockTimeout)
}

// StorageExistsError is returned by Create when index storage is present.
type StorageExistsError struct {
	Path string
}

func (e *StorageExistsError) Error() string {
	return fmt.Sprintf("index storage already exists: %s", e.Path)
}

func (e *StorageExistsError) Unwrap() error { return ErrExist }
