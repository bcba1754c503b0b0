package wiki

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

var (
	ErrInvalid  = os.ErrInvalid
	ErrExist    = os.ErrExist
	ErrNotExist = os.ErrNotExist

	// ErrOverwrite is returned when a revision id that is already stored is
	// written without the overwrite option.
	ErrOverwrite = errors.New("revision exists, overwrite required")
)

// Issue is one problem found while validating revision metadata.
type Issue struct {
	Field  string
	Value  any
	Reason string
}

func (i Issue) String() string {
	if i.Value == nil {
		return fmt.Sprintf("%s: %s", i.Field, i.Reason)
	}
	return fmt.Sprintf("%s: %s (%v)", i.Field, i.Reason, i.Value)
}

// ValidationError lists every issue found in a revision's metadata.
type ValidationError struct {
	RevID  string
	ItemID string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, i.String())
	}
	sort.Strings(parts)
	return "metadata validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Fields returns the names of the offending fields.
func (e *ValidationError) Fields() []string {
	out := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		out = append(out, i.Field)
	}
	return out
}

// ItemAlreadyExistsError is returned by CreateItem when the query matches an
// existing item.
type ItemAlreadyExistsError struct {
	Query Query
}

func (e *ItemAlreadyExistsError) Error() string {
	return fmt.Sprintf("item already exists: %s", e.Query)
}

func (e *ItemAlreadyExistsError) Unwrap() error { return ErrExist }

// NoSuchItemError is returned by ExistingItem when nothing matches.
type NoSuchItemError struct {
	Query Query
}

func (e *NoSuchItemError) Error() string {
	return fmt.Sprintf("no such item: %s", e.Query)
}

func (e *NoSuchItemError) Unwrap() error { return ErrNotExist }

// NoSuchRevisionError is returned when a revision id is unknown to the
// indexes.
type NoSuchRevisionError struct {
	ItemID string
	RevID  string
}

func (e *NoSuchRevisionError) Error() string {
	if e.ItemID == "" {
		return fmt.Sprintf("no such revision: %s", e.RevID)
	}
	return fmt.Sprintf("no such revision: %s of item %s", e.RevID, e.ItemID)
}

func (e *NoSuchRevisionError) Unwrap() error { return ErrNotExist }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
