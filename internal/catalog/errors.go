package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnreadable means the catalog source could not be opened or read
	ErrSourceUnreadable = errors.New("catalog source unreadable")
	// ErrMalformedSource means the catalog source is not a list of entries
	ErrMalformedSource = errors.New("malformed catalog source")
	// ErrMissingField means a required field is absent on an entry
	ErrMissingField = errors.New("missing field")
	// ErrWrongType means a field is present but of an unexpected type
	ErrWrongType = errors.New("wrong type")
	// ErrInvalidValue means a field has the right type but an unusable value
	ErrInvalidValue = errors.New("invalid value")

	// ErrNotFound is returned when no record has the requested id
	ErrNotFound = errors.New("record not found")
)

// LoadError describes why a catalog could not be loaded.
// Kind is one of the Err* sentinels above so callers can use errors.Is.
type LoadError struct {
	Kind  error
	Field string
	Index int // position of the entry in the source, -1 for source-level errors
	Err   error
}

func (e *LoadError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Field)
	}
	if e.Index >= 0 {
		msg = fmt.Sprintf("entry %d: %s", e.Index, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func sourceError(kind error, err error) *LoadError {
	return &LoadError{Kind: kind, Index: -1, Err: err}
}

func fieldError(kind error, index int, field string) *LoadError {
	return &LoadError{Kind: kind, Index: index, Field: field}
}
