package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no entry has the requested id.
	ErrNotFound = errors.New("media entry not found")
	// ErrNotConfirmed is returned by Remove when the user did not confirm
	// the deletion of that exact entry.
	ErrNotConfirmed = errors.New("deletion not confirmed")
)

// ValidationError reports a missing or malformed upload field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// PersistenceFailure is returned when the media store rejected a read or
// write.  Op is one of load, insert, like, caption or delete.
type PersistenceFailure struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceFailure) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("media %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("media %s %s failed: %v", e.Op, e.ID, e.Err)
}

func (e *PersistenceFailure) Unwrap() error { return e.Err }
