package authflow

import (
	"errors"
	"fmt"
)

var (
	// ErrPending rejects a submission while another one is in flight.
	// Submissions are not queued.
	ErrPending = errors.New("submission already in progress")
	// ErrWrongStep is returned when an operation is not valid for the
	// current step of the flow.
	ErrWrongStep = errors.New("operation not valid in current step")
	// ErrSuperseded is returned when a collaborator answered after the flow
	// was cancelled.  The answer is discarded.
	ErrSuperseded = errors.New("login flow was cancelled")
)

// ValidationError is a user-correctable input problem, shown next to the
// offending control.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IncompleteCodeError is returned when fewer than CodeLength numeric digits
// have been entered.
type IncompleteCodeError struct {
	Filled int
}

func (e *IncompleteCodeError) Error() string {
	return fmt.Sprintf("incomplete code: %d of %d digits entered", e.Filled, CodeLength)
}

// AuthFailure wraps a rejected dispatch or verification.  The flow stays on
// its current step and the user may retry.
type AuthFailure struct {
	Op  string // "dispatch" or "verify"
	Err error
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("auth %s failed: %v", e.Op, e.Err)
}

func (e *AuthFailure) Unwrap() error { return e.Err }

// userMessager is implemented by collaborator errors that carry text safe to
// show to the user (for example a rate limit notice from the backend).
type userMessager interface {
	UserMessage() string
}

func userMessage(err error, fallback string) string {
	var um userMessager
	if errors.As(err, &um) {
		if m := um.UserMessage(); m != "" {
			return m
		}
	}
	return fallback
}
