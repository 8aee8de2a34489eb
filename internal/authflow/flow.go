package authflow

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher sends a one-time code to an identifier.
type Dispatcher interface {
	Dispatch(ctx context.Context, identifier string) error
}

// Verifier checks a one-time code.  On success it returns the identity the
// backend resolved for the identifier.
type Verifier interface {
	Verify(ctx context.Context, identifier, code string) (Identity, error)
}

// Identity is the outcome of a successful verification.
type Identity struct {
	UserID     string
	Identifier string
}

// Flow drives one login view instance.  A new Flow is created whenever the
// login view is entered; Cancel discards it.
type Flow struct {
	mu    sync.Mutex
	st    State
	epoch uint64

	dispatcher Dispatcher
	verifier   Verifier
	log        *zap.Logger
}

// NewFlow returns a flow in the identifier step.
func NewFlow(d Dispatcher, v Verifier, log *zap.Logger) *Flow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Flow{st: New(), dispatcher: d, verifier: v, log: log}
}

// State returns a copy of the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

// SetValue records the identifier as it is typed.
func (f *Flow) SetValue(value string) {
	f.mu.Lock()
	f.st = SetValue(f.st, value)
	f.mu.Unlock()
}

// EditDigit stores one digit of the code and reports whether focus should
// advance to the next position.
func (f *Flow) EditDigit(pos int, ch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	var advance bool
	f.st, advance = EditDigit(f.st, pos, ch)
	return advance
}

// SwitchMethod selects the email or phone tab.
func (f *Flow) SwitchMethod(m Method) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := SwitchMethod(f.st, m)
	f.st = next
	return err
}

// GoBackToIdentifierEntry leaves the code step.  A verification still in
// flight is superseded.
func (f *Flow) GoBackToIdentifierEntry() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next, err := GoBackToIdentifierEntry(f.st)
	if err != nil {
		return err
	}
	f.st = next
	f.epoch++
	return nil
}

// Cancel discards the flow state.  Answers to calls issued before Cancel are
// ignored.
func (f *Flow) Cancel() {
	f.mu.Lock()
	f.epoch++
	f.st = New()
	f.mu.Unlock()
}

// SubmitIdentifier stores value and asks the dispatcher for a code.  On
// success the flow moves to the code step.
func (f *Flow) SubmitIdentifier(ctx context.Context, value string) error {
	f.mu.Lock()
	f.st = SetValue(f.st, strings.TrimSpace(value))
	next, err := BeginSubmitIdentifier(f.st)
	f.st = next
	if err != nil {
		f.mu.Unlock()
		return err
	}
	epoch := f.epoch
	identifier := next.Value
	f.mu.Unlock()

	dispatchErr := f.dispatcher.Dispatch(ctx, identifier)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epoch != epoch {
		f.log.Debug("dispatch answered after cancel", zap.String("identifier", identifier))
		return ErrSuperseded
	}
	f.st = CompleteSubmitIdentifier(f.st, dispatchErr)
	if dispatchErr != nil {
		f.log.Warn("code dispatch failed", zap.String("identifier", identifier), zap.Error(dispatchErr))
		return &AuthFailure{Op: "dispatch", Err: dispatchErr}
	}
	return nil
}

// SubmitCode verifies the entered digits.  The returned identity is what the
// session should be authenticated with.
func (f *Flow) SubmitCode(ctx context.Context) (Identity, error) {
	f.mu.Lock()
	next, code, err := BeginSubmitCode(f.st)
	f.st = next
	if err != nil {
		f.mu.Unlock()
		return Identity{}, err
	}
	epoch := f.epoch
	identifier := next.Value
	f.mu.Unlock()

	id, verifyErr := f.verifier.Verify(ctx, identifier, code)
	if verifyErr == nil && id.Identifier == "" {
		verifyErr = errors.New("verifier returned no identity")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.epoch != epoch {
		f.log.Debug("verification answered after cancel", zap.String("identifier", identifier))
		return Identity{}, ErrSuperseded
	}
	f.st = CompleteSubmitCode(f.st, verifyErr)
	if verifyErr != nil {
		f.log.Warn("code verification failed", zap.String("identifier", identifier), zap.Error(verifyErr))
		return Identity{}, &AuthFailure{Op: "verify", Err: verifyErr}
	}
	return id, nil
}
