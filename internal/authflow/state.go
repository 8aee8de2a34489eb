// Package authflow implements the two-step login: the user enters an email
// address or phone number, receives a one-time code and types it back in.
//
// State transitions are pure functions over State so they can be tested
// without any collaborator.  Flow wraps them with the dispatch and
// verification calls.
package authflow

import (
	"strings"

	"github.com/iliyamo/memory-gallery/internal/session"
)

// CodeLength is the number of digits in a one-time code.
const CodeLength = 6

// Step is the current screen of the login flow.
type Step int

const (
	StepAwaitingIdentifier Step = iota
	StepAwaitingCode
)

func (s Step) String() string {
	if s == StepAwaitingCode {
		return "OTP"
	}
	return "INPUT"
}

// Method is the identifier tab selected on the login screen.
type Method string

const (
	MethodEmail Method = "email"
	MethodPhone Method = "phone"
)

// Classify returns the method an identifier belongs to: email when it
// contains '@', phone otherwise.
func Classify(identifier string) Method {
	if session.IsEmail(identifier) {
		return MethodEmail
	}
	return MethodPhone
}

const (
	msgEmptyIdentifier = "Please enter your details."
	msgIncompleteCode  = "Please enter the 6-digit code."
	msgDispatchFailed  = "We could not send a code. Please try again."
	msgVerifyFailed    = "That code did not work. Please try again."
)

// State is the login flow as seen by the login view.
type State struct {
	Step    Step
	Method  Method
	Value   string
	Pending bool
	Err     string
	Digits  [CodeLength]string
}

// New returns the state of a freshly entered login view.
func New() State {
	return State{Step: StepAwaitingIdentifier, Method: MethodEmail}
}

// Code returns the concatenated digits and whether all positions are filled.
func (s State) Code() (string, bool) {
	var b strings.Builder
	for _, d := range s.Digits {
		if d == "" {
			return "", false
		}
		b.WriteString(d)
	}
	return b.String(), true
}

func (s State) filled() int {
	n := 0
	for _, d := range s.Digits {
		if d != "" {
			n++
		}
	}
	return n
}

// SetValue stores the identifier being typed and defaults the method tab
// from its shape.
func SetValue(s State, value string) State {
	if s.Step != StepAwaitingIdentifier || s.Pending {
		return s
	}
	s.Value = value
	if value != "" {
		s.Method = Classify(value)
	}
	return s
}

// EditDigit stores ch at position pos.  Non-numeric input, multi-character
// input and out of range positions are ignored without an error.  The second
// result asks the view to move focus to the next box.
func EditDigit(s State, pos int, ch string) (State, bool) {
	if pos < 0 || pos >= CodeLength || s.Step != StepAwaitingCode {
		return s, false
	}
	if ch != "" && (len(ch) != 1 || ch[0] < '0' || ch[0] > '9') {
		return s, false
	}
	s.Digits[pos] = ch
	return s, ch != "" && pos < CodeLength-1
}

// SwitchMethod changes the identifier tab.  The typed value and any error
// are cleared.
func SwitchMethod(s State, m Method) (State, error) {
	if s.Step != StepAwaitingIdentifier {
		return s, ErrWrongStep
	}
	if s.Pending {
		return s, ErrPending
	}
	if m != MethodEmail && m != MethodPhone {
		return s, &ValidationError{Field: "method", Message: "unknown method " + string(m)}
	}
	s.Method = m
	s.Value = ""
	s.Err = ""
	return s, nil
}

// GoBackToIdentifierEntry returns from the code screen to the identifier
// screen keeping the typed identifier.
func GoBackToIdentifierEntry(s State) (State, error) {
	if s.Step != StepAwaitingCode {
		return s, ErrWrongStep
	}
	s.Step = StepAwaitingIdentifier
	s.Pending = false
	s.Err = ""
	s.Digits = [CodeLength]string{}
	return s, nil
}

// BeginSubmitIdentifier validates the identifier and marks the flow pending.
func BeginSubmitIdentifier(s State) (State, error) {
	if s.Step != StepAwaitingIdentifier {
		return s, ErrWrongStep
	}
	if s.Pending {
		return s, ErrPending
	}
	if strings.TrimSpace(s.Value) == "" {
		s.Err = msgEmptyIdentifier
		return s, &ValidationError{Field: "identifier", Message: "required"}
	}
	s.Pending = true
	s.Err = ""
	return s, nil
}

// CompleteSubmitIdentifier applies the outcome of the dispatch call.
func CompleteSubmitIdentifier(s State, dispatchErr error) State {
	s.Pending = false
	if dispatchErr != nil {
		s.Err = userMessage(dispatchErr, msgDispatchFailed)
		return s
	}
	s.Step = StepAwaitingCode
	s.Err = ""
	s.Digits = [CodeLength]string{}
	return s
}

// BeginSubmitCode checks that the code is complete, marks the flow pending
// and returns the code to verify.
func BeginSubmitCode(s State) (State, string, error) {
	if s.Step != StepAwaitingCode {
		return s, "", ErrWrongStep
	}
	if s.Pending {
		return s, "", ErrPending
	}
	code, ok := s.Code()
	if !ok {
		s.Err = msgIncompleteCode
		return s, "", &IncompleteCodeError{Filled: s.filled()}
	}
	s.Pending = true
	s.Err = ""
	return s, code, nil
}

// CompleteSubmitCode applies the outcome of the verification call.  On
// failure the flow stays on the code screen.
func CompleteSubmitCode(s State, verifyErr error) State {
	s.Pending = false
	if verifyErr != nil {
		s.Err = userMessage(verifyErr, msgVerifyFailed)
		return s
	}
	s.Err = ""
	return s
}
