// Package session holds the signed-in identity of the gallery client and the
// top-level navigation state machine that decides which view is active.
package session

import "strings"

// Session is the authenticated identity of the current user.  The zero value
// is the unauthenticated default created at process start.
//
// Fields:
//  Authenticated – whether a one-time code was verified for this session.
//  Identifier    – the email or phone value that was verified; empty when absent.
//  IsAdmin       – resolved asynchronously from the profile lookup; never true
//                  while Authenticated is false.
type Session struct {
	Authenticated bool   `json:"authenticated"`
	Identifier    string `json:"identifier,omitempty"`
	IsAdmin       bool   `json:"is_admin"`
}

// Authenticate returns a session signed in as identifier.  The admin flag is
// always cleared; the role resolver sets it later.
func Authenticate(identifier string) Session {
	return Session{Authenticated: true, Identifier: identifier}
}

// Reset returns the unauthenticated default session.
func Reset() Session { return Session{} }

// WithAdmin returns a copy of s with the admin flag set.  An unauthenticated
// session cannot become admin, so the flag is forced to false in that case.
func (s Session) WithAdmin(admin bool) Session {
	s.IsAdmin = admin && s.Authenticated
	return s
}

// Email returns the identifier when it is email shaped.
func (s Session) Email() string {
	if IsEmail(s.Identifier) {
		return s.Identifier
	}
	return ""
}

// Phone returns the identifier when it is phone shaped.
func (s Session) Phone() string {
	if s.Identifier != "" && !IsEmail(s.Identifier) {
		return s.Identifier
	}
	return ""
}

// DisplayName is what the gallery header shows for the signed-in user.
func (s Session) DisplayName() string {
	if e := s.Email(); e != "" {
		return e
	}
	if p := s.Phone(); p != "" {
		return p
	}
	return "Guest"
}

// IsEmail reports whether an identifier is classified as an email address.
// The rule is purely syntactic: any value containing '@' is an email, every
// other value is a phone number.  Stored identifiers depend on it, so it must
// not become smarter.
func IsEmail(identifier string) bool {
	return strings.Contains(identifier, "@")
}
