package session

import (
	"errors"
	"fmt"
)

// View is the top-level screen of the client.  Exactly one view is active.
type View string

const (
	ViewLanding View = "LANDING"
	ViewLogin   View = "LOGIN"
	ViewGallery View = "GALLERY"
	ViewAdmin   View = "ADMIN"
)

// EventKind enumerates the inputs accepted by Transition.
type EventKind int

const (
	EventEnter         EventKind = iota // landing "enter" button
	EventBack                           // back from login or admin
	EventAuthSucceeded                  // code verified; Identifier carries the resolved identity
	EventLogout                         // sign out from any view
	EventOpenAdmin                      // admin button in the gallery
	EventRoleResolved                   // admin resolver finished; Admin carries the outcome
)

func (k EventKind) String() string {
	switch k {
	case EventEnter:
		return "enter"
	case EventBack:
		return "back"
	case EventAuthSucceeded:
		return "auth_succeeded"
	case EventLogout:
		return "logout"
	case EventOpenAdmin:
		return "open_admin"
	case EventRoleResolved:
		return "role_resolved"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a single navigation input.
type Event struct {
	Kind       EventKind
	Identifier string
	Admin      bool
}

// State is everything the navigation machine owns: the active view and the
// session it gates on.
type State struct {
	View    View
	Session Session
}

var (
	// ErrInvalidTransition is returned when an event is not accepted in the
	// current view.
	ErrInvalidTransition = errors.New("invalid navigation transition")
	// ErrNotAdmin is returned when the admin view is requested by a session
	// that is not (yet) known to be an administrator.
	ErrNotAdmin = errors.New("admin role required")
)

// Initial is the state at process start.
func Initial() State {
	return State{View: ViewLanding, Session: Reset()}
}

// Transition applies ev to s and returns the next state.  It never mutates
// its input; on error the returned state equals s.
func Transition(s State, ev Event) (State, error) {
	switch ev.Kind {
	case EventLogout:
		// Accepted from every view regardless of prior state.
		return Initial(), nil

	case EventRoleResolved:
		if !s.Session.Authenticated {
			return s, nil
		}
		next := s
		next.Session = s.Session.WithAdmin(ev.Admin)
		if next.View == ViewAdmin && !next.Session.IsAdmin {
			next.View = ViewGallery
		}
		return next, nil

	case EventEnter:
		if s.View == ViewLanding {
			s.View = ViewLogin
			return s, nil
		}

	case EventBack:
		switch s.View {
		case ViewLogin:
			s.View = ViewLanding
			return s, nil
		case ViewAdmin:
			s.View = ViewGallery
			return s, nil
		}

	case EventAuthSucceeded:
		if s.View == ViewLogin && ev.Identifier != "" {
			return State{View: ViewGallery, Session: Authenticate(ev.Identifier)}, nil
		}

	case EventOpenAdmin:
		if s.View == ViewGallery {
			if !AdminEntryVisible(s) {
				return s, ErrNotAdmin
			}
			s.View = ViewAdmin
			return s, nil
		}
	}
	return s, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev.Kind, s.View)
}

// AdminEntryVisible reports whether the gallery should render the admin
// entry control.  It is evaluated on every render so that a role resolved
// after entering the gallery shows up without re-entering the view.
func AdminEntryVisible(s State) bool {
	return s.View == ViewGallery && s.Session.Authenticated && s.Session.IsAdmin
}

// Renders reports whether view v may be shown for s.  The gallery requires an
// authenticated session and the admin view additionally requires the role.
func Renders(s State, v View) bool {
	if s.View != v {
		return false
	}
	switch v {
	case ViewGallery:
		return s.Session.Authenticated
	case ViewAdmin:
		return s.Session.Authenticated && s.Session.IsAdmin
	}
	return true
}
