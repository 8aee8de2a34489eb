// Package app composes the navigation machine, the login flow, the admin
// tracker and the media catalog into one controller.  A UI calls one method
// per user event and renders from Snapshot.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/iliyamo/memory-gallery/internal/admin"
	"github.com/iliyamo/memory-gallery/internal/authflow"
	"github.com/iliyamo/memory-gallery/internal/catalog"
	"github.com/iliyamo/memory-gallery/internal/model"
	"github.com/iliyamo/memory-gallery/internal/session"
)

// ErrNotSignedIn is returned by gallery actions without a session.
var ErrNotSignedIn = errors.New("sign in required")

// ErrUploadUnavailable is returned by UploadFile when no Uploader is set.
var ErrUploadUnavailable = errors.New("file upload is not available")

// Uploader sends an image file to the backend, which stores it and returns
// the new entry.
type Uploader interface {
	UploadFile(ctx context.Context, title, description, filename string, content io.Reader) (model.MediaEntry, error)
}

// Deps are the collaborators of an App.  Uploader and SignOut are optional;
// SignOut is called on logout to revoke the session remotely.
type Deps struct {
	Dispatcher authflow.Dispatcher
	Verifier   authflow.Verifier
	Profiles   admin.ProfileLookup
	Store      catalog.Store
	Captioner  catalog.Captioner
	Uploader   Uploader
	SignOut    func(ctx context.Context) error
}

// App is safe for concurrent use.  Collaborator calls never run under the
// App's lock.
type App struct {
	deps    Deps
	log     *zap.Logger
	catalog *catalog.Catalog
	tracker *admin.Tracker

	mu     sync.Mutex
	nav    session.State
	flow   *authflow.Flow
	notice string
}

// New returns an App on the landing view.
func New(deps Deps, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{
		deps:    deps,
		log:     log,
		catalog: catalog.New(deps.Store, deps.Captioner, log.Named("catalog")),
		nav:     session.Initial(),
	}
	a.tracker = admin.NewTracker(admin.NewResolver(deps.Profiles, log.Named("admin")), a.roleResolved)
	return a
}

// roleResolved applies an admin answer.  Answers for anyone other than the
// signed-in identifier are dropped.
func (a *App) roleResolved(s session.Session, isAdmin bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur := a.nav.Session; cur.Authenticated && cur.Identifier != s.Identifier {
		a.log.Debug("role answer for another session dropped", zap.String("identifier", s.Identifier))
		return
	}
	next, err := session.Transition(a.nav, session.Event{Kind: session.EventRoleResolved, Admin: isAdmin})
	if err != nil {
		a.log.Debug("role resolution ignored", zap.Error(err))
		return
	}
	a.nav = next
}

// transition applies ev under the lock.
func (a *App) transition(ev session.Event) (session.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, err := session.Transition(a.nav, ev)
	if err != nil {
		return a.nav, err
	}
	a.nav = next
	return next, nil
}

func (a *App) setNotice(msg string) {
	a.mu.Lock()
	a.notice = msg
	a.mu.Unlock()
}

// WaitRole blocks until the admin resolution started by the last sign-in
// has reported.
func (a *App) WaitRole() { a.tracker.Wait() }

// Enter leaves the landing view for the login view with a fresh flow.
func (a *App) Enter() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	next, err := session.Transition(a.nav, session.Event{Kind: session.EventEnter})
	if err != nil {
		return err
	}
	a.nav = next
	a.flow = authflow.NewFlow(a.deps.Dispatcher, a.deps.Verifier, a.log.Named("authflow"))
	return nil
}

// Back returns from the login view to landing, cancelling the flow, or from
// the admin view to the gallery, reloading the catalog.
func (a *App) Back(ctx context.Context) error {
	a.mu.Lock()
	from := a.nav.View
	next, err := session.Transition(a.nav, session.Event{Kind: session.EventBack})
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.nav = next
	flow := a.flow
	if from == session.ViewLogin {
		a.flow = nil
	}
	a.mu.Unlock()

	switch from {
	case session.ViewLogin:
		if flow != nil {
			flow.Cancel()
		}
	case session.ViewAdmin:
		a.reload(ctx)
	}
	return nil
}

func (a *App) currentFlow() (*authflow.Flow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nav.View != session.ViewLogin || a.flow == nil {
		return nil, fmt.Errorf("%w: login is not active", session.ErrInvalidTransition)
	}
	return a.flow, nil
}

// SetIdentifier records the identifier as it is typed.
func (a *App) SetIdentifier(value string) error {
	f, err := a.currentFlow()
	if err != nil {
		return err
	}
	f.SetValue(value)
	return nil
}

// SwitchMethod selects the email or phone tab.
func (a *App) SwitchMethod(m authflow.Method) error {
	f, err := a.currentFlow()
	if err != nil {
		return err
	}
	return f.SwitchMethod(m)
}

// SubmitIdentifier requests a code for value.
func (a *App) SubmitIdentifier(ctx context.Context, value string) error {
	f, err := a.currentFlow()
	if err != nil {
		return err
	}
	return f.SubmitIdentifier(ctx, value)
}

// EditDigit stores one code digit and reports whether focus should advance.
func (a *App) EditDigit(pos int, ch string) (bool, error) {
	f, err := a.currentFlow()
	if err != nil {
		return false, err
	}
	return f.EditDigit(pos, ch), nil
}

// ChangeIdentifier leaves the code step for the identifier step.
func (a *App) ChangeIdentifier() error {
	f, err := a.currentFlow()
	if err != nil {
		return err
	}
	return f.GoBackToIdentifierEntry()
}

// SubmitCode verifies the entered code.  On success the session is
// established, the gallery becomes active, the admin role starts resolving
// and the catalog is loaded.  A failed load leaves an empty gallery and a
// notice; it does not undo the sign-in.
func (a *App) SubmitCode(ctx context.Context) error {
	f, err := a.currentFlow()
	if err != nil {
		return err
	}
	id, err := f.SubmitCode(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.flow != f {
		a.mu.Unlock()
		return authflow.ErrSuperseded
	}
	next, err := session.Transition(a.nav, session.Event{Kind: session.EventAuthSucceeded, Identifier: id.Identifier})
	if err != nil {
		a.mu.Unlock()
		return err
	}
	a.nav = next
	a.flow = nil
	a.notice = ""
	a.mu.Unlock()

	a.log.Info("signed in", zap.String("identifier", id.Identifier), zap.String("user_id", id.UserID))
	a.tracker.Observe(next.Session)
	a.reload(ctx)
	return nil
}

func (a *App) reload(ctx context.Context) {
	if _, err := a.catalog.Load(ctx); err != nil {
		a.setNotice("We could not load your memories. Please try again later.")
		return
	}
	a.setNotice("")
}

// Reload fetches the catalog again.
func (a *App) Reload(ctx context.Context) error {
	if _, err := a.signedIn(); err != nil {
		return err
	}
	a.reload(ctx)
	return nil
}

// Logout resets navigation and session from any view, clears the catalog
// and revokes the session remotely on a best-effort basis.
func (a *App) Logout(ctx context.Context) {
	a.mu.Lock()
	a.nav, _ = session.Transition(a.nav, session.Event{Kind: session.EventLogout})
	flow := a.flow
	a.flow = nil
	a.notice = ""
	a.mu.Unlock()

	if flow != nil {
		flow.Cancel()
	}
	a.catalog.Reset()
	a.tracker.Observe(session.Reset())
	if a.deps.SignOut != nil {
		if err := a.deps.SignOut(ctx); err != nil {
			a.log.Warn("remote sign-out failed", zap.Error(err))
		}
	}
}

// OpenAdmin shows the dashboard when the session is known to be admin.
func (a *App) OpenAdmin() error {
	_, err := a.transition(session.Event{Kind: session.EventOpenAdmin})
	return err
}

func (a *App) signedIn() (session.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.nav.Session.Authenticated {
		return session.Session{}, ErrNotSignedIn
	}
	return a.nav.Session, nil
}

// Upload adds a new entry.  The uploader defaults to the signed-in
// identifier.
func (a *App) Upload(ctx context.Context, d catalog.Draft) (model.MediaEntry, error) {
	s, err := a.signedIn()
	if err != nil {
		return model.MediaEntry{}, err
	}
	if strings.TrimSpace(d.UploadedBy) == "" {
		d.UploadedBy = s.Identifier
	}
	return a.catalog.Add(ctx, d)
}

// UploadFile sends an image file to the backend and lists the entry it
// created at the head of the gallery.
func (a *App) UploadFile(ctx context.Context, title, description, filename string, content io.Reader) (model.MediaEntry, error) {
	if _, err := a.signedIn(); err != nil {
		return model.MediaEntry{}, err
	}
	if strings.TrimSpace(title) == "" {
		return model.MediaEntry{}, &catalog.ValidationError{Field: "title", Message: "required"}
	}
	if a.deps.Uploader == nil {
		return model.MediaEntry{}, ErrUploadUnavailable
	}
	e, err := a.deps.Uploader.UploadFile(ctx, strings.TrimSpace(title), description, filename, content)
	if err != nil {
		a.log.Warn("upload failed", zap.String("file", filename), zap.Error(err))
		return model.MediaEntry{}, err
	}
	if err := a.catalog.Prepend(e); err != nil {
		return model.MediaEntry{}, err
	}
	return e, nil
}

// ToggleLike flips the like flag of id.
func (a *App) ToggleLike(ctx context.Context, id string) error {
	if _, err := a.signedIn(); err != nil {
		return err
	}
	return a.catalog.ToggleLike(ctx, id)
}

// Reflect returns the reflection caption for id, generating one.
func (a *App) Reflect(ctx context.Context, id string) (string, error) {
	if _, err := a.signedIn(); err != nil {
		return "", err
	}
	return a.catalog.RequestReflection(ctx, id), nil
}

// Delete removes a confirmed entry.  Only administrators may delete.
func (a *App) Delete(ctx context.Context, conf catalog.Confirmation) error {
	s, err := a.signedIn()
	if err != nil {
		return err
	}
	if !s.IsAdmin {
		return session.ErrNotAdmin
	}
	return a.catalog.Remove(ctx, conf)
}

// Search filters the gallery.
func (a *App) Search(query string) []model.MediaEntry {
	return a.catalog.Search(query)
}

// Snapshot is what a UI renders.
type Snapshot struct {
	View         session.View
	Session      session.Session
	UserName     string          // header label: email, phone or Guest
	Login        *authflow.State // nil outside the login view
	AdminVisible bool
	Items        []model.MediaEntry
	Stats        *catalog.Stats // set in the admin view only
	Notice       string
}

// Snapshot returns the current state.
func (a *App) Snapshot() Snapshot {
	a.mu.Lock()
	nav := a.nav
	flow := a.flow
	notice := a.notice
	a.mu.Unlock()

	snap := Snapshot{
		View:         nav.View,
		Session:      nav.Session,
		UserName:     nav.Session.DisplayName(),
		AdminVisible: session.AdminEntryVisible(nav),
		Notice:       notice,
	}
	if flow != nil && nav.View == session.ViewLogin {
		st := flow.State()
		snap.Login = &st
	}
	if session.Renders(nav, session.ViewGallery) || session.Renders(nav, session.ViewAdmin) {
		snap.Items = a.catalog.Items()
	}
	if session.Renders(nav, session.ViewAdmin) {
		st := a.catalog.Stats()
		snap.Stats = &st
	}
	return snap
}
