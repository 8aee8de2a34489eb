// Package admin decides whether the signed-in user may open the admin
// dashboard.  The profile store is the only source of truth and every
// uncertain answer resolves to false.
package admin

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/memory-gallery/internal/session"
)

// ErrProfileNotFound is returned by a ProfileLookup when the user has no
// profile record.
var ErrProfileNotFound = errors.New("profile not found")

// Profile is the subset of the profile record the resolver reads.  IsAdmin
// is a pointer so a record without the flag can be told apart from false.
type Profile struct {
	UserID  string
	IsAdmin *bool
}

// ProfileLookup fetches the profile of the user identified by a session.
type ProfileLookup interface {
	LookupProfile(ctx context.Context, s session.Session) (Profile, error)
}

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 5 * time.Second

// Resolver answers the admin question for one session.
type Resolver struct {
	Lookup  ProfileLookup
	Timeout time.Duration
	Log     *zap.Logger
}

// NewResolver returns a resolver with the default timeout.
func NewResolver(lookup ProfileLookup, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{Lookup: lookup, Timeout: DefaultTimeout, Log: log}
}

// Resolve returns true only when the session is authenticated and the lookup
// succeeds with an explicit true flag.
func (r *Resolver) Resolve(ctx context.Context, s session.Session) bool {
	if !s.Authenticated || r.Lookup == nil {
		return false
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	p, err := r.Lookup.LookupProfile(ctx, s)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			r.Log.Debug("no profile; not admin", zap.String("identifier", s.Identifier))
		} else {
			r.Log.Warn("profile lookup failed; not admin", zap.String("identifier", s.Identifier), zap.Error(err))
		}
		return false
	}
	if p.IsAdmin == nil {
		r.Log.Warn("profile without admin flag; not admin", zap.String("identifier", s.Identifier))
		return false
	}
	return *p.IsAdmin
}

// Tracker follows session changes and keeps the admin flag current.  Each
// sign-in starts exactly one resolution; a sign-out reports false at once and
// invalidates any resolution still running.
type Tracker struct {
	resolver *Resolver
	onChange func(s session.Session, admin bool)

	mu     sync.Mutex
	epoch  uint64
	authed bool
	wg     sync.WaitGroup
}

// NewTracker returns a tracker that reports every role change to onChange,
// together with the session the answer belongs to.  onChange may be called from another goroutine.  It runs under the
// tracker's lock, so answers are delivered in session order, and it must not
// call back into the tracker.
func NewTracker(r *Resolver, onChange func(s session.Session, admin bool)) *Tracker {
	return &Tracker{resolver: r, onChange: onChange}
}

// Observe is called with every new session value.
func (t *Tracker) Observe(s session.Session) {
	t.mu.Lock()
	was := t.authed
	t.authed = s.Authenticated
	switch {
	case !was && s.Authenticated:
		t.epoch++
		epoch := t.epoch
		t.wg.Add(1)
		t.mu.Unlock()
		go t.resolve(epoch, s)
	case was && !s.Authenticated:
		t.epoch++
		t.onChange(s, false)
		t.mu.Unlock()
	default:
		t.mu.Unlock()
	}
}

func (t *Tracker) resolve(epoch uint64, s session.Session) {
	defer t.wg.Done()
	admin := t.resolver.Resolve(context.Background(), s)

	// Held through delivery: a sign-out must not slip in between the
	// epoch check and onChange.
	t.mu.Lock()
	defer t.mu.Unlock()
	if epoch != t.epoch {
		return
	}
	t.onChange(s, admin)
}

// Wait blocks until resolutions started so far have finished.
func (t *Tracker) Wait() { t.wg.Wait() }
