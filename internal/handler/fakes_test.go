package handler_test

import (
	"context"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/memory-gallery/internal/admin"
	"github.com/iliyamo/memory-gallery/internal/config"
	"github.com/iliyamo/memory-gallery/internal/handler"
	"github.com/iliyamo/memory-gallery/internal/model"
	"github.com/iliyamo/memory-gallery/internal/otp"
	q "github.com/iliyamo/memory-gallery/internal/queue"
	"github.com/iliyamo/memory-gallery/internal/repository"
	"github.com/iliyamo/memory-gallery/internal/router"
	"github.com/iliyamo/memory-gallery/internal/session"
	"github.com/iliyamo/memory-gallery/internal/utils"
)

const jwtSecret = "handler-test-secret"

// fakeCodes accepts "123456" for any identifier it dispatched to.
type fakeCodes struct {
	mu          sync.Mutex
	sent        map[string]bool
	dispatchErr error
}

func (f *fakeCodes) Dispatch(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	if strings.TrimSpace(id) == "" {
		return otp.ErrInvalidIdentifier
	}
	f.sent[repository.NormalizeIdentifier(id)] = true
	return nil
}

func (f *fakeCodes) Verify(_ context.Context, id, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id = repository.NormalizeIdentifier(id)
	if !f.sent[id] || code != "123456" {
		return otp.ErrInvalidCode
	}
	delete(f.sent, id)
	return nil
}

type fakeUsers struct {
	mu   sync.Mutex
	byID map[uint64]model.User
	next uint64
}

func (f *fakeUsers) Upsert(_ context.Context, identifier string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identifier = repository.NormalizeIdentifier(identifier)
	for _, u := range f.byID {
		if u.Identifier == identifier {
			return u, nil
		}
	}
	f.next++
	u := model.User{ID: f.next, Identifier: identifier, CreatedAt: time.Now()}
	f.byID[u.ID] = u
	return u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) byIdentifier(identifier string) (model.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Identifier == identifier {
			return u, true
		}
	}
	return model.User{}, false
}

type tokenRow struct {
	userID  uint64
	revoked bool
}

type fakeTokens struct {
	mu   sync.Mutex
	rows map[string]*tokenRow
}

func (f *fakeTokens) StoreRefresh(_ context.Context, uid uint64, hash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[hash] = &tokenRow{userID: uid}
	return nil
}

func (f *fakeTokens) ValidateRefresh(_ context.Context, hash string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[hash]
	if !ok || r.revoked {
		return 0, repository.ErrNotFound
	}
	return r.userID, nil
}

func (f *fakeTokens) Rotate(_ context.Context, uid uint64, oldHash, newHash string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[oldHash]
	if !ok || r.revoked {
		return repository.ErrNotFound
	}
	r.revoked = true
	f.rows[newHash] = &tokenRow{userID: uid}
	return nil
}

func (f *fakeTokens) RevokeByHash(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[hash]; ok {
		r.revoked = true
	}
	return nil
}

func (f *fakeTokens) RevokeAllForUser(_ context.Context, uid uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.userID == uid {
			r.revoked = true
		}
	}
	return nil
}

func (f *fakeTokens) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if !r.revoked {
			n++
		}
	}
	return n
}

// fakeProfiles holds admin flags by user id; a missing key means no row.
type fakeProfiles struct {
	mu    sync.Mutex
	flags map[uint64]*bool
	users *fakeUsers
}

func (f *fakeProfiles) set(uid uint64, v *bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[uid] = v
}

func (f *fakeProfiles) GetByUserID(_ context.Context, uid uint64) (model.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.flags[uid]
	if !ok {
		return model.Profile{}, repository.ErrNotFound
	}
	return model.Profile{UserID: uid, IsAdmin: v}, nil
}

func (f *fakeProfiles) LookupProfile(ctx context.Context, s session.Session) (admin.Profile, error) {
	u, ok := f.users.byIdentifier(repository.NormalizeIdentifier(s.Identifier))
	if !ok {
		return admin.Profile{}, admin.ErrProfileNotFound
	}
	p, err := f.GetByUserID(ctx, u.ID)
	if err != nil {
		return admin.Profile{}, admin.ErrProfileNotFound
	}
	return admin.Profile{IsAdmin: p.IsAdmin}, nil
}

type fakeMedia struct {
	mu    sync.Mutex
	items map[string]model.MediaEntry
}

func (f *fakeMedia) List(context.Context) ([]model.MediaEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.MediaEntry, 0, len(f.items))
	for _, e := range f.items {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeMedia) Get(_ context.Context, id string) (model.MediaEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.items[id]
	if !ok {
		return model.MediaEntry{}, repository.ErrMediaNotFound
	}
	return e, nil
}

func (f *fakeMedia) Insert(_ context.Context, e model.MediaEntry) (model.MediaEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[e.ID]; ok {
		return model.MediaEntry{}, repository.ErrConflict
	}
	if e.UploadedBy == "" {
		e.UploadedBy = repository.AnonymousUploader
	}
	e.Liked, e.ReflectionCaption = false, ""
	f.items[e.ID] = e
	return e, nil
}

func (f *fakeMedia) update(id string, fn func(*model.MediaEntry)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.items[id]
	if !ok {
		return repository.ErrMediaNotFound
	}
	fn(&e)
	f.items[id] = e
	return nil
}

func (f *fakeMedia) UpdateLiked(_ context.Context, id string, liked bool) error {
	return f.update(id, func(e *model.MediaEntry) { e.Liked = liked })
}

func (f *fakeMedia) UpdateCaption(_ context.Context, id, caption string) error {
	return f.update(id, func(e *model.MediaEntry) { e.ReflectionCaption = caption })
}

func (f *fakeMedia) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return repository.ErrMediaNotFound
	}
	delete(f.items, id)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []q.MediaChangedEvent
}

func (f *fakeEvents) PublishMediaChanged(_ context.Context, ev q.MediaChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.events {
		out = append(out, ev.Action+":"+ev.MediaID)
	}
	return out
}

type echoCaptioner struct{}

func (echoCaptioner) Caption(_ context.Context, desc string) string {
	if desc == "" {
		return "A moment frozen in time."
	}
	return "Remembering " + desc + "."
}

type testEnv struct {
	e        *echo.Echo
	codes    *fakeCodes
	users    *fakeUsers
	tokens   *fakeTokens
	profiles *fakeProfiles
	media    *fakeMedia
	events   *fakeEvents
	dir      string
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	users := &fakeUsers{byID: map[uint64]model.User{}}
	env := &testEnv{
		e:        echo.New(),
		codes:    &fakeCodes{sent: map[string]bool{}},
		users:    users,
		tokens:   &fakeTokens{rows: map[string]*tokenRow{}},
		profiles: &fakeProfiles{flags: map[uint64]*bool{}, users: users},
		media:    &fakeMedia{items: map[string]model.MediaEntry{}},
		events:   &fakeEvents{},
		dir:      t.TempDir(),
	}
	cfg := config.Config{
		Env: "test", JWTSecret: jwtSecret, AccessTTLMin: 15, RefreshTTLDays: 7,
		MediaDir: env.dir, MaxUploadBytes: 1 << 20, ThumbMaxSide: 16,
	}
	pass := func(next echo.HandlerFunc) echo.HandlerFunc { return next }

	router.RegisterRoutes(env.e)
	router.RegisterAuth(env.e, handler.NewAuthHandler(cfg, env.codes, env.users, env.tokens, env.profiles, nil), jwtSecret, pass)
	router.RegisterMedia(env.e,
		handler.NewMediaHandler(env.media, env.events, cfg, config.CacheConfig{}, nil, nil),
		handler.NewCaptionHandler(echoCaptioner{}),
		jwtSecret, admin.NewResolver(env.profiles, nil), pass)
	return env
}

// signIn creates the user and returns a bearer header for it.
func (env *testEnv) signIn(t *testing.T, identifier string) (uint64, string) {
	t.Helper()
	u, _ := env.users.Upsert(context.Background(), identifier)
	at, err := utils.NewAccessToken(jwtSecret, u.ID, u.Identifier, 5)
	if err != nil {
		t.Fatal(err)
	}
	return u.ID, "Bearer " + at.Token
}

func (env *testEnv) do(t *testing.T, method, path, auth, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) json(t *testing.T, method, path, auth, body string) *httptest.ResponseRecorder {
	t.Helper()
	ct := ""
	if body != "" {
		ct = echo.MIMEApplicationJSON
	}
	return env.do(t, method, path, auth, ct, body)
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body %s", rec.Code, want, rec.Body.String())
	}
}
