package apiclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/memory-gallery/internal/admin"
	"github.com/iliyamo/memory-gallery/internal/apiclient"
	"github.com/iliyamo/memory-gallery/internal/app"
	"github.com/iliyamo/memory-gallery/internal/authflow"
	"github.com/iliyamo/memory-gallery/internal/catalog"
	"github.com/iliyamo/memory-gallery/internal/model"
	"github.com/iliyamo/memory-gallery/internal/session"
)

// stubAPI answers the routes the client uses with canned data.  Access
// token "a1" is treated as expired so the refresh path runs.
type stubAPI struct {
	mu        sync.Mutex
	refreshes int
	revoked   []string
	isAdmin   *bool
	profile   bool
	media     map[string]model.MediaEntry
	deleted   []string
	captionOK bool
	uploads   []string
}

func newStub(t *testing.T) (*stubAPI, *apiclient.Client) {
	t.Helper()
	s := &stubAPI{media: map[string]model.MediaEntry{}, captionOK: true}
	e := echo.New()

	e.POST("/v1/auth/code", func(c echo.Context) error {
		var req struct{ Identifier string }
		_ = c.Bind(&req)
		if req.Identifier == "slow@example.com" {
			return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "code recently sent"})
		}
		return c.JSON(http.StatusAccepted, echo.Map{"status": "sent"})
	})
	e.POST("/v1/auth/verify", func(c echo.Context) error {
		var req struct{ Identifier, Code string }
		_ = c.Bind(&req)
		if req.Code != "123456" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid code"})
		}
		return c.JSON(http.StatusOK, echo.Map{
			"user":    echo.Map{"id": 42, "identifier": strings.ToLower(req.Identifier)},
			"access":  echo.Map{"token": "a1"},
			"refresh": echo.Map{"token": "r1"},
		})
	})
	e.POST("/v1/auth/refresh", func(c echo.Context) error {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = c.Bind(&req)
		s.mu.Lock()
		defer s.mu.Unlock()
		if req.RefreshToken != "r1" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		s.refreshes++
		return c.JSON(http.StatusOK, echo.Map{
			"user":    echo.Map{"id": 42, "identifier": "ana@example.com"},
			"access":  echo.Map{"token": "a2"},
			"refresh": echo.Map{"token": "r2"},
		})
	})
	e.POST("/v1/auth/logout", func(c echo.Context) error {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		_ = c.Bind(&req)
		s.mu.Lock()
		s.revoked = append(s.revoked, req.RefreshToken)
		s.mu.Unlock()
		return c.NoContent(http.StatusNoContent)
	})

	v1 := e.Group("/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") != "Bearer a2" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}
			return next(c)
		}
	})
	v1.GET("/profile", func(c echo.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.profile {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "profile not found"})
		}
		return c.JSON(http.StatusOK, echo.Map{"user_id": 42, "is_admin": s.isAdmin})
	})
	v1.GET("/media", func(c echo.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := []model.MediaEntry{}
		for _, m := range s.media {
			out = append(out, m)
		}
		return c.JSON(http.StatusOK, out)
	})
	v1.POST("/media", func(c echo.Context) error {
		var m model.MediaEntry
		if err := c.Bind(&m); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
		}
		m.UploadedBy = "ana@example.com"
		s.mu.Lock()
		s.media[m.ID] = m
		s.mu.Unlock()
		return c.JSON(http.StatusCreated, m)
	})
	v1.PATCH("/media/:id/like", func(c echo.Context) error {
		var req struct{ Liked bool }
		_ = c.Bind(&req)
		s.mu.Lock()
		defer s.mu.Unlock()
		m, ok := s.media[c.Param("id")]
		if !ok {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "media not found"})
		}
		m.Liked = req.Liked
		s.media[m.ID] = m
		return c.JSON(http.StatusOK, echo.Map{"id": m.ID, "liked": m.Liked})
	})
	v1.PATCH("/media/:id/caption", func(c echo.Context) error {
		var req struct{ Caption string }
		_ = c.Bind(&req)
		s.mu.Lock()
		defer s.mu.Unlock()
		m := s.media[c.Param("id")]
		m.ReflectionCaption = req.Caption
		s.media[c.Param("id")] = m
		return c.JSON(http.StatusOK, echo.Map{})
	})
	v1.DELETE("/media/:id", func(c echo.Context) error {
		if c.QueryParam("confirm") != "true" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "confirmation required"})
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.deleted = append(s.deleted, c.Param("id"))
		delete(s.media, c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	})
	v1.POST("/captions", func(c echo.Context) error {
		var req struct{ Description string }
		_ = c.Bind(&req)
		s.mu.Lock()
		ok := s.captionOK
		s.mu.Unlock()
		if !ok {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "boom"})
		}
		return c.JSON(http.StatusOK, echo.Map{"caption": "Remembering " + req.Description + "."})
	})
	v1.POST("/media/upload", func(c echo.Context) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "file required"})
		}
		f, _ := fh.Open()
		defer f.Close()
		b, _ := io.ReadAll(f)
		m := model.MediaEntry{ID: "01J0000000000000000000KTE0", Title: c.FormValue("title"), UploadedBy: "ana@example.com"}
		s.mu.Lock()
		s.uploads = append(s.uploads, fh.Filename+":"+string(b))
		s.media[m.ID] = m
		s.mu.Unlock()
		return c.JSON(http.StatusCreated, m)
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return s, apiclient.New(srv.URL+"/", srv.Client(), nil)
}

// read runs fn with the stub locked.
func (s *stubAPI) read(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func signIn(t *testing.T, c *apiclient.Client) {
	t.Helper()
	if err := c.Dispatch(context.Background(), "ana@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Verify(context.Background(), "ana@example.com", "123456"); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchAndVerify(t *testing.T) {
	_, c := newStub(t)
	ctx := context.Background()

	err := c.Dispatch(ctx, "slow@example.com")
	if apiclient.StatusOf(err) != http.StatusTooManyRequests {
		t.Fatalf("err = %v", err)
	}
	var ae *apiclient.Error
	if !errors.As(err, &ae) || ae.UserMessage() == "" {
		t.Errorf("rate limit error has no user message: %v", err)
	}

	if _, err := c.Verify(ctx, "ana@example.com", "000000"); apiclient.StatusOf(err) != http.StatusUnauthorized {
		t.Errorf("wrong code err = %v", err)
	}
	if c.SignedIn() {
		t.Error("signed in after a rejected code")
	}

	id, err := c.Verify(ctx, "Ana@Example.com", "123456")
	if err != nil {
		t.Fatal(err)
	}
	if id != (authflow.Identity{UserID: "42", Identifier: "ana@example.com"}) {
		t.Errorf("identity = %+v", id)
	}
	if !c.SignedIn() {
		t.Error("tokens not kept")
	}
}

func TestLookupProfileRefreshesExpiredToken(t *testing.T) {
	stub, c := newStub(t)
	ctx := context.Background()
	s := session.Authenticate("ana@example.com")

	if _, err := c.LookupProfile(ctx, s); !errors.Is(err, apiclient.ErrNotSignedIn) {
		t.Errorf("before sign-in err = %v", err)
	}
	signIn(t, c)

	if _, err := c.LookupProfile(ctx, s); !errors.Is(err, admin.ErrProfileNotFound) {
		t.Errorf("no profile err = %v", err)
	}
	stub.read(func() {
		if stub.refreshes != 1 {
			t.Errorf("refreshes = %d, want 1", stub.refreshes)
		}
	})

	yes := true
	stub.mu.Lock()
	stub.profile, stub.isAdmin = true, &yes
	stub.mu.Unlock()
	p, err := c.LookupProfile(ctx, s)
	if err != nil || p.UserID != "42" || p.IsAdmin == nil || !*p.IsAdmin {
		t.Errorf("profile = %+v, %v", p, err)
	}

	stub.mu.Lock()
	stub.isAdmin = nil
	stub.mu.Unlock()
	p, err = c.LookupProfile(ctx, s)
	if err != nil || p.IsAdmin != nil {
		t.Errorf("null flag profile = %+v, %v", p, err)
	}
	if admin.NewResolver(c, nil).Resolve(ctx, s) {
		t.Error("null admin flag resolved to admin")
	}
}

func TestMediaCalls(t *testing.T) {
	stub, c := newStub(t)
	ctx := context.Background()
	if _, err := c.List(ctx); !errors.Is(err, apiclient.ErrNotSignedIn) {
		t.Errorf("List before sign-in err = %v", err)
	}
	signIn(t, c)

	saved, err := c.Insert(ctx, model.MediaEntry{ID: "01J0000000000000000000AAA0", Title: "Sunset", SourceURL: "u"})
	if err != nil || saved.UploadedBy != "ana@example.com" {
		t.Fatalf("insert = %+v, %v", saved, err)
	}
	if err := c.UpdateLiked(ctx, saved.ID, true); err != nil {
		t.Fatal(err)
	}
	if err := c.UpdateLiked(ctx, "missing", true); apiclient.StatusOf(err) != http.StatusNotFound {
		t.Errorf("like missing err = %v", err)
	}
	if err := c.UpdateCaption(ctx, saved.ID, "Warm."); err != nil {
		t.Fatal(err)
	}

	items, err := c.List(ctx)
	if err != nil || len(items) != 1 || !items[0].Liked || items[0].ReflectionCaption != "Warm." {
		t.Fatalf("list = %+v, %v", items, err)
	}

	if err := c.Delete(ctx, saved.ID); err != nil {
		t.Fatal(err)
	}
	stub.read(func() {
		if len(stub.deleted) != 1 || stub.deleted[0] != saved.ID {
			t.Errorf("deleted = %v", stub.deleted)
		}
	})
	if items, _ := c.List(ctx); len(items) != 0 {
		t.Errorf("list after delete = %+v", items)
	}
}

func TestCaptionFallsBack(t *testing.T) {
	stub, c := newStub(t)
	ctx := context.Background()
	if got := c.Caption(ctx, "a picnic"); got != catalog.DefaultReflection {
		t.Errorf("signed-out caption = %q", got)
	}
	signIn(t, c)
	if got := c.Caption(ctx, "a picnic"); got != "Remembering a picnic." {
		t.Errorf("caption = %q", got)
	}
	stub.mu.Lock()
	stub.captionOK = false
	stub.mu.Unlock()
	if got := c.Caption(ctx, "a picnic"); got != catalog.DefaultReflection {
		t.Errorf("failed caption = %q", got)
	}
}

func TestUploadFile(t *testing.T) {
	stub, c := newStub(t)
	signIn(t, c)
	e, err := c.UploadFile(context.Background(), "Kite", "", "kite.png", strings.NewReader("PNGDATA"))
	if err != nil || e.Title != "Kite" {
		t.Fatalf("upload = %+v, %v", e, err)
	}
	stub.read(func() {
		if len(stub.uploads) != 1 || stub.uploads[0] != "kite.png:PNGDATA" {
			t.Errorf("uploads = %v", stub.uploads)
		}
	})
}

func TestAppUploadsThroughClient(t *testing.T) {
	_, c := newStub(t)
	ctx := context.Background()
	a := app.New(app.Deps{
		Dispatcher: c, Verifier: c, Profiles: c, Store: c, Captioner: c, Uploader: c, SignOut: c.Logout,
	}, nil)

	if err := a.Enter(); err != nil {
		t.Fatal(err)
	}
	if err := a.SubmitIdentifier(ctx, "ana@example.com"); err != nil {
		t.Fatal(err)
	}
	for i, d := range "123456" {
		if _, err := a.EditDigit(i, string(d)); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.SubmitCode(ctx); err != nil {
		t.Fatal(err)
	}
	a.WaitRole()

	e, err := a.UploadFile(ctx, "Kite", "", "kite.png", strings.NewReader("PNGDATA"))
	if err != nil {
		t.Fatal(err)
	}
	if items := a.Snapshot().Items; len(items) == 0 || items[0].ID != e.ID {
		t.Errorf("items = %+v, want the upload first", items)
	}
	if err := a.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if got := a.Search("kite"); len(got) != 1 {
		t.Errorf("after reload = %+v", got)
	}
}

func TestLogoutRevokesAndForgets(t *testing.T) {
	stub, c := newStub(t)
	ctx := context.Background()
	if err := c.Logout(ctx); err != nil {
		t.Errorf("logout while signed out = %v", err)
	}
	signIn(t, c)
	if err := c.Logout(ctx); err != nil {
		t.Fatal(err)
	}
	if c.SignedIn() {
		t.Error("still signed in after logout")
	}
	stub.read(func() {
		if len(stub.revoked) != 1 || stub.revoked[0] != "r1" {
			t.Errorf("revoked = %v", stub.revoked)
		}
	})
	if err := c.Refresh(ctx); !errors.Is(err, apiclient.ErrNotSignedIn) {
		t.Errorf("refresh after logout = %v", err)
	}
}

func TestRejectedRefreshSignsOut(t *testing.T) {
	_, c := newStub(t)
	signIn(t, c)
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	// r2 is unknown to the stub.
	if err := c.Refresh(context.Background()); apiclient.StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
	if c.SignedIn() {
		t.Error("tokens kept after rejected refresh")
	}
}
