package handler_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/iliyamo/memory-gallery/internal/otp"
)

type authBody struct {
	User struct {
		ID         uint64 `json:"id"`
		Identifier string `json:"identifier"`
	} `json:"user"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

func decode[T any](t *testing.T, body []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	return v
}

func TestRequestCode(t *testing.T) {
	env := newEnv(t)

	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/code", "", `{"identifier":"ana@example.com"}`), http.StatusAccepted)
	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/code", "", `{"identifier":"  "}`), http.StatusBadRequest)
	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/code", "", `{`), http.StatusBadRequest)

	env.codes.dispatchErr = otp.ErrCooldown
	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/code", "", `{"identifier":"ana@example.com"}`), http.StatusTooManyRequests)

	env.codes.dispatchErr = errors.New("broker down")
	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/code", "", `{"identifier":"ana@example.com"}`), http.StatusBadGateway)
}

func TestVerifyIssuesTokensAndMe(t *testing.T) {
	env := newEnv(t)
	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/code", "", `{"identifier":"Ana@Example.com"}`), http.StatusAccepted)

	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/verify", "", `{"identifier":"ana@example.com","code":"000000"}`), http.StatusUnauthorized)
	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/verify", "", `{"identifier":"ana@example.com"}`), http.StatusBadRequest)

	rec := env.json(t, http.MethodPost, "/v1/auth/verify", "", `{"identifier":"ana@example.com","code":"123456"}`)
	wantStatus(t, rec, http.StatusOK)
	body := decode[authBody](t, rec.Body.Bytes())
	if body.User.Identifier != "ana@example.com" || body.Access.Token == "" || body.Refresh.Token == "" {
		t.Fatalf("auth body = %+v", body)
	}

	me := env.json(t, http.MethodGet, "/v1/me", "Bearer "+body.Access.Token, "")
	wantStatus(t, me, http.StatusOK)
	got := decode[map[string]any](t, me.Body.Bytes())
	if got["identifier"] != "ana@example.com" {
		t.Errorf("me = %v", got)
	}
	wantStatus(t, env.json(t, http.MethodGet, "/v1/me", "", ""), http.StatusUnauthorized)
}

func TestRefreshRotatesOnce(t *testing.T) {
	env := newEnv(t)
	_ = env.json(t, http.MethodPost, "/v1/auth/code", "", `{"identifier":"+15550100"}`)
	rec := env.json(t, http.MethodPost, "/v1/auth/verify", "", `{"identifier":"+15550100","code":"123456"}`)
	wantStatus(t, rec, http.StatusOK)
	first := decode[authBody](t, rec.Body.Bytes())

	rec = env.json(t, http.MethodPost, "/v1/auth/refresh", "", `{"refresh_token":"`+first.Refresh.Token+`"}`)
	wantStatus(t, rec, http.StatusOK)
	second := decode[authBody](t, rec.Body.Bytes())
	if second.Refresh.Token == first.Refresh.Token || second.User.Identifier != "+15550100" {
		t.Errorf("refresh body = %+v", second)
	}

	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/refresh", "", `{"refresh_token":"`+first.Refresh.Token+`"}`), http.StatusUnauthorized)
	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/refresh", "", `{}`), http.StatusBadRequest)
}

func TestLogout(t *testing.T) {
	env := newEnv(t)
	_ = env.json(t, http.MethodPost, "/v1/auth/code", "", `{"identifier":"a@b.c"}`)
	first := decode[authBody](t, env.json(t, http.MethodPost, "/v1/auth/verify", "", `{"identifier":"a@b.c","code":"123456"}`).Body.Bytes())
	_ = env.json(t, http.MethodPost, "/v1/auth/code", "", `{"identifier":"a@b.c"}`)
	second := decode[authBody](t, env.json(t, http.MethodPost, "/v1/auth/verify", "", `{"identifier":"a@b.c","code":"123456"}`).Body.Bytes())
	if env.tokens.active() != 2 {
		t.Fatalf("active = %d", env.tokens.active())
	}

	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/logout", "", `{"refresh_token":"`+first.Refresh.Token+`"}`), http.StatusNoContent)
	if env.tokens.active() != 1 {
		t.Errorf("after single logout active = %d", env.tokens.active())
	}
	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/logout", "Bearer "+second.Access.Token, ""), http.StatusNoContent)
	if env.tokens.active() != 0 {
		t.Errorf("after logout-all active = %d", env.tokens.active())
	}
	wantStatus(t, env.json(t, http.MethodPost, "/v1/auth/logout", "", ""), http.StatusBadRequest)
}

func TestProfile(t *testing.T) {
	env := newEnv(t)
	uid, auth := env.signIn(t, "ana@example.com")

	wantStatus(t, env.json(t, http.MethodGet, "/v1/profile", auth, ""), http.StatusNotFound)

	env.profiles.set(uid, nil)
	rec := env.json(t, http.MethodGet, "/v1/profile", auth, "")
	wantStatus(t, rec, http.StatusOK)
	if got := decode[map[string]any](t, rec.Body.Bytes()); got["is_admin"] != nil {
		t.Errorf("profile = %v, want null is_admin", got)
	}

	yes := true
	env.profiles.set(uid, &yes)
	rec = env.json(t, http.MethodGet, "/v1/profile", auth, "")
	if got := decode[map[string]any](t, rec.Body.Bytes()); got["is_admin"] != true {
		t.Errorf("profile = %v", got)
	}
}
