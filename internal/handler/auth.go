package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/memory-gallery/internal/config"
	"github.com/iliyamo/memory-gallery/internal/middleware"
	"github.com/iliyamo/memory-gallery/internal/model"
	"github.com/iliyamo/memory-gallery/internal/otp"
	"github.com/iliyamo/memory-gallery/internal/repository"
	"github.com/iliyamo/memory-gallery/internal/utils"
)

// CodeService issues and checks one-time codes.
type CodeService interface {
	Dispatch(ctx context.Context, identifier string) error
	Verify(ctx context.Context, identifier, code string) error
}

// UserStore persists users.
type UserStore interface {
	Upsert(ctx context.Context, identifier string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
}

// TokenStore persists refresh tokens.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	Rotate(ctx context.Context, userID uint64, oldHash, newHash string, exp time.Time) error
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}

// ProfileStore reads profiles.
type ProfileStore interface {
	GetByUserID(ctx context.Context, userID uint64) (model.Profile, error)
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Cfg      config.Config
	Codes    CodeService
	Users    UserStore
	Tokens   TokenStore
	Profiles ProfileStore
	Log      *zap.Logger
}

func NewAuthHandler(cfg config.Config, codes CodeService, u UserStore, t TokenStore, p ProfileStore, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{Cfg: cfg, Codes: codes, Users: u, Tokens: t, Profiles: p, Log: log}
}

// ----- DTOs -----

type codeReq struct {
	Identifier string `json:"identifier"`
}
type verifyReq struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type userPart struct {
	ID         uint64 `json:"id"`
	Identifier string `json:"identifier"`
}
type authResp struct {
	User    userPart  `json:"user"`
	Access  tokenPart `json:"access"`
	Refresh tokenPart `json:"refresh"`
}

// ProfileResp is the body of GET /v1/profile.  IsAdmin is null when the
// profile row has no decision.
type ProfileResp struct {
	UserID  uint64 `json:"user_id"`
	IsAdmin *bool  `json:"is_admin"`
}

// RequestCode: issue a one-time code for an email or phone number.
func (h *AuthHandler) RequestCode(c echo.Context) error {
	var req codeReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Identifier) == "" {
		return badRequest(c, "identifier required")
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	switch err := h.Codes.Dispatch(ctx, req.Identifier); {
	case err == nil:
		return c.JSON(http.StatusAccepted, echo.Map{"status": "sent"})
	case errors.Is(err, otp.ErrInvalidIdentifier):
		return badRequest(c, "identifier required")
	case errors.Is(err, otp.ErrCooldown):
		return errJSON(c, http.StatusTooManyRequests, err.Error())
	default:
		h.Log.Warn("code dispatch failed", zap.Error(err))
		return errJSON(c, http.StatusBadGateway, "could not send code")
	}
}

// Verify: check the code, create the user on first sign-in and return a
// token pair.
func (h *AuthHandler) Verify(c echo.Context) error {
	var req verifyReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Identifier) == "" || strings.TrimSpace(req.Code) == "" {
		return badRequest(c, "identifier/code required")
	}

	ctx, cancel := withTimeout(c)
	defer cancel()

	// Check and consume the code; wrong and expired codes are both 401.
	if err := h.Codes.Verify(ctx, req.Identifier, req.Code); err != nil {
		switch {
		case errors.Is(err, otp.ErrInvalidCode), errors.Is(err, otp.ErrInvalidIdentifier):
			return errJSON(c, http.StatusUnauthorized, "invalid code")
		case errors.Is(err, otp.ErrTooManyAttempts):
			return errJSON(c, http.StatusTooManyRequests, err.Error())
		}
		h.Log.Error("code verification failed", zap.Error(err))
		return errJSON(c, http.StatusInternalServerError, "verification failed")
	}

	// First sign-in creates the user row.
	u, err := h.Users.Upsert(ctx, req.Identifier)
	if err != nil {
		h.Log.Error("upsert user failed", zap.Error(err))
		return errJSON(c, http.StatusInternalServerError, "create user failed")
	}
	resp, err := h.issue(ctx, u)
	if err != nil {
		h.Log.Error("issue tokens failed", zap.Uint64("user_id", u.ID), zap.Error(err))
		return errJSON(c, http.StatusInternalServerError, "issue tokens failed")
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AuthHandler) issue(ctx context.Context, u model.User) (authResp, error) {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Identifier, h.Cfg.AccessTTLMin)
	if err != nil {
		return authResp{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return authResp{}, err
	}
	if err := h.Tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return authResp{}, err
	}
	return authResp{
		User:    userPart{ID: u.ID, Identifier: u.Identifier},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp}, // raw back to client
	}, nil
}

// Refresh: spend a refresh token and return a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return badRequest(c, "refresh_token required")
	}
	hash := utils.HashRefreshRaw(strings.TrimSpace(req.RefreshToken))

	ctx, cancel := withTimeout(c)
	defer cancel()

	// Unknown, expired and revoked tokens all answer 401.
	userID, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		return errJSON(c, http.StatusUnauthorized, "invalid refresh")
	}
	// Reload the user so the new access token carries the current identifier.
	u, err := h.Users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errJSON(c, http.StatusUnauthorized, "invalid refresh")
		}
		return errJSON(c, http.StatusInternalServerError, "load user failed")
	}

	// Issue the new pair.
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.Identifier, h.Cfg.AccessTTLMin)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "issue access failed")
	}
	next, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return errJSON(c, http.StatusInternalServerError, "issue refresh failed")
	}
	// Rotate fails when a concurrent refresh already spent the old token.
	if err := h.Tokens.Rotate(ctx, u.ID, hash, utils.HashRefreshRaw(next.Raw), next.Exp); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errJSON(c, http.StatusUnauthorized, "invalid refresh")
		}
		return errJSON(c, http.StatusInternalServerError, "save refresh failed")
	}

	return c.JSON(http.StatusOK, authResp{
		User:    userPart{ID: u.ID, Identifier: u.Identifier},
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: next.Raw, Expires: next.Exp},
	})
}

// Logout revokes one session when a refresh_token is posted, or every
// session of the bearer when only an access token is presented.
func (h *AuthHandler) Logout(c echo.Context) error {
	// The access token is optional here; an expired one is simply ignored.
	var uid uint64
	if raw, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer "); ok {
		if claims, err := utils.ParseAccessToken(h.Cfg.JWTSecret, raw); err == nil {
			uid, _ = claims.UserID()
		}
	}

	var req refreshReq
	_ = c.Bind(&req) // invalid JSON leaves the token empty
	refreshToken := strings.TrimSpace(req.RefreshToken)

	ctx, cancel := withTimeout(c)
	defer cancel()

	switch {
	case refreshToken != "": // revoke just this session
		hash := utils.HashRefreshRaw(refreshToken)
		if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
			return errJSON(c, http.StatusUnauthorized, "invalid refresh token")
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return errJSON(c, http.StatusInternalServerError, "logout failed")
		}
		return c.NoContent(http.StatusNoContent)
	case uid != 0: // revoke every session of the caller
		if err := h.Tokens.RevokeAllForUser(ctx, uid); err != nil {
			return errJSON(c, http.StatusInternalServerError, "logout failed")
		}
		return c.NoContent(http.StatusNoContent)
	}
	return badRequest(c, "provide Authorization header or refresh_token")
}

// Me returns the identity of the bearer.
func (h *AuthHandler) Me(c echo.Context) error {
	id, _ := middleware.UserID(c)
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":    id,
		"identifier": middleware.Identifier(c),
	})
}

// Profile returns the caller's profile row; 404 when there is none.
func (h *AuthHandler) Profile(c echo.Context) error {
	id, ok := middleware.UserID(c)
	if !ok {
		return errJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	p, err := h.Profiles.GetByUserID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errJSON(c, http.StatusNotFound, "profile not found")
		}
		h.Log.Warn("profile lookup failed", zap.Uint64("user_id", id), zap.Error(err))
		return errJSON(c, http.StatusInternalServerError, "profile lookup failed")
	}
	return c.JSON(http.StatusOK, ProfileResp{UserID: p.UserID, IsAdmin: p.IsAdmin})
}
