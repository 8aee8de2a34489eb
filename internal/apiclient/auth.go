package apiclient

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/iliyamo/memory-gallery/internal/admin"
	"github.com/iliyamo/memory-gallery/internal/authflow"
	"github.com/iliyamo/memory-gallery/internal/session"
)

type authResp struct {
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

// Dispatch asks the API to send a one-time code to identifier.
func (c *Client) Dispatch(ctx context.Context, identifier string) error {
	r, err := jsonRequest(http.MethodPost, "/v1/auth/code", map[string]string{"identifier": identifier}, false)
	if err != nil {
		return err
	}
	return c.call(ctx, r, nil)
}

// Verify checks code for identifier.  On success the returned tokens are
// kept for later calls.
func (c *Client) Verify(ctx context.Context, identifier, code string) (authflow.Identity, error) {
	r, err := jsonRequest(http.MethodPost, "/v1/auth/verify", map[string]string{
		"identifier": identifier,
		"code":       code,
	}, false)
	if err != nil {
		return authflow.Identity{}, err
	}
	var out authResp
	if err := c.call(ctx, r, &out); err != nil {
		return authflow.Identity{}, err
	}
	if out.Access.Token == "" || out.User.Identifier == "" {
		return authflow.Identity{}, errors.New("verify: incomplete response")
	}
	c.setTokens(out.Access.Token, out.Refresh.Token)
	return authflow.Identity{
		UserID:     strconv.FormatUint(out.User.ID, 10),
		Identifier: out.User.Identifier,
	}, nil
}

// Refresh rotates the refresh token and replaces both tokens.  A rejected
// refresh clears them.
func (c *Client) Refresh(ctx context.Context) error {
	_, refresh := c.tokens()
	if refresh == "" {
		return ErrNotSignedIn
	}
	r, err := jsonRequest(http.MethodPost, "/v1/auth/refresh", map[string]string{"refresh_token": refresh}, false)
	if err != nil {
		return err
	}
	var out authResp
	if err := c.call(ctx, r, &out); err != nil {
		if StatusOf(err) == http.StatusUnauthorized {
			c.setTokens("", "")
		}
		return err
	}
	c.setTokens(out.Access.Token, out.Refresh.Token)
	return nil
}

// Logout revokes the current refresh token and forgets both tokens.  The
// local tokens are dropped even when the API cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	_, refresh := c.tokens()
	c.setTokens("", "")
	if refresh == "" {
		return nil
	}
	r, err := jsonRequest(http.MethodPost, "/v1/auth/logout", map[string]string{"refresh_token": refresh}, false)
	if err != nil {
		return err
	}
	if err := c.call(ctx, r, nil); err != nil {
		c.Log.Warn("logout not acknowledged", zap.Error(err))
		return err
	}
	return nil
}

type profileResp struct {
	UserID  *uint64 `json:"user_id"`
	IsAdmin *bool   `json:"is_admin"`
}

// LookupProfile fetches the profile of the signed-in user.  The API keys the
// lookup by the token's subject, so s only has to be authenticated.
func (c *Client) LookupProfile(ctx context.Context, s session.Session) (admin.Profile, error) {
	if !s.Authenticated {
		return admin.Profile{}, ErrNotSignedIn
	}
	var out profileResp
	err := c.call(ctx, request{method: http.MethodGet, path: "/v1/profile", auth: true}, &out)
	if err != nil {
		if StatusOf(err) == http.StatusNotFound {
			return admin.Profile{}, admin.ErrProfileNotFound
		}
		return admin.Profile{}, err
	}
	if out.UserID == nil {
		return admin.Profile{}, errors.New("profile: malformed response")
	}
	return admin.Profile{UserID: strconv.FormatUint(*out.UserID, 10), IsAdmin: out.IsAdmin}, nil
}
