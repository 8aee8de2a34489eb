package middleware

// identity.go holds the context keys set by JWTAuth and RequireAdmin and
// the helpers handlers use to read them back.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/memory-gallery/internal/session"
)

const (
	ctxUserID     = "user_id"
	ctxIdentifier = "identifier"
	ctxAdmin      = "is_admin"
)

// UserID returns the authenticated user's id.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// Identifier returns the authenticated user's email or phone, or "".
func Identifier(c echo.Context) string {
	s, _ := c.Get(ctxIdentifier).(string)
	return s
}

// IsAdmin reports whether RequireAdmin admitted the request.
func IsAdmin(c echo.Context) bool {
	b, _ := c.Get(ctxAdmin).(bool)
	return b
}

// Session rebuilds the session of the caller from the token claims.
func Session(c echo.Context) session.Session {
	if _, ok := UserID(c); !ok {
		return session.Reset()
	}
	return session.Authenticate(Identifier(c)).WithAdmin(IsAdmin(c))
}

// userKey identifies the caller for rate limiting; "anon" when unknown.
func userKey(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
