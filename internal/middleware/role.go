package middleware

import (
	"net/http" // status codes for 401 and 403

	"github.com/labstack/echo/v4" // Echo middleware types

	"github.com/iliyamo/memory-gallery/internal/admin" // fail-closed admin resolver
)

// RequireAdmin admits a request only when the resolver confirms the caller
// is an administrator.  The profile store is consulted on every request and
// any failure denies access with 403.  It must run after JWTAuth.
func RequireAdmin(r *admin.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Rebuild the caller from the claims JWTAuth stored.
			s := Session(c)
			// No identity means JWTAuth did not run or rejected the token.
			if !s.Authenticated {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}
			// Lookup errors, a missing profile and a NULL flag all resolve to
			// false here.
			if !r.Resolve(c.Request().Context(), s) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "forbidden"})
			}
			// Mark the request so handlers can read IsAdmin.
			c.Set(ctxAdmin, true)
			return next(c)
		}
	}
}
