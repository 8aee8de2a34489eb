package middleware // middleware provides shared request processing for handlers

import (
	"net/http" // HTTP status codes for responses
	"strings"  // prefix checking and trimming of the Authorization header

	"github.com/labstack/echo/v4" // Echo middleware and handler types

	"github.com/iliyamo/memory-gallery/internal/utils" // access token parsing
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the user id and identifier claims into the request context.
// The secret must match the one used when issuing tokens.  Handlers read
// the values back through UserID and Identifier.
func JWTAuth(secret string) echo.MiddlewareFunc {
	// The outer function runs once when the middleware is registered.
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		// The returned handler runs for each request.
		return func(c echo.Context) error {
			// A valid header is "Bearer " followed by the JWT; anything else
			// is answered with 401.
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			// Strip the prefix to get the raw token.
			raw := strings.TrimPrefix(auth, "Bearer ")

			// ParseAccessToken checks the HS256 signature, the expiry and
			// that the subject is a user id.
			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			id, _ := claims.UserID() // validated by ParseAccessToken

			// Store the caller for handlers and later middleware.
			c.Set(ctxUserID, id)
			c.Set(ctxIdentifier, claims.Identifier)
			// Continue down the chain.
			return next(c)
		}
	}
}
