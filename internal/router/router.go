package router // package router registers the HTTP routes of the gallery API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/memory-gallery/internal/admin"
	"github.com/iliyamo/memory-gallery/internal/handler"
	"github.com/iliyamo/memory-gallery/internal/middleware"
)

// RegisterRoutes registers routes that need no authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the sign-in routes under /v1/auth and the
// identity routes under /v1.  limit guards the code and verify endpoints.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	g.POST("/code", a.RequestCode, limit)
	g.POST("/verify", a.Verify, limit)
	// Rotates the refresh token.
	g.POST("/refresh", a.Refresh)
	// Accepts a refresh_token body, a bearer token, or both.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/me", a.Me)
	auth.GET("/profile", a.Profile)
}

// RegisterMedia registers the catalog routes.  Every route requires a
// signed-in user; deletion and statistics additionally require an admin,
// decided per request by the resolver.  cache fronts thumbnails.
func RegisterMedia(e *echo.Echo, m *handler.MediaHandler, cp *handler.CaptionHandler, jwtSecret string, resolver *admin.Resolver, cache echo.MiddlewareFunc) {
	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	auth.GET("/media", m.List)
	auth.POST("/media", m.Create)
	auth.POST("/media/upload", m.Upload)
	auth.GET("/media/:id", m.Get)
	auth.PATCH("/media/:id/like", m.SetLiked)
	auth.PATCH("/media/:id/caption", m.SetCaption)
	auth.GET("/media/:id/download", m.Download)
	auth.GET("/media/:id/thumbnail", m.Thumbnail, cache)
	auth.POST("/captions", cp.Generate)

	requireAdmin := middleware.RequireAdmin(resolver)
	auth.DELETE("/media/:id", m.Delete, requireAdmin)
	auth.GET("/admin/stats", m.Stats, requireAdmin)
}
