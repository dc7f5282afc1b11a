package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // the Echo web framework handles routing

	"github.com/carelink-io/carelink/internal/handler"    // handlers implement the endpoint logic
	"github.com/carelink-io/carelink/internal/middleware" // middleware for JWT auth, roles and rate limiting
	"github.com/carelink-io/carelink/internal/model"
)

// RegisterRoutes registers routes that do not require authentication
// on the provided Echo instance.  Currently it exposes only a health
// check, used by load balancers and monitoring to verify the service.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the credential- and session-lifecycle routes
// and applies their middleware.  Unauthenticated operations live under
// /v1/auth behind the rate limiter (that group is the brute-force and
// enumeration surface); protected endpoints live under /v1 behind
// JWTAuth.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, acct *handler.AccountHandler, accessSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/auth")
	if limiter != nil {
		g.Use(limiter)
	}
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Refresh rotates: the presented refresh token's session is
	// retired and a successor issued in the same transaction.
	g.POST("/refresh", a.Refresh)
	// Logout is idempotent and accepts expired (but authentic) tokens.
	g.POST("/logout", a.Logout)
	g.POST("/verify-email/confirm", acct.ConfirmEmailVerification)
	g.POST("/password-reset/request", acct.RequestPasswordReset)
	g.POST("/password-reset/confirm", acct.ConfirmPasswordReset)

	// Routes that require a valid access token.  Access tokens are
	// verified statelessly; any of the fixed roles is acceptable here
	// and RequireRole rejects missing or unknown roles.
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(accessSecret))
	auth.Use(middleware.RequireRole(model.RoleFamily, model.RoleCompanion, model.RoleAdmin))
	auth.GET("/me", a.Me)
	auth.POST("/auth/verify-email/request", acct.RequestEmailVerification)
}

// RegisterWebhooks registers the provider callback route.  No JWT, no
// rate limiter and — critically — no body-parsing middleware: the
// handler must see the raw bytes the provider signed.
func RegisterWebhooks(e *echo.Echo, w *handler.WebhookHandler) {
	e.POST("/v1/webhooks/:provider", w.Receive)
}
