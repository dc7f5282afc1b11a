package middleware // middleware contains reusable HTTP middleware functions

import (
    "net/http" // HTTP status codes for responses
    "strings"  // string utilities for prefix checking and trimming

    "github.com/labstack/echo/v4" // Echo framework used for defining middleware and handlers

    "github.com/carelink-io/carelink/internal/utils"
)

// JWTAuth returns an Echo middleware that validates a Bearer access
// token and injects the verified claims into the request context.
// Access tokens are checked statelessly — signature and expiry only,
// no ledger lookup — so a revoked session's outstanding access token
// keeps verifying until its own short expiry.  Handlers read the
// authenticated principal via c.Get("principal_id"), c.Get("role")
// and c.Get("email").
func JWTAuth(secret string) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            auth := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(auth, "Bearer ") {
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
            }
            raw := strings.TrimPrefix(auth, "Bearer ")

            claims, err := utils.ParseAccessToken(secret, raw)
            if err != nil {
                // Expired and invalid collapse to one message so the
                // response never teaches a caller which check failed.
                return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
            }

            c.Set("principal_id", claims.UserID)
            c.Set("role", claims.Role)
            c.Set("email", claims.Email)
            return next(c)
        }
    }
}

// PrincipalID extracts the authenticated principal's ID from the
// context.  Zero means JWTAuth did not run on this route.
func PrincipalID(c echo.Context) uint64 {
    if v, ok := c.Get("principal_id").(uint64); ok {
        return v
    }
    return 0
}
