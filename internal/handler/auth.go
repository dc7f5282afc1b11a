package handler

import (
    "context"  // context with cancellation for DB calls
    "errors"   // sentinel error matching
    "net/http" // HTTP status codes and primitives
    "strings"  // string normalization for emails
    "time"     // timeouts for DB calls

    "github.com/google/uuid"      // unique token IDs for refresh sessions
    "github.com/labstack/echo/v4" // Echo framework for HTTP routing

    "github.com/carelink-io/carelink/internal/config"
    "github.com/carelink-io/carelink/internal/model"
    "github.com/carelink-io/carelink/internal/repository"
    "github.com/carelink-io/carelink/internal/utils"
)

const dbTimeout = 5 * time.Second

// AuthHandler bundles dependencies for the credential and session
// lifecycle endpoints.
type AuthHandler struct {
	Cfg        config.Config
	Principals *repository.PrincipalRepo
	Sessions   *repository.SessionRepo
}

func NewAuthHandler(cfg config.Config, p *repository.PrincipalRepo, s *repository.SessionRepo) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Principals: p, Sessions: s}
}

// ----- DTOs -----

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"` // FAMILY | COMPANION
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}
type principalPart struct {
	ID    uint64 `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}
type authResp struct {
	Principal principalPart `json:"principal"`
	Access    tokenPart     `json:"access"`
	Refresh   tokenPart     `json:"refresh"`
}

// issuePair mints an access token and a ledger-backed refresh token
// for a principal. The refresh token's jti is written to the session
// ledger as a fresh ISSUED session before the pair leaves the server.
func (h *AuthHandler) issuePair(ctx context.Context, p model.Principal) (authResp, error) {
	access, err := utils.NewAccessToken(h.Cfg.AccessSecret, p.ID, p.Role, p.Email, h.Cfg.AccessTTLMin)
	if err != nil {
		return authResp{}, err
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshSecret, p.ID, uuid.NewString(), h.Cfg.RefreshTTLDays)
	if err != nil {
		return authResp{}, err
	}
	if err := h.Sessions.Create(ctx, refresh.TokenID, p.ID, refresh.Exp); err != nil {
		return authResp{}, err
	}
	return authResp{
		Principal: principalPart{ID: p.ID, Email: p.Email, Role: p.Role},
		Access:    tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh:   tokenPart{Token: refresh.Token, Expires: refresh.Exp},
	}, nil
}

// Register: create principal and return tokens immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	// ADMIN is never self-assignable; anything unrecognized becomes FAMILY.
	if !model.ValidRole(role) || role == model.RoleAdmin {
		role = model.RoleFamily
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	pid, err := h.Principals.Create(ctx, req.Email, req.Password, role, h.Cfg.BcryptCost)
	if err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "create principal failed"})
	}

	resp, err := h.issuePair(ctx, model.Principal{ID: pid, Email: req.Email, Role: role})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue tokens failed"})
	}
	return c.JSON(http.StatusCreated, resp)
}

// Login: verify credentials and return a new token pair bound to a
// fresh ISSUED session. All credential failures (unknown email, wrong
// password, inactive account) collapse to one generic message so the
// endpoint cannot be used for account enumeration.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email/password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	p, err := h.Principals.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !p.IsActive || !utils.VerifyPassword(p.PasswordHash, req.Password) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	resp, err := h.issuePair(ctx, p)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue tokens failed"})
	}
	return c.JSON(http.StatusOK, resp)
}

// Refresh: rotation-on-use. The presented token must carry a valid
// signature and expiry AND its jti must resolve to an active ledger
// session; the rotation update retires that session and records its
// successor atomically, so a replayed (stolen or stale) refresh token
// loses and gets the same generic rejection.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	claims, err := utils.ParseRefreshToken(h.Cfg.RefreshSecret, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	p, err := h.Principals.GetByID(ctx, claims.UserID)
	if err != nil || !p.IsActive {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}

	access, err := utils.NewAccessToken(h.Cfg.AccessSecret, p.ID, p.Role, p.Email, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	newRef, err := utils.NewRefreshToken(h.Cfg.RefreshSecret, p.ID, uuid.NewString(), h.Cfg.RefreshTTLDays)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue refresh failed"})
	}

	if err := h.Sessions.Rotate(ctx, claims.TokenID, newRef.TokenID, p.ID, newRef.Exp); err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrSessionTerminal) {
			// Reuse of a rotated token is the replay signal worth a log line.
			if errors.Is(err, repository.ErrSessionTerminal) {
				c.Logger().Warnf("refresh replay for retired session %s (principal %d)", claims.TokenID, p.ID)
			}
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "rotate session failed"})
	}

	return c.JSON(http.StatusOK, authResp{
		Principal: principalPart{ID: p.ID, Email: p.Email, Role: p.Role},
		Access:    tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh:   tokenPart{Token: newRef.Token, Expires: newRef.Exp},
	})
}

// Logout: revoke the session behind the presented refresh token.
// Idempotent — revoking an already-revoked, expired or unknown session
// is a no-op and still answers 204. Only a token that fails signature
// verification is rejected, since its jti cannot be trusted. Already-
// issued access tokens keep verifying until their own short expiry;
// that staleness window is bounded and intentional.
func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}

	claims, err := utils.ParseRefreshTokenAllowExpired(h.Cfg.RefreshSecret, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	if err := h.Sessions.Revoke(ctx, claims.TokenID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
	}
	return c.NoContent(http.StatusNoContent)
}

// Me: simple protected endpoint returning the verified claims.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"principal_id": c.Get("principal_id"),
		"role":         c.Get("role"),
		"email":        c.Get("email"),
	})
}
