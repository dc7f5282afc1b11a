package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carelink-io/carelink/internal/config"
	"github.com/carelink-io/carelink/internal/middleware"
	"github.com/carelink-io/carelink/internal/model"
	"github.com/carelink-io/carelink/internal/repository"
)

// TokenSender delivers a raw single-use token to a principal over an
// out-of-band channel (email/SMS). The notification transport is an
// external collaborator; cmd/server wires a concrete implementation.
type TokenSender interface {
	SendToken(ctx context.Context, email, purpose, raw string) error
}

// AccountHandler bundles dependencies for the single-use token flows:
// email verification and password reset.
type AccountHandler struct {
	Cfg        config.Config
	Principals *repository.PrincipalRepo
	Tokens     *repository.SingleUseTokenRepo
	Sessions   *repository.SessionRepo
	Sender     TokenSender
}

func NewAccountHandler(cfg config.Config, p *repository.PrincipalRepo, t *repository.SingleUseTokenRepo, s *repository.SessionRepo, sender TokenSender) *AccountHandler {
	return &AccountHandler{Cfg: cfg, Principals: p, Tokens: t, Sessions: s, Sender: sender}
}

type confirmVerifyReq struct {
	Token string `json:"token"`
}
type resetRequestReq struct {
	Email string `json:"email"`
}
type resetConfirmReq struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// RequestEmailVerification issues a fresh verification token for the
// authenticated principal and hands it to the notification channel.
func (h *AccountHandler) RequestEmailVerification(c echo.Context) error {
	pid := middleware.PrincipalID(c)
	if pid == 0 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	email, _ := c.Get("email").(string)

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	raw, err := h.Tokens.Issue(ctx, pid, model.PurposeEmailVerify,
		time.Duration(h.Cfg.VerifyTTLHours)*time.Hour)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue token failed"})
	}
	if err := h.Sender.SendToken(ctx, email, model.PurposeEmailVerify, raw); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "send failed"})
	}
	return c.JSON(http.StatusAccepted, echo.Map{"status": "sent"})
}

// ConfirmEmailVerification redeems a verification token exactly once
// and marks the bound principal's email verified.
func (h *AccountHandler) ConfirmEmailVerification(c echo.Context) error {
	var req confirmVerifyReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	pid, err := h.Tokens.Redeem(ctx, strings.TrimSpace(req.Token), model.PurposeEmailVerify)
	if err != nil {
		return redeemFailure(c, err)
	}
	if err := h.Principals.MarkEmailVerified(ctx, pid); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"verified": true})
}

// RequestPasswordReset issues a reset token for the given email. The
// response is 202 whether or not the account exists — this endpoint
// must not confirm which emails are registered.
func (h *AccountHandler) RequestPasswordReset(c echo.Context) error {
	var req resetRequestReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	p, err := h.Principals.GetByEmail(ctx, email)
	if err == nil && p.IsActive {
		raw, issueErr := h.Tokens.Issue(ctx, p.ID, model.PurposePasswordReset,
			time.Duration(h.Cfg.ResetTTLMin)*time.Minute)
		if issueErr == nil {
			if sendErr := h.Sender.SendToken(ctx, p.Email, model.PurposePasswordReset, raw); sendErr != nil {
				c.Logger().Errorf("password reset send failed for principal %d: %v", p.ID, sendErr)
			}
		} else {
			c.Logger().Errorf("password reset issue failed for principal %d: %v", p.ID, issueErr)
		}
	}
	// Same answer for unknown emails, inactive accounts and internal
	// hiccups alike.
	return c.JSON(http.StatusAccepted, echo.Map{"status": "sent"})
}

// ConfirmPasswordReset redeems a reset token exactly once, replaces
// the password hash, and revokes every active refresh session so all
// other devices must log in again with the new password.
func (h *AccountHandler) ConfirmPasswordReset(c echo.Context) error {
	var req resetConfirmReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token/new_password required"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), dbTimeout)
	defer cancel()

	pid, err := h.Tokens.Redeem(ctx, strings.TrimSpace(req.Token), model.PurposePasswordReset)
	if err != nil {
		return redeemFailure(c, err)
	}
	if err := h.Principals.UpdatePassword(ctx, pid, req.NewPassword, h.Cfg.BcryptCost); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "update failed"})
	}
	if err := h.Sessions.RevokeAllForUser(ctx, pid); err != nil {
		c.Logger().Errorf("revoke sessions after reset failed for principal %d: %v", pid, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"reset": true})
}

// redeemFailure maps single-use redemption errors onto the HTTP
// taxonomy: a concurrent double-redeem is a conflict, everything else
// is one generic invalid-token answer.
func redeemFailure(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrTokenConsumed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "token already used"})
	case errors.Is(err, repository.ErrTokenExpired), errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid or expired token"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "redeem failed"})
}
