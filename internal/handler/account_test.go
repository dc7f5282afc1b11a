package handler

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink-io/carelink/internal/model"
	"github.com/carelink-io/carelink/internal/repository"
	"github.com/carelink-io/carelink/internal/utils"
)

// captureSender records issued raw tokens instead of emailing them.
type captureSender struct {
	mu   sync.Mutex
	sent []string
}

func (s *captureSender) SendToken(_ context.Context, _, _, raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, raw)
	return nil
}

func newAccountHarness(t *testing.T) (*AccountHandler, *captureSender, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sender := &captureSender{}
	h := NewAccountHandler(testConfig(),
		repository.NewPrincipalRepo(db),
		repository.NewSingleUseTokenRepo(db),
		repository.NewSessionRepo(db),
		sender)
	return h, sender, mock, db
}

func TestConfirmEmailVerification(t *testing.T) {
	h, _, mock, db := newAccountHarness(t)
	defer db.Close()
	e := echo.New()

	raw := "a]bad-format-is-fine-here-the-hash-matters"
	hash := utils.HashTokenRaw(raw)

	mock.ExpectExec("UPDATE single_use_tokens SET consumed_at").
		WithArgs(hash, model.PurposeEmailVerify).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT user_id FROM single_use_tokens").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(uint64(7)))
	mock.ExpectExec("UPDATE principals SET email_verified=1").
		WithArgs(uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := doJSON(e, h.ConfirmEmailVerification, http.MethodPost,
		"/v1/auth/verify-email/confirm", `{"token":"`+raw+`"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// The losing side of a double redemption is a conflict, and a token no
// record exists for is the same generic answer as an expired one.
func TestConfirmEmailVerificationFailures(t *testing.T) {
	h, _, mock, db := newAccountHarness(t)
	defer db.Close()
	e := echo.New()

	raw := "already-spent"
	hash := utils.HashTokenRaw(raw)
	mock.ExpectExec("UPDATE single_use_tokens SET consumed_at").
		WithArgs(hash, model.PurposeEmailVerify).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT expires_at, consumed_at FROM single_use_tokens").
		WithArgs(hash, model.PurposeEmailVerify).
		WillReturnRows(sqlmock.NewRows([]string{"expires_at", "consumed_at"}).
			AddRow(time.Now().UTC().Add(time.Hour), time.Now().UTC()))

	rec := doJSON(e, h.ConfirmEmailVerification, http.MethodPost,
		"/v1/auth/verify-email/confirm", `{"token":"`+raw+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	raw = "never-issued"
	hash = utils.HashTokenRaw(raw)
	mock.ExpectExec("UPDATE single_use_tokens SET consumed_at").
		WithArgs(hash, model.PurposeEmailVerify).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT expires_at, consumed_at FROM single_use_tokens").
		WithArgs(hash, model.PurposeEmailVerify).
		WillReturnRows(sqlmock.NewRows([]string{"expires_at", "consumed_at"}))

	rec = doJSON(e, h.ConfirmEmailVerification, http.MethodPost,
		"/v1/auth/verify-email/confirm", `{"token":"`+raw+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Reset requests answer 202 for known and unknown emails alike; only
// the known account actually gets a token.
func TestRequestPasswordResetNeverConfirmsAccounts(t *testing.T) {
	h, sender, mock, db := newAccountHarness(t)
	defer db.Close()
	e := echo.New()

	hash, err := utils.HashPassword("pw", testConfig().BcryptCost)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id,email,password_hash,role,email_verified,is_active,created_at,updated_at FROM principals WHERE email=").
		WithArgs("p1@example.com").
		WillReturnRows(principalRows(hash))
	mock.ExpectExec("INSERT INTO single_use_tokens").
		WithArgs(uint64(1), sqlmock.AnyArg(), model.PurposePasswordReset, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := doJSON(e, h.RequestPasswordReset, http.MethodPost,
		"/v1/auth/password-reset/request", `{"email":"p1@example.com"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	knownBody := rec.Body.String()

	mock.ExpectQuery("SELECT id,email,password_hash,role,email_verified,is_active,created_at,updated_at FROM principals WHERE email=").
		WithArgs("ghost@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password_hash", "role", "email_verified", "is_active", "created_at", "updated_at"}))

	rec = doJSON(e, h.RequestPasswordReset, http.MethodPost,
		"/v1/auth/password-reset/request", `{"email":"ghost@example.com"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, knownBody, rec.Body.String())

	assert.Len(t, sender.sent, 1)
	assert.Len(t, sender.sent[0], 64, "raw token is 32 random bytes hex-encoded")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A confirmed reset replaces the hash and revokes every live session
// owned by the principal.
func TestConfirmPasswordResetRevokesSessions(t *testing.T) {
	h, _, mock, db := newAccountHarness(t)
	defer db.Close()
	e := echo.New()

	raw := "reset-token-raw"
	hash := utils.HashTokenRaw(raw)

	mock.ExpectExec("UPDATE single_use_tokens SET consumed_at").
		WithArgs(hash, model.PurposePasswordReset).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT user_id FROM single_use_tokens").
		WithArgs(hash).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(uint64(3)))
	mock.ExpectExec("UPDATE principals SET password_hash=").
		WithArgs(sqlmock.AnyArg(), uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE refresh_sessions SET revoked_at").
		WithArgs(uint64(3)).
		WillReturnResult(sqlmock.NewResult(0, 2))

	rec := doJSON(e, h.ConfirmPasswordReset, http.MethodPost,
		"/v1/auth/password-reset/confirm", `{"token":"`+raw+`","new_password":"new-pw-123"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}
