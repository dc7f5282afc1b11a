package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/carelink-io/carelink/internal/model"
)

// SessionRepo persists refresh sessions in the 'refresh_sessions'
// table, keyed by the token ID (jti) embedded in the signed refresh
// JWT. All state transitions are conditional updates so concurrent
// attempts on the same session resolve to exactly one winner.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

// Create inserts a new ISSUED session for the given token ID.
func (r *SessionRepo) Create(ctx context.Context, tokenID string, userID uint64, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_sessions (token_id, user_id, issued_at, expires_at) VALUES (?,?,UTC_TIMESTAMP(),?)",
		tokenID, userID, exp)
	return err
}

// Get fetches a session by token ID regardless of state.
func (r *SessionRepo) Get(ctx context.Context, tokenID string) (model.RefreshSession, error) {
	return scanSession(r.DB.QueryRowContext(ctx,
		"SELECT token_id, user_id, issued_at, expires_at, rotated_at, revoked_at FROM refresh_sessions WHERE token_id=? LIMIT 1",
		tokenID))
}

// Rotate atomically retires the presented session and issues its
// replacement. The UPDATE only matches an active row, so of N
// concurrent refreshes with the same token exactly one creates a new
// session; the rest get ErrSessionTerminal (or ErrNotFound when the
// token ID was never issued). Rotation and insert run in one
// transaction so a crash cannot retire a session without recording
// its successor.
func (r *SessionRepo) Rotate(ctx context.Context, oldTokenID, newTokenID string, userID uint64, exp time.Time) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_sessions SET rotated_at=UTC_TIMESTAMP() WHERE token_id=? AND rotated_at IS NULL AND revoked_at IS NULL AND expires_at > UTC_TIMESTAMP()",
		oldTokenID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Missing and terminal collapse to the same caller-visible
		// outcome; distinguishing them here only aids logging.
		if _, getErr := r.getTx(ctx, tx, oldTokenID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrSessionTerminal
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO refresh_sessions (token_id, user_id, issued_at, expires_at) VALUES (?,?,UTC_TIMESTAMP(),?)",
		newTokenID, userID, exp); err != nil {
		return fmt.Errorf("insert successor session: %w", err)
	}
	return tx.Commit()
}

// Revoke marks a session revoked. Idempotent: revoking an
// already-revoked or nonexistent session is a no-op, so logout always
// succeeds from the caller's perspective.
func (r *SessionRepo) Revoke(ctx context.Context, tokenID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_sessions SET revoked_at=UTC_TIMESTAMP() WHERE token_id=? AND revoked_at IS NULL",
		tokenID)
	return err
}

// RevokeAllForUser revokes every active session owned by a principal,
// used after a password reset to force re-authentication everywhere.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_sessions SET revoked_at=UTC_TIMESTAMP() WHERE user_id=? AND revoked_at IS NULL",
		userID)
	return err
}

func (r *SessionRepo) getTx(ctx context.Context, tx *sql.Tx, tokenID string) (model.RefreshSession, error) {
	return scanSession(tx.QueryRowContext(ctx,
		"SELECT token_id, user_id, issued_at, expires_at, rotated_at, revoked_at FROM refresh_sessions WHERE token_id=? LIMIT 1",
		tokenID))
}

func scanSession(row *sql.Row) (model.RefreshSession, error) {
	var (
		s         model.RefreshSession
		rotatedAt sql.NullTime
		revokedAt sql.NullTime
	)
	err := row.Scan(&s.TokenID, &s.UserID, &s.IssuedAt, &s.ExpiresAt, &rotatedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RefreshSession{}, ErrNotFound
	}
	if err != nil {
		return model.RefreshSession{}, err
	}
	if rotatedAt.Valid {
		s.RotatedAt = &rotatedAt.Time
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	return s, nil
}
