package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/carelink-io/carelink/internal/utils"
)

// SingleUseTokenRepo persists email-verification and password-reset
// grants in the 'single_use_tokens' table (single 'token_hash'
// column; the raw value is never stored).
type SingleUseTokenRepo struct{ DB *sql.DB }

func NewSingleUseTokenRepo(db *sql.DB) *SingleUseTokenRepo { return &SingleUseTokenRepo{DB: db} }

// Issue generates a high-entropy raw token, stores its SHA-256
// derivation with the purpose and expiry, and returns the raw value
// for out-of-band delivery.
func (r *SingleUseTokenRepo) Issue(ctx context.Context, userID uint64, purpose string, ttl time.Duration) (string, error) {
	raw, err := utils.RandomHex(32) // 32 bytes -> 64 hex chars
	if err != nil {
		return "", err
	}
	exp := time.Now().UTC().Add(ttl)
	if _, err := r.DB.ExecContext(ctx,
		"INSERT INTO single_use_tokens (user_id, token_hash, purpose, expires_at) VALUES (?,?,?,?)",
		userID, utils.HashTokenRaw(raw), purpose, exp); err != nil {
		return "", err
	}
	return raw, nil
}

// Redeem consumes a raw token exactly once and returns the bound
// principal ID. The consumed_at guard sits inside the UPDATE itself,
// not a separate read-then-write, so N concurrent redeemers of the
// same token produce exactly one success; losers are classified by a
// follow-up read into consumed / expired / not-found.
func (r *SingleUseTokenRepo) Redeem(ctx context.Context, raw, purpose string) (uint64, error) {
	hash := utils.HashTokenRaw(raw)

	res, err := r.DB.ExecContext(ctx,
		"UPDATE single_use_tokens SET consumed_at=UTC_TIMESTAMP() WHERE token_hash=? AND purpose=? AND consumed_at IS NULL AND expires_at > UTC_TIMESTAMP()",
		hash, purpose)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, r.classifyRedeemFailure(ctx, hash, purpose)
	}

	var userID uint64
	err = r.DB.QueryRowContext(ctx,
		"SELECT user_id FROM single_use_tokens WHERE token_hash=? LIMIT 1",
		hash).Scan(&userID)
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// classifyRedeemFailure explains why the conditional consume matched
// nothing. The answer is advisory (the atomic decision already
// happened); it only shapes the caller's error mapping.
func (r *SingleUseTokenRepo) classifyRedeemFailure(ctx context.Context, hash, purpose string) error {
	var (
		expiresAt  time.Time
		consumedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx,
		"SELECT expires_at, consumed_at FROM single_use_tokens WHERE token_hash=? AND purpose=? LIMIT 1",
		hash, purpose).Scan(&expiresAt, &consumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if consumedAt.Valid {
		return ErrTokenConsumed
	}
	if !time.Now().UTC().Before(expiresAt) {
		return ErrTokenExpired
	}
	return ErrNotFound
}
