package model

import "time"

// Purpose tags stored in the `single_use_tokens.purpose` column.  A
// token redeemed with the wrong purpose fails even when otherwise valid.
const (
    PurposeEmailVerify   = "EMAIL_VERIFY"
    PurposePasswordReset = "PASSWORD_RESET"
)

// SingleUseToken models a row in the `single_use_tokens` table.  The
// raw token value is never stored; only its SHA-256 hex digest, so a
// leaked table cannot be replayed against the redeem endpoints.
// ConsumedAt is set exactly once by an atomic conditional update —
// a second redemption attempt fails even inside the expiry window.
//
// Fields:
//  ID         – primary key identifier.
//  UserID     – principal the token was issued for.
//  TokenHash  – SHA-256 hex digest of the raw token value.
//  Purpose    – EMAIL_VERIFY or PASSWORD_RESET.
//  ExpiresAt  – expiration timestamp.
//  ConsumedAt – when the token was redeemed (null until then).
//  CreatedAt  – timestamp of creation.
type SingleUseToken struct {
    ID         uint64     // single_use_tokens.id
    UserID     uint64     // single_use_tokens.user_id
    TokenHash  string     // single_use_tokens.token_hash
    Purpose    string     // single_use_tokens.purpose
    ExpiresAt  time.Time  // single_use_tokens.expires_at
    ConsumedAt *time.Time // single_use_tokens.consumed_at (nullable)
    CreatedAt  time.Time  // single_use_tokens.created_at
}
