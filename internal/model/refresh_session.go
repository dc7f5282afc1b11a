package model

import "time"

// RefreshSession models a row in the `refresh_sessions` table.  One
// row exists per issued refresh token; the TokenID is the `jti`
// claim embedded in the signed refresh JWT and is the revocation key.
// A session leaves the active state exactly once: rotation on use,
// explicit revocation (logout), or expiry.  RotatedAt and RevokedAt
// are terminal — a session carrying either timestamp must never again
// authorize a refresh.
//
// Fields:
//  TokenID   – unique token identifier (UUID, the jti claim).
//  UserID    – owner of the session.
//  IssuedAt  – when the session was created.
//  ExpiresAt – expiration timestamp of the refresh token.
//  RotatedAt – when the session was superseded by a newer one (nullable).
//  RevokedAt – when the session was explicitly revoked (nullable).
type RefreshSession struct {
    TokenID   string     // refresh_sessions.token_id
    UserID    uint64     // refresh_sessions.user_id
    IssuedAt  time.Time  // refresh_sessions.issued_at
    ExpiresAt time.Time  // refresh_sessions.expires_at
    RotatedAt *time.Time // refresh_sessions.rotated_at (nullable)
    RevokedAt *time.Time // refresh_sessions.revoked_at (nullable)
}

// Active reports whether the session may still authorize a refresh at
// the given instant.
func (s RefreshSession) Active(now time.Time) bool {
    return s.RotatedAt == nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
