package utils

import (
    "errors"
    "strconv"
    "time"

    "github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
)

// Token parse failures collapse into two cases the handlers care
// about: the credential was once valid and aged out, or it was never
// acceptable (bad signature, wrong algorithm, structural corruption).
var (
    ErrTokenExpired = errors.New("token expired")
    ErrTokenInvalid = errors.New("token invalid")
)

// AccessToken is a signed, self-contained, short-lived credential.
// It is never looked up in any store: possession of a valid signature
// inside the expiry window is the whole check.  The Token field holds
// the serialized JWT; Exp its UTC expiration.
type AccessToken struct {
    Token string
    Exp   time.Time
}

// AccessClaims are the verified contents of an access token.
type AccessClaims struct {
    UserID    uint64
    Role      string
    Email     string
    ExpiresAt time.Time
}

// RefreshToken is a signed, longer-lived credential.  TokenID is the
// jti claim, the key under which the session ledger tracks (and can
// individually revoke) this token.
type RefreshToken struct {
    Token   string
    TokenID string
    Exp     time.Time
}

// RefreshClaims are the verified contents of a refresh token.
// Structural validity is necessary but not sufficient for a refresh:
// the TokenID must still resolve to an active ledger session.
type RefreshClaims struct {
    UserID    uint64
    TokenID   string
    ExpiresAt time.Time
}

// NewAccessToken builds and signs an HS256 JWT for a principal.  The
// claims carry subject, role, email, expiration and issued-at; the
// subject is encoded as a decimal string to survive JSON number
// round-tripping intact.
func NewAccessToken(secret string, userID uint64, role, email string, ttlMin int) (AccessToken, error) {
    now := time.Now().UTC()
    exp := now.Add(time.Duration(ttlMin) * time.Minute)
    claims := jwt.MapClaims{
        "sub":   strconv.FormatUint(userID, 10),
        "role":  role,
        "email": email,
        "exp":   exp.Unix(),
        "iat":   now.Unix(),
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return AccessToken{}, err
    }
    return AccessToken{Token: signed, Exp: exp}, nil
}

// NewRefreshToken builds and signs an HS256 JWT carrying the subject
// and the session's unique token ID (jti).  The refresh secret is
// distinct from the access secret, so neither token kind verifies
// under the other's key.
func NewRefreshToken(secret string, userID uint64, tokenID string, ttlDays int) (RefreshToken, error) {
    now := time.Now().UTC()
    exp := now.Add(time.Duration(ttlDays) * 24 * time.Hour)
    claims := jwt.MapClaims{
        "sub": strconv.FormatUint(userID, 10),
        "jti": tokenID,
        "exp": exp.Unix(),
        "iat": now.Unix(),
    }
    signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
    if err != nil {
        return RefreshToken{}, err
    }
    return RefreshToken{Token: signed, TokenID: tokenID, Exp: exp}, nil
}

// ParseAccessToken verifies signature and expiry of an access token
// and returns its claims.  Signature mismatch, wrong algorithm and
// structural corruption all map to ErrTokenInvalid; only a good
// signature past its window maps to ErrTokenExpired.
func ParseAccessToken(secret, raw string) (AccessClaims, error) {
    claims, err := parseHS256(secret, raw, true)
    if err != nil {
        return AccessClaims{}, err
    }
    uid, err := subjectID(claims)
    if err != nil {
        return AccessClaims{}, err
    }
    role, _ := claims["role"].(string)
    email, _ := claims["email"].(string)
    if role == "" {
        return AccessClaims{}, ErrTokenInvalid
    }
    return AccessClaims{UserID: uid, Role: role, Email: email, ExpiresAt: claimExpiry(claims)}, nil
}

// ParseRefreshToken verifies signature and expiry of a refresh token
// and returns its claims, including the ledger token ID.
func ParseRefreshToken(secret, raw string) (RefreshClaims, error) {
    return parseRefresh(secret, raw, true)
}

// ParseRefreshTokenAllowExpired verifies only the signature of a
// refresh token.  Logout uses it: revoking the session behind an
// expired-but-authentic token is harmless and keeps logout idempotent.
func ParseRefreshTokenAllowExpired(secret, raw string) (RefreshClaims, error) {
    return parseRefresh(secret, raw, false)
}

func parseRefresh(secret, raw string, checkExpiry bool) (RefreshClaims, error) {
    claims, err := parseHS256(secret, raw, checkExpiry)
    if err != nil {
        return RefreshClaims{}, err
    }
    uid, err := subjectID(claims)
    if err != nil {
        return RefreshClaims{}, err
    }
    jti, _ := claims["jti"].(string)
    if jti == "" {
        return RefreshClaims{}, ErrTokenInvalid
    }
    return RefreshClaims{UserID: uid, TokenID: jti, ExpiresAt: claimExpiry(claims)}, nil
}

// parseHS256 parses a token enforcing the HMAC signing method.  The
// key callback rejects any other algorithm so an attacker cannot
// downgrade verification by relabeling the header.
func parseHS256(secret, raw string, checkExpiry bool) (jwt.MapClaims, error) {
    var opts []jwt.ParserOption
    if !checkExpiry {
        opts = append(opts, jwt.WithoutClaimsValidation())
    }
    tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
        if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
            return nil, ErrTokenInvalid
        }
        return []byte(secret), nil
    }, opts...)
    if err != nil {
        if errors.Is(err, jwt.ErrTokenExpired) {
            return nil, ErrTokenExpired
        }
        return nil, ErrTokenInvalid
    }
    claims, ok := tok.Claims.(jwt.MapClaims)
    if !ok || !tok.Valid {
        return nil, ErrTokenInvalid
    }
    return claims, nil
}

func subjectID(claims jwt.MapClaims) (uint64, error) {
    switch v := claims["sub"].(type) {
    case string:
        uid, err := strconv.ParseUint(v, 10, 64)
        if err != nil || uid == 0 {
            return 0, ErrTokenInvalid
        }
        return uid, nil
    case float64:
        // tolerate tokens minted with a numeric subject
        if v <= 0 {
            return 0, ErrTokenInvalid
        }
        return uint64(v), nil
    }
    return 0, ErrTokenInvalid
}

func claimExpiry(claims jwt.MapClaims) time.Time {
    if v, ok := claims["exp"].(float64); ok {
        return time.Unix(int64(v), 0).UTC()
    }
    return time.Time{}
}
