package utils // package utils provides helper functions for token generation and hashing

import (
    "crypto/rand"   // secure random number generation
    "crypto/sha256" // SHA-256 derivation for stored token forms
    "encoding/hex"  // hex encoding of random bytes and digests
)

// RandomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.  It backs the single-use
// email-verification and password-reset tokens.  If the random number
// generator fails, an error is returned rather than a weaker value.
func RandomHex(n int) (string, error) {
    buf := make([]byte, n)
    if _, err := rand.Read(buf); err != nil {
        return "", err
    }
    return hex.EncodeToString(buf), nil
}

// HashTokenRaw returns the SHA-256 hash of a raw token as a hex
// string.  Only this derived form is ever persisted, so a leaked
// table row cannot be replayed against the redeem endpoints.
func HashTokenRaw(raw string) string {
    sum := sha256.Sum256([]byte(raw))
    return hex.EncodeToString(sum[:])
}
