// Package webhook implements verification, decoding and asynchronous
// dispatch of signed provider callbacks. Verification always runs
// over the exact bytes as received — any upstream parsing or
// re-serialization would invalidate the signature.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Scheme describes one provider's signature convention: the header
// the digest arrives in and an optional prefix in front of the hex
// HMAC (the billing provider sends "sha256=<hex>", the background
// check provider a bare hex digest).
type Scheme struct {
	Header string
	Prefix string
}

var schemes = map[string]Scheme{
	ProviderBilling: {Header: "X-Billing-Signature", Prefix: "sha256="},
	ProviderBgcheck: {Header: "X-Bgcheck-Signature"},
}

// SchemeFor returns the signature scheme for a provider name.
func SchemeFor(provider string) (Scheme, bool) {
	s, ok := schemes[provider]
	return s, ok
}

// Verify checks an HMAC-SHA256 signature over the raw payload bytes.
// An absent or malformed header value is the same rejected outcome as
// a wrong signature — no separate error path. The digest comparison
// is hmac.Equal, which is constant time in the content; only the
// length check may short-circuit.
func (s Scheme) Verify(body []byte, header string, secret []byte) bool {
	if header == "" || len(secret) == 0 {
		return false
	}
	if s.Prefix != "" {
		if !strings.HasPrefix(header, s.Prefix) {
			return false
		}
		header = strings.TrimPrefix(header, s.Prefix)
	}
	provided, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

// Sign computes the header value a provider would send for body,
// prefix included. Used by tests and by local provider simulators.
func (s Scheme) Sign(body []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return s.Prefix + hex.EncodeToString(mac.Sum(nil))
}
