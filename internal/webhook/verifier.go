// Package webhook handles inbound order events from the commerce
// platform: payload decoding and HMAC signature verification.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Verifier authenticates webhook deliveries. Implementations must be
// safe for concurrent use.
type Verifier interface {
	Verify(rawBody []byte, signatureHeader string) bool
}

// HMACVerifier checks a base64-encoded HMAC-SHA256 signature computed
// over the raw request body with a shared secret, the scheme Shopify
// uses for webhook deliveries.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier with the given shared secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Verify recomputes the signature and compares in constant time. An
// empty signature header or empty secret never verifies.
func (v *HMACVerifier) Verify(rawBody []byte, signatureHeader string) bool {
	if signatureHeader == "" || len(v.secret) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}
