package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrInvalidSignature rejects a webhook whose signature does not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Sign computes the hex HMAC-SHA256 of body under secret. Exposed so
// tests and callers can produce valid signatures.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks the webhook signature. An empty secret disables
// verification (development mode).
func verifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return nil
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
