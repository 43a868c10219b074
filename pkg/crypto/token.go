package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// NewSessionToken returns a fresh 32-byte random bearer token,
// base64url encoded. Only its HMAC is ever persisted.
func NewSessionToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("token generation failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// TokenHash returns the hex HMAC-SHA-256 of a raw token under the
// process-lifetime session secret.
func TokenHash(secret []byte, rawToken string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(rawToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// NewSecret returns 32 random bytes for use as the session HMAC secret.
func NewSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("secret generation failed: %w", err)
	}
	return secret, nil
}
