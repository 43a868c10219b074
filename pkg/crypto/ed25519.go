package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateKeyPair produces a fresh Ed25519 key pair. The public key is
// returned base64-encoded (32 raw bytes), the private key as-is for
// in-process signing.
func GenerateKeyPair() (string, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("key generation failed: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), priv, nil
}

// Sign signs message and returns the base64 signature (64 raw bytes).
func Sign(priv ed25519.PrivateKey, message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, message))
}

// Verify checks sig over message against a base64 public key.
//
// Verification is total: malformed base64, wrong key or signature
// lengths, and failed verification all return false. It never panics
// and never returns an error for any input.
func Verify(publicKeyB64 string, message []byte, signatureB64 string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
}
