// Package crypto holds Munin's primitive operations: SHA-256 digests,
// Ed25519 signing, argon2id password hashing and HMAC session tokens.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Separator joins the parts of every concatenated hash input in the
// system: a single ASCII colon (0x3A) between UTF-8 segments.
const Separator = ":"

// SHA256Hex returns the lowercase-hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChainHash returns SHA-256 over the colon-joined UTF-8 parts.
// This is the byte-exact rule for audit entry hashes and packet
// receipt hashes; structural serialization of tuples is deliberately
// not used.
func ChainHash(parts ...string) string {
	return SHA256Hex([]byte(strings.Join(parts, Separator)))
}
