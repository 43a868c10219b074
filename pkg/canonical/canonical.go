// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization. Every hash and every signature input in Munin is
// produced through this package; byte-equality is the correctness
// contract.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

// Marshal returns the canonical JSON bytes of v: object keys sorted by
// code point at every depth, no whitespace, no HTML escaping, shortest
// round-trip numbers, arrays in order, null preserved.
//
// Strategy: marshal to intermediate JSON (respecting struct tags) with
// HTML escaping disabled, then apply the JCS transform.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, contracts.Wrap(contracts.KindEncoding, err, "canonical pre-marshal failed")
	}
	intermediate := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, contracts.Wrap(contracts.KindEncoding, err, "jcs transform failed")
	}
	return out, nil
}

// MarshalString is Marshal returning a string.
func MarshalString(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the lowercase-hex SHA-256 digest of the canonical form of v.
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase-hex SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
