// Package merkle computes the binary Merkle root over an ordered list
// of hex-encoded SHA-256 leaves. Odd nodes at any level are promoted by
// duplication, so the tree is total for any non-zero leaf count.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/jacobsprake/munin-sub000/pkg/contracts"
)

// Root returns the lowercase-hex Merkle root of the leaves, which must
// each be 64 hex chars. An empty leaf list has no root and returns "".
func Root(leaves []string) (string, error) {
	if len(leaves) == 0 {
		return "", nil
	}
	level := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		raw, err := hex.DecodeString(leaf)
		if err != nil || len(raw) != sha256.Size {
			return "", contracts.E(contracts.KindInputInvalid, "leaf %d is not a hex sha-256 digest", i)
		}
		level[i] = raw
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			h := sha256.Sum256(append(append([]byte{}, level[i]...), level[i+1]...))
			next = append(next, h[:])
		}
		level = next
	}
	return hex.EncodeToString(level[0]), nil
}
