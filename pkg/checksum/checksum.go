// Package checksum computes the content hashes that gate interchange writes.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix tags every content hash with its algorithm.
const Prefix = "sha256:"

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ContentHash returns "sha256:" followed by the hex digest of body.
// The exact bytes are hashed; no normalization is applied.
func ContentHash(body string) string {
	return Prefix + Sum([]byte(body))
}

// IsContentHash reports whether s has the form "sha256:" + 64 lowercase hex chars.
func IsContentHash(s string) bool {
	hexPart, ok := strings.CutPrefix(s, Prefix)
	if !ok || len(hexPart) != sha256.Size*2 {
		return false
	}
	for _, c := range hexPart {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
