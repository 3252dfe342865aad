// Package checksum fingerprints file and snapshot contents so unchanged
// data can be skipped.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// String is Sum for text such as content snapshots.
func String(s string) string {
	return Sum([]byte(s))
}
