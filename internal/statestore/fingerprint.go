package statestore

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprint returns a short BLAKE3 digest of raw record bytes. Two reads
// of an unchanged file produce the same fingerprint.
func Fingerprint(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
