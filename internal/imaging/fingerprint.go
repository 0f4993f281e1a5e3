package imaging

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintPrefixBytes bounds how much of the payload is hashed.
// Hashing the full payload would be wasted work for multi-megabyte images;
// the first 10 KB is more than enough to distinguish distinct uploads, and
// near-duplicate detection is not a goal.
const fingerprintPrefixBytes = 10 * 1024

// Fingerprint derives the cache and deduplication key for an image payload.
// It hashes at most the first 10 KB of the payload with SHA-256 and returns
// the hex digest. Same bytes always produce the same digest.
func Fingerprint(data []byte) string {
	prefix := data
	if len(prefix) > fingerprintPrefixBytes {
		prefix = prefix[:fingerprintPrefixBytes]
	}
	sum := sha256.Sum256(prefix)
	return hex.EncodeToString(sum[:])
}
