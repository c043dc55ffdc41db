package dedup

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hasher computes message fingerprints.
type Hasher struct {
	algorithm string
}

func NewHasher(algorithm string) *Hasher {
	return &Hasher{algorithm: algorithm}
}

// Fingerprint hashes the identity fields of a message in a fixed order. The
// same message id and thread id always produce the same fingerprint.
func (h *Hasher) Fingerprint(messageID, threadID string) string {
	input := strings.Join([]string{messageID, threadID}, "|")

	switch h.algorithm {
	case "md5":
		sum := md5.Sum([]byte(input))
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256([]byte(input))
		return hex.EncodeToString(sum[:])
	}
}
