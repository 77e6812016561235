package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MerkleRoot folds file digests into a binary Merkle root, duplicating the
// last node on odd levels. Digests may carry a "sha256:" prefix. It returns
// "" for no digests or any digest that is not hex.
func MerkleRoot(digests []string) string {
	if len(digests) == 0 {
		return ""
	}
	level := make([][]byte, 0, len(digests))
	for _, d := range digests {
		b, err := hex.DecodeString(strings.TrimPrefix(d, "sha256:"))
		if err != nil {
			return ""
		}
		level = append(level, b)
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			h := sha256.New()
			h.Write(level[i])
			h.Write(right)
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return "sha256:" + hex.EncodeToString(level[0])
}
