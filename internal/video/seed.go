package video

import (
	"crypto/sha256"
	"encoding/binary"
)

// DeriveSeed hashes the request material into a stable generation seed so the
// same page with the same directive renders the same clip across retries and
// repeat submissions. The value is folded into the positive int64 range the
// upstream accepts.
func DeriveSeed(prompt string, image []byte, pageLabel string) int64 {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write(image)
	h.Write([]byte{0})
	h.Write([]byte(pageLabel))
	sum := h.Sum(nil)
	seed := int64(binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63))
	if seed == 0 {
		seed = 1
	}
	return seed
}
