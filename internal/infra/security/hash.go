package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"github.com/heyavanindra/FrenCircle-sub001/internal/core/port"
)

// HashToken calculates a SHA-256 hash of the provided value.
// Refresh secrets carry enough entropy that an unsalted digest is sufficient for lookup.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// CodeHasher digests short numeric codes with HMAC-SHA256 under a server-side pepper.
type CodeHasher struct {
	pepper []byte
}

// NewCodeHasher returns a hasher keyed by pepper. An empty pepper degrades to plain SHA-256.
func NewCodeHasher(pepper string) *CodeHasher {
	return &CodeHasher{pepper: []byte(pepper)}
}

// Hash returns the hex digest of code.
func (h *CodeHasher) Hash(code string) string {
	if len(h.pepper) == 0 {
		return HashToken(code)
	}
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(code))
	return hex.EncodeToString(mac.Sum(nil))
}

// Equal compares code against a stored digest in constant time.
func (h *CodeHasher) Equal(code, hash string) bool {
	computed := h.Hash(code)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

var _ port.CodeHasher = (*CodeHasher)(nil)
