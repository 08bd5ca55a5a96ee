package upload

import (
	"crypto/subtle"
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"
)

// Signer produces and verifies capability signatures using a BLAKE3 keyed
// hash over "key|expiry".
type Signer struct {
	key [32]byte
}

// NewSigner creates a signer from an arbitrary-length secret. The secret is
// hashed down to the fixed-width key BLAKE3 keyed hashing requires.
func NewSigner(secret []byte) *Signer {
	return &Signer{key: blake3.Sum256(secret)}
}

// Sign returns the hex signature for an object key and unix expiry.
func (s *Signer) Sign(objectKey string, expires int64) string {
	h, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		// Unreachable: the key is always 32 bytes.
		panic(err)
	}
	_, _ = h.Write([]byte(objectKey))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether sig matches the signature for objectKey and expiry.
func (s *Signer) Verify(objectKey string, expires int64, sig string) bool {
	want := s.Sign(objectKey, expires)
	return subtle.ConstantTimeCompare([]byte(want), []byte(sig)) == 1
}
