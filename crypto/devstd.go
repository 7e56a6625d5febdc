package crypto

import (
	"crypto/sha256"

	"golang.org/x/crypto/sha3"
)

// DevStdProvider backs both digests with software implementations.
// Deployments that require certified crypto can swap in their own Provider;
// everything in protocol/ goes through the interface.
type DevStdProvider struct{}

func (DevStdProvider) SHA256(input []byte) [32]byte {
	return sha256.Sum256(input)
}

func (DevStdProvider) SHA3_256(input []byte) [32]byte {
	h := sha3.New256()
	_, _ = h.Write(input)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
