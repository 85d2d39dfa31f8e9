package crypto

import (
	"golang.org/x/crypto/sha3"
)

// DeterministicPRNG expands seed into a byte stream of the requested
// length using SHAKE256, an extendable-output function. It is
// deterministic and has no hidden state: the same seed always expands
// to the same prefix regardless of the requested length.
//
// Used for two purposes in the PET protocol: deriving the per-phase
// eligibility scalar from a role signature (see selection package), and
// expanding a participant's per-round mask seed into the mask vector's
// raw integer stream before reduction mod q (see mask package).
func DeterministicPRNG(seed []byte, length int) []byte {
	out := make([]byte, length)
	h := sha3.NewShake256()
	h.Write(seed)
	h.Read(out)
	return out
}
