package selection

import (
	"encoding/binary"
	"math"
	"math/big"

	"github.com/xaynetwork/xaynet/crypto"
)

// Role is a participant's claimed role for a round.
type Role uint8

const (
	RoleSum Role = iota
	RoleUpdate
)

func (r Role) tag() []byte {
	switch r {
	case RoleSum:
		return []byte("xaynet/pet/role/sum")
	case RoleUpdate:
		return []byte("xaynet/pet/role/update")
	default:
		return []byte("xaynet/pet/role/unknown")
	}
}

// message builds role_tag || round || round_seed, the payload every
// role-eligibility signature is taken over (spec.md §4.3).
func message(role Role, round uint64, roundSeed []byte) []byte {
	buf := make([]byte, 0, len(role.tag())+8+len(roundSeed))
	buf = append(buf, role.tag()...)
	var roundBytes [8]byte
	binary.BigEndian.PutUint64(roundBytes[:], round)
	buf = append(buf, roundBytes[:]...)
	buf = append(buf, roundSeed...)
	return buf
}

// Sign produces the role-eligibility signature sigma_role =
// sign(sk_s, role_tag || r || s_r) a participant presents to prove it
// is entitled to act in the given role for the round.
func Sign(sk crypto.PrivateKey, role Role, round uint64, roundSeed []byte) (crypto.Signature, error) {
	return crypto.Sign(sk, message(role, round, roundSeed))
}

// scalarMax is used to normalize a signature digest into [0, 1). It
// must exceed the largest possible digest-derived integer, which is
// bounded by 2^256 since Scalar folds the signature through a 32-byte
// deterministic digest.
var scalarMax = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 256))

// Scalar folds a role-eligibility signature into a uniform value in
// [0, 1): the signature bytes are expanded into a 32-byte digest via
// the coordinator's deterministic PRNG, then read as an unsigned
// integer and normalized. Because signatures are themselves
// unpredictable without the private key, this scalar is unpredictable
// to anyone who has not seen the signature, and deterministic given it.
func Scalar(sig crypto.Signature) float64 {
	digest := crypto.DeterministicPRNG(append([]byte("xaynet/pet/selection-scalar/v1"), sig...), 32)
	n := new(big.Int).SetBytes(digest)
	f := new(big.Float).SetPrec(128).SetInt(n)
	f.Quo(f, scalarMax)
	out, _ := f.Float64()
	if out >= 1 {
		return math.Nextafter(1, 0)
	}
	return out
}

// Eligible reports whether pk's role-eligibility signature sig, taken
// over (role, round, roundSeed), both verifies and falls under the
// configured threshold for that role. Eligibility is deterministic: the
// same (pk, round, roundSeed, role, sig) always yields the same result.
func Eligible(pk crypto.PublicKey, role Role, round uint64, roundSeed []byte, sig crypto.Signature, threshold float64) bool {
	if !sig.Verify(pk, message(role, round, roundSeed)) {
		return false
	}
	return Scalar(sig) < threshold
}
