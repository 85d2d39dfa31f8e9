package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xaynetwork/xaynet/crypto"
	"github.com/xaynetwork/xaynet/mask"
	"github.com/xaynetwork/xaynet/phase"
	"github.com/xaynetwork/xaynet/selection"
)

// MaskConfig returns the small mask.Config every package's tests build
// their store/aggregator/coordinator fixtures against: integer group,
// 32-bit float data, the smallest configured bound, and the smallest
// model-count ceiling, matching what the teacher's own testutil kept a
// single NewTestConfig for rather than letting each test assemble its
// own by hand.
func MaskConfig() mask.Config {
	return mask.Config{
		Group: mask.GroupInteger,
		Data:  mask.DataF32,
		Bound: mask.BoundB0,
		Model: mask.ModelM3,
	}
}

// MustKeyPair generates an Ed25519 key pair or fails the test.
func MustKeyPair(t *testing.T) (crypto.PublicKey, crypto.PrivateKey) {
	t.Helper()
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pk, sk
}

// MustKeyPairs generates n independent key pairs.
func MustKeyPairs(t *testing.T, n int) ([]crypto.PublicKey, []crypto.PrivateKey) {
	t.Helper()
	pks := make([]crypto.PublicKey, n)
	sks := make([]crypto.PrivateKey, n)
	for i := range pks {
		pks[i], sks[i] = MustKeyPair(t)
	}
	return pks, sks
}

// SignedSum builds a Sum-phase submission signed by sk for round,
// eligible under roundSeed: the role-eligibility signature comes from
// selection.Sign, the outer envelope from phase.NewSigned, exactly the
// two signatures a real sum participant produces before submitting.
func SignedSum(t *testing.T, sk crypto.PrivateKey, round uint64, roundSeed []byte) *phase.Signed[phase.SumMessage] {
	t.Helper()
	roleSig, err := selection.Sign(sk, selection.RoleSum, round, roundSeed)
	require.NoError(t, err)
	signed, err := phase.NewSigned(sk, &phase.SumMessage{
		ExchangeKey: []byte("exchange-key"),
		RoleSig:     roleSig,
	})
	require.NoError(t, err)
	return signed
}

// SignedUpdate builds an Update-phase submission: maskedModel is
// encoded the same way phase.Coordinator decodes it (phase.VectorToStrings),
// so callers pass a plain mask.Vector.
func SignedUpdate(t *testing.T, sk crypto.PrivateKey, round uint64, roundSeed []byte, maskedModel mask.Vector, scalar float64, localSeedDict map[string][]byte) *phase.Signed[phase.UpdateMessage] {
	t.Helper()
	roleSig, err := selection.Sign(sk, selection.RoleUpdate, round, roundSeed)
	require.NoError(t, err)
	signed, err := phase.NewSigned(sk, &phase.UpdateMessage{
		MaskedModel:   phase.VectorToStrings(maskedModel),
		Scalar:        scalar,
		LocalSeedDict: localSeedDict,
		RoleSig:       roleSig,
	})
	require.NoError(t, err)
	return signed
}

// SignedSum2 builds a Sum2-phase reconstructed-mask submission. Sum2
// has no separate role-eligibility check (a sum participant's Sum-phase
// admission already established eligibility for the round), so only
// the outer envelope is signed.
func SignedSum2(t *testing.T, sk crypto.PrivateKey, reconstructedMask mask.Vector) *phase.Signed[phase.Sum2Message] {
	t.Helper()
	signed, err := phase.NewSigned(sk, &phase.Sum2Message{
		ReconstructedMask: phase.VectorToStrings(reconstructedMask),
	})
	require.NoError(t, err)
	return signed
}
