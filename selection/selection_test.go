package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaynetwork/xaynet/crypto"
)

func TestEligibleIsDeterministic(t *testing.T) {
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	roundSeed := []byte("a-round-seed-value-32-bytes-xx!")
	sig, err := Sign(sk, RoleSum, 7, roundSeed)
	require.NoError(t, err)

	first := Eligible(pk, RoleSum, 7, roundSeed, sig, 0.9)
	second := Eligible(pk, RoleSum, 7, roundSeed, sig, 0.9)
	assert.Equal(t, first, second)
}

func TestEligibleRejectsWrongRole(t *testing.T) {
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	roundSeed := []byte("seed")
	sig, err := Sign(sk, RoleSum, 1, roundSeed)
	require.NoError(t, err)

	assert.False(t, Eligible(pk, RoleUpdate, 1, roundSeed, sig, 1.0))
}

func TestEligibleRejectsWrongRound(t *testing.T) {
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	roundSeed := []byte("seed")
	sig, err := Sign(sk, RoleSum, 1, roundSeed)
	require.NoError(t, err)

	assert.False(t, Eligible(pk, RoleSum, 2, roundSeed, sig, 1.0))
}

func TestEligibleRejectsForgedSignature(t *testing.T) {
	pk, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	_, otherSk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	roundSeed := []byte("seed")
	forged, err := Sign(otherSk, RoleSum, 1, roundSeed)
	require.NoError(t, err)

	assert.False(t, Eligible(pk, RoleSum, 1, roundSeed, forged, 1.0))
}

func TestEligibleThresholdZeroRejectsEveryone(t *testing.T) {
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	roundSeed := []byte("seed")
	sig, err := Sign(sk, RoleSum, 1, roundSeed)
	require.NoError(t, err)

	assert.False(t, Eligible(pk, RoleSum, 1, roundSeed, sig, 0))
}

func TestEligibleThresholdOneAcceptsEveryone(t *testing.T) {
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	roundSeed := []byte("seed")
	sig, err := Sign(sk, RoleSum, 1, roundSeed)
	require.NoError(t, err)

	assert.True(t, Eligible(pk, RoleSum, 1, roundSeed, sig, 1.0))
}

func TestScalarInUnitInterval(t *testing.T) {
	_, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	sig, err := Sign(sk, RoleSum, 42, []byte("seed"))
	require.NoError(t, err)

	s := Scalar(sig)
	assert.GreaterOrEqual(t, s, 0.0)
	assert.Less(t, s, 1.0)
}
