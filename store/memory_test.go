package store

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaynetwork/xaynet/mask"
)

func startSumPhase(t *testing.T, s *MemoryStore) {
	t.Helper()
	_, err := s.StartNewRound(context.Background(), []byte("seed"))
	require.NoError(t, err)
	require.Equal(t, PhaseSum, s.round.Phase)
}

func TestRegisterSumAcceptsThenRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	startSumPhase(t, s)

	require.NoError(t, s.RegisterSum(ctx, "pk1", []byte("pke1")))
	assert.ErrorIs(t, s.RegisterSum(ctx, "pk1", []byte("pke1")), ErrDuplicate)
}

func TestRegisterSumWrongPhase(t *testing.T) {
	s := NewMemoryStore()
	err := s.RegisterSum(context.Background(), "pk1", []byte("pke1"))
	assert.ErrorIs(t, err, ErrWrongPhase)
}

func TestRegisterUpdateRequiresMatchingSumDict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	startSumPhase(t, s)
	require.NoError(t, s.RegisterSum(ctx, "pk1", []byte("pke1")))
	require.NoError(t, s.RegisterSum(ctx, "pk2", []byte("pke2")))

	ok, err := s.AdvancePhase(ctx, PhaseSum, PhaseUpdate)
	require.NoError(t, err)
	require.True(t, ok)

	err = s.RegisterUpdate(ctx, "upd1", map[string][]byte{"pk1": []byte("ct1")})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	err = s.RegisterUpdate(ctx, "upd1", map[string][]byte{"pk1": []byte("ct1"), "unknown": []byte("ct2")})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	err = s.RegisterUpdate(ctx, "upd1", map[string][]byte{"pk1": []byte("ct1"), "pk2": []byte("ct2")})
	assert.NoError(t, err)

	err = s.RegisterUpdate(ctx, "upd1", map[string][]byte{"pk1": []byte("ct1"), "pk2": []byte("ct2")})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAccumulateMaskedSumsScalarWeighted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	startSumPhase(t, s)
	_, err := s.AdvancePhase(ctx, PhaseSum, PhaseUpdate)
	require.NoError(t, err)

	q := big.NewInt(1000)
	v1 := mask.Vector{big.NewInt(10), big.NewInt(20)}
	v2 := mask.Vector{big.NewInt(5), big.NewInt(7)}

	require.NoError(t, s.AccumulateMasked(ctx, v1, 1.0, q))
	require.NoError(t, s.AccumulateMasked(ctx, v2, 2.0, q))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(20), snap.State.AggMasked[0]) // 10*1 + 5*2
	assert.Equal(t, big.NewInt(34), snap.State.AggMasked[1]) // 20*1 + 7*2
	assert.Equal(t, 3.0, snap.State.TotalScalar)
}

func TestSubmitMaskRemovesFromSumDictAndCountsPlurality(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	startSumPhase(t, s)
	require.NoError(t, s.RegisterSum(ctx, "pk1", []byte("pke1")))
	require.NoError(t, s.RegisterSum(ctx, "pk2", []byte("pke2")))

	_, err := s.AdvancePhase(ctx, PhaseSum, PhaseUpdate)
	require.NoError(t, err)
	_, err = s.AdvancePhase(ctx, PhaseUpdate, PhaseSum2)
	require.NoError(t, err)

	majority := mask.Vector{big.NewInt(1), big.NewInt(2)}
	minority := mask.Vector{big.NewInt(9), big.NewInt(9)}

	require.NoError(t, s.SubmitMask(ctx, "pk1", majority))
	require.NoError(t, s.SubmitMask(ctx, "pk2", minority))

	err = s.SubmitMask(ctx, "pk1", majority)
	assert.ErrorIs(t, err, ErrNotRegistered)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.State.SumDict)
	assert.Len(t, snap.State.MaskDict, 2)
}

func TestPluralityMaskBreaksTiesLexicographically(t *testing.T) {
	snap := Snapshot{
		State: &RoundState{
			MaskDict: map[string]int{"b": 1, "a": 1},
			maskVectors: map[string]mask.Vector{
				"a": {big.NewInt(1)},
				"b": {big.NewInt(2)},
			},
		},
	}

	winner, ok := snap.PluralityMask()
	require.True(t, ok)
	assert.Equal(t, big.NewInt(1), winner[0])
}

func TestAdvancePhaseOnlySucceedsOnExpectedPhase(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	startSumPhase(t, s)

	ok, err := s.AdvancePhase(ctx, PhaseUpdate, PhaseSum2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AdvancePhase(ctx, PhaseSum, PhaseUpdate)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStartNewRoundRequiresIdle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	startSumPhase(t, s)

	_, err := s.StartNewRound(ctx, []byte("seed2"))
	assert.ErrorIs(t, err, ErrNotIdle)
}

func TestSnapshotIsImmutableCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	startSumPhase(t, s)
	require.NoError(t, s.RegisterSum(ctx, "pk1", []byte("pke1")))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)

	snap.State.SumDict["pk2"] = []byte("tampered")

	snap2, err := s.Snapshot(ctx)
	require.NoError(t, err)
	_, exists := snap2.State.SumDict["pk2"]
	assert.False(t, exists)
}

func TestCommitUnmaskAdvancesRoundAndResetsTables(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	startSumPhase(t, s)
	require.NoError(t, s.RegisterSum(ctx, "pk1", []byte("pke1")))
	_, err := s.AdvancePhase(ctx, PhaseSum, PhaseUpdate)
	require.NoError(t, err)
	_, err = s.AdvancePhase(ctx, PhaseUpdate, PhaseSum2)
	require.NoError(t, err)
	_, err = s.AdvancePhase(ctx, PhaseSum2, PhaseUnmask)
	require.NoError(t, err)

	require.NoError(t, s.CommitUnmask(ctx, []float64{1, 2, 3}))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, snap.State.Phase)
	assert.Equal(t, uint64(1), snap.State.Round)
	assert.Empty(t, snap.State.SumDict)
	assert.Equal(t, []float64{1, 2, 3}, snap.State.GlobalModel)
}

func TestFailTransitionsToFailed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	startSumPhase(t, s)

	ok, err := s.Fail(ctx, PhaseSum)
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseFailed, snap.State.Phase)
}

func TestCleanupReturnsToIdleWithoutCommittingModel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	startSumPhase(t, s)

	err := s.Cleanup(ctx)
	assert.ErrorIs(t, err, ErrWrongPhase)

	ok, err := s.Fail(ctx, PhaseSum)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Cleanup(ctx))

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, PhaseIdle, snap.State.Phase)
	assert.Equal(t, uint64(1), snap.State.Round)
	assert.Nil(t, snap.State.GlobalModel)
}
