package phase

import (
	"context"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaynetwork/xaynet/aggregator"
	"github.com/xaynetwork/xaynet/crypto"
	"github.com/xaynetwork/xaynet/mask"
	"github.com/xaynetwork/xaynet/selection"
	"github.com/xaynetwork/xaynet/store"
)

// testMaskConfig, mustKeyPair, signedSum, signedUpdate, and
// signedSum2 mirror testutil's helpers of the same purpose: this file
// cannot import testutil, since testutil imports phase and this file
// lives in package phase (it needs tryPromote), which would be an
// import cycle.
func testMaskConfig() mask.Config {
	return mask.Config{
		Group: mask.GroupInteger,
		Data:  mask.DataF32,
		Bound: mask.BoundB0,
		Model: mask.ModelM3,
	}
}

func mustKeyPair(t *testing.T) (crypto.PublicKey, crypto.PrivateKey) {
	t.Helper()
	pk, sk, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return pk, sk
}

func signedSum(t *testing.T, sk crypto.PrivateKey, round uint64, roundSeed []byte) *Signed[SumMessage] {
	t.Helper()
	roleSig, err := selection.Sign(sk, selection.RoleSum, round, roundSeed)
	require.NoError(t, err)
	signed, err := NewSigned(sk, &SumMessage{
		ExchangeKey: []byte("exchange-key"),
		RoleSig:     roleSig,
	})
	require.NoError(t, err)
	return signed
}

func signedUpdate(t *testing.T, sk crypto.PrivateKey, round uint64, roundSeed []byte, maskedModel mask.Vector, scalar float64, localSeedDict map[string][]byte) *Signed[UpdateMessage] {
	t.Helper()
	roleSig, err := selection.Sign(sk, selection.RoleUpdate, round, roundSeed)
	require.NoError(t, err)
	signed, err := NewSigned(sk, &UpdateMessage{
		MaskedModel:   VectorToStrings(maskedModel),
		Scalar:        scalar,
		LocalSeedDict: localSeedDict,
		RoleSig:       roleSig,
	})
	require.NoError(t, err)
	return signed
}

func signedSum2(t *testing.T, sk crypto.PrivateKey, reconstructedMask mask.Vector) *Signed[Sum2Message] {
	t.Helper()
	signed, err := NewSigned(sk, &Sum2Message{
		ReconstructedMask: VectorToStrings(reconstructedMask),
	})
	require.NoError(t, err)
	return signed
}

// permissiveConfig never forces a decision via count/time alone unless
// the test advances the clock or count past the given bounds; each
// sub-test overrides only the bounds it exercises.
func permissiveConfig() Config {
	return Config{
		Thresholds:  Thresholds{Sum: 1.0, Update: 1.0},
		SumCount:    CountBounds{Min: 0, Max: 0},
		SumTime:     DeadlineBounds{Min: 0, Max: time.Hour},
		UpdateCount: CountBounds{Min: 0, Max: 0},
		UpdateTime:  DeadlineBounds{Min: 0, Max: time.Hour},
		Sum2Count:   CountBounds{Min: 0, Max: 0},
		Sum2Time:    DeadlineBounds{Min: 0, Max: time.Hour},
	}
}

func newTestCoordinator(t *testing.T, st store.Store, cfg Config, modelLength int) (*Coordinator, *aggregator.Aggregator) {
	t.Helper()
	agg, err := aggregator.New(testMaskConfig(), st, 16)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	agg.Start(ctx, 2)
	t.Cleanup(agg.Stop)
	return NewCoordinator(st, agg, testMaskConfig(), modelLength, cfg, slog.Default()), agg
}

func startedSumRound(t *testing.T, st store.Store) ([]byte, uint64) {
	t.Helper()
	round, err := st.StartNewRound(context.Background(), []byte("a-round-seed-value-32-bytes-xx!!"))
	require.NoError(t, err)
	return []byte("a-round-seed-value-32-bytes-xx!!"), round
}

func TestSubmitSumAdmitsEligibleParticipant(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seed, round := startedSumRound(t, st)

	c, _ := newTestCoordinator(t, st, permissiveConfig(), 3)

	pk, sk := mustKeyPair(t)

	err := c.SubmitSum(ctx, signedSum(t, sk, round, seed))
	assert.NoError(t, err)

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Contains(t, snap.State.SumDict, pk.String())
}

func TestSubmitSumRejectsIneligibleParticipant(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seed, round := startedSumRound(t, st)

	cfg := permissiveConfig()
	cfg.Thresholds.Sum = 0 // threshold 0 means Scalar(sig) < 0 is never true
	c, _ := newTestCoordinator(t, st, cfg, 3)

	_, sk := mustKeyPair(t)

	err := c.SubmitSum(ctx, signedSum(t, sk, round, seed))
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindRoleRejection, perr.Kind)
}

func TestSubmitSumWrongPhaseWhenIdle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	c, _ := newTestCoordinator(t, st, permissiveConfig(), 3)

	_, sk := mustKeyPair(t)

	err := c.SubmitSum(ctx, signedSum(t, sk, 0, []byte("seed")))
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindPhaseMismatch, perr.Kind)
}

func TestSubmitSumMalformedSignatureRejected(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seed, round := startedSumRound(t, st)
	c, _ := newTestCoordinator(t, st, permissiveConfig(), 3)

	_, sk := mustKeyPair(t)
	signed := signedSum(t, sk, round, seed)
	signed.Signature = crypto.NewSignature([]byte("not-a-real-signature-000000000000000000000000"))

	err := c.SubmitSum(ctx, signed)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindMalformed, perr.Kind)
}

func TestSubmitUpdateRejectsSumParticipantAsDuplicate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seed, round := startedSumRound(t, st)
	c, _ := newTestCoordinator(t, st, permissiveConfig(), 3)

	pk, sk := mustKeyPair(t)
	require.NoError(t, c.SubmitSum(ctx, signedSum(t, sk, round, seed)))

	ok, err := st.AdvancePhase(ctx, store.PhaseSum, store.PhaseUpdate)
	require.NoError(t, err)
	require.True(t, ok)

	vec := mask.Vector{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	update := signedUpdate(t, sk, round, seed, vec, 1.0, map[string][]byte{pk.String(): []byte("ct")})

	err = c.SubmitUpdate(ctx, update)
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindDuplicate, perr.Kind)
}

func TestSubmitUpdateAccumulatesMaskedModel(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seed, round := startedSumRound(t, st)

	sumPk, _ := mustKeyPair(t)
	require.NoError(t, st.RegisterSum(ctx, sumPk.String(), []byte("pke")))
	ok, err := st.AdvancePhase(ctx, store.PhaseSum, store.PhaseUpdate)
	require.NoError(t, err)
	require.True(t, ok)

	cfg := permissiveConfig()
	c, _ := newTestCoordinator(t, st, cfg, 3)

	_, updateSk := mustKeyPair(t)

	vec := mask.Vector{big.NewInt(1), big.NewInt(2), big.NewInt(3)}
	update := signedUpdate(t, updateSk, round, seed, vec, 2.0, map[string][]byte{sumPk.String(): []byte("ct")})

	require.NoError(t, c.SubmitUpdate(ctx, update))

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2), snap.State.AggMasked[0])
	assert.Equal(t, big.NewInt(4), snap.State.AggMasked[1])
	assert.Equal(t, big.NewInt(6), snap.State.AggMasked[2])
	assert.Equal(t, 2.0, snap.State.TotalScalar)
}

func TestSubmitSum2RejectsUnregisteredParticipant(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	startedSumRound(t, st)
	ok, err := st.AdvancePhase(ctx, store.PhaseSum, store.PhaseUpdate)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.AdvancePhase(ctx, store.PhaseUpdate, store.PhaseSum2)
	require.NoError(t, err)
	require.True(t, ok)

	c, _ := newTestCoordinator(t, st, permissiveConfig(), 3)

	_, sk := mustKeyPair(t)

	err = c.SubmitSum2(ctx, signedSum2(t, sk, mask.Vector{big.NewInt(1)}))
	require.Error(t, err)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindPhaseMismatch, perr.Kind)
}

// TestHappyRoundEndToEnd drives a full Sum -> Update -> Sum2 -> Unmask
// round through the Coordinator's public submission methods and its
// background tryPromote loop, recovering the plaintext model at the
// end: this is scenario S1 of spec.md §8.
func TestHappyRoundEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	cfg := testMaskConfig()
	modelLength := 3

	pcfg := permissiveConfig()
	pcfg.SumCount = CountBounds{Min: 1, Max: 1}
	pcfg.UpdateCount = CountBounds{Min: 1, Max: 1}
	pcfg.Sum2Count = CountBounds{Min: 1, Max: 1}
	c, _ := newTestCoordinator(t, st, pcfg, modelLength)

	seed, round := startedSumRound(t, st)

	runCtx, stopRun := context.WithCancel(ctx)
	t.Cleanup(stopRun)
	go c.Run(runCtx)

	sumPk, sumSk := mustKeyPair(t)
	require.NoError(t, c.SubmitSum(ctx, signedSum(t, sumSk, round, seed)))

	require.Eventually(t, func() bool {
		snap, err := st.Snapshot(ctx)
		require.NoError(t, err)
		return snap.State.Phase == store.PhaseUpdate
	}, time.Second, 5*time.Millisecond)

	model := []float64{0.1, -0.2, 0.3}
	maskedVec, maskSeed, err := mask.Encode(cfg, model, 1.0)
	require.NoError(t, err)

	_, updateSk := mustKeyPair(t)
	update := signedUpdate(t, updateSk, round, seed, maskedVec, 1.0, map[string][]byte{sumPk.String(): maskSeed})
	require.NoError(t, c.SubmitUpdate(ctx, update))

	require.Eventually(t, func() bool {
		snap, err := st.Snapshot(ctx)
		require.NoError(t, err)
		return snap.State.Phase == store.PhaseSum2
	}, time.Second, 5*time.Millisecond)

	reconstructed := mask.DeriveMask(cfg, modelLength, maskSeed)
	require.NoError(t, c.SubmitSum2(ctx, signedSum2(t, sumSk, reconstructed)))

	require.Eventually(t, func() bool {
		snap, err := st.Snapshot(ctx)
		require.NoError(t, err)
		return snap.State.Phase == store.PhaseIdle && snap.State.Round == round+1
	}, time.Second, 5*time.Millisecond)

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.State.GlobalModel, modelLength)
	for i, want := range model {
		assert.InDelta(t, want, snap.State.GlobalModel[i], 0.01)
	}
}

// TestSumPhaseFailsPastDeadlineMaxBelowCountMin is scenario S2 of
// spec.md §8: a phase that never reaches count_min by deadline_max
// transitions to Failed rather than Update.
func TestSumPhaseFailsPastDeadlineMaxBelowCountMin(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	startedSumRound(t, st)

	cfg := permissiveConfig()
	cfg.SumCount = CountBounds{Min: 2, Max: 0}
	cfg.SumTime = DeadlineBounds{Min: 0, Max: 10 * time.Millisecond}
	c, _ := newTestCoordinator(t, st, cfg, 3)

	require.Eventually(t, func() bool {
		c.tryPromote(ctx)
		snap, err := st.Snapshot(ctx)
		require.NoError(t, err)
		return snap.State.Phase == store.PhaseFailed
	}, time.Second, 5*time.Millisecond)
}

// TestFailedRoundCleansUpToIdle is the Failed--[cleanup done]-->Idle
// edge of spec.md §4.6.
func TestFailedRoundCleansUpToIdle(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	startedSumRound(t, st)
	ok, err := st.Fail(ctx, store.PhaseSum)
	require.NoError(t, err)
	require.True(t, ok)

	c, _ := newTestCoordinator(t, st, permissiveConfig(), 3)
	c.tryPromote(ctx)

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseIdle, snap.State.Phase)
}

// TestSumCountCeilingWaitsForDeadlineMin ensures a phase does not
// promote early just because count_max is reached: spec.md §8 property
// 7, "no phase is exited before deadline_min has elapsed even if its
// count target is met early".
func TestSumCountCeilingWaitsForDeadlineMin(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	seed, round := startedSumRound(t, st)

	cfg := permissiveConfig()
	cfg.SumCount = CountBounds{Min: 1, Max: 1}
	cfg.SumTime = DeadlineBounds{Min: 200 * time.Millisecond, Max: time.Hour}
	c, _ := newTestCoordinator(t, st, cfg, 3)

	_, sk := mustKeyPair(t)
	require.NoError(t, c.SubmitSum(ctx, signedSum(t, sk, round, seed)))

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.PhaseSum, snap.State.Phase, "must not promote before deadline_min even though count_max is reached")

	require.Eventually(t, func() bool {
		c.tryPromote(ctx)
		snap, err := st.Snapshot(ctx)
		require.NoError(t, err)
		return snap.State.Phase == store.PhaseUpdate
	}, time.Second, 10*time.Millisecond)
}
