package aggregator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xaynetwork/xaynet/mask"
	"github.com/xaynetwork/xaynet/store"
)

func testConfig() mask.Config {
	return mask.Config{Group: mask.GroupInteger, Data: mask.DataF32, Bound: mask.BoundB0, Model: mask.ModelM3}
}

func startedStore(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	_, err := st.StartNewRound(context.Background(), []byte("seed"))
	require.NoError(t, err)
	ok, err := st.AdvancePhase(context.Background(), store.PhaseSum, store.PhaseUpdate)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEnqueueAccumulatesAcrossWorkers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := store.NewMemoryStore()
	startedStore(t, st)

	cfg := testConfig()
	a, err := New(cfg, st, 16)
	require.NoError(t, err)
	a.Start(ctx, 4)
	defer a.Stop()

	q := cfg.Modulus()
	vecs := []mask.Vector{
		{big.NewInt(1), big.NewInt(2)},
		{big.NewInt(3), big.NewInt(4)},
		{big.NewInt(5), big.NewInt(6)},
	}

	for _, v := range vecs {
		require.NoError(t, a.Enqueue(ctx, v, 1.0))
	}

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)

	expected0 := new(big.Int).Mod(big.NewInt(1+3+5), q)
	expected1 := new(big.Int).Mod(big.NewInt(2+4+6), q)
	assert.Equal(t, expected0, snap.State.AggMasked[0])
	assert.Equal(t, expected1, snap.State.AggMasked[1])
	assert.Equal(t, 3.0, snap.State.TotalScalar)
}

func TestEnqueuePropagatesStoreErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st := store.NewMemoryStore()
	// Deliberately left in Idle so AccumulateMasked rejects with ErrWrongPhase.

	cfg := testConfig()
	a, err := New(cfg, st, 4)
	require.NoError(t, err)
	a.Start(ctx, 2)
	defer a.Stop()

	err = a.Enqueue(ctx, mask.Vector{big.NewInt(1)}, 1.0)
	assert.ErrorIs(t, err, store.ErrWrongPhase)
}

func TestUnmaskRecoversPlaintextModel(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	model := []float64{0.25, -0.5, 0.75}
	scalar := 1.0

	masked, seed, err := mask.Encode(cfg, model, scalar)
	require.NoError(t, err)
	maskVec := mask.DeriveMask(cfg, len(model), seed)

	st := store.NewMemoryStore()
	_, err = st.StartNewRound(ctx, []byte("seed"))
	require.NoError(t, err)
	require.NoError(t, st.RegisterSum(ctx, "pk1", []byte("pke1")))

	_, err = st.AdvancePhase(ctx, store.PhaseSum, store.PhaseUpdate)
	require.NoError(t, err)

	a, err := New(cfg, st, 1)
	require.NoError(t, err)
	a.Start(ctx, 1)
	defer a.Stop()

	require.NoError(t, a.Enqueue(ctx, masked, scalar))

	_, err = st.AdvancePhase(ctx, store.PhaseUpdate, store.PhaseSum2)
	require.NoError(t, err)
	require.NoError(t, st.SubmitMask(ctx, "pk1", maskVec))

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)

	recovered, err := a.Unmask(snap)
	require.NoError(t, err)
	for i := range model {
		assert.InDelta(t, model[i], recovered[i], 1e-4)
	}
}

func TestUnmaskFailsWithNoMaskSubmitted(t *testing.T) {
	cfg := testConfig()
	a, err := New(cfg, store.NewMemoryStore(), 1)
	require.NoError(t, err)

	_, err = a.Unmask(store.Snapshot{State: &store.RoundState{}})
	assert.Error(t, err)
}
