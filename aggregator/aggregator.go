package aggregator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/xaynetwork/xaynet/mask"
	"github.com/xaynetwork/xaynet/store"
)

// job is one (masked model, scalar) pair awaiting accumulation, fed to
// the worker pool over a bounded channel per spec.md §5's "bounded
// worker pool... fed masked models via a bounded channel with
// backpressure". Grounded on the teacher's AggregatorImpl
// (aggregator/aggregator.go), generalized from its per-client message
// map to a channel-fed pool: the coordinator's accumulation step is a
// pure commutative fold rather than a stateful per-client cache, so
// there is nothing left to key by sender once a message is admitted.
type job struct {
	vec    mask.Vector
	scalar float64
	result chan error
}

// Aggregator runs a fixed-size pool of workers that each call
// store.Store.AccumulateMasked for one job at a time. Every job sees
// exactly one worker (AccumulateMasked is itself atomic), so the pool's
// only purpose is to bound how much decode/accumulate CPU work is in
// flight concurrently, not to provide additional synchronization.
type Aggregator struct {
	cfg   mask.Config
	store store.Store

	jobs chan job
	wg   sync.WaitGroup

	cancel context.CancelFunc
}

// New returns an Aggregator with the given channel depth. queueDepth
// must be positive.
func New(cfg mask.Config, st store.Store, queueDepth int) (*Aggregator, error) {
	if queueDepth <= 0 {
		return nil, errors.New("aggregator: queueDepth must be positive")
	}
	return &Aggregator{
		cfg:   cfg,
		store: st,
		jobs:  make(chan job, queueDepth),
	}, nil
}

// Start launches workers workers bound to ctx's lifetime.
func (a *Aggregator) Start(ctx context.Context, workers int) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker(ctx)
	}
}

// Stop cancels the worker pool and waits for in-flight jobs to finish.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Aggregator) worker(ctx context.Context) {
	defer a.wg.Done()
	q := a.cfg.Modulus()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-a.jobs:
			err := a.store.AccumulateMasked(ctx, j.vec, j.scalar, q)
			j.result <- err
		}
	}
}

// Enqueue submits one masked model for accumulation and blocks until a
// worker has processed it (or ctx is cancelled), so callers observe the
// same store-conflict/phase-mismatch errors AccumulateMasked itself
// would return. Backpressure comes from the bounded jobs channel: once
// full, Enqueue blocks the caller rather than growing memory
// unboundedly.
func (a *Aggregator) Enqueue(ctx context.Context, vec mask.Vector, scalar float64) error {
	j := job{vec: vec, scalar: scalar, result: make(chan error, 1)}
	select {
	case a.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unmask performs the Sum2-ending computation of spec.md §4.5: select
// the plurality mask from snap's MaskDict (tie-broken lexicographically
// by store.Snapshot.PluralityMask), subtract it from the accumulated
// masked model, and invert the bijection. An error return should be
// treated by the caller as "the round failed to reach the sum2 count
// minimum", not as a retryable condition.
func (a *Aggregator) Unmask(snap store.Snapshot) ([]float64, error) {
	plurality, ok := snap.PluralityMask()
	if !ok {
		return nil, errors.New("aggregator: no mask submitted in sum2")
	}
	if snap.State.AggMasked == nil {
		return nil, errors.New("aggregator: no masked model accumulated in update")
	}
	if len(plurality) != len(snap.State.AggMasked) {
		return nil, fmt.Errorf("aggregator: mask length %d does not match aggregate length %d", len(plurality), len(snap.State.AggMasked))
	}
	return mask.Unmask(a.cfg, snap.State.AggMasked, plurality, snap.State.TotalScalar)
}

// Modulus exposes the aggregator's configured modulus, used by callers
// that decode wire-format masked models before calling Enqueue.
func (a *Aggregator) Modulus() *big.Int {
	return a.cfg.Modulus()
}
