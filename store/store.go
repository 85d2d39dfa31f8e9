package store

import (
	"context"
	"errors"
	"math/big"

	"github.com/xaynetwork/xaynet/mask"
)

// Sentinel errors returned by the Store operations below. Callers in
// the phase package translate the rejection cases into the 409
// responses of spec.md §6 and anything else into an unrecoverable
// error; they are never ambiguous with transport-layer failures.
var (
	ErrWrongPhase      = errors.New("store: operation not valid in current phase")
	ErrDuplicate       = errors.New("store: participant already registered this round")
	ErrShapeMismatch   = errors.New("store: local seed dict does not match sum dict")
	ErrNotRegistered   = errors.New("store: participant not registered as a sum participant this round")
	ErrPhaseMismatch   = errors.New("store: expected phase does not match current phase")
	ErrNotIdle         = errors.New("store: a round is already in progress")
)

// Store provides the seven atomic, linearizable operations that are
// the only legal way to mutate round-scoped state (spec.md §4.4). Every
// operation here is all-or-nothing: a crash mid-call must leave the
// store exactly as it was before the call, or exactly as it would be
// after.
type Store interface {
	// RegisterSum admits a sum participant in the Sum phase. It is a
	// conflict (ErrDuplicate) if pkS is already present, and rejected
	// with ErrWrongPhase outside Sum.
	RegisterSum(ctx context.Context, pkS string, pkE []byte) error

	// RegisterUpdate admits an update participant in the Update phase.
	// localSeedDict must carry exactly one ciphertext per current
	// SumDict entry (ErrShapeMismatch otherwise), and pkSUpdate must not
	// have already submitted this round (ErrDuplicate).
	RegisterUpdate(ctx context.Context, pkSUpdate string, localSeedDict map[string][]byte) error

	// AccumulateMasked folds one scalar-weighted masked model into the
	// running aggregate during Update. q is the coordinator's
	// configured mask modulus, constant for the coordinator's lifetime;
	// it is passed rather than carried on RoundState because the store
	// itself has no opinion on masking configuration.
	AccumulateMasked(ctx context.Context, masked mask.Vector, scalar float64, q *big.Int) error

	// SubmitMask records one sum participant's reconstructed mask
	// during Sum2, removing it from SumDict so it cannot submit twice.
	SubmitMask(ctx context.Context, pkSSum string, maskVec mask.Vector) error

	// AdvancePhase atomically sets the phase to next iff the current
	// phase equals expected, returning whether the transition happened.
	// Losers of a race are expected to no-op, not error.
	AdvancePhase(ctx context.Context, expected, next Phase) (bool, error)

	// StartNewRound begins round r+1 from Idle: resets every round
	// table, installs the caller-supplied round seed, and sets the phase
	// to Sum.
	// It fails with ErrNotIdle if the current phase is not Idle.
	StartNewRound(ctx context.Context, roundSeed []byte) (round uint64, err error)

	// Snapshot returns a consistent read of everything needed to
	// restore the coordinator after a restart.
	Snapshot(ctx context.Context) (Snapshot, error)

	// LoadSnapshot is Snapshot's startup-time counterpart: it is called
	// exactly once, before the coordinator begins serving, to resume at
	// the phase/round recorded in durable storage. For backends with no
	// separate persistence (MemoryStore) it returns the same state
	// Snapshot would.
	LoadSnapshot(ctx context.Context) (Snapshot, error)

	// CommitUnmask records the unmasked global model for the current
	// round and transitions Unmask -> Idle, incrementing the round
	// counter. It is not one of the seven core verbs of spec.md §4.4,
	// but like them must be atomic: it is the only way Unmask's result
	// becomes the next round's starting state.
	CommitUnmask(ctx context.Context, model []float64) error

	// Fail transitions the current phase to Failed without committing a
	// global model, per spec.md §4.6's Failed transitions.
	Fail(ctx context.Context, expected Phase) (bool, error)

	// Cleanup transitions Failed -> Idle without committing a model,
	// discarding the failed round's tables and keeping GlobalModel
	// unchanged, per spec.md §4.6's "Failed--[cleanup done]-->Idle (do
	// not commit G_r, r := r+1)" edge. It fails with ErrWrongPhase if
	// the current phase is not Failed.
	Cleanup(ctx context.Context) error

	// Close releases any resources held by the store (connections,
	// file handles). MemoryStore's Close is a no-op.
	Close() error
}
