package phase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xaynetwork/xaynet/aggregator"
	"github.com/xaynetwork/xaynet/mask"
	"github.com/xaynetwork/xaynet/selection"
	"github.com/xaynetwork/xaynet/store"
)

// tickInterval is how often the background promotion loop re-checks
// the current phase's counts and deadlines. It is independent of any
// phase's own deadline_min/deadline_max; those are wall-clock values
// compared against store.RoundState.PhaseStartedAt on every tick.
const tickInterval = 200 * time.Millisecond

// Coordinator is C8: it dispatches the three per-phase participant
// messages to store.Store's atomic operations after checking admission
// rules (signature, role eligibility, phase), and drives C6's phase
// machine, promoting between phases on count thresholds and deadlines.
// Grounded structurally on the teacher's server.ServerHandler
// (server/handler.go): a thin struct wrapping a store/impl and a
// transport-agnostic "validate, mutate under the one legal path, check
// for promotion" dispatch shape, generalized here so the mutation path
// goes through store.Store's atomic verbs instead of a raw mutex-guarded
// map.
type Coordinator struct {
	store store.Store
	agg   *aggregator.Aggregator

	maskCfg     mask.Config
	modelLength int
	cfg         Config
	logger      *slog.Logger
}

// NewCoordinator wires a Coordinator over an already-constructed store
// and aggregator. Callers are expected to have called agg.Start before
// passing it in if they want Update submissions to make progress.
func NewCoordinator(st store.Store, agg *aggregator.Aggregator, maskCfg mask.Config, modelLength int, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:       st,
		agg:         agg,
		maskCfg:     maskCfg,
		modelLength: modelLength,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run drives the phase machine until ctx is cancelled: a periodic timer
// checks the current phase's counts and deadlines and attempts
// promotion, mirroring the teacher's ticker-driven
// protocol.LocalRoundCoordinator.Start (protocol/round.go) generalized
// from a single fixed round duration to per-phase count/deadline
// bounds.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tryPromote(ctx)
		}
	}
}

// Info returns the read-only poll response of spec.md §6.
func (c *Coordinator) Info(ctx context.Context) (RoundInfo, error) {
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return RoundInfo{}, err
	}
	deadline := c.deadlineFor(snap.State.Phase)
	return RoundInfo{
		Round:       snap.State.Round,
		Phase:       snap.State.Phase.String(),
		Seed:        snap.State.RoundSeed,
		ModelLength: c.modelLength,
		Thresholds:  c.cfg.Thresholds,
		DeadlineAt:  snap.State.PhaseStartedAt.Add(deadline.Max).UnixNano(),
	}, nil
}

// SubmitSum admits a Sum-phase message: spec.md §4.6's admission table
// entry for Sum.
func (c *Coordinator) SubmitSum(ctx context.Context, signed *Signed[SumMessage]) error {
	obj, pk, err := signed.Recover()
	if err != nil {
		return newError(KindMalformed, err.Error())
	}

	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return newError(KindUnrecoverable, err.Error())
	}
	if snap.State.Phase != store.PhaseSum {
		return newError(KindPhaseMismatch, "not in sum phase")
	}

	if !selection.Eligible(pk, selection.RoleSum, snap.State.Round, snap.State.RoundSeed, obj.RoleSig, c.cfg.Thresholds.Sum) {
		return newError(KindRoleRejection, "not sum-eligible this round")
	}

	if err := c.store.RegisterSum(ctx, pk.String(), obj.ExchangeKey); err != nil {
		return c.translateStoreErr(err)
	}

	c.tryPromote(ctx)
	return nil
}

// SubmitUpdate admits an Update-phase message. The masked model is
// accumulated only after RegisterUpdate succeeds, so a rejected
// registration never reaches the aggregator; see the comment on
// enqueueAfterRegister for the narrow race this ordering leaves open at
// a phase boundary.
func (c *Coordinator) SubmitUpdate(ctx context.Context, signed *Signed[UpdateMessage]) error {
	obj, pk, err := signed.Recover()
	if err != nil {
		return newError(KindMalformed, err.Error())
	}

	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return newError(KindUnrecoverable, err.Error())
	}
	if snap.State.Phase != store.PhaseUpdate {
		return newError(KindPhaseMismatch, "not in update phase")
	}

	if _, alreadySum := snap.State.SumDict[pk.String()]; alreadySum {
		return newError(KindDuplicate, "already registered as sum participant this round")
	}
	if !selection.Eligible(pk, selection.RoleUpdate, snap.State.Round, snap.State.RoundSeed, obj.RoleSig, c.cfg.Thresholds.Update) {
		return newError(KindRoleRejection, "not update-eligible this round")
	}

	maskedVec, err := VectorFromStrings(obj.MaskedModel)
	if err != nil {
		return newError(KindMalformed, err.Error())
	}
	if len(maskedVec) != c.modelLength {
		return newError(KindMalformed, "masked model length does not match configured model length")
	}

	if err := c.store.RegisterUpdate(ctx, pk.String(), obj.LocalSeedDict); err != nil {
		return c.translateStoreErr(err)
	}

	if err := c.enqueueAfterRegister(ctx, pk.String(), maskedVec, obj.Scalar); err != nil {
		return err
	}

	c.tryPromote(ctx)
	return nil
}

// enqueueAfterRegister folds the masked model into the aggregator once
// RegisterUpdate has already recorded the participant. If the phase
// advances between the two calls (only possible at a deadline_max
// forced transition), Enqueue returns store.ErrWrongPhase: the
// participant is already counted toward update_count but their masked
// contribution is lost. This narrow race is inherent to having
// register_update and accumulate_masked as two separate atomic
// operations (spec.md §4.4); it is logged loudly rather than retried,
// since the round's outcome already depends on whatever AggMasked holds
// at Sum2.
func (c *Coordinator) enqueueAfterRegister(ctx context.Context, pkS string, vec mask.Vector, scalar float64) error {
	if err := c.agg.Enqueue(ctx, vec, scalar); err != nil {
		if errors.Is(err, store.ErrWrongPhase) {
			c.logger.Error("masked model dropped at phase boundary",
				"participant", pkS, "error", err)
			return newError(KindStoreConflict, "phase advanced before masked model could be accumulated")
		}
		return newError(KindUnrecoverable, err.Error())
	}
	return nil
}

// SubmitSum2 admits a Sum2-phase message.
func (c *Coordinator) SubmitSum2(ctx context.Context, signed *Signed[Sum2Message]) error {
	obj, pk, err := signed.Recover()
	if err != nil {
		return newError(KindMalformed, err.Error())
	}

	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		return newError(KindUnrecoverable, err.Error())
	}
	if snap.State.Phase != store.PhaseSum2 {
		return newError(KindPhaseMismatch, "not in sum2 phase")
	}
	if _, registered := snap.State.SumDict[pk.String()]; !registered {
		return newError(KindPhaseMismatch, "not a registered sum participant this round")
	}

	maskVec, err := VectorFromStrings(obj.ReconstructedMask)
	if err != nil {
		return newError(KindMalformed, err.Error())
	}

	if err := c.store.SubmitMask(ctx, pk.String(), maskVec); err != nil {
		return c.translateStoreErr(err)
	}

	c.tryPromote(ctx)
	return nil
}

func (c *Coordinator) translateStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrWrongPhase):
		return newError(KindPhaseMismatch, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		return newError(KindDuplicate, err.Error())
	case errors.Is(err, store.ErrShapeMismatch):
		return newError(KindShapeMismatch, err.Error())
	case errors.Is(err, store.ErrNotRegistered):
		return newError(KindPhaseMismatch, err.Error())
	default:
		return newError(KindUnrecoverable, err.Error())
	}
}

func (c *Coordinator) deadlineFor(p store.Phase) DeadlineBounds {
	switch p {
	case store.PhaseSum:
		return c.cfg.SumTime
	case store.PhaseUpdate:
		return c.cfg.UpdateTime
	case store.PhaseSum2:
		return c.cfg.Sum2Time
	default:
		return DeadlineBounds{}
	}
}

// tryPromote is the phase machine's single decision point, called both
// by Run's ticker and opportunistically after every admitted message
// (spec.md §4.6: "triggered by exactly one of: (a) an admitted
// participant message that causes a counter to reach a threshold, or
// (b) the expiration of the current phase's timer"). It always reads a
// fresh snapshot and attempts advance_phase/fail/cleanup as a
// compare-and-set; losing the race is a silent no-op, matching §5's
// "losers of the race retry their own phase check and no-op".
func (c *Coordinator) tryPromote(ctx context.Context) {
	snap, err := c.store.Snapshot(ctx)
	if err != nil {
		c.logger.Error("snapshot failed during promotion check", "error", err)
		return
	}

	elapsed := time.Since(snap.State.PhaseStartedAt)

	switch snap.State.Phase {
	case store.PhaseIdle:
		c.startRound(ctx)
	case store.PhaseSum:
		c.promoteCounted(ctx, store.PhaseSum, store.PhaseUpdate, snap.State.SumCount, c.cfg.SumCount, c.cfg.SumTime, elapsed)
	case store.PhaseUpdate:
		c.promoteCounted(ctx, store.PhaseUpdate, store.PhaseSum2, snap.State.UpdateCount, c.cfg.UpdateCount, c.cfg.UpdateTime, elapsed)
	case store.PhaseSum2:
		c.promoteCounted(ctx, store.PhaseSum2, store.PhaseUnmask, snap.State.Sum2Count, c.cfg.Sum2Count, c.cfg.Sum2Time, elapsed)
	case store.PhaseUnmask:
		c.finishUnmask(ctx, snap)
	case store.PhaseFailed:
		if err := c.store.Cleanup(ctx); err != nil && !errors.Is(err, store.ErrWrongPhase) {
			c.logger.Error("cleanup failed", "error", err)
		}
	}
}

func (c *Coordinator) startRound(ctx context.Context) {
	seed, err := mask.GenerateSeed()
	if err != nil {
		c.logger.Error("failed to generate round seed", "error", err)
		return
	}
	if _, err := c.store.StartNewRound(ctx, seed); err != nil && !errors.Is(err, store.ErrNotIdle) {
		c.logger.Error("failed to start new round", "error", err)
	}
}

// promoteCounted implements one row of spec.md §4.6's transition table:
// promote early once count_max is reached and deadline_min has
// elapsed; force a decision at deadline_max, promoting if count_min was
// reached and failing the round otherwise. count_max == 0 is treated as
// "no ceiling": only the deadline_max branch can then promote.
func (c *Coordinator) promoteCounted(ctx context.Context, from, to store.Phase, count int, counts CountBounds, deadline DeadlineBounds, elapsed time.Duration) {
	pastMin := elapsed >= deadline.Min
	pastMax := elapsed >= deadline.Max
	reachedMin := count >= counts.Min
	reachedMax := counts.Max > 0 && count >= counts.Max

	switch {
	case reachedMax && pastMin:
		if _, err := c.store.AdvancePhase(ctx, from, to); err != nil {
			c.logger.Error("advance phase failed", "from", from, "to", to, "error", err)
		}
	case pastMax:
		if reachedMin {
			if _, err := c.store.AdvancePhase(ctx, from, to); err != nil {
				c.logger.Error("advance phase failed", "from", from, "to", to, "error", err)
			}
		} else if _, err := c.store.Fail(ctx, from); err != nil {
			c.logger.Error("fail transition failed", "phase", from, "error", err)
		}
	}
}

func (c *Coordinator) finishUnmask(ctx context.Context, snap store.Snapshot) {
	model, err := c.agg.Unmask(snap)
	if err != nil {
		c.logger.Warn("unmask failed, failing round", "round", snap.State.Round, "error", err)
		if _, ferr := c.store.Fail(ctx, store.PhaseUnmask); ferr != nil {
			c.logger.Error("fail transition failed", "phase", store.PhaseUnmask, "error", ferr)
		}
		return
	}
	if err := c.store.CommitUnmask(ctx, model); err != nil {
		c.logger.Error("commit unmask failed", "round", snap.State.Round, "error", err)
	}
}
