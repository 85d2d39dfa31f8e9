package store

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/xaynetwork/xaynet/mask"
)

// MemoryStore is a sync.Mutex-guarded in-process Store. Every method
// holds the mutex for its whole check-then-mutate body, which is
// trivially linearizable. This is the default backend for a
// single-coordinator-process deployment and for tests; it has no
// durability across restarts, so LoadSnapshot simply returns whatever
// is currently held in memory.
type MemoryStore struct {
	mu    sync.Mutex
	round *RoundState
}

// NewMemoryStore returns a store sitting in Idle at round 0, matching
// the coordinator's initial state before its first StartNewRound.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		round: &RoundState{Phase: PhaseIdle},
	}
}

func (s *MemoryStore) RegisterSum(ctx context.Context, pkS string, pkE []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.Phase != PhaseSum {
		return ErrWrongPhase
	}
	if _, exists := s.round.SumDict[pkS]; exists {
		return ErrDuplicate
	}

	s.round.SumDict[pkS] = append([]byte(nil), pkE...)
	s.round.SumCount++
	return nil
}

func (s *MemoryStore) RegisterUpdate(ctx context.Context, pkSUpdate string, localSeedDict map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.Phase != PhaseUpdate {
		return ErrWrongPhase
	}
	if s.round.UpdateParticipants[pkSUpdate] {
		return ErrDuplicate
	}
	if len(localSeedDict) != len(s.round.SumDict) {
		return ErrShapeMismatch
	}
	for pkSSum := range localSeedDict {
		if _, ok := s.round.SumDict[pkSSum]; !ok {
			return ErrShapeMismatch
		}
	}

	for pkSSum, ciphertext := range localSeedDict {
		inner, ok := s.round.SeedDict[pkSSum]
		if !ok {
			inner = make(map[string][]byte)
			s.round.SeedDict[pkSSum] = inner
		}
		inner[pkSUpdate] = append([]byte(nil), ciphertext...)
	}

	s.round.UpdateParticipants[pkSUpdate] = true
	s.round.UpdateCount++
	return nil
}

func (s *MemoryStore) AccumulateMasked(ctx context.Context, masked mask.Vector, scalar float64, q *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.Phase != PhaseUpdate {
		return ErrWrongPhase
	}

	scaled := scaleVector(masked, scalar, q)

	if s.round.AggMasked == nil {
		s.round.AggMasked = scaled
		s.round.TotalScalar = scalar
		return nil
	}

	sum, err := mask.Add(s.round.AggMasked, scaled, q)
	if err != nil {
		return err
	}
	s.round.AggMasked = sum
	s.round.TotalScalar += scalar
	return nil
}

func (s *MemoryStore) SubmitMask(ctx context.Context, pkSSum string, maskVec mask.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.Phase != PhaseSum2 {
		return ErrWrongPhase
	}
	if _, ok := s.round.SumDict[pkSSum]; !ok {
		return ErrNotRegistered
	}

	delete(s.round.SumDict, pkSSum)

	key := vectorKey(maskVec)
	if s.round.maskVectors == nil {
		s.round.maskVectors = make(map[string]mask.Vector)
	}
	s.round.MaskDict[key]++
	s.round.maskVectors[key] = maskVec
	s.round.Sum2Count++
	return nil
}

func (s *MemoryStore) AdvancePhase(ctx context.Context, expected, next Phase) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.Phase != expected {
		return false, nil
	}
	s.round.Phase = next
	s.round.PhaseStartedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) StartNewRound(ctx context.Context, roundSeed []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.Phase != PhaseIdle {
		return 0, ErrNotIdle
	}

	nextRound := s.round.Round + 1
	previousModel := s.round.GlobalModel
	if s.round.Round == 0 && previousModel == nil {
		// first round ever: Round starts at 0, per spec.md §3.
		nextRound = 0
	}

	s.round = newRoundState(nextRound, roundSeed, previousModel)
	return nextRound, nil
}

func (s *MemoryStore) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{State: cloneRoundState(s.round)}, nil
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	return s.Snapshot(ctx)
}

func (s *MemoryStore) CommitUnmask(ctx context.Context, model []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.Phase != PhaseUnmask {
		return ErrWrongPhase
	}

	s.round = &RoundState{
		Round:          s.round.Round + 1,
		Phase:          PhaseIdle,
		PhaseStartedAt: time.Now(),
		GlobalModel:    model,
	}
	return nil
}

func (s *MemoryStore) Fail(ctx context.Context, expected Phase) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.Phase != expected {
		return false, nil
	}
	s.round.Phase = PhaseFailed
	s.round.PhaseStartedAt = time.Now()
	return true, nil
}

func (s *MemoryStore) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.round.Phase != PhaseFailed {
		return ErrWrongPhase
	}
	s.round = &RoundState{
		Round:          s.round.Round + 1,
		Phase:          PhaseIdle,
		PhaseStartedAt: time.Now(),
		GlobalModel:    s.round.GlobalModel,
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// scaleVector multiplies every element of v by scalar, reducing mod q:
// this is the `scalar_i · m̃_i (mod q)` term of spec.md §4.5's masked
// aggregation.
func scaleVector(v mask.Vector, scalar float64, q *big.Int) mask.Vector {
	out := make(mask.Vector, len(v))
	for i, elem := range v {
		f := new(big.Float).SetPrec(256).SetInt(elem)
		f.Mul(f, big.NewFloat(scalar))
		f.Add(f, big.NewFloat(0.5))
		scaled, _ := f.Int(nil)
		scaled.Mod(scaled, q)
		out[i] = scaled
	}
	return out
}

// vectorKey returns a canonical string key for a mask vector, used to
// key MaskDict's plurality count. It does not depend on a modulus:
// each element's hexadecimal big.Int text is already canonical, and the
// elements are joined with "|".
func vectorKey(v mask.Vector) string {
	parts := make([]string, len(v))
	for i, elem := range v {
		parts[i] = elem.Text(16)
	}
	return strings.Join(parts, "|")
}

// cloneRoundState deep-copies a RoundState so a Snapshot cannot be
// mutated by a caller and corrupt the store's own state (spec.md §4.4:
// "any caller holding a snapshot... may not mutate").
func cloneRoundState(s *RoundState) *RoundState {
	clone := &RoundState{
		Round:          s.Round,
		Phase:          s.Phase,
		RoundSeed:      append([]byte(nil), s.RoundSeed...),
		PhaseStartedAt: s.PhaseStartedAt,
		SumCount:    s.SumCount,
		UpdateCount: s.UpdateCount,
		Sum2Count:   s.Sum2Count,
		TotalScalar: s.TotalScalar,
		GlobalModel: append([]float64(nil), s.GlobalModel...),
	}

	clone.SumDict = make(map[string][]byte, len(s.SumDict))
	for k, v := range s.SumDict {
		clone.SumDict[k] = append([]byte(nil), v...)
	}

	clone.SeedDict = make(map[string]map[string][]byte, len(s.SeedDict))
	for k, inner := range s.SeedDict {
		clonedInner := make(map[string][]byte, len(inner))
		for ik, iv := range inner {
			clonedInner[ik] = append([]byte(nil), iv...)
		}
		clone.SeedDict[k] = clonedInner
	}

	clone.UpdateParticipants = make(map[string]bool, len(s.UpdateParticipants))
	for k, v := range s.UpdateParticipants {
		clone.UpdateParticipants[k] = v
	}

	clone.MaskDict = make(map[string]int, len(s.MaskDict))
	for k, v := range s.MaskDict {
		clone.MaskDict[k] = v
	}

	clone.maskVectors = make(map[string]mask.Vector, len(s.maskVectors))
	for k, v := range s.maskVectors {
		cp := make(mask.Vector, len(v))
		copy(cp, v)
		clone.maskVectors[k] = cp
	}

	if s.AggMasked != nil {
		clone.AggMasked = make(mask.Vector, len(s.AggMasked))
		copy(clone.AggMasked, s.AggMasked)
	}

	return clone
}

// PluralityMask returns the most-frequently-submitted mask in
// MaskDict, breaking ties by lexicographically smallest key (spec.md
// §4.5's tie-break rule), along with whether any mask was submitted.
func (snap Snapshot) PluralityMask() (mask.Vector, bool) {
	if snap.State == nil || len(snap.State.MaskDict) == 0 {
		return nil, false
	}

	var bestKey string
	bestCount := -1
	for key, count := range snap.State.MaskDict {
		if count > bestCount || (count == bestCount && key < bestKey) {
			bestCount = count
			bestKey = key
		}
	}

	return snap.State.maskVectors[bestKey], true
}
