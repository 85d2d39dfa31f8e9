package store

import (
	"time"

	"github.com/xaynetwork/xaynet/mask"
)

// Phase is one state of the round state machine (spec.md §3, §4.6).
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseSum
	PhaseUpdate
	PhaseSum2
	PhaseUnmask
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSum:
		return "sum"
	case PhaseUpdate:
		return "update"
	case PhaseSum2:
		return "sum2"
	case PhaseUnmask:
		return "unmask"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SeedShare is one update participant's mask-seed ciphertext addressed
// to one sum participant, keyed into SeedDict by both public keys.
type SeedShare struct {
	SumKey    string // hex-encoded pk_s_sum
	UpdateKey string // hex-encoded pk_s_update
	Ciphertext []byte
}

// RoundState is the full set of round-scoped tables described in
// spec.md §3: SumDict, SeedDict, UpdateParticipants, AggMasked/
// TotalScalar, and MaskDict, plus the phase/round scalars that gate
// them. It is created empty at the start of every Sum phase and
// destroyed when the next round begins.
type RoundState struct {
	Round     uint64
	Phase     Phase
	RoundSeed []byte

	// PhaseStartedAt is when the current Phase began; the phase machine
	// uses it to enforce deadline_min/deadline_max (spec.md §4.6, §8
	// property 7). It is persisted so a restart resumes the deadline
	// from the original wall-clock start rather than restarting the
	// timer (spec.md §8 scenario S6).
	PhaseStartedAt time.Time

	// SumDict: pk_s (hex) -> pk_e (raw exchange key bytes).
	SumDict map[string][]byte

	// SeedDict: pk_s_sum (hex) -> pk_s_update (hex) -> ciphertext.
	SeedDict map[string]map[string][]byte

	// UpdateParticipants: pk_s_update (hex) that have already submitted.
	UpdateParticipants map[string]bool

	AggMasked   mask.Vector
	TotalScalar float64

	// MaskDict: mask vector key (each element's hex text, joined by "|")
	// -> submission count.
	MaskDict map[string]int
	// maskVectors retains one decoded Vector per MaskDict key, so the
	// plurality winner can be returned without re-parsing.
	maskVectors map[string]mask.Vector

	// SumCount/UpdateCount/Sum2Count track phase thresholds directly,
	// redundant with the dict sizes above but cheap to keep in sync and
	// convenient for the phase machine's promotion checks.
	SumCount    int
	UpdateCount int
	Sum2Count   int

	GlobalModel []float64 // G_r, retained until G_{r+1} replaces it
}

// newRoundState returns the empty round tables for a freshly started
// round, per spec.md §3's "Lifecycle" invariant.
func newRoundState(round uint64, roundSeed []byte, previousModel []float64) *RoundState {
	return &RoundState{
		Round:              round,
		Phase:              PhaseSum,
		RoundSeed:          roundSeed,
		PhaseStartedAt:     time.Now(),
		SumDict:            make(map[string][]byte),
		SeedDict:           make(map[string]map[string][]byte),
		UpdateParticipants: make(map[string]bool),
		MaskDict:           make(map[string]int),
		maskVectors:        make(map[string]mask.Vector),
		GlobalModel:        previousModel,
	}
}

// Snapshot is a consistent read of everything needed to restore the
// coordinator after a restart (spec.md §4.4 op 7, §6 "Persisted state
// layout").
type Snapshot struct {
	State *RoundState
}
