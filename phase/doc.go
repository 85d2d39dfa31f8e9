// Package phase implements the round state machine (C6) and round
// coordinator (C8): admission of the three per-phase participant
// messages, promotion between Idle, Sum, Update, Sum2, Unmask and
// Failed, and the deadline timer that forces a transition even when no
// message triggers one.
package phase
