// Package selection implements the PET protocol's deterministic role
// eligibility predicate: a participant proves it is entitled to act as
// a sum or update participant for a round by signing a role tag, and
// the coordinator checks that signature against a per-role threshold
// without ever needing to contact the participant about it again.
package selection
