// Package store provides the coordinator's durable, atomic state
// primitives. Every mutation of round-scoped state (spec.md §4.4) goes
// through one of the seven operations on the Store interface; nothing
// else may write to round tables. Two implementations are provided:
// MemoryStore, a mutex-guarded in-process store for single-instance
// deployments and tests, and PostgresStore, backed by
// github.com/lib/pq with one round-state row locked per operation.
package store
