// Package aggregator implements C7: accumulation of scalar-weighted
// masked models during Update via a bounded worker pool, and the final
// mask-unmasking step at the end of Sum2 (spec.md §4.5). It holds no
// round state of its own; every mutation goes through a store.Store.
package aggregator
