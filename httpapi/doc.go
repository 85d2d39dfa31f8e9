// Package httpapi exposes the coordinator's round over HTTP: the
// read-only round-info poll, the three per-phase participant
// submission endpoints, multi-part reassembly for oversized messages,
// and a liveness check.
package httpapi
