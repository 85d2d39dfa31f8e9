// Package crypto provides the cryptographic primitives used by the PET
// protocol's coordinator: participant signature verification, anonymous
// sealed-box encryption used by update participants to ship mask-seed
// shares to sum participants, and deterministic PRNG stream expansion
// used for both phase-eligibility scalars and mask generation.
//
// # Keys
//
// Ed25519 is used for participant signing/verification (PublicKey,
// PrivateKey, Signature). X25519 is used for the ephemeral key-exchange
// keys sum participants publish each round (KemPublicKey, KemPrivateKey).
//
// # Sealed boxes
//
// Seal/Open implement an anonymous sealed-box construction: a sender
// encrypts to a recipient's per-round exchange public key without
// needing an identity keypair of its own, using an ephemeral X25519
// key, HKDF-SHA256 key derivation, and AES-256-GCM.
//
// # Determinism
//
// Every primitive in this package is a pure function of its inputs.
// There is no hidden package-level mutable state beyond crypto/rand's
// entropy source, which is only consumed by key/nonce generation.
package crypto
