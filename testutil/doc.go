// Package testutil provides shared test fixtures for the coordinator's
// packages: key generation, signed Sum/Update/Sum2 message builders,
// and the mask.Config test tables packages were repeating in their own
// _test.go files.
//
// # Key Generation
//
//	pk, sk := testutil.MustKeyPair(t)
//
// # Signed Message Builders
//
// Each builder signs both the role-eligibility signature (via
// selection.Sign) and the outer message envelope (via phase.NewSigned),
// mirroring exactly what a real participant does before submitting:
//
//	signed := testutil.SignedSum(t, sk, round, roundSeed)
//	signed := testutil.SignedUpdate(t, sk, round, roundSeed, maskedModel, scalar, localSeedDict)
//	signed := testutil.SignedSum2(t, sk, reconstructedMask)
package testutil
