package mask

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/xaynetwork/xaynet/crypto"
)

// Vector is a fixed-length integer vector, every element in [0, q) for
// the modulus q of the Config it was built with. It is the wire
// representation of both a masked model and a mask itself: the two are
// indistinguishable at this type's level, which is what lets the
// aggregator sum masked models without ever decoding them.
type Vector []*big.Int

// NewVector allocates a zero-filled Vector of the given length.
func NewVector(length int) Vector {
	v := make(Vector, length)
	for i := range v {
		v[i] = new(big.Int)
	}
	return v
}

// Add computes a + b (mod q) element-wise. It is the core identity the
// PET protocol exploits: masked models and masks can both be summed
// this way without ever being unmasked, so intermediate aggregates
// never leak anything about individual contributions.
func Add(a, b Vector, q *big.Int) (Vector, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("mask: length mismatch: %d != %d", len(a), len(b))
	}
	out := make(Vector, len(a))
	for i := range a {
		sum := new(big.Int).Add(a[i], b[i])
		sum.Mod(sum, q)
		out[i] = sum
	}
	return out, nil
}

// Sub computes a - b (mod q) element-wise, wrapping into [0, q).
func Sub(a, b Vector, q *big.Int) (Vector, error) {
	if len(a) != len(b) {
		return nil, fmt.Errorf("mask: length mismatch: %d != %d", len(a), len(b))
	}
	out := make(Vector, len(a))
	for i := range a {
		diff := new(big.Int).Sub(a[i], b[i])
		diff.Mod(diff, q)
		out[i] = diff
	}
	return out, nil
}

// maskStreamInfo binds the deterministic PRNG expansion used to derive
// a mask from a seed to this specific use, so the same seed can never
// be reused to derive key material for anything else.
const maskStreamInfo = "xaynet/pet/mask-stream/v1"

// deriveInts expands seed into length big.Int values, each uniform in
// [0, q). Every element consumes len(q.Bytes())+8 bytes of the
// deterministic stream, reduced mod q; the 8 extra bytes make the
// modular bias from non-uniform reduction negligible for any q used in
// practice, without the complexity of full rejection sampling.
func deriveInts(seed []byte, length int, q *big.Int) []*big.Int {
	chunkLen := len(q.Bytes()) + 8
	stream := crypto.DeterministicPRNG(append([]byte(maskStreamInfo), seed...), length*chunkLen)

	out := make([]*big.Int, length)
	for i := 0; i < length; i++ {
		chunk := stream[i*chunkLen : (i+1)*chunkLen]
		n := new(big.Int).SetBytes(chunk)
		out[i] = n.Mod(n, q)
	}
	return out
}

// DeriveMask reconstructs the mask Vector a participant generated for a
// round from the mask seed it disclosed, without needing the original
// model. The aggregator does not call it: Sum2 messages carry the
// reconstructed mask Vector itself, which Unmask uses as is.
func DeriveMask(cfg Config, length int, seed []byte) Vector {
	q := cfg.Modulus()
	ints := deriveInts(seed, length, q)
	return Vector(ints)
}

// GenerateSeed produces a fresh random mask seed for a participant to
// use for one round. Seeds are never derived from any other secret.
func GenerateSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("mask: generate seed: %w", err)
	}
	return seed, nil
}

// clampFloat bounds x to [-bound, bound].
func clampFloat(x, bound float64) float64 {
	if x > bound {
		return bound
	}
	if x < -bound {
		return -bound
	}
	return x
}

// Encode bijects a model vector into a masked integer Vector: the
// weights are scaled by the per-participant scalar, clamped to the
// configured bound, shifted into the non-negative reals, embedded into
// the finite group [0, q)^L, and masked with a pseudo-random stream
// derived from a freshly generated seed. It mirrors the participant-side
// masking step of spec.md §4.2; the coordinator's own test fixtures use
// it to build realistic sum/update participants.
func Encode(cfg Config, model []float64, scalar float64) (masked Vector, seed []byte, err error) {
	seed, err = GenerateSeed()
	if err != nil {
		return nil, nil, err
	}

	q := cfg.Modulus()
	bound := float64(cfg.AddShift())
	scale := new(big.Float).SetPrec(bigFloatPrec).SetInt(cfg.ScaleFactor())

	scalarClamped := clampFloat(scalar, bound)

	shifted := make([]*big.Int, len(model))
	for i, weight := range model {
		scaled := clampFloat(scalarClamped*weight, bound)
		shifted[i] = toFixedPoint(scaled, bound, scale)
	}

	maskInts := deriveInts(seed, len(model), q)

	out := make(Vector, len(model))
	for i := range shifted {
		sum := new(big.Int).Add(shifted[i], maskInts[i])
		sum.Mod(sum, q)
		out[i] = sum
	}

	return out, seed, nil
}

// bigFloatPrec is generous enough that rounding to the nearest
// fixed-point integer never loses precision for any ExpShift/AddShift
// combination this package's Config produces.
const bigFloatPrec = 256

// toFixedPoint shifts x into the non-negative reals by bound, then
// scales it to an integer, rounding to nearest. big.Float is used
// instead of float64 arithmetic because scale can exceed float64's
// exact-integer precision (2^53) for high-precision data types (e.g.
// F64's 10^20 scale factor).
func toFixedPoint(x, bound float64, scale *big.Float) *big.Int {
	f := new(big.Float).SetPrec(bigFloatPrec).SetFloat64(x + bound)
	f.Mul(f, scale)
	f.Add(f, big.NewFloat(0.5))
	i, _ := f.Int(nil)
	return i
}

// fromFixedPoint inverts toFixedPoint.
func fromFixedPoint(n *big.Int, bound float64, scale *big.Float) float64 {
	f := new(big.Float).SetPrec(bigFloatPrec).SetInt(n)
	f.Quo(f, scale)
	f.Sub(f, big.NewFloat(bound))
	out, _ := f.Float64()
	return out
}

// Unmask inverts Encode's bijection on an aggregated masked model given
// the corresponding aggregated mask, dividing out the accumulated
// scalar to recover a plain averaged model.
//
// The additive shift was applied once per aggregated contribution, so
// it must come out divided by totalScalar along with everything else,
// not subtracted before dividing: diff/scale/totalScalar - bound, never
// diff/scale - bound (which only happens to agree for a single
// contribution, where totalScalar is 1). Callers that aggregate
// contributions under non-uniform per-participant scalars get the
// correct average; Unmask has no way to recover each participant's
// individual scalar, only their sum, so a per-participant bias
// correction beyond that is out of scope here.
func Unmask(cfg Config, aggregatedMasked, aggregatedMask Vector, totalScalar float64) ([]float64, error) {
	if len(aggregatedMasked) != len(aggregatedMask) {
		return nil, errors.New("mask: aggregated masked model and mask length mismatch")
	}
	if totalScalar == 0 {
		return nil, errors.New("mask: total scalar is zero")
	}

	q := cfg.Modulus()
	bound := float64(cfg.AddShift())
	scale := new(big.Float).SetPrec(bigFloatPrec).SetInt(cfg.ScaleFactor())

	out := make([]float64, len(aggregatedMasked))
	for i := range aggregatedMasked {
		diff := new(big.Int).Sub(aggregatedMasked[i], aggregatedMask[i])
		diff.Mod(diff, q)

		f := new(big.Float).SetPrec(bigFloatPrec).SetInt(diff)
		f.Quo(f, scale)
		ratio, _ := f.Float64()
		out[i] = ratio/totalScalar - bound
	}

	return out, nil
}

// Bytes serializes a Vector to a flat wire format: a big-endian element
// count followed by each element as a fixed-width big-endian integer
// sized to the modulus q.
func (v Vector) Bytes(q *big.Int) []byte {
	width := (q.BitLen() + 7) / 8
	out := make([]byte, 4+len(v)*width)
	binary.BigEndian.PutUint32(out[:4], uint32(len(v)))
	for i, elem := range v {
		b := elem.Bytes()
		copy(out[4+i*width+width-len(b):4+(i+1)*width], b)
	}
	return out
}

// ParseVector parses the wire format produced by Bytes.
func ParseVector(data []byte, q *big.Int) (Vector, error) {
	if len(data) < 4 {
		return nil, errors.New("mask: vector too short")
	}
	count := int(binary.BigEndian.Uint32(data[:4]))
	width := (q.BitLen() + 7) / 8
	if len(data) != 4+count*width {
		return nil, fmt.Errorf("mask: vector wrong length: got %d, want %d", len(data), 4+count*width)
	}

	out := make(Vector, count)
	for i := 0; i < count; i++ {
		out[i] = new(big.Int).SetBytes(data[4+i*width : 4+(i+1)*width])
	}
	return out, nil
}
