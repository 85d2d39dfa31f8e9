package mask

import "math/big"

// GroupType selects the finite group the mask modulus is drawn from.
// Prime groups leave a smaller gap between the largest representable
// weight and the modulus, at some extra cost for computing the modulus;
// Integer groups use the raw bound with no group-theoretic reduction.
type GroupType uint8

const (
	GroupInteger GroupType = iota
	GroupPrime
)

func (g GroupType) String() string {
	switch g {
	case GroupInteger:
		return "integer"
	case GroupPrime:
		return "prime"
	default:
		return "unknown"
	}
}

// DataType is the primitive type of the model weights being masked. It
// fixes how many decimal places of precision the fixed-point encoding
// preserves.
type DataType uint8

const (
	DataF32 DataType = iota
	DataF64
	DataI32
	DataI64
)

func (d DataType) String() string {
	switch d {
	case DataF32:
		return "f32"
	case DataF64:
		return "f64"
	case DataI32:
		return "i32"
	case DataI64:
		return "i64"
	default:
		return "unknown"
	}
}

// expShift is the number of decimal places of precision the fixed-point
// encoding preserves for this data type, matching the bounded-weight
// case from the original mask configuration catalogue.
func (d DataType) expShift() int {
	switch d {
	case DataF32:
		return 10
	case DataF64:
		return 20
	case DataI32, DataI64:
		return 10
	default:
		return 10
	}
}

// BoundType caps the absolute value of every model weight before it is
// bijected into the finite group, trading representable range for a
// smaller modulus (and therefore smaller masked-model wire size).
type BoundType uint8

const (
	BoundB0 BoundType = iota // |weight| <= 1
	BoundB2                  // |weight| <= 100
	BoundB4                  // |weight| <= 10,000
	BoundB6                  // |weight| <= 1,000,000
)

func (b BoundType) String() string {
	switch b {
	case BoundB0:
		return "b0"
	case BoundB2:
		return "b2"
	case BoundB4:
		return "b4"
	case BoundB6:
		return "b6"
	default:
		return "unknown"
	}
}

func (b BoundType) bound() int64 {
	switch b {
	case BoundB0:
		return 1
	case BoundB2:
		return 100
	case BoundB4:
		return 10_000
	case BoundB6:
		return 1_000_000
	default:
		return 1
	}
}

// ModelType bounds the number of masked models that may be aggregated
// together without the modular sum wrapping around and silently
// corrupting the aggregate.
type ModelType uint8

const (
	ModelM3 ModelType = iota // up to 1,000 models
	ModelM6                  // up to 1,000,000 models
	ModelM9                  // up to 1,000,000,000 models
	ModelM12                 // up to 1,000,000,000,000 models
)

func (m ModelType) String() string {
	switch m {
	case ModelM3:
		return "m3"
	case ModelM6:
		return "m6"
	case ModelM9:
		return "m9"
	case ModelM12:
		return "m12"
	default:
		return "unknown"
	}
}

// MaxModels returns the largest number of masked models that may be
// summed under this model type without risking modular wraparound.
func (m ModelType) MaxModels() *big.Int {
	exp := int64(0)
	switch m {
	case ModelM3:
		exp = 3
	case ModelM6:
		exp = 6
	case ModelM9:
		exp = 9
	case ModelM12:
		exp = 12
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
}

// Config is the masking configuration `M` from spec.md §3: it fixes the
// modulus q and the bijection between a signed fixed-point vector and an
// integer vector in [0, q)^L. Every participant and the coordinator must
// agree on the same Config for a given round.
type Config struct {
	Group GroupType `json:"group_type" yaml:"group_type"`
	Data  DataType  `json:"data_type" yaml:"data_type"`
	Bound BoundType `json:"bound_type" yaml:"bound_type"`
	Model ModelType `json:"model_type" yaml:"model_type"`
}

// ExpShift is the number of decimal digits of precision preserved by
// the fixed-point encoding: weights are scaled by 10^ExpShift before
// being rounded to an integer.
func (c Config) ExpShift() int {
	return c.Data.expShift()
}

// AddShift is the additive shift applied before scaling: it moves the
// signed, bounded weight range into the non-negative reals so it can be
// embedded as an unsigned integer.
func (c Config) AddShift() int64 {
	return c.Bound.bound()
}

// scale returns 10^ExpShift as a big.Int.
func (c Config) scale() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(c.ExpShift())), nil)
}

// ScaleFactor returns 10^ExpShift, the factor model weights are
// multiplied by when embedded as fixed-point integers.
func (c Config) ScaleFactor() *big.Int {
	return c.scale()
}

// Modulus computes q: the smallest value (or, for GroupPrime, the
// smallest prime) large enough that MaxModels() masked weights, each in
// [0, 2*AddShift*scale), can be summed without wrapping around. This
// generalizes the teacher's crypto.FieldAddInplace/FieldSubInplace,
// which operated over two hardcoded field orders, to a modulus derived
// at runtime from the configured group/data/bound/model types.
func (c Config) Modulus() *big.Int {
	span := new(big.Int).Mul(big.NewInt(2*c.AddShift()), c.scale())
	base := new(big.Int).Mul(span, c.Model.MaxModels())

	switch c.Group {
	case GroupPrime:
		return nextPrime(base)
	default:
		return base
	}
}

// nextPrime returns the smallest prime >= n.
func nextPrime(n *big.Int) *big.Int {
	candidate := new(big.Int).Set(n)
	if candidate.Bit(0) == 0 {
		candidate.Add(candidate, big.NewInt(1))
	}
	for !candidate.ProbablyPrime(20) {
		candidate.Add(candidate, big.NewInt(2))
	}
	return candidate
}
