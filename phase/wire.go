package phase

import (
	"fmt"
	"math/big"

	"github.com/xaynetwork/xaynet/mask"
)

// VectorToStrings and VectorFromStrings encode a mask.Vector as decimal
// strings for JSON transport, the same convention store.postgres.go
// uses for its JSONB columns: JSON numbers cannot losslessly carry
// arbitrary-precision integers, but big.Int's decimal text form round
// trips exactly. Exported so callers building wire messages outside
// this package (testutil's fixture builders) use the same encoding the
// coordinator decodes.
func VectorToStrings(v mask.Vector) []string {
	out := make([]string, len(v))
	for i, elem := range v {
		out[i] = elem.Text(10)
	}
	return out
}

func VectorFromStrings(strs []string) (mask.Vector, error) {
	out := make(mask.Vector, len(strs))
	for i, s := range strs {
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("phase: invalid vector element %q at index %d", s, i)
		}
		out[i] = n
	}
	return out, nil
}
