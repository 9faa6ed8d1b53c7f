package musig

import (
	"fmt"

	"github.com/f3rmion/musig2/group"
)

// KeyAggContext is the output of key aggregation for one ordered key list.
// It is deterministic: any party recomputing it from the same list gets
// the same values.
type KeyAggContext struct {
	// Keys is the ordered key list the context was built from.
	Keys []group.Point
	// ListHash is L = H(X_1 || ... || X_n).
	ListHash [32]byte
	// Coefficients holds a_i = H(L || X_i), aligned with Keys.
	Coefficients []group.Scalar
	// AggregatedKey is X_agg = sum a_i * X_i.
	AggregatedKey group.Point

	encoded [][]byte
}

// AggregateKeys computes the aggregation coefficients and the aggregated
// public key for an ordered list of at least two distinct keys.
//
// The result depends on the order of keys. Identity keys, duplicate keys,
// and key sets whose aggregate is the identity fail with
// ErrInvalidKeyMaterial.
func (m *MuSig) AggregateKeys(keys []group.Point) (*KeyAggContext, error) {
	if len(keys) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 public keys, got %d", ErrInvalidKeyMaterial, len(keys))
	}

	encoded := encodePoints(keys)
	seen := make(map[string]int, len(keys))
	for i, k := range keys {
		if k.IsIdentity() {
			return nil, fmt.Errorf("%w: public key %d is the identity", ErrInvalidKeyMaterial, i)
		}
		if j, dup := seen[string(encoded[i])]; dup {
			return nil, fmt.Errorf("%w: public keys %d and %d are equal", ErrInvalidKeyMaterial, j, i)
		}
		seen[string(encoded[i])] = i
	}

	list := m.hasher.KeyList(m.group, encoded)

	coeffs := make([]group.Scalar, len(keys))
	agg := m.group.NewPoint()
	for i, k := range keys {
		a := m.hasher.KeyCoefficient(m.group, list, encoded[i])
		coeffs[i] = a
		term := m.group.NewPoint().ScalarMult(a, k)
		agg = m.group.NewPoint().Add(agg, term)
	}
	if agg.IsIdentity() {
		return nil, fmt.Errorf("%w: aggregated key is the identity", ErrInvalidKeyMaterial)
	}

	ordered := make([]group.Point, len(keys))
	for i, k := range keys {
		ordered[i] = m.group.NewPoint().Set(k)
	}

	return &KeyAggContext{
		Keys:          ordered,
		ListHash:      list,
		Coefficients:  coeffs,
		AggregatedKey: agg,
		encoded:       encoded,
	}, nil
}

// IndexOf returns the position of key in the context, or -1.
func (c *KeyAggContext) IndexOf(key group.Point) int {
	enc := string(key.Bytes())
	for i, e := range c.encoded {
		if string(e) == enc {
			return i
		}
	}
	return -1
}

// Coefficient returns the aggregation coefficient of key.
func (c *KeyAggContext) Coefficient(key group.Point) (group.Scalar, error) {
	i := c.IndexOf(key)
	if i < 0 {
		return nil, fmt.Errorf("%w: key is not part of the aggregated set", ErrInvalidKeyMaterial)
	}
	return c.Coefficients[i], nil
}

// Size returns the number of keys.
func (c *KeyAggContext) Size() int {
	return len(c.Keys)
}
