package secp256k1

import (
	"errors"
	"fmt"
	"io"
	"math/big"

	decred "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/f3rmion/musig2/group"
)

const (
	// Name identifies the secp256k1 group in hash domain separation.
	Name = "secp256k1"

	scalarLen = 32
	pointLen  = decred.PubKeyBytesLenCompressed
)

var (
	curveOrder = new(big.Int).Set(decred.S256().Params().N)

	errScalarLength = errors.New("secp256k1: invalid scalar length")
	errScalarRange  = errors.New("secp256k1: scalar not below group order")
	errPointLength  = errors.New("secp256k1: invalid point length")

	// infinityPoint is the jacobian representation of the point at infinity.
	infinityPoint decred.JacobianPoint
)

// Scalar is an integer modulo the secp256k1 group order.
type Scalar struct {
	inner decred.ModNScalar
}

// Add sets s to a + b and returns s.
func (s *Scalar) Add(a, b group.Scalar) group.Scalar {
	s.inner.Add2(&a.(*Scalar).inner, &b.(*Scalar).inner)
	return s
}

// Sub sets s to a - b and returns s.
func (s *Scalar) Sub(a, b group.Scalar) group.Scalar {
	var negB decred.ModNScalar
	negB.NegateVal(&b.(*Scalar).inner)
	s.inner.Add2(&a.(*Scalar).inner, &negB)
	return s
}

// Mul sets s to a * b and returns s.
func (s *Scalar) Mul(a, b group.Scalar) group.Scalar {
	s.inner.Mul2(&a.(*Scalar).inner, &b.(*Scalar).inner)
	return s
}

// Negate sets s to -a and returns s.
func (s *Scalar) Negate(a group.Scalar) group.Scalar {
	s.inner.NegateVal(&a.(*Scalar).inner)
	return s
}

// Invert sets s to a^(-1) and returns s.
func (s *Scalar) Invert(a group.Scalar) (group.Scalar, error) {
	aScalar := a.(*Scalar)
	if aScalar.inner.IsZero() {
		return nil, errors.New("secp256k1: cannot invert zero scalar")
	}
	s.inner.InverseValNonConst(&aScalar.inner)
	return s, nil
}

// Set copies a into s and returns s.
func (s *Scalar) Set(a group.Scalar) group.Scalar {
	s.inner.Set(&a.(*Scalar).inner)
	return s
}

// Zero clears s.
func (s *Scalar) Zero() {
	s.inner.Zero()
}

// Bytes returns the 32-byte big-endian encoding of s.
func (s *Scalar) Bytes() []byte {
	b := s.inner.Bytes()
	return b[:]
}

// SetBytes decodes a 32-byte big-endian scalar. Values at or above the
// group order are rejected.
func (s *Scalar) SetBytes(data []byte) (group.Scalar, error) {
	if len(data) != scalarLen {
		return nil, errScalarLength
	}
	var v decred.ModNScalar
	if overflow := v.SetByteSlice(data); overflow {
		return nil, errScalarRange
	}
	s.inner.Set(&v)
	return s, nil
}

// Equal reports whether s equals b.
func (s *Scalar) Equal(b group.Scalar) bool {
	return s.inner.Equals(&b.(*Scalar).inner)
}

// IsZero reports whether s is zero.
func (s *Scalar) IsZero() bool {
	return s.inner.IsZero()
}

// Point is a secp256k1 point. It is kept in affine form (Z = 1), or as
// the all-zero jacobian value for the point at infinity, so that equality
// and encoding are direct comparisons.
type Point struct {
	inner decred.JacobianPoint
}

// normalize brings p back to the affine/infinity representation.
func (p *Point) normalize() {
	p.inner.Z.Normalize()
	if p.inner.Z.IsZero() {
		p.inner = infinityPoint
		return
	}
	p.inner.ToAffine()
}

// Add sets p to a + b and returns p.
func (p *Point) Add(a, b group.Point) group.Point {
	decred.AddNonConst(&a.(*Point).inner, &b.(*Point).inner, &p.inner)
	p.normalize()
	return p
}

// Sub sets p to a - b and returns p.
func (p *Point) Sub(a, b group.Point) group.Point {
	var negB Point
	negB.Negate(b)
	decred.AddNonConst(&a.(*Point).inner, &negB.inner, &p.inner)
	p.normalize()
	return p
}

// Negate sets p to -a and returns p.
func (p *Point) Negate(a group.Point) group.Point {
	p.inner.Set(&a.(*Point).inner)
	if p.inner == infinityPoint {
		return p
	}
	p.inner.Y.Negate(1).Normalize()
	return p
}

// ScalarMult sets p to s * q and returns p.
func (p *Point) ScalarMult(s group.Scalar, q group.Point) group.Point {
	decred.ScalarMultNonConst(&s.(*Scalar).inner, &q.(*Point).inner, &p.inner)
	p.normalize()
	return p
}

// Set copies a into p and returns p.
func (p *Point) Set(a group.Point) group.Point {
	p.inner.Set(&a.(*Point).inner)
	return p
}

// Bytes returns the 33-byte compressed encoding of p.
func (p *Point) Bytes() []byte {
	if p.IsIdentity() {
		return make([]byte, pointLen)
	}
	return decred.NewPublicKey(&p.inner.X, &p.inner.Y).SerializeCompressed()
}

// SetBytes decodes a 33-byte compressed point. The all-zero encoding
// decodes to the identity.
func (p *Point) SetBytes(data []byte) (group.Point, error) {
	if len(data) != pointLen {
		return nil, errPointLength
	}
	if isZeroBytes(data) {
		p.inner = infinityPoint
		return p, nil
	}
	pk, err := decred.ParsePubKey(data)
	if err != nil {
		return nil, fmt.Errorf("secp256k1: decode point: %w", err)
	}
	pk.AsJacobian(&p.inner)
	return p, nil
}

// Equal reports whether p and b are the same point.
func (p *Point) Equal(b group.Point) bool {
	q := b.(*Point)
	return p.inner.X.Equals(&q.inner.X) &&
		p.inner.Y.Equals(&q.inner.Y) &&
		p.inner.Z.Equals(&q.inner.Z)
}

// IsIdentity reports whether p is the point at infinity.
func (p *Point) IsIdentity() bool {
	return p.inner == infinityPoint
}

// Curve implements [group.Group] for secp256k1.
type Curve struct {
	generator Point
}

// New returns the secp256k1 group.
func New() *Curve {
	var c Curve
	one := new(decred.ModNScalar).SetInt(1)
	decred.ScalarBaseMultNonConst(one, &c.generator.inner)
	c.generator.normalize()
	return &c
}

// Name returns "secp256k1".
func (c *Curve) Name() string {
	return Name
}

// NewScalar returns a new zero scalar.
func (c *Curve) NewScalar() group.Scalar {
	return &Scalar{}
}

// NewPoint returns the point at infinity.
func (c *Curve) NewPoint() group.Point {
	return &Point{}
}

// Generator returns a copy of the standard base point G.
func (c *Curve) Generator() group.Point {
	var p Point
	p.inner.Set(&c.generator.inner)
	return &p
}

// RandomScalar samples a uniform non-zero scalar by rejection: 32-byte
// candidates that overflow the order or are zero are discarded.
func (c *Curve) RandomScalar(r io.Reader) (group.Scalar, error) {
	var buf [scalarLen]byte
	defer clear(buf[:])
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, err
		}
		var s Scalar
		if overflow := s.inner.SetByteSlice(buf[:]); overflow || s.inner.IsZero() {
			continue
		}
		return &s, nil
	}
}

// ReduceScalar reduces a big-endian integer of any length modulo n.
func (c *Curve) ReduceScalar(data []byte) group.Scalar {
	v := new(big.Int).SetBytes(data)
	v.Mod(v, curveOrder)
	var buf [scalarLen]byte
	v.FillBytes(buf[:])
	var s Scalar
	s.inner.SetByteSlice(buf[:])
	return &s
}

// ScalarLen returns 32.
func (c *Curve) ScalarLen() int {
	return scalarLen
}

// PointLen returns 33.
func (c *Curve) PointLen() int {
	return pointLen
}

// Order returns n as a big-endian byte slice.
func (c *Curve) Order() []byte {
	return curveOrder.Bytes()
}

func isZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
