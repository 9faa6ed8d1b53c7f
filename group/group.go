package group

import (
	"io"
)

// Scalar is an element of the scalar field of a [Group]. All arithmetic
// methods store the result in the receiver and return it.
//
// Implementations must keep values in the range [0, order).
type Scalar interface {
	// Add sets the receiver to a+b and returns it.
	Add(a, b Scalar) Scalar
	// Sub sets the receiver to a-b and returns it.
	Sub(a, b Scalar) Scalar
	// Mul sets the receiver to a*b and returns it.
	Mul(a, b Scalar) Scalar
	// Negate sets the receiver to -a and returns it.
	Negate(a Scalar) Scalar
	// Invert sets the receiver to a^{-1} and returns it.
	// Returns an error if a is zero.
	Invert(a Scalar) (Scalar, error)
	// Set sets the receiver to a and returns it.
	Set(a Scalar) Scalar
	// Zero sets the receiver to zero. Used to wipe secret values.
	Zero()
	// Bytes returns the canonical fixed-length big-endian encoding.
	Bytes() []byte
	// SetBytes decodes a canonical encoding into the receiver.
	// Returns an error if the length is wrong or the value is not
	// below the group order.
	SetBytes(data []byte) (Scalar, error)
	// Equal reports whether the receiver equals b.
	Equal(b Scalar) bool
	// IsZero reports whether the receiver is zero.
	IsZero() bool
}

// Point is an element of a [Group]. Like [Scalar], arithmetic methods
// store the result in the receiver.
//
// The identity element is the additive identity: P + Identity = P.
type Point interface {
	// Add sets the receiver to a+b and returns it.
	Add(a, b Point) Point
	// Sub sets the receiver to a-b and returns it.
	Sub(a, b Point) Point
	// Negate sets the receiver to -a and returns it.
	Negate(a Point) Point
	// ScalarMult sets the receiver to s*p and returns it.
	ScalarMult(s Scalar, p Point) Point
	// Set sets the receiver to a and returns it.
	Set(a Point) Point
	// Bytes returns the canonical compressed encoding of the point.
	Bytes() []byte
	// SetBytes decodes a compressed encoding into the receiver.
	// Returns an error if the data is not a valid group element.
	SetBytes(data []byte) (Point, error)
	// Equal reports whether the receiver equals b.
	Equal(b Point) bool
	// IsIdentity reports whether the receiver is the identity element.
	IsIdentity() bool
}

// Group is a prime-order group suitable for Schnorr signatures.
//
//	g := secp256k1.New()
//	x, _ := g.RandomScalar(rand.Reader)
//	X := g.NewPoint().ScalarMult(x, g.Generator())
type Group interface {
	// Name identifies the group, e.g. "secp256k1". It is mixed into
	// hash domain separation so ceremonies on different curves never
	// share transcripts.
	Name() string
	// NewScalar returns a new zero scalar.
	NewScalar() Scalar
	// NewPoint returns a new identity point.
	NewPoint() Point
	// Generator returns the group's base point.
	Generator() Point
	// RandomScalar returns a uniformly random non-zero scalar.
	RandomScalar(r io.Reader) (Scalar, error)
	// ReduceScalar interprets data as a big-endian integer of any
	// length and reduces it modulo the group order. Hash outputs are
	// mapped into the scalar field with this method.
	ReduceScalar(data []byte) Scalar
	// ScalarLen is the length of [Scalar.Bytes].
	ScalarLen() int
	// PointLen is the length of [Point.Bytes].
	PointLen() int
	// Order returns the group order as a big-endian byte slice.
	Order() []byte
}
