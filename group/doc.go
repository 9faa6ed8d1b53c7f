// Package group defines the prime-order group abstraction consumed by the
// MuSig2 multi-signature implementation in package musig.
//
// Three interfaces cover everything the protocol needs from a curve:
//
//   - [Scalar]: integers modulo the group order (secret keys, nonces,
//     coefficients, challenges, partial signatures)
//   - [Point]: group elements (public keys, public nonces, R)
//   - [Group]: factory methods, fixed encoding lengths, random sampling
//     and wide reduction of hash output into the scalar field
//
// # Mutable receivers
//
// Arithmetic methods set the receiver to the result and return it, so
// expressions chain without extra allocations:
//
//	// s = r1 + b*r2
//	s := g.NewScalar().Mul(b, r2)
//	s = g.NewScalar().Add(r1, s)
//
// # Encodings
//
// Every implementation has fixed-length encodings reported by
// [Group.ScalarLen] and [Group.PointLen]. The protocol hashes these
// encodings, so they must be canonical: a value has exactly one encoding
// and SetBytes rejects anything else.
//
// Implementations live in the bjj (Baby Jubjub) and secp256k1 packages.
//
// # Security Considerations
//
// Implementations must ensure:
//
//   - Scalar arithmetic is performed modulo the group order
//   - RandomScalar never returns zero and is unbiased
//   - SetBytes rejects off-curve points and out-of-range scalars
package group
