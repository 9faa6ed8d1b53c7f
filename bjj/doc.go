// Package bjj implements [group.Group] on the Baby Jubjub curve for
// MuSig2 multi-signatures over circuits that verify signatures inside a
// SNARK.
//
// Baby Jubjub is a twisted Edwards curve defined over the scalar field of
// BN254 (alt_bn128):
//
//	a*x^2 + y^2 = 1 + d*x^2*y^2
//
// with a = 168700 and d = 168696. Signatures live in its prime-order
// subgroup of size
//
//	2736030358979909402780800718157159386076813972158567259200215660948447373041
//
// The curve has cofactor 8; [Point.SetBytes] rejects points outside the
// prime-order subgroup so a participant cannot smuggle in a small-order
// component.
//
// # Usage
//
//	g := bjj.New()
//	m := musig.New(g)
//
// Curve arithmetic is provided by gnark-crypto.
package bjj
