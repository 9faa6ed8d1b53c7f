// Package secp256k1 implements [group.Group] on the secp256k1 curve used
// by Bitcoin and Grin, backed by decred's constant-time field and scalar
// arithmetic.
//
// Points use the 33-byte SEC1 compressed encoding. The identity element,
// which has no SEC1 compressed form, is encoded as 33 zero bytes; the
// protocol never puts it on the wire for honest parties, but the encoding
// keeps [group.Point.Bytes] total.
package secp256k1
