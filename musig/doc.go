// Package musig implements N-of-N MuSig2-style Schnorr multi-signatures
// over an arbitrary prime-order group.
//
// Every participant holds an independent key pair. Together they produce a
// single Schnorr signature (R, s) that verifies against an aggregated
// public key exactly like a single-signer signature:
//
//	s*G == R + c*X_agg,  c = H(R || X_agg || m)
//
// # Key aggregation
//
// [MuSig.AggregateKeys] hashes the ordered key list into a label L and
// weights every key with a_i = H(L || X_i). The weights defeat rogue-key
// attacks. The result depends on the order of the keys, so all
// participants must agree on one ordering first; [SortKeys] and
// [SortParticipants] provide the canonical lexicographic one.
//
// # Signing
//
//  1. Each signer creates a [Signer] with [MuSig.NewSigner], which samples
//     two secret nonces r1, r2 and publishes a [Commitment] to R1, R2
//     computed by [MuSig.CommitNonce].
//  2. Once every commitment is known, signers reveal R1, R2. Everybody
//     checks the reveals with [MuSig.VerifyCommitment] and combines them
//     with [MuSig.AggregateNonces]:
//     b = H(X_agg || m || R_{*,1} || R_{*,2}), R_i = R_i,1 + b*R_i,2, R = sum R_i.
//  3. Each signer calls [Signer.Sign] once to obtain
//     s_i = r1 + b*r2 + c*a_i*x_i. A second call fails with
//     [ErrNonceAlreadyConsumed].
//  4. [MuSig.Aggregate] sums the partial signatures and [MuSig.Verify]
//     checks the result. When verification fails,
//     [MuSig.FindInvalidPartials] attributes the fault.
//
// The session package drives these steps as a state machine and the party
// package runs the participant side over a transport.
//
// # Hashing
//
// Every derivation uses its own domain tag (see [Hasher]). The default is
// [Blake2bHasher]; [SHA256Hasher] uses BIP-340 style tagged hashes.
//
// # Security Considerations
//
// Nonces must never be reused. A [Signer] zeroes its nonces on first use
// and refuses to sign again; persistent reuse detection across restarts is
// the job of the ledger package.
package musig
