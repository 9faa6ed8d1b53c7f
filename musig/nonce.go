package musig

import (
	"fmt"
	"io"

	"github.com/f3rmion/musig2/group"
)

// SecretNonce is a participant's per-session nonce pair (r1, r2). It must
// never leave the participant and is zeroed after one partial signature.
type SecretNonce struct {
	r1, r2 group.Scalar
}

// zero wipes both scalars.
func (n *SecretNonce) zero() {
	if n.r1 != nil {
		n.r1.Zero()
	}
	if n.r2 != nil {
		n.r2.Zero()
	}
}

// PublicNonce is the public half (R1, R2) = (r1*G, r2*G).
type PublicNonce struct {
	R1 group.Point
	R2 group.Point
}

// Equal reports whether both points match.
func (p *PublicNonce) Equal(o *PublicNonce) bool {
	return p.R1.Equal(o.R1) && p.R2.Equal(o.R2)
}

// GenerateNonces samples two independent secret nonces and derives their
// public points.
func (m *MuSig) GenerateNonces(r io.Reader) (*SecretNonce, *PublicNonce, error) {
	r1, err := m.group.RandomScalar(r)
	if err != nil {
		return nil, nil, fmt.Errorf("sample nonce: %w", err)
	}
	r2, err := m.group.RandomScalar(r)
	if err != nil {
		r1.Zero()
		return nil, nil, fmt.Errorf("sample nonce: %w", err)
	}

	g := m.group.Generator()
	return &SecretNonce{r1: r1, r2: r2}, &PublicNonce{
		R1: m.group.NewPoint().ScalarMult(r1, g),
		R2: m.group.NewPoint().ScalarMult(r2, g),
	}, nil
}

// CommitNonce computes the round 1 commitment to a public nonce. The
// commitment binds the session and the participant so it cannot be
// replayed elsewhere.
func (m *MuSig) CommitNonce(sid SessionID, id ParticipantID, pub *PublicNonce) Commitment {
	return m.hasher.Commitment(m.group, sid, id, pub.R1.Bytes(), pub.R2.Bytes())
}

// VerifyCommitment checks revealed nonces against the earlier commitment.
// A mismatch is attributed to the participant.
func (m *MuSig) VerifyCommitment(sid SessionID, id ParticipantID, pub *PublicNonce, want Commitment) error {
	if !m.CommitNonce(sid, id, pub).Equal(want) {
		return blame(id, ErrCommitmentMismatch)
	}
	return nil
}

// AggregatedNonce is the combination of every participant's public nonces.
type AggregatedNonce struct {
	// Nonces are the revealed public nonces in key order.
	Nonces []*PublicNonce
	// B is the binding scalar.
	B group.Scalar
	// Effective holds R_i = R_i,1 + b*R_i,2 in key order.
	Effective []group.Point
	// R is the sum of Effective.
	R group.Point
}

// AggregateNonces combines the revealed nonces of all participants.
// nonces must be aligned with keyCtx.Keys. ids, when non-nil, attributes a
// degenerate nonce to its participant.
func (m *MuSig) AggregateNonces(keyCtx *KeyAggContext, msg []byte, nonces []*PublicNonce, ids []ParticipantID) (*AggregatedNonce, error) {
	if len(nonces) != keyCtx.Size() {
		return nil, fmt.Errorf("%w: %d nonces for %d keys", errLengthMismatch, len(nonces), keyCtx.Size())
	}

	firsts := make([][]byte, len(nonces))
	seconds := make([][]byte, len(nonces))
	for i, n := range nonces {
		if n == nil || n.R1.IsIdentity() || n.R2.IsIdentity() {
			if ids != nil {
				return nil, blame(ids[i], ErrDegenerateNonce)
			}
			return nil, fmt.Errorf("%w: nonce %d", ErrDegenerateNonce, i)
		}
		firsts[i] = n.R1.Bytes()
		seconds[i] = n.R2.Bytes()
	}

	b := m.hasher.Binding(m.group, keyCtx.AggregatedKey.Bytes(), msg, firsts, seconds)

	effective := make([]group.Point, len(nonces))
	R := m.group.NewPoint()
	for i, n := range nonces {
		bR2 := m.group.NewPoint().ScalarMult(b, n.R2)
		effective[i] = m.group.NewPoint().Add(n.R1, bR2)
		R = m.group.NewPoint().Add(R, effective[i])
	}
	if R.IsIdentity() {
		return nil, fmt.Errorf("%w: aggregated nonce is the identity", ErrDegenerateNonce)
	}

	return &AggregatedNonce{
		Nonces:    nonces,
		B:         b,
		Effective: effective,
		R:         R,
	}, nil
}

// Challenge computes c = H(R || X_agg || m).
func (m *MuSig) Challenge(R, aggKey group.Point, msg []byte) group.Scalar {
	return m.hasher.Challenge(m.group, R.Bytes(), aggKey.Bytes(), msg)
}
