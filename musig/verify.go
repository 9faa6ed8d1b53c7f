package musig

import (
	"errors"
	"fmt"
	"io"

	"github.com/f3rmion/musig2/group"
)

// Aggregate sums the partial signatures into the final signature paired
// with the aggregated nonce R.
func (m *MuSig) Aggregate(partials []group.Scalar, R group.Point) *Signature {
	s := m.group.NewScalar()
	for _, p := range partials {
		s = m.group.NewScalar().Add(s, p)
	}
	return &Signature{R: m.group.NewPoint().Set(R), S: s}
}

// Verify checks s*G == R + c*X_agg with c = H(R || X_agg || m).
func (m *MuSig) Verify(sig *Signature, aggKey group.Point, msg []byte) bool {
	if sig == nil || sig.R == nil || sig.S == nil || aggKey == nil {
		return false
	}
	if sig.R.IsIdentity() || aggKey.IsIdentity() {
		return false
	}

	c := m.Challenge(sig.R, aggKey, msg)

	lhs := m.group.NewPoint().ScalarMult(sig.S, m.group.Generator())
	cX := m.group.NewPoint().ScalarMult(c, aggKey)
	rhs := m.group.NewPoint().Add(sig.R, cX)

	return lhs.Equal(rhs)
}

// VerifyPartial checks one participant's contribution:
// s_i*G == R_i + c*a_i*X_i.
func (m *MuSig) VerifyPartial(partial group.Scalar, effectiveNonce group.Point, c, coefficient group.Scalar, key group.Point) bool {
	lhs := m.group.NewPoint().ScalarMult(partial, m.group.Generator())
	ca := m.group.NewScalar().Mul(c, coefficient)
	caX := m.group.NewPoint().ScalarMult(ca, key)
	rhs := m.group.NewPoint().Add(effectiveNonce, caX)
	return lhs.Equal(rhs)
}

// FindInvalidPartials returns the indices (in key order) of partial
// signatures that fail [MuSig.VerifyPartial]. It is the attribution step
// after an aggregate fails to verify.
func (m *MuSig) FindInvalidPartials(keyCtx *KeyAggContext, aggNonce *AggregatedNonce, msg []byte, partials []group.Scalar) ([]int, error) {
	if len(partials) != keyCtx.Size() || len(aggNonce.Effective) != keyCtx.Size() {
		return nil, errLengthMismatch
	}
	c := m.Challenge(aggNonce.R, keyCtx.AggregatedKey, msg)

	var bad []int
	for i, p := range partials {
		if !m.VerifyPartial(p, aggNonce.Effective[i], c, keyCtx.Coefficients[i], keyCtx.Keys[i]) {
			bad = append(bad, i)
		}
	}
	return bad, nil
}

// SignLocal performs a complete ceremony when every key is held in one
// process. It is meant for tests and tooling; distributed signing goes
// through the session and party packages.
func (m *MuSig) SignLocal(rng io.Reader, keys []*KeyPair, msg []byte) (*Signature, *KeyAggContext, error) {
	if len(keys) == 0 {
		return nil, nil, errors.New("no keys provided")
	}

	pubs := make([]group.Point, len(keys))
	for i, k := range keys {
		pubs[i] = k.Public
	}
	keyCtx, err := m.AggregateKeys(pubs)
	if err != nil {
		return nil, nil, err
	}
	sid := m.SessionID(pubs, msg)

	signers := make([]*Signer, len(keys))
	commitments := make([]Commitment, len(keys))
	for i, k := range keys {
		s, err := m.NewSigner(rng, ParticipantID(i+1), k)
		if err != nil {
			return nil, nil, err
		}
		signers[i] = s
		commitments[i] = s.Commitment(sid)
	}

	nonces := make([]*PublicNonce, len(keys))
	for i, s := range signers {
		if err := m.VerifyCommitment(sid, s.ID(), s.PublicNonce(), commitments[i]); err != nil {
			return nil, nil, err
		}
		nonces[i] = s.PublicNonce()
	}

	aggNonce, err := m.AggregateNonces(keyCtx, msg, nonces, nil)
	if err != nil {
		return nil, nil, err
	}

	partials := make([]group.Scalar, len(keys))
	for i, s := range signers {
		p, err := s.Sign(keyCtx, aggNonce, msg)
		if err != nil {
			return nil, nil, fmt.Errorf("signer %d: %w", i+1, err)
		}
		partials[i] = p
	}

	sig := m.Aggregate(partials, aggNonce.R)
	if !m.Verify(sig, keyCtx.AggregatedKey, msg) {
		return nil, nil, ErrAggregationVerificationFailed
	}
	return sig, keyCtx, nil
}
