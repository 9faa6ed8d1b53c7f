package musig

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/f3rmion/musig2/group"
)

// ComputePartialSignature computes s_i = r1 + b*r2 + c*a_i*x_i.
//
// It is the only place where a secret key and secret nonces are combined.
// The nonce pair is zeroed before returning, on success and on error, so a
// second call with the same nonce fails with ErrNonceAlreadyConsumed.
func (m *MuSig) ComputePartialSignature(
	secretKey, coefficient group.Scalar,
	nonce *SecretNonce,
	b, c group.Scalar,
) (group.Scalar, error) {
	if nonce == nil || nonce.r1 == nil || nonce.r2 == nil {
		return nil, errors.New("musig: missing secret nonce")
	}
	if nonce.r1.IsZero() || nonce.r2.IsZero() {
		return nil, ErrNonceAlreadyConsumed
	}
	defer nonce.zero()

	s := m.group.NewScalar().Mul(b, nonce.r2)     // b * r2
	s = m.group.NewScalar().Add(nonce.r1, s)      // r1 + b*r2
	ca := m.group.NewScalar().Mul(c, coefficient) // c * a_i
	cax := m.group.NewScalar().Mul(ca, secretKey) // c * a_i * x_i
	s = m.group.NewScalar().Add(s, cax)           // r1 + b*r2 + c*a_i*x_i
	ca.Zero()
	cax.Zero()
	return s, nil
}

// Signer holds one participant's secret key together with a single nonce
// pair for one ceremony. Sign succeeds at most once.
//
// Create signers using [MuSig.NewSigner].
type Signer struct {
	mu        sync.Mutex
	musig     *MuSig
	id        ParticipantID
	secretKey group.Scalar
	publicKey group.Point
	nonce     *SecretNonce
	public    *PublicNonce
	consumed  bool
}

// NewSigner samples a fresh nonce pair for key and returns a single-use
// signer.
func (m *MuSig) NewSigner(r io.Reader, id ParticipantID, key *KeyPair) (*Signer, error) {
	if key == nil || key.Secret == nil || key.Secret.IsZero() {
		return nil, fmt.Errorf("%w: missing secret key", ErrInvalidKeyMaterial)
	}
	sec, pub, err := m.GenerateNonces(r)
	if err != nil {
		return nil, err
	}
	return &Signer{
		musig:     m,
		id:        id,
		secretKey: key.Secret,
		publicKey: key.Public,
		nonce:     sec,
		public:    pub,
	}, nil
}

// ID returns the participant id the signer signs for.
func (s *Signer) ID() ParticipantID {
	return s.id
}

// PublicNonce returns the public nonces to reveal in round 2.
func (s *Signer) PublicNonce() *PublicNonce {
	return s.public
}

// Commitment returns the round 1 commitment for session sid.
func (s *Signer) Commitment(sid SessionID) Commitment {
	return s.musig.CommitNonce(sid, s.id, s.public)
}

// Sign produces this participant's partial signature on msg.
//
// aggNonce must include this signer's own public nonce at the position of
// its key in keyCtx. The nonce pair is consumed on the first call whether
// or not signing succeeds; any later call fails with
// ErrNonceAlreadyConsumed.
func (s *Signer) Sign(keyCtx *KeyAggContext, aggNonce *AggregatedNonce, msg []byte) (group.Scalar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumed {
		return nil, blame(s.id, ErrNonceAlreadyConsumed)
	}
	s.consumed = true
	defer s.discard()

	idx := keyCtx.IndexOf(s.publicKey)
	if idx < 0 {
		return nil, fmt.Errorf("%w: signer key is not part of the aggregated set", ErrInvalidKeyMaterial)
	}
	if idx >= len(aggNonce.Nonces) || !aggNonce.Nonces[idx].Equal(s.public) {
		return nil, errors.New("musig: own public nonce missing from aggregated nonce")
	}

	c := s.musig.Challenge(aggNonce.R, keyCtx.AggregatedKey, msg)
	return s.musig.ComputePartialSignature(s.secretKey, keyCtx.Coefficients[idx], s.nonce, aggNonce.B, c)
}

// Discard zeroes the nonces without signing, e.g. when a session aborts.
// The signer cannot be used afterwards.
func (s *Signer) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumed = true
	s.discard()
}

func (s *Signer) discard() {
	if s.nonce == nil {
		return
	}
	s.nonce.zero()
	s.nonce = nil
}

// IsConsumed reports whether the nonce pair has been used or discarded.
func (s *Signer) IsConsumed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed
}
