package musig

import (
	"bytes"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/f3rmion/musig2/group"
)

// MuSig holds the group and hash function shared by all parties of a
// ceremony. It carries no secrets and is safe for concurrent use.
type MuSig struct {
	group  group.Group
	hasher Hasher
}

// ParticipantID distinguishes signers within a session.
type ParticipantID uint32

// Participant is the public identity of one signer.
type Participant struct {
	ID        ParticipantID
	PublicKey group.Point
}

// SessionID routes protocol messages to one ceremony.
type SessionID [32]byte

func (id SessionID) String() string {
	return hex.EncodeToString(id[:])
}

// Commitment is the round 1 binding hash over a participant's public
// nonces.
type Commitment [32]byte

func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// Equal compares two commitments in constant time.
func (c Commitment) Equal(o Commitment) bool {
	return subtle.ConstantTimeCompare(c[:], o[:]) == 1
}

// KeyPair is a participant's long-term key.
type KeyPair struct {
	Secret group.Scalar
	Public group.Point
}

// Signature is an aggregated Schnorr signature.
type Signature struct {
	R group.Point
	S group.Scalar
}

// New creates a MuSig instance with the default [Blake2bHasher].
func New(g group.Group) *MuSig {
	return NewWithHasher(g, NewBlake2bHasher())
}

// NewWithHasher creates a MuSig instance with a custom hash function.
// All participants of a ceremony must use the same hasher.
func NewWithHasher(g group.Group, h Hasher) *MuSig {
	return &MuSig{group: g, hasher: h}
}

// Group returns the underlying group.
func (m *MuSig) Group() group.Group {
	return m.group
}

// Hasher returns the hash function in use.
func (m *MuSig) Hasher() Hasher {
	return m.hasher
}

// GenerateKey samples a fresh key pair.
func (m *MuSig) GenerateKey(r io.Reader) (*KeyPair, error) {
	x, err := m.group.RandomScalar(r)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		Secret: x,
		Public: m.group.NewPoint().ScalarMult(x, m.group.Generator()),
	}, nil
}

// KeyFromSecret rebuilds a key pair from an encoded secret scalar.
func (m *MuSig) KeyFromSecret(secret []byte) (*KeyPair, error) {
	x, err := m.group.NewScalar().SetBytes(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret key: %w", err)
	}
	if x.IsZero() {
		return nil, fmt.Errorf("%w: zero secret key", ErrInvalidKeyMaterial)
	}
	return &KeyPair{
		Secret: x,
		Public: m.group.NewPoint().ScalarMult(x, m.group.Generator()),
	}, nil
}

// SessionID derives the session identifier from the ordered key list and
// the message.
func (m *MuSig) SessionID(keys []group.Point, msg []byte) SessionID {
	return m.hasher.SessionID(m.group, encodePoints(keys), msg)
}

// ParsePoint decodes a point in the group's canonical encoding.
func (m *MuSig) ParsePoint(b []byte) (group.Point, error) {
	return m.group.NewPoint().SetBytes(b)
}

// ParseScalar decodes a scalar in the group's canonical encoding.
func (m *MuSig) ParseScalar(b []byte) (group.Scalar, error) {
	return m.group.NewScalar().SetBytes(b)
}

// Bytes returns R || s.
func (s *Signature) Bytes() []byte {
	r, sc := s.R.Bytes(), s.S.Bytes()
	out := make([]byte, 0, len(r)+len(sc))
	out = append(out, r...)
	return append(out, sc...)
}

// ParseSignature decodes R || s.
func (m *MuSig) ParseSignature(b []byte) (*Signature, error) {
	pl, sl := m.group.PointLen(), m.group.ScalarLen()
	if len(b) != pl+sl {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", pl+sl, len(b))
	}
	R, err := m.group.NewPoint().SetBytes(b[:pl])
	if err != nil {
		return nil, fmt.Errorf("decode R: %w", err)
	}
	s, err := m.group.NewScalar().SetBytes(b[pl:])
	if err != nil {
		return nil, fmt.Errorf("decode s: %w", err)
	}
	return &Signature{R: R, S: s}, nil
}

// SortKeys returns a copy of keys in canonical order: lexicographic by
// encoding.
func SortKeys(keys []group.Point) []group.Point {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b group.Point) int {
		return bytes.Compare(a.Bytes(), b.Bytes())
	})
	return out
}

// SortParticipants orders participants canonically by encoded public key.
func SortParticipants(ps []Participant) {
	slices.SortFunc(ps, func(a, b Participant) int {
		return bytes.Compare(a.PublicKey.Bytes(), b.PublicKey.Bytes())
	})
}

// PublicKeys returns the participants' keys in order.
func PublicKeys(ps []Participant) []group.Point {
	keys := make([]group.Point, len(ps))
	for i, p := range ps {
		keys[i] = p.PublicKey
	}
	return keys
}

// ValidateParticipants rejects duplicate ids.
func ValidateParticipants(ps []Participant) error {
	seen := make(map[ParticipantID]struct{}, len(ps))
	for _, p := range ps {
		if p.PublicKey == nil {
			return fmt.Errorf("%w: participant %d has no public key", ErrInvalidKeyMaterial, p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate participant id %d", ErrInvalidKeyMaterial, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

func encodePoints(points []group.Point) [][]byte {
	out := make([][]byte, len(points))
	for i, p := range points {
		out[i] = p.Bytes()
	}
	return out
}

var errLengthMismatch = errors.New("musig: input length mismatch")
