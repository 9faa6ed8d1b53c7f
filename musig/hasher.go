package musig

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"

	"github.com/f3rmion/musig2/group"
	"golang.org/x/crypto/blake2b"
)

// Domain tags. Every derivation hashes under its own tag so no two
// derivations can ever produce colliding inputs.
const (
	TagKeyList    = "keyagg/list"
	TagKeyCoef    = "keyagg/coefficient"
	TagCommitment = "nonce/commitment"
	TagBinding    = "nonce/binding"
	TagChallenge  = "challenge"
	TagSessionID  = "session/id"
)

// Hasher defines the hash operations required by MuSig2. Implementations
// must separate domains by tag and by group name, and must encode their
// inputs unambiguously.
type Hasher interface {
	// KeyList computes the list label L = H(X_1 || ... || X_n).
	KeyList(g group.Group, keys [][]byte) [32]byte

	// KeyCoefficient computes a_i = H(L || X_i) as a scalar.
	KeyCoefficient(g group.Group, list [32]byte, key []byte) group.Scalar

	// Commitment computes the round 1 commitment over the session id,
	// participant id and both public nonce points.
	Commitment(g group.Group, sessionID SessionID, participant ParticipantID, r1, r2 []byte) Commitment

	// Binding computes the nonce binding scalar
	// b = H(X_agg || m || R_{1,1}..R_{n,1} || R_{1,2}..R_{n,2}).
	Binding(g group.Group, aggKey, msg []byte, firsts, seconds [][]byte) group.Scalar

	// Challenge computes c = H(R || X_agg || m).
	Challenge(g group.Group, r, aggKey, msg []byte) group.Scalar

	// SessionID computes H(X_1 || ... || X_n || m).
	SessionID(g group.Group, keys [][]byte, msg []byte) SessionID
}

// writeFramed writes data with a 4-byte big-endian length prefix.
func writeFramed(h hash.Hash, data []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	h.Write(n[:])
	h.Write(data)
}

func writeAll(h hash.Hash, items [][]byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(items)))
	h.Write(n[:])
	for _, it := range items {
		writeFramed(h, it)
	}
}

func idBytes(id ParticipantID) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return b[:]
}

// Blake2bHasher implements Hasher with Blake2b. Digests are Blake2b-256;
// scalars come from a Blake2b-512 output reduced modulo the group order.
//
// Domain separation format: prefix || group name || tag || framed inputs.
type Blake2bHasher struct {
	// Prefix is the protocol-wide domain separation prefix.
	// Default: "MUSIG2-NOFN-BLAKE2B-v1"
	Prefix string
}

// NewBlake2bHasher creates a Blake2bHasher with the default prefix.
func NewBlake2bHasher() *Blake2bHasher {
	return &Blake2bHasher{Prefix: "MUSIG2-NOFN-BLAKE2B-v1"}
}

func (h *Blake2bHasher) start(hh hash.Hash, g group.Group, tag string) hash.Hash {
	writeFramed(hh, []byte(h.Prefix))
	writeFramed(hh, []byte(g.Name()))
	writeFramed(hh, []byte(tag))
	return hh
}

func (h *Blake2bHasher) digest(g group.Group, tag string) hash.Hash {
	hh, _ := blake2b.New256(nil)
	return h.start(hh, g, tag)
}

func (h *Blake2bHasher) wide(g group.Group, tag string) hash.Hash {
	hh, _ := blake2b.New512(nil)
	return h.start(hh, g, tag)
}

// KeyList implements Hasher.KeyList.
func (h *Blake2bHasher) KeyList(g group.Group, keys [][]byte) [32]byte {
	hh := h.digest(g, TagKeyList)
	writeAll(hh, keys)
	var out [32]byte
	copy(out[:], hh.Sum(nil))
	return out
}

// KeyCoefficient implements Hasher.KeyCoefficient.
func (h *Blake2bHasher) KeyCoefficient(g group.Group, list [32]byte, key []byte) group.Scalar {
	hh := h.wide(g, TagKeyCoef)
	writeFramed(hh, list[:])
	writeFramed(hh, key)
	return g.ReduceScalar(hh.Sum(nil))
}

// Commitment implements Hasher.Commitment.
func (h *Blake2bHasher) Commitment(g group.Group, sessionID SessionID, participant ParticipantID, r1, r2 []byte) Commitment {
	hh := h.digest(g, TagCommitment)
	writeFramed(hh, sessionID[:])
	writeFramed(hh, idBytes(participant))
	writeFramed(hh, r1)
	writeFramed(hh, r2)
	var out Commitment
	copy(out[:], hh.Sum(nil))
	return out
}

// Binding implements Hasher.Binding.
func (h *Blake2bHasher) Binding(g group.Group, aggKey, msg []byte, firsts, seconds [][]byte) group.Scalar {
	hh := h.wide(g, TagBinding)
	writeFramed(hh, aggKey)
	writeFramed(hh, msg)
	writeAll(hh, firsts)
	writeAll(hh, seconds)
	return g.ReduceScalar(hh.Sum(nil))
}

// Challenge implements Hasher.Challenge.
func (h *Blake2bHasher) Challenge(g group.Group, r, aggKey, msg []byte) group.Scalar {
	hh := h.wide(g, TagChallenge)
	writeFramed(hh, r)
	writeFramed(hh, aggKey)
	writeFramed(hh, msg)
	return g.ReduceScalar(hh.Sum(nil))
}

// SessionID implements Hasher.SessionID.
func (h *Blake2bHasher) SessionID(g group.Group, keys [][]byte, msg []byte) SessionID {
	hh := h.digest(g, TagSessionID)
	writeAll(hh, keys)
	writeFramed(hh, msg)
	var out SessionID
	copy(out[:], hh.Sum(nil))
	return out
}

// SHA256Hasher implements Hasher with BIP-340 style tagged SHA-256:
// SHA256(SHA256(tag) || SHA256(tag) || data), where the tag also carries
// the group name. Scalars concatenate two tagged digests (counter 0 and 1)
// before reduction to keep the modular bias negligible.
type SHA256Hasher struct{}

func (h *SHA256Hasher) tagged(g group.Group, tag string, counter byte) hash.Hash {
	tagHash := sha256.Sum256([]byte("MUSIG2/" + g.Name() + "/" + tag))
	hh := sha256.New()
	hh.Write(tagHash[:])
	hh.Write(tagHash[:])
	hh.Write([]byte{counter})
	return hh
}

func (h *SHA256Hasher) scalar(g group.Group, tag string, write func(hash.Hash)) group.Scalar {
	lo := h.tagged(g, tag, 0)
	write(lo)
	hi := h.tagged(g, tag, 1)
	write(hi)
	return g.ReduceScalar(append(lo.Sum(nil), hi.Sum(nil)...))
}

// KeyList implements Hasher.KeyList.
func (h *SHA256Hasher) KeyList(g group.Group, keys [][]byte) [32]byte {
	hh := h.tagged(g, TagKeyList, 0)
	writeAll(hh, keys)
	var out [32]byte
	copy(out[:], hh.Sum(nil))
	return out
}

// KeyCoefficient implements Hasher.KeyCoefficient.
func (h *SHA256Hasher) KeyCoefficient(g group.Group, list [32]byte, key []byte) group.Scalar {
	return h.scalar(g, TagKeyCoef, func(hh hash.Hash) {
		writeFramed(hh, list[:])
		writeFramed(hh, key)
	})
}

// Commitment implements Hasher.Commitment.
func (h *SHA256Hasher) Commitment(g group.Group, sessionID SessionID, participant ParticipantID, r1, r2 []byte) Commitment {
	hh := h.tagged(g, TagCommitment, 0)
	writeFramed(hh, sessionID[:])
	writeFramed(hh, idBytes(participant))
	writeFramed(hh, r1)
	writeFramed(hh, r2)
	var out Commitment
	copy(out[:], hh.Sum(nil))
	return out
}

// Binding implements Hasher.Binding.
func (h *SHA256Hasher) Binding(g group.Group, aggKey, msg []byte, firsts, seconds [][]byte) group.Scalar {
	return h.scalar(g, TagBinding, func(hh hash.Hash) {
		writeFramed(hh, aggKey)
		writeFramed(hh, msg)
		writeAll(hh, firsts)
		writeAll(hh, seconds)
	})
}

// Challenge implements Hasher.Challenge.
func (h *SHA256Hasher) Challenge(g group.Group, r, aggKey, msg []byte) group.Scalar {
	return h.scalar(g, TagChallenge, func(hh hash.Hash) {
		writeFramed(hh, r)
		writeFramed(hh, aggKey)
		writeFramed(hh, msg)
	})
}

// SessionID implements Hasher.SessionID.
func (h *SHA256Hasher) SessionID(g group.Group, keys [][]byte, msg []byte) SessionID {
	hh := h.tagged(g, TagSessionID, 0)
	writeAll(hh, keys)
	writeFramed(hh, msg)
	var out SessionID
	copy(out[:], hh.Sum(nil))
	return out
}
