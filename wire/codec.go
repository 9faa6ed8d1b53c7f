package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/f3rmion/musig2/group"
	"github.com/f3rmion/musig2/musig"
)

const (
	// MaxParticipants bounds list lengths accepted by Decode.
	MaxParticipants = 1 << 12
	// MaxMessageLen bounds the signed message carried in SessionStart.
	MaxMessageLen = 1 << 20
)

var (
	// ErrTruncated reports input shorter than its layout requires.
	ErrTruncated = errors.New("wire: truncated message")
	// ErrUnknownKind reports an unrecognised kind byte.
	ErrUnknownKind = errors.New("wire: unknown message kind")
	// ErrTrailingData reports bytes left over after a complete message.
	ErrTrailingData = errors.New("wire: trailing data")
	// ErrTooLarge reports a list or field that exceeds the codec limits.
	ErrTooLarge = errors.New("wire: field too large")
)

// Codec encodes and decodes messages for one group. Point and scalar
// lengths come from the group, so both ends must agree on it.
type Codec struct {
	g group.Group
}

// NewCodec returns a codec for messages over g.
func NewCodec(g group.Group) *Codec {
	return &Codec{g: g}
}

// Encode serialises msg.
func (c *Codec) Encode(msg Message) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(msg.Kind()))
	sid := msg.Session()
	buf.Write(sid[:])

	switch m := msg.(type) {
	case *Commitment:
		writeCommitment(buf, m)
	case *NonceReveal:
		if err := c.writeNonce(buf, m); err != nil {
			return nil, err
		}
	case *PartialSig:
		if m.S == nil {
			return nil, errors.New("wire: partial signature is nil")
		}
		writeU32(buf, uint32(m.Participant))
		buf.Write(m.S.Bytes())
	case *FinalSignature:
		if m.Signature == nil || m.Signature.R == nil || m.Signature.S == nil {
			return nil, errors.New("wire: signature is nil")
		}
		buf.Write(m.Signature.Bytes())
	case *SessionStart:
		if len(m.Participants) > MaxParticipants {
			return nil, fmt.Errorf("%w: %d participants", ErrTooLarge, len(m.Participants))
		}
		if len(m.Message) > MaxMessageLen {
			return nil, fmt.Errorf("%w: message of %d bytes", ErrTooLarge, len(m.Message))
		}
		// #nosec G115 - bounded by MaxParticipants
		writeU32(buf, uint32(len(m.Participants)))
		for _, p := range m.Participants {
			if p.PublicKey == nil {
				return nil, fmt.Errorf("wire: participant %d has no public key", p.ID)
			}
			writeU32(buf, uint32(p.ID))
			buf.Write(p.PublicKey.Bytes())
		}
		// #nosec G115 - bounded by MaxMessageLen
		writeU32(buf, uint32(len(m.Message)))
		buf.Write(m.Message)
	case *CommitmentSet:
		if len(m.Commitments) > MaxParticipants {
			return nil, fmt.Errorf("%w: %d commitments", ErrTooLarge, len(m.Commitments))
		}
		// #nosec G115 - bounded by MaxParticipants
		writeU32(buf, uint32(len(m.Commitments)))
		for i := range m.Commitments {
			writeCommitment(buf, &m.Commitments[i])
		}
	case *NonceSet:
		if len(m.Nonces) > MaxParticipants {
			return nil, fmt.Errorf("%w: %d nonces", ErrTooLarge, len(m.Nonces))
		}
		// #nosec G115 - bounded by MaxParticipants
		writeU32(buf, uint32(len(m.Nonces)))
		for i := range m.Nonces {
			if err := c.writeNonce(buf, &m.Nonces[i]); err != nil {
				return nil, err
			}
		}
	case *Abort:
		if len(m.Reason) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: reason of %d bytes", ErrTooLarge, len(m.Reason))
		}
		var flags byte
		if m.HasOffender {
			flags = 1
		}
		buf.WriteByte(flags)
		writeU32(buf, uint32(m.Offender))
		// #nosec G115 - length is validated to be <= 65535
		writeU16(buf, uint16(len(m.Reason)))
		buf.WriteString(m.Reason)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, msg)
	}
	return buf.Bytes(), nil
}

// Decode parses one message. The input must contain exactly one message.
func (c *Codec) Decode(data []byte) (Message, error) {
	r := &reader{data: data}
	kb, err := r.take(1)
	if err != nil {
		return nil, err
	}
	var sid musig.SessionID
	if err := r.read(sid[:]); err != nil {
		return nil, err
	}

	var msg Message
	switch Kind(kb[0]) {
	case KindCommitment:
		m, err := readCommitment(r, sid)
		if err != nil {
			return nil, err
		}
		msg = m
	case KindNonceReveal:
		m, err := c.readNonce(r, sid)
		if err != nil {
			return nil, err
		}
		msg = m
	case KindPartialSig:
		id, err := r.u32()
		if err != nil {
			return nil, err
		}
		sb, err := r.take(c.g.ScalarLen())
		if err != nil {
			return nil, err
		}
		s, err := c.g.NewScalar().SetBytes(sb)
		if err != nil {
			return nil, fmt.Errorf("wire: decode partial signature: %w", err)
		}
		msg = &PartialSig{SessionID: sid, Participant: musig.ParticipantID(id), S: s}
	case KindFinalSignature:
		R, err := c.readPoint(r)
		if err != nil {
			return nil, err
		}
		sb, err := r.take(c.g.ScalarLen())
		if err != nil {
			return nil, err
		}
		s, err := c.g.NewScalar().SetBytes(sb)
		if err != nil {
			return nil, fmt.Errorf("wire: decode signature scalar: %w", err)
		}
		msg = &FinalSignature{SessionID: sid, Signature: &musig.Signature{R: R, S: s}}
	case KindSessionStart:
		n, err := r.count(4 + c.g.PointLen())
		if err != nil {
			return nil, err
		}
		ps := make([]musig.Participant, n)
		for i := range ps {
			id, err := r.u32()
			if err != nil {
				return nil, err
			}
			pk, err := c.readPoint(r)
			if err != nil {
				return nil, err
			}
			ps[i] = musig.Participant{ID: musig.ParticipantID(id), PublicKey: pk}
		}
		ml, err := r.u32()
		if err != nil {
			return nil, err
		}
		if ml > MaxMessageLen {
			return nil, fmt.Errorf("%w: message of %d bytes", ErrTooLarge, ml)
		}
		body, err := r.take(int(ml))
		if err != nil {
			return nil, err
		}
		msg = &SessionStart{SessionID: sid, Participants: ps, Message: bytes.Clone(body)}
	case KindCommitmentSet:
		n, err := r.count(4 + 32)
		if err != nil {
			return nil, err
		}
		set := &CommitmentSet{SessionID: sid, Commitments: make([]Commitment, n)}
		for i := range set.Commitments {
			m, err := readCommitment(r, sid)
			if err != nil {
				return nil, err
			}
			set.Commitments[i] = *m
		}
		msg = set
	case KindNonceSet:
		n, err := r.count(4 + 2*c.g.PointLen())
		if err != nil {
			return nil, err
		}
		set := &NonceSet{SessionID: sid, Nonces: make([]NonceReveal, n)}
		for i := range set.Nonces {
			m, err := c.readNonce(r, sid)
			if err != nil {
				return nil, err
			}
			set.Nonces[i] = *m
		}
		msg = set
	case KindAbort:
		flags, err := r.take(1)
		if err != nil {
			return nil, err
		}
		if flags[0] > 1 {
			return nil, fmt.Errorf("wire: invalid abort flags %#x", flags[0])
		}
		off, err := r.u32()
		if err != nil {
			return nil, err
		}
		rl, err := r.take(2)
		if err != nil {
			return nil, err
		}
		reason, err := r.take(int(binary.BigEndian.Uint16(rl)))
		if err != nil {
			return nil, err
		}
		msg = &Abort{
			SessionID:   sid,
			Reason:      string(reason),
			Offender:    musig.ParticipantID(off),
			HasOffender: flags[0] == 1,
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kb[0])
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, r.remaining())
	}
	return msg, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeCommitment(buf *bytes.Buffer, m *Commitment) {
	writeU32(buf, uint32(m.Participant))
	buf.Write(m.Commitment[:])
}

func (c *Codec) writeNonce(buf *bytes.Buffer, m *NonceReveal) error {
	if m.Nonce == nil || m.Nonce.R1 == nil || m.Nonce.R2 == nil {
		return fmt.Errorf("wire: participant %d nonce is nil", m.Participant)
	}
	writeU32(buf, uint32(m.Participant))
	buf.Write(m.Nonce.R1.Bytes())
	buf.Write(m.Nonce.R2.Bytes())
	return nil
}

func readCommitment(r *reader, sid musig.SessionID) (*Commitment, error) {
	id, err := r.u32()
	if err != nil {
		return nil, err
	}
	m := &Commitment{SessionID: sid, Participant: musig.ParticipantID(id)}
	if err := r.read(m.Commitment[:]); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Codec) readNonce(r *reader, sid musig.SessionID) (*NonceReveal, error) {
	id, err := r.u32()
	if err != nil {
		return nil, err
	}
	r1, err := c.readPoint(r)
	if err != nil {
		return nil, err
	}
	r2, err := c.readPoint(r)
	if err != nil {
		return nil, err
	}
	return &NonceReveal{
		SessionID:   sid,
		Participant: musig.ParticipantID(id),
		Nonce:       &musig.PublicNonce{R1: r1, R2: r2},
	}, nil
}

func (c *Codec) readPoint(r *reader) (group.Point, error) {
	b, err := r.take(c.g.PointLen())
	if err != nil {
		return nil, err
	}
	p, err := c.g.NewPoint().SetBytes(b)
	if err != nil {
		return nil, fmt.Errorf("wire: decode point: %w", err)
	}
	return p, nil
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, r.remaining())
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) read(dst []byte) error {
	b, err := r.take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// count reads a list length and checks that the input can hold that
// many entries of entryLen bytes before anything is allocated.
func (r *reader) count(entryLen int) (int, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if n > MaxParticipants {
		return 0, fmt.Errorf("%w: %d entries", ErrTooLarge, n)
	}
	if int(n)*entryLen > r.remaining() {
		return 0, fmt.Errorf("%w: %d entries of %d bytes", ErrTruncated, n, entryLen)
	}
	return int(n), nil
}
