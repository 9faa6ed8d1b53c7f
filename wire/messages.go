package wire

import (
	"fmt"

	"github.com/f3rmion/musig2/group"
	"github.com/f3rmion/musig2/musig"
)

// Kind identifies a message type on the wire.
type Kind uint8

const (
	KindCommitment Kind = iota + 1
	KindNonceReveal
	KindPartialSig
	KindFinalSignature
	KindSessionStart
	KindCommitmentSet
	KindNonceSet
	KindAbort
)

var kindNames = map[Kind]string{
	KindCommitment:     "commitment",
	KindNonceReveal:    "nonce_reveal",
	KindPartialSig:     "partial_sig",
	KindFinalSignature: "final_signature",
	KindSessionStart:   "session_start",
	KindCommitmentSet:  "commitment_set",
	KindNonceSet:       "nonce_set",
	KindAbort:          "abort",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message is implemented by every wire message.
type Message interface {
	Kind() Kind
	Session() musig.SessionID
}

// Commitment is a participant's round 1 message.
type Commitment struct {
	SessionID   musig.SessionID
	Participant musig.ParticipantID
	Commitment  musig.Commitment
}

// NonceReveal is a participant's round 2 message.
type NonceReveal struct {
	SessionID   musig.SessionID
	Participant musig.ParticipantID
	Nonce       *musig.PublicNonce
}

// PartialSig is a participant's round 3 message.
type PartialSig struct {
	SessionID   musig.SessionID
	Participant musig.ParticipantID
	S           group.Scalar
}

// FinalSignature announces the aggregated signature.
type FinalSignature struct {
	SessionID musig.SessionID
	Signature *musig.Signature
}

// SessionStart opens a ceremony. Participants are in key order.
type SessionStart struct {
	SessionID    musig.SessionID
	Participants []musig.Participant
	Message      []byte
}

// CommitmentSet carries every round 1 commitment once all are in.
type CommitmentSet struct {
	SessionID   musig.SessionID
	Commitments []Commitment
}

// NonceSet carries every verified nonce reveal once all are in.
type NonceSet struct {
	SessionID musig.SessionID
	Nonces    []NonceReveal
}

// Abort tells participants to discard their nonces for the session.
type Abort struct {
	SessionID musig.SessionID
	Reason    string
	// Offender is meaningful only when HasOffender is set.
	Offender    musig.ParticipantID
	HasOffender bool
}

func (*Commitment) Kind() Kind     { return KindCommitment }
func (*NonceReveal) Kind() Kind    { return KindNonceReveal }
func (*PartialSig) Kind() Kind     { return KindPartialSig }
func (*FinalSignature) Kind() Kind { return KindFinalSignature }
func (*SessionStart) Kind() Kind   { return KindSessionStart }
func (*CommitmentSet) Kind() Kind  { return KindCommitmentSet }
func (*NonceSet) Kind() Kind       { return KindNonceSet }
func (*Abort) Kind() Kind          { return KindAbort }

func (m *Commitment) Session() musig.SessionID     { return m.SessionID }
func (m *NonceReveal) Session() musig.SessionID    { return m.SessionID }
func (m *PartialSig) Session() musig.SessionID     { return m.SessionID }
func (m *FinalSignature) Session() musig.SessionID { return m.SessionID }
func (m *SessionStart) Session() musig.SessionID   { return m.SessionID }
func (m *CommitmentSet) Session() musig.SessionID  { return m.SessionID }
func (m *NonceSet) Session() musig.SessionID       { return m.SessionID }
func (m *Abort) Session() musig.SessionID          { return m.SessionID }
