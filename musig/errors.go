package musig

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKeyMaterial reports a degenerate or duplicate public key,
	// a key set that is too small, or an aggregate key equal to the
	// identity.
	ErrInvalidKeyMaterial = errors.New("musig: invalid key material")

	// ErrCommitmentMismatch reports revealed nonces that do not hash to the
	// commitment published in round 1. It is treated as malicious.
	ErrCommitmentMismatch = errors.New("musig: nonce commitment mismatch")

	// ErrNonceAlreadyConsumed reports an attempt to sign twice with one
	// nonce pair.
	ErrNonceAlreadyConsumed = errors.New("musig: nonce already consumed")

	// ErrAggregationVerificationFailed reports an aggregated signature that
	// does not verify, i.e. at least one faulty partial signature.
	ErrAggregationVerificationFailed = errors.New("musig: aggregated signature failed verification")

	// ErrSessionTimeout reports a missing contribution at a phase deadline.
	ErrSessionTimeout = errors.New("musig: session timed out")

	// ErrOutOfOrderMessage reports a message for a phase that has not been
	// reached yet or has already passed.
	ErrOutOfOrderMessage = errors.New("musig: out-of-order message")

	// ErrDegenerateNonce reports a public nonce equal to the identity or an
	// aggregated nonce that collapsed to the identity.
	ErrDegenerateNonce = errors.New("musig: degenerate nonce")
)

// ParticipantError attributes a protocol error to one participant.
// It never carries secret material.
type ParticipantError struct {
	Participant ParticipantID
	Err         error
}

func (e *ParticipantError) Error() string {
	return fmt.Sprintf("participant %d: %v", e.Participant, e.Err)
}

func (e *ParticipantError) Unwrap() error {
	return e.Err
}

func blame(id ParticipantID, err error) error {
	return &ParticipantError{Participant: id, Err: err}
}

// Offender returns the participant an error is attributed to, if any.
func Offender(err error) (ParticipantID, bool) {
	var pe *ParticipantError
	if errors.As(err, &pe) {
		return pe.Participant, true
	}
	return 0, false
}
