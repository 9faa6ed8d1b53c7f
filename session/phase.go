package session

import (
	"fmt"

	"github.com/f3rmion/musig2/musig"
)

// Phase is the position of a session in the signing ceremony.
type Phase int

const (
	// PhaseCreated accepts round 1 commitments.
	PhaseCreated Phase = iota
	// PhaseCommitmentsCollected accepts round 2 nonce reveals.
	PhaseCommitmentsCollected
	// PhaseNoncesRevealed accepts round 3 partial signatures.
	PhaseNoncesRevealed
	// PhasePartialSignaturesCollected is held while the signature is
	// aggregated and verified.
	PhasePartialSignaturesCollected
	// PhaseSigned is terminal: the aggregated signature verified.
	PhaseSigned
	// PhaseAborted is terminal: the ceremony failed and every nonce of it
	// must be discarded.
	PhaseAborted
)

var phaseNames = [...]string{
	PhaseCreated:                    "created",
	PhaseCommitmentsCollected:       "commitments_collected",
	PhaseNoncesRevealed:             "nonces_revealed",
	PhasePartialSignaturesCollected: "partial_signatures_collected",
	PhaseSigned:                     "signed",
	PhaseAborted:                    "aborted",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// IsTerminal reports whether no further transition is possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseSigned || p == PhaseAborted
}

// Round numbers a participant submission.
type Round int

const (
	Round1 Round = 1 // commitments
	Round2 Round = 2 // nonce reveals
	Round3 Round = 3 // partial signatures
)

func (r Round) String() string {
	return fmt.Sprintf("%d", int(r))
}

type event int

const (
	eventCommitmentsComplete event = iota
	eventNoncesComplete
	eventPartialsComplete
	eventVerified
	eventAbort
)

// transition is the ceremony's state machine. It is pure; [Session]
// applies its result.
func transition(from Phase, ev event) (Phase, error) {
	if from.IsTerminal() {
		return from, fmt.Errorf("%w: session is %s", musig.ErrOutOfOrderMessage, from)
	}
	switch ev {
	case eventAbort:
		return PhaseAborted, nil
	case eventCommitmentsComplete:
		if from == PhaseCreated {
			return PhaseCommitmentsCollected, nil
		}
	case eventNoncesComplete:
		if from == PhaseCommitmentsCollected {
			return PhaseNoncesRevealed, nil
		}
	case eventPartialsComplete:
		if from == PhaseNoncesRevealed {
			return PhasePartialSignaturesCollected, nil
		}
	case eventVerified:
		if from == PhasePartialSignaturesCollected {
			return PhaseSigned, nil
		}
	}
	return from, fmt.Errorf("%w: event %d in phase %s", musig.ErrOutOfOrderMessage, ev, from)
}

// acceptingPhase returns the only phase in which round r submissions are
// accepted.
func acceptingPhase(r Round) Phase {
	switch r {
	case Round1:
		return PhaseCreated
	case Round2:
		return PhaseCommitmentsCollected
	default:
		return PhaseNoncesRevealed
	}
}
