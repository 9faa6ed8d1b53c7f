// Package session runs N-of-N signing ceremonies on the coordinator side.
// It tracks public contributions only; secret keys and secret nonces stay
// with the participants (see the party package).
//
// # State Machine
//
// Every ceremony moves through
//
//	Created -> CommitmentsCollected -> NoncesRevealed -> PartialSignaturesCollected -> Signed
//
// and may enter Aborted from any non-terminal phase. Round 1 commitments
// are accepted only in Created, round 2 nonce reveals only in
// CommitmentsCollected and round 3 partial signatures only in
// NoncesRevealed. Anything else fails with musig.ErrOutOfOrderMessage and
// leaves the session untouched.
//
// A resubmission identical to the recorded one is ignored, so transports
// may deliver at least once. A different resubmission aborts the session
// with ErrConflictingSubmission naming the participant.
//
// # Coordinator
//
// A [Coordinator] manages many sessions at once:
//
//	coord, err := session.NewCoordinator(musig.New(secp256k1.New()))
//	if err != nil {
//		return err
//	}
//	coord.Start(ctx)
//	defer coord.Stop()
//
//	h, err := coord.CreateSession(participants, message)
//
//	// Feed participant messages
//	err = coord.SubmitRound1(h, id, commitment)
//	err = coord.SubmitRound2(h, id, nonce)
//	err = coord.SubmitRound3(h, id, partial)
//
//	res, err := coord.GetSignature(h)
//
// Each phase has a deadline. The watchdog started by Start aborts a
// session whose deadline passes with musig.ErrSessionTimeout; the check
// also runs on every submission. A timed out ceremony is retried with a
// new session and fresh nonces.
//
// # Relay
//
// A [Relay] connects a coordinator to a transport.Transport: it decodes
// participant messages, submits them, and broadcasts CommitmentSet,
// NonceSet, FinalSignature or Abort whenever a session changes phase.
package session
